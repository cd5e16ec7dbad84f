// README: Driver store backed by PostgreSQL.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"speedyfood/internal/types"
)

// activeOrderStatuses mirrors the order states that hold a driver.
var activeOrderStatuses = []string{"ASIGNADO", "ACEPTADO", "EN_RESTAURANTE", "RECOGIO_PEDIDO", "EN_CAMINO"}

const driverColumns = `
	code, name, plate, vehicle_type, vehicle, phone,
	latitude, longitude, is_available, last_location_at`

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, code types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE code = $1`, string(code))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListAvailableWithLocation returns available drivers that have reported a position.
func (s *Store) ListAvailableWithLocation(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+`
		FROM drivers
		WHERE is_available AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePosition(ctx context.Context, code types.ID, p types.Point, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET latitude = $2, longitude = $3, last_location_at = $4
		WHERE code = $1`, string(code), p.Lat, p.Lng, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

// SetAvailability changes the flag under a lock on the driver row, so a
// concurrent Bind either commits first and is seen here or waits for us.
// Going online while an active order holds the driver reports false. Going
// offline in that state leaves the flag as is and reports true.
func (s *Store) SetAvailability(ctx context.Context, code types.ID, available bool) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var current bool
	err = tx.QueryRow(ctx, `SELECT is_available FROM drivers WHERE code = $1 FOR UPDATE`, string(code)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock driver: %w", err)
	}

	var busy bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM orders
		    WHERE driver_code = $1 AND status = ANY($2)
		)`, string(code), activeOrderStatuses).Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("check active orders: %w", err)
	}
	if busy {
		return !available, nil
	}
	if current == available {
		return true, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE drivers SET is_available = $2 WHERE code = $1`, string(code), available); err != nil {
		return false, fmt.Errorf("update availability: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Release marks the driver available unless an active order still holds it.
func (s *Store) Release(ctx context.Context, code types.ID) (bool, error) {
	return s.SetAvailability(ctx, code, true)
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	var lat, lng *float64
	err := row.Scan(
		&d.Code, &d.Name, &d.Plate, &d.VehicleType, &d.Vehicle, &d.Phone,
		&lat, &lng, &d.Available, &d.LastLocationAt,
	)
	if err != nil {
		return nil, err
	}
	d.Position = types.OptionalPoint(lat, lng)
	return &d, nil
}
