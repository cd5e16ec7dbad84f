// README: Order store backed by PostgreSQL; owns the order/driver binding transactions.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"speedyfood/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// TransitionParams describes one guarded state change.
// Driver is the binding the row must still have for the change to apply.
type TransitionParams struct {
	Code          types.ID
	From          Status
	To            Status
	Driver        *types.ID
	ClearDriver   bool
	ReleaseDriver bool
	Event         Event
}

type TransitionOutcome struct {
	Applied        bool
	DriverReleased bool
}

type BindParams struct {
	OrderCode  types.ID
	DriverCode types.ID
	Event      Event
}

const orderColumns = `
	code, customer_phone, status, driver_code, total, currency, notes,
	origin_lat, origin_lng, dest_lat, dest_lng, created_at, updated_at`

func (s *Store) Create(ctx context.Context, o *Order, e *Event) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var destLat, destLng *float64
	if o.Destination != nil {
		destLat, destLng = &o.Destination.Lat, &o.Destination.Lng
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			code, customer_phone, status, driver_code, total, currency, notes,
			origin_lat, origin_lng, dest_lat, dest_lng, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)`,
		string(o.Code),
		o.CustomerPhone,
		string(o.Status),
		toStringPtr(o.DriverCode),
		o.Total.Amount,
		o.Total.Currency,
		o.Notes,
		o.Origin.Lat, o.Origin.Lng,
		destLat, destLng,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_code, product_code, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			string(o.Code), it.ProductCode, it.Quantity, it.UnitPrice.Amount,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if e != nil {
		if err := appendEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, code types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = $1`, string(code))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT product_code, quantity, unit_price
		FROM order_items
		WHERE order_code = $1
		ORDER BY id`, string(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductCode, &it.Quantity, &it.UnitPrice.Amount); err != nil {
			return nil, err
		}
		it.UnitPrice.Currency = o.Total.Currency
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at, code LIMIT $2`,
		string(status), limitOrAll(limit))
}

func (s *Store) ListByCustomer(ctx context.Context, phone string) ([]Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_phone = $1 ORDER BY created_at DESC`, phone)
}

// ListPendingUnassigned returns placed orders with no driver, oldest first.
func (s *Store) ListPendingUnassigned(ctx context.Context, limit int) ([]Order, error) {
	return s.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND driver_code IS NULL
		ORDER BY created_at, code
		LIMIT $2`, string(StatusPlaced), limitOrAll(limit))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Bind reserves the driver and assigns the order in a single transaction.
// The driver update only matches while is_available is still true, so of two
// concurrent binds on one driver the second sees zero rows and rolls back.
func (s *Store) Bind(ctx context.Context, p BindParams) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE drivers
		SET is_available = FALSE
		WHERE code = $1 AND is_available`, string(p.DriverCode))
	if err != nil {
		return fmt.Errorf("reserve driver: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrDriverUnavailable
	}

	tag, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, driver_code = $2, updated_at = NOW()
		WHERE code = $3 AND status = $4 AND driver_code IS NULL`,
		string(StatusAssigned), string(p.DriverCode), string(p.OrderCode), string(StatusPlaced))
	if err != nil {
		return fmt.Errorf("bind order: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrConflict
	}

	if err := appendEvent(ctx, tx, &p.Event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Transition applies a guarded status change plus the driver side effects atomically.
func (s *Store) Transition(ctx context.Context, p TransitionParams) (TransitionOutcome, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return TransitionOutcome{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    driver_code = CASE WHEN $2 THEN NULL ELSE driver_code END,
		    updated_at = NOW()
		WHERE code = $3 AND status = $4 AND driver_code IS NOT DISTINCT FROM $5`,
		string(p.To), p.ClearDriver, string(p.Code), string(p.From), toStringPtr(p.Driver))
	if err != nil {
		return TransitionOutcome{}, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return TransitionOutcome{}, nil
	}

	out := TransitionOutcome{Applied: true}
	if p.ReleaseDriver && p.Driver != nil {
		// A driver already bound to another active order stays reserved.
		tag, err := tx.Exec(ctx, `
			UPDATE drivers
			SET is_available = TRUE
			WHERE code = $1
			  AND NOT EXISTS (
			      SELECT 1 FROM orders
			      WHERE driver_code = $1 AND status = ANY($2)
			  )`, string(*p.Driver), activeStatusStrings())
		if err != nil {
			return TransitionOutcome{}, fmt.Errorf("release driver: %w", err)
		}
		out.DriverReleased = tag.RowsAffected() == 1
	}

	if err := appendEvent(ctx, tx, &p.Event); err != nil {
		return TransitionOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return TransitionOutcome{}, err
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, code types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_code, from_status, to_status, actor_type, actor_id, note, created_at
		FROM order_events
		WHERE order_code = $1
		ORDER BY id`, string(code))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderCode, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO order_events (
			order_code, from_status, to_status, actor_type, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderCode),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.Note,
		created,
	)
	if err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverCode *string
	var destLat, destLng *float64
	err := row.Scan(
		&o.Code, &o.CustomerPhone, &o.Status, &driverCode, &o.Total.Amount, &o.Total.Currency, &o.Notes,
		&o.Origin.Lat, &o.Origin.Lng, &destLat, &destLng, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if driverCode != nil {
		d := types.ID(*driverCode)
		o.DriverCode = &d
	}
	o.Destination = types.OptionalPoint(destLat, destLng)
	if o.Total.Currency == "" {
		o.Total.Currency = types.DefaultCurrency
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

// limitOrAll maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
