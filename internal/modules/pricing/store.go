// README: Product price lookups backed by PostgreSQL.
package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"speedyfood/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ActivePrices returns the price of every active product among codes.
func (s *Store) ActivePrices(ctx context.Context, codes []string) (map[string]types.Money, error) {
	rows, err := s.db.Query(ctx, `
		SELECT code, price, currency
		FROM products
		WHERE code = ANY($1) AND is_active`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]types.Money, len(codes))
	for rows.Next() {
		var code string
		var m types.Money
		if err := rows.Scan(&code, &m.Amount, &m.Currency); err != nil {
			return nil, err
		}
		out[code] = m
	}
	return out, rows.Err()
}
