// README: Pricing service snapshots unit prices and totals orders.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"speedyfood/internal/types"
)

var ErrUnknownProduct = errors.New("unknown or inactive product")

type PriceSource interface {
	ActivePrices(ctx context.Context, codes []string) (map[string]types.Money, error)
}

type Service struct {
	store PriceSource
}

func NewService(store PriceSource) *Service {
	return &Service{store: store}
}

// UnitPrices returns current prices; products that are unknown or inactive are omitted.
func (s *Service) UnitPrices(ctx context.Context, codes []string) (map[string]types.Money, error) {
	if len(codes) == 0 {
		return map[string]types.Money{}, nil
	}
	return s.store.ActivePrices(ctx, dedupe(codes))
}

// Quote prices a cart.
func (s *Service) Quote(ctx context.Context, lines []Line) (Quote, error) {
	codes := make([]string, len(lines))
	for i, l := range lines {
		codes[i] = l.ProductCode
	}
	prices, err := s.UnitPrices(ctx, codes)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Total: types.NewMoney(0), Breakdown: make(map[string]types.Money, len(lines))}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Quote{}, fmt.Errorf("quantity %d for %s", l.Quantity, l.ProductCode)
		}
		p, ok := prices[l.ProductCode]
		if !ok {
			return Quote{}, fmt.Errorf("%s: %w", l.ProductCode, ErrUnknownProduct)
		}
		sub := p.Times(l.Quantity)
		q.Breakdown[l.ProductCode] = q.Breakdown[l.ProductCode].Add(sub)
		q.Total = q.Total.Add(sub)
	}
	return q, nil
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
