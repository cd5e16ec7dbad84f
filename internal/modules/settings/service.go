// README: Runtime settings, including the restaurant origin read on every call.
package settings

import (
	"context"
	"errors"
	"log"
	"math"
	"strconv"
	"strings"

	"speedyfood/internal/types"
)

const (
	KeyRestaurantLat = "REST_LAT"
	KeyRestaurantLng = "REST_LNG"
)

var ErrBadValue = errors.New("invalid setting value")

type Repository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type Service struct {
	store    Repository
	fallback types.Point
}

func NewService(store Repository, fallback types.Point) *Service {
	return &Service{store: store, fallback: fallback}
}

func (s *Service) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.Get(ctx, key)
}

// Set stores a value; the origin keys must parse as coordinates.
func (s *Service) Set(ctx context.Context, key, value string) error {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return ErrBadValue
	}
	switch key {
	case KeyRestaurantLat:
		if _, ok := parseCoord(value, 90); !ok {
			return ErrBadValue
		}
	case KeyRestaurantLng:
		if _, ok := parseCoord(value, 180); !ok {
			return ErrBadValue
		}
	}
	return s.store.Set(ctx, key, value)
}

// Origin returns the restaurant location. It is not cached so operators can
// move the origin without a restart. Any missing or malformed key, or a store
// error, yields the fallback.
func (s *Service) Origin(ctx context.Context) types.Point {
	lat, ok := s.coord(ctx, KeyRestaurantLat, 90)
	if !ok {
		return s.fallback
	}
	lng, ok := s.coord(ctx, KeyRestaurantLng, 180)
	if !ok {
		return s.fallback
	}
	return types.Point{Lat: lat, Lng: lng}
}

func (s *Service) coord(ctx context.Context, key string, limit float64) (float64, bool) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		log.Printf("settings: read %s: %v", key, err)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	return parseCoord(raw, limit)
}

func parseCoord(raw string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.Abs(v) > limit {
		return 0, false
	}
	return v, true
}
