// README: Driver directory: availability, positions and distance ranking.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"speedyfood/internal/modules/location"
	"speedyfood/internal/types"
)

var (
	ErrNotFound   = errors.New("driver not found")
	ErrNoLocation = errors.New("driver has no known location")
	ErrBusy       = errors.New("driver is bound to an active order")
)

// Repository is the persistence contract of the directory; *Store implements it.
type Repository interface {
	Get(ctx context.Context, code types.ID) (*Driver, error)
	ListAvailableWithLocation(ctx context.Context) ([]Driver, error)
	UpdatePosition(ctx context.Context, code types.ID, p types.Point, at time.Time) error
	SetAvailability(ctx context.Context, code types.ID, available bool) (bool, error)
	Release(ctx context.Context, code types.ID) (bool, error)
}

type Service struct {
	store    Repository
	etaPerKm float64
}

func NewService(store Repository, etaMinutesPerKm float64) *Service {
	return &Service{store: store, etaPerKm: etaMinutesPerKm}
}

func (s *Service) Get(ctx context.Context, code types.ID) (*Driver, error) {
	return s.store.Get(ctx, code)
}

// Exists reports whether a driver with this code is registered.
func (s *Service) Exists(ctx context.Context, code types.ID) (bool, error) {
	_, err := s.store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ListAvailableWithLocation(ctx context.Context) ([]Driver, error) {
	return s.store.ListAvailableWithLocation(ctx)
}

// HasCandidates reports whether at least one driver can be dispatched right now.
func (s *Service) HasCandidates(ctx context.Context) (bool, error) {
	ds, err := s.store.ListAvailableWithLocation(ctx)
	if err != nil {
		return false, err
	}
	return len(ds) > 0, nil
}

func (s *Service) UpdatePosition(ctx context.Context, code types.ID, p types.Point) error {
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("position %.6f,%.6f out of range", p.Lat, p.Lng)
	}
	return s.store.UpdatePosition(ctx, code, p, time.Now())
}

// SetAvailability is the driver's own online/offline switch. Going online while
// an active order holds the driver fails with ErrBusy; going offline then is a
// no-op, since the driver is already reserved.
func (s *Service) SetAvailability(ctx context.Context, code types.ID, available bool) error {
	ok, err := s.store.SetAvailability(ctx, code, available)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}
	return nil
}

// Release frees a driver for dispatch. Business outcomes are reported in the
// result; only store failures come back as errors.
func (s *Service) Release(ctx context.Context, code types.ID) (ReleaseResult, error) {
	d, err := s.store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return ReleaseResult{Success: false, Message: "driver not found"}, nil
	}
	if err != nil {
		return ReleaseResult{}, err
	}
	ok, err := s.store.Release(ctx, code)
	if err != nil {
		return ReleaseResult{}, err
	}
	if !ok {
		return ReleaseResult{Success: false, Message: fmt.Sprintf("driver %s is still bound to an active order", d.Name)}, nil
	}
	return ReleaseResult{Success: true, Message: fmt.Sprintf("driver %s available", d.Name)}, nil
}

// Rank orders drivers by distance to origin, ties broken by code.
// Drivers without a position are skipped.
func (s *Service) Rank(drivers []Driver, origin types.Point) []Ranked {
	out := make([]Ranked, 0, len(drivers))
	for _, d := range drivers {
		if d.Position == nil {
			continue
		}
		km := location.Distance(*d.Position, origin)
		out = append(out, Ranked{Driver: d, DistanceKm: km, ETAMinutes: location.ETAMinutes(km, s.etaPerKm)})
	}
	location.SortByDistance(out,
		func(r Ranked) float64 { return r.DistanceKm },
		func(r Ranked) string { return string(r.Driver.Code) },
	)
	return out
}

// Nearest lists available drivers closest to origin. limit <= 0 returns all.
func (s *Service) Nearest(ctx context.Context, origin types.Point, limit int) ([]Ranked, error) {
	ds, err := s.store.ListAvailableWithLocation(ctx)
	if err != nil {
		return nil, err
	}
	ranked := s.Rank(ds, origin)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// DistanceTo measures a driver's straight-line distance to p.
func (s *Service) DistanceTo(ctx context.Context, code types.ID, p types.Point) (Ranked, error) {
	d, err := s.store.Get(ctx, code)
	if err != nil {
		return Ranked{}, err
	}
	if d.Position == nil {
		return Ranked{}, ErrNoLocation
	}
	km := location.Distance(*d.Position, p)
	return Ranked{Driver: *d, DistanceKm: km, ETAMinutes: location.ETAMinutes(km, s.etaPerKm)}, nil
}
