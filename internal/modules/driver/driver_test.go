package driver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"speedyfood/internal/types"
)

var origin = types.Point{Lat: -17.7838759, Lng: -63.1817578}

// offset returns a point roughly km kilometres north of origin.
func offset(km float64) *types.Point {
	return &types.Point{Lat: origin.Lat + km/111.195, Lng: origin.Lng}
}

func TestNearest_SortsByDistanceAndSkipsUnavailable(t *testing.T) {
	repo := newMemRepo(
		Driver{Code: "DRV-A", Name: "Ana", Position: offset(1.0), Available: true},
		Driver{Code: "DRV-B", Name: "Beto", Position: offset(2.5), Available: true},
		Driver{Code: "DRV-C", Name: "Caro", Position: offset(0.3), Available: true},
		Driver{Code: "DRV-D", Name: "Dani", Position: offset(0.1), Available: false},
		Driver{Code: "DRV-E", Name: "Eli", Available: true},
	)
	svc := NewService(repo, 3)

	ranked, err := svc.Nearest(context.Background(), origin, 0)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	want := []types.ID{"DRV-C", "DRV-A", "DRV-B"}
	if len(ranked) != len(want) {
		t.Fatalf("got %d drivers, want %d", len(ranked), len(want))
	}
	for i, w := range want {
		if ranked[i].Driver.Code != w {
			t.Errorf("position %d: got %s, want %s", i, ranked[i].Driver.Code, w)
		}
	}
	if ranked[0].DistanceKm != 0.3 || ranked[0].ETAMinutes != 0 {
		t.Errorf("unexpected nearest metrics: %+v", ranked[0])
	}
	if ranked[2].ETAMinutes != 7 {
		t.Errorf("eta for 2.5km = %d, want 7", ranked[2].ETAMinutes)
	}
}

func TestNearest_TieBreakByCode(t *testing.T) {
	repo := newMemRepo(
		Driver{Code: "DRV-Z", Position: offset(1.0), Available: true},
		Driver{Code: "DRV-M", Position: offset(1.0), Available: true},
	)
	svc := NewService(repo, 3)

	ranked, err := svc.Nearest(context.Background(), origin, 1)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Driver.Code != "DRV-M" {
		t.Fatalf("expected DRV-M first, got %+v", ranked)
	}
}

func TestDistanceTo(t *testing.T) {
	repo := newMemRepo(
		Driver{Code: "DRV-A", Position: offset(2.0), Available: true},
		Driver{Code: "DRV-B", Available: true},
	)
	svc := NewService(repo, 3)

	r, err := svc.DistanceTo(context.Background(), "DRV-A", origin)
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if r.DistanceKm != 2.0 || r.ETAMinutes != 6 {
		t.Errorf("got %+v", r)
	}

	if _, err := svc.DistanceTo(context.Background(), "DRV-B", origin); !errors.Is(err, ErrNoLocation) {
		t.Errorf("expected ErrNoLocation, got %v", err)
	}
	if _, err := svc.DistanceTo(context.Background(), "NOPE", origin); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	repo := newMemRepo(
		Driver{Code: "DRV-A", Name: "Ana", Available: false},
		Driver{Code: "DRV-B", Name: "Beto", Available: false},
	)
	repo.busy["DRV-B"] = true
	svc := NewService(repo, 3)
	ctx := context.Background()

	res, err := svc.Release(ctx, "DRV-A")
	if err != nil || !res.Success {
		t.Fatalf("release DRV-A: %+v, %v", res, err)
	}
	if !repo.drivers["DRV-A"].Available {
		t.Fatal("DRV-A should be available")
	}

	res, err = svc.Release(ctx, "DRV-B")
	if err != nil || res.Success {
		t.Fatalf("busy driver must not be released: %+v, %v", res, err)
	}

	res, err = svc.Release(ctx, "NOPE")
	if err != nil || res.Success || res.Message == "" {
		t.Fatalf("unknown driver: %+v, %v", res, err)
	}
}

func TestSetAvailability_Busy(t *testing.T) {
	repo := newMemRepo(Driver{Code: "DRV-A", Available: false})
	repo.busy["DRV-A"] = true
	svc := NewService(repo, 3)

	if err := svc.SetAvailability(context.Background(), "DRV-A", true); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestSetAvailability_OfflineWhileReserved(t *testing.T) {
	repo := newMemRepo(Driver{Code: "DRV-A", Available: false})
	repo.busy["DRV-A"] = true
	svc := NewService(repo, 3)

	if err := svc.SetAvailability(context.Background(), "DRV-A", false); err != nil {
		t.Fatalf("going offline while reserved should succeed, got %v", err)
	}
	if repo.drivers["DRV-A"].Available {
		t.Fatal("reserved driver must stay unavailable")
	}
}

func TestSetAvailability_UnknownDriver(t *testing.T) {
	svc := NewService(newMemRepo(), 3)
	if err := svc.SetAvailability(context.Background(), "NOPE", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePosition(t *testing.T) {
	repo := newMemRepo(Driver{Code: "DRV-A", Available: true})
	svc := NewService(repo, 3)
	ctx := context.Background()

	if err := svc.UpdatePosition(ctx, "DRV-A", types.Point{Lat: -17.8, Lng: -63.2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	d, _ := svc.Get(ctx, "DRV-A")
	if d.Position == nil || d.Position.Lat != -17.8 || d.LastLocationAt == nil {
		t.Fatalf("position not stored: %+v", d)
	}
	if err := svc.UpdatePosition(ctx, "DRV-A", types.Point{Lat: 123, Lng: 0}); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if err := svc.UpdatePosition(ctx, "NOPE", types.Point{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu      sync.Mutex
	drivers map[types.ID]*Driver
	busy    map[types.ID]bool
}

func newMemRepo(ds ...Driver) *memRepo {
	m := &memRepo{drivers: map[types.ID]*Driver{}, busy: map[types.ID]bool{}}
	for i := range ds {
		d := ds[i]
		m.drivers[d.Code] = &d
	}
	return m
}

func (m *memRepo) Get(_ context.Context, code types.ID) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) ListAvailableWithLocation(_ context.Context) ([]Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Driver
	for _, d := range m.drivers {
		if d.Available && d.Position != nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memRepo) UpdatePosition(_ context.Context, code types.ID, p types.Point, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[code]
	if !ok {
		return ErrNotFound
	}
	d.Position = &p
	d.LastLocationAt = &at
	return nil
}

func (m *memRepo) SetAvailability(_ context.Context, code types.ID, available bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[code]
	if !ok {
		return false, ErrNotFound
	}
	if m.busy[code] {
		return !available, nil
	}
	d.Available = available
	return true, nil
}

func (m *memRepo) Release(ctx context.Context, code types.ID) (bool, error) {
	return m.SetAvailability(ctx, code, true)
}
