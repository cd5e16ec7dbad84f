// README: Location service records driver position reports and serves radius queries.
package location

import (
	"context"
	"log"
	"time"

	"speedyfood/internal/types"
)

// PositionWriter persists the authoritative driver position used by dispatch.
type PositionWriter interface {
	UpdatePosition(ctx context.Context, code types.ID, p types.Point) error
}

type Index interface {
	SetGeo(ctx context.Context, code types.ID, pos types.Point) error
	SearchGeo(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error)
	AppendSnapshot(ctx context.Context, snap Snapshot) error
	Trail(ctx context.Context, code types.ID, limit int) ([]Snapshot, error)
}

type Service struct {
	drivers PositionWriter
	index   Index
}

func NewService(drivers PositionWriter, index Index) *Service {
	return &Service{drivers: drivers, index: index}
}

type Report struct {
	DriverCode types.ID
	Position   types.Point
}

// Report stores the driver's position. The GEO index and snapshot history are
// secondary; their failures are logged and do not fail the report.
func (s *Service) Report(ctx context.Context, r Report) error {
	if err := s.drivers.UpdatePosition(ctx, r.DriverCode, r.Position); err != nil {
		return err
	}
	if s.index == nil {
		return nil
	}
	if err := s.index.SetGeo(ctx, r.DriverCode, r.Position); err != nil {
		log.Printf("location: geo index %s: %v", r.DriverCode, err)
	}
	if err := s.index.AppendSnapshot(ctx, Snapshot{
		DriverCode: r.DriverCode,
		Position:   r.Position,
		RecordedAt: time.Now(),
	}); err != nil {
		log.Printf("location: snapshot %s: %v", r.DriverCode, err)
	}
	return nil
}

func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Nearby, error) {
	if s.index == nil {
		return nil, nil
	}
	return s.index.SearchGeo(ctx, p, radiusKm)
}

func (s *Service) Trail(ctx context.Context, code types.ID, limit int) ([]Snapshot, error) {
	if s.index == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.index.Trail(ctx, code, limit)
}
