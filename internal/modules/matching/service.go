// README: Dispatch engine: nearest-driver assignment and the background retry loop.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"speedyfood/internal/config"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/types"
)

type OrderMatcher interface {
	Get(ctx context.Context, code types.ID) (*order.Order, error)
	ListPendingUnassigned(ctx context.Context, limit int) ([]order.Order, error)
	Match(ctx context.Context, cmd order.MatchCommand) error
}

type DriverFinder interface {
	Get(ctx context.Context, code types.ID) (*driver.Driver, error)
	Nearest(ctx context.Context, origin types.Point, limit int) ([]driver.Ranked, error)
	DistanceTo(ctx context.Context, code types.ID, p types.Point) (driver.Ranked, error)
	HasCandidates(ctx context.Context) (bool, error)
}

type OriginSource interface {
	Origin(ctx context.Context) types.Point
}

// AttemptLog records every dispatch outcome per order; *Store implements it.
type AttemptLog interface {
	RecordAttempt(ctx context.Context, code types.ID, reason Reason, at time.Time) error
	Attempts(ctx context.Context, code types.ID) (Attempts, error)
}

// Notifier tells a driver about a new assignment.
type Notifier interface {
	DriverAssigned(ctx context.Context, d driver.Driver, o order.Order, distanceKm float64) error
}

type Deps struct {
	Attempts AttemptLog
	Notifier Notifier
}

type Service struct {
	orders   OrderMatcher
	drivers  DriverFinder
	origin   OriginSource
	attempts AttemptLog
	notifier Notifier
	interval time.Duration
}

func NewService(orders OrderMatcher, drivers DriverFinder, origin OriginSource, cfg config.DispatchConfig, deps Deps) *Service {
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Service{
		orders:   orders,
		drivers:  drivers,
		origin:   origin,
		attempts: deps.Attempts,
		notifier: deps.Notifier,
		interval: interval,
	}
}

// AssignNearestDriver binds the closest available driver to a placed order.
// Business outcomes come back in the Result; the error is reserved for
// infrastructure failures.
func (s *Service) AssignNearestDriver(ctx context.Context, code types.ID) (Result, error) {
	o, res, err := s.loadDispatchable(ctx, code)
	if err != nil || o == nil {
		return s.finish(ctx, res, err)
	}

	ranked, err := s.drivers.Nearest(ctx, s.origin.Origin(ctx), 0)
	if err != nil {
		return Result{}, fmt.Errorf("list candidates for %s: %w", code, err)
	}
	for _, cand := range ranked {
		err := s.orders.Match(ctx, order.MatchCommand{
			OrderCode:  code,
			DriverCode: cand.Driver.Code,
			ActorType:  order.ActorSystem,
		})
		switch {
		case err == nil:
			return s.assigned(ctx, o, cand)
		case errors.Is(err, order.ErrDriverUnavailable):
			// taken by a concurrent dispatch; try the next one
			continue
		case errors.Is(err, order.ErrConflict):
			return s.recheck(ctx, code)
		default:
			return Result{}, fmt.Errorf("bind %s to %s: %w", cand.Driver.Code, code, err)
		}
	}
	return s.finish(ctx, Result{
		Reason:    ReasonNoDriversAvailable,
		OrderCode: code,
		Message:   "no drivers available right now",
	}, nil)
}

// AssignDriver binds a specific driver chosen by an operator.
func (s *Service) AssignDriver(ctx context.Context, code, driverCode types.ID) (Result, error) {
	o, res, err := s.loadDispatchable(ctx, code)
	if err != nil || o == nil {
		return s.finish(ctx, res, err)
	}

	origin := s.origin.Origin(ctx)
	cand, err := s.drivers.DistanceTo(ctx, driverCode, origin)
	switch {
	case errors.Is(err, driver.ErrNotFound):
		return s.finish(ctx, Result{
			Reason:    ReasonDriverNotFound,
			OrderCode: code,
			Message:   fmt.Sprintf("driver %s not found", driverCode),
		}, nil)
	case errors.Is(err, driver.ErrNoLocation):
		d, gerr := s.drivers.Get(ctx, driverCode)
		if gerr != nil {
			return Result{}, gerr
		}
		cand = driver.Ranked{Driver: *d}
	case err != nil:
		return Result{}, err
	}
	if !cand.Driver.Available {
		return s.finish(ctx, Result{
			Reason:    ReasonDriverUnavailable,
			OrderCode: code,
			Message:   fmt.Sprintf("driver %s is not available", cand.Driver.Name),
		}, nil)
	}

	err = s.orders.Match(ctx, order.MatchCommand{
		OrderCode:  code,
		DriverCode: driverCode,
		ActorType:  order.ActorAdmin,
	})
	switch {
	case err == nil:
		return s.assigned(ctx, o, cand)
	case errors.Is(err, order.ErrDriverUnavailable):
		return s.finish(ctx, Result{
			Reason:    ReasonDriverUnavailable,
			OrderCode: code,
			Message:   fmt.Sprintf("driver %s was just taken", cand.Driver.Name),
		}, nil)
	case errors.Is(err, order.ErrConflict):
		return s.recheck(ctx, code)
	default:
		return Result{}, fmt.Errorf("bind %s to %s: %w", driverCode, code, err)
	}
}

// Candidates lists the drivers dispatch would consider, nearest first.
func (s *Service) Candidates(ctx context.Context) ([]driver.Ranked, error) {
	return s.drivers.Nearest(ctx, s.origin.Origin(ctx), candidatesLimit)
}

func (s *Service) Attempts(ctx context.Context, code types.ID) (Attempts, error) {
	if s.attempts == nil {
		return Attempts{OrderCode: code}, nil
	}
	return s.attempts.Attempts(ctx, code)
}

// RunScheduler retries unassigned orders on every tick until ctx is done.
func (s *Service) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Printf("dispatch: retry scheduler started, interval %s", s.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("dispatch: retry scheduler stopped")
			return
		case <-ticker.C:
			rep := s.Tick(ctx)
			if rep.Processed > 0 || rep.Failed > 0 {
				log.Printf("dispatch: tick processed=%d assigned=%d skipped=%d failed=%d",
					rep.Processed, rep.Assigned, rep.Skipped, rep.Failed)
			}
		}
	}
}

// Tick runs one retry pass, oldest order first. It stops early when no driver
// can be dispatched; a failure on one order does not stop the others.
func (s *Service) Tick(ctx context.Context) TickReport {
	var rep TickReport
	pending, err := s.orders.ListPendingUnassigned(ctx, 0)
	if err != nil {
		log.Printf("dispatch: list pending orders: %v", err)
		rep.Failed++
		return rep
	}

	for i, o := range pending {
		if ctx.Err() != nil {
			rep.Skipped += len(pending) - i
			break
		}
		ok, err := s.drivers.HasCandidates(ctx)
		if err != nil {
			log.Printf("dispatch: check candidates for %s: %v", o.Code, err)
			rep.Failed++
			continue
		}
		if !ok {
			rep.Skipped += len(pending) - i
			break
		}

		rep.Processed++
		res, err := s.AssignNearestDriver(ctx, o.Code)
		if err != nil {
			log.Printf("dispatch: retry %s: %v", o.Code, err)
			rep.Failed++
			continue
		}
		if res.Success {
			rep.Assigned++
		}
		log.Printf("dispatch: retry %s: %s", o.Code, res.Reason)
	}
	return rep
}

// loadDispatchable returns the order when it can take a driver. Otherwise the
// order is nil and the result explains why.
func (s *Service) loadDispatchable(ctx context.Context, code types.ID) (*order.Order, Result, error) {
	o, err := s.orders.Get(ctx, code)
	if errors.Is(err, order.ErrNotFound) {
		return nil, Result{
			Reason:    ReasonOrderNotFound,
			OrderCode: code,
			Message:   fmt.Sprintf("order %s not found", code),
		}, nil
	}
	if err != nil {
		return nil, Result{}, fmt.Errorf("load order %s: %w", code, err)
	}
	if o.Status != order.StatusPlaced {
		return nil, Result{
			Reason:    ReasonWrongState,
			OrderCode: code,
			Message:   fmt.Sprintf("order %s is %s, not %s", code, o.Status, order.StatusPlaced),
		}, nil
	}
	if o.DriverCode != nil {
		return nil, Result{
			Reason:    ReasonAlreadyHasDriver,
			OrderCode: code,
			Message:   fmt.Sprintf("order %s already has driver %s", code, *o.DriverCode),
		}, nil
	}
	return o, Result{}, nil
}

// recheck explains a bind that lost a race on the order row.
func (s *Service) recheck(ctx context.Context, code types.ID) (Result, error) {
	o, res, err := s.loadDispatchable(ctx, code)
	if err != nil {
		return Result{}, err
	}
	if o != nil {
		res = Result{
			Reason:    ReasonWrongState,
			OrderCode: code,
			Message:   fmt.Sprintf("order %s changed during dispatch", code),
		}
	}
	return s.finish(ctx, res, nil)
}

func (s *Service) assigned(ctx context.Context, o *order.Order, cand driver.Ranked) (Result, error) {
	d := cand.Driver
	d.Available = false
	res := Result{
		Success:    true,
		Reason:     ReasonAssigned,
		OrderCode:  o.Code,
		Driver:     &d,
		DistanceKm: cand.DistanceKm,
		ETAMinutes: cand.ETAMinutes,
		Message: fmt.Sprintf("driver %s (%s %s) assigned, %.2f km away",
			d.Name, d.Vehicle, d.Plate, cand.DistanceKm),
	}
	if s.notifier != nil {
		bound := *o
		bound.Status = order.StatusAssigned
		bound.DriverCode = &d.Code
		if err := s.notifier.DriverAssigned(ctx, d, bound, cand.DistanceKm); err != nil {
			log.Printf("dispatch: notify %s about %s: %v", d.Code, o.Code, err)
		}
	}
	return s.finish(ctx, res, nil)
}

func (s *Service) finish(ctx context.Context, res Result, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if s.attempts != nil && res.OrderCode != "" {
		if lerr := s.attempts.RecordAttempt(ctx, res.OrderCode, res.Reason, time.Now()); lerr != nil {
			log.Printf("dispatch: record attempt %s: %v", res.OrderCode, lerr)
		}
	}
	return res, nil
}
