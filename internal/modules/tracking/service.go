// README: Tracking service runs a periodic driver-position refresh per session.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"speedyfood/internal/config"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/location"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/types"
)

type OrderReader interface {
	Get(ctx context.Context, code types.ID) (*order.Order, error)
}

type DriverReader interface {
	Get(ctx context.Context, code types.ID) (*driver.Driver, error)
}

// Addresser labels a position with a street address.
type Addresser interface {
	Address(ctx context.Context, p types.Point) (string, error)
}

// Sink receives the updates of every session. Start may return a message id
// that is kept on the session for later edits. On Stop, final is marked
// Stopped only when the order is finished or no other session tracks it.
type Sink interface {
	Start(ctx context.Context, s Session, u Update) (int, error)
	Refresh(ctx context.Context, s Session, u Update) error
	Stop(ctx context.Context, s Session, final Update) error
}

type Deps struct {
	Addresser       Addresser
	Sinks           []Sink
	ETAMinutesPerKm float64
}

type Service struct {
	orders   OrderReader
	drivers  DriverReader
	address  Addresser
	sinks    []Sink
	etaPerKm float64
	every    time.Duration
	maxLive  time.Duration

	reg    *registry
	root   context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

func NewService(orders OrderReader, drivers DriverReader, cfg config.TrackingConfig, deps Deps) *Service {
	root, cancel := context.WithCancel(context.Background())
	s := &Service{
		orders:   orders,
		drivers:  drivers,
		address:  deps.Addresser,
		sinks:    deps.Sinks,
		etaPerKm: deps.ETAMinutesPerKm,
		every:    cfg.RefreshInterval,
		maxLive:  cfg.MaxLivePeriod,
		reg:      newRegistry(),
		root:     root,
		cancel:   cancel,
		now:      time.Now,
	}
	if s.every <= 0 {
		s.every = 10 * time.Second
	}
	if s.maxLive <= 0 {
		s.maxLive = 30 * time.Minute
	}
	return s
}

// Start begins a live session. It fails when the order has no driver with a
// known position, and returns ErrAlreadyActive when the session is running.
func (s *Service) Start(ctx context.Context, key Key) (Update, error) {
	if _, ok := s.reg.get(key); ok {
		return Update{}, ErrAlreadyActive
	}
	u, err := s.snapshot(ctx, key.Order)
	if err != nil {
		return Update{}, err
	}
	if u.Stopped {
		return u, ErrFinished
	}

	now := s.now()
	runCtx, cancel := context.WithTimeout(s.root, s.maxLive)
	sess := &Session{Key: key, Active: true, StartedAt: now, LastRefresh: now, cancel: cancel}
	if !s.reg.add(sess) {
		cancel()
		return Update{}, ErrAlreadyActive
	}

	view, _ := s.reg.get(key)
	for _, sink := range s.sinks {
		id, err := sink.Start(ctx, view, u)
		if err != nil {
			log.Printf("tracking: start sink for %s/%d: %v", key.Order, key.Chat, err)
			continue
		}
		if id != 0 {
			s.reg.setMessage(key, id)
		}
	}

	go s.loop(runCtx, key)
	log.Printf("tracking: started %s/%d", key.Order, key.Chat)
	return u, nil
}

// Stop ends the session. Stopping an inactive session is a no-op.
func (s *Service) Stop(ctx context.Context, key Key) error {
	return s.stop(ctx, key, Update{OrderCode: key.Order, At: s.now()})
}

func (s *Service) stop(ctx context.Context, key Key, final Update) error {
	sess, ok := s.reg.remove(key)
	if !ok {
		return nil
	}
	if !s.reg.tracks(key.Order) {
		final.Stopped = true
	}
	for _, sink := range s.sinks {
		if err := sink.Stop(ctx, sess, final); err != nil {
			log.Printf("tracking: stop sink for %s/%d: %v", key.Order, key.Chat, err)
		}
	}
	log.Printf("tracking: stopped %s/%d", key.Order, key.Chat)
	return nil
}

// Refresh reads the current driver position. Once the order is terminal the
// session is stopped and the update is marked Stopped.
func (s *Service) Refresh(ctx context.Context, key Key) (Update, error) {
	u, err := s.snapshot(ctx, key.Order)
	if err != nil {
		return Update{}, err
	}
	if u.Stopped {
		if err := s.stop(ctx, key, u); err != nil {
			return Update{}, err
		}
		return u, nil
	}

	sess, ok := s.reg.touch(key, u.At)
	if !ok {
		return u, nil
	}
	for _, sink := range s.sinks {
		if err := sink.Refresh(ctx, sess, u); err != nil {
			log.Printf("tracking: refresh sink for %s/%d: %v", key.Order, key.Chat, err)
		}
	}
	return u, nil
}

func (s *Service) Active(key Key) (Session, bool) {
	return s.reg.get(key)
}

func (s *Service) Sessions() []Session {
	return s.reg.list()
}

// Close stops every session and their refresh goroutines.
func (s *Service) Close() {
	s.cancel()
	for _, sess := range s.reg.drain() {
		final := Update{OrderCode: sess.Key.Order, At: s.now(), Stopped: true}
		for _, sink := range s.sinks {
			if err := sink.Stop(context.Background(), sess, final); err != nil {
				log.Printf("tracking: close sink for %s/%d: %v", sess.Key.Order, sess.Key.Chat, err)
			}
		}
	}
}

func (s *Service) loop(ctx context.Context, key Key) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Printf("tracking: %s/%d reached max live period", key.Order, key.Chat)
				_ = s.Stop(context.Background(), key)
			}
			return
		case <-ticker.C:
			u, err := s.Refresh(ctx, key)
			if err != nil {
				log.Printf("tracking: refresh %s/%d: %v", key.Order, key.Chat, err)
				continue
			}
			if u.Stopped {
				return
			}
		}
	}
}

func (s *Service) snapshot(ctx context.Context, code types.ID) (Update, error) {
	o, err := s.orders.Get(ctx, code)
	if err != nil {
		return Update{}, err
	}
	u := Update{OrderCode: o.Code, Status: o.Status, At: s.now()}
	if o.Status.IsTerminal() {
		u.Stopped = true
		return u, nil
	}
	if o.DriverCode == nil {
		return Update{}, ErrNoDriver
	}
	d, err := s.drivers.Get(ctx, *o.DriverCode)
	if err != nil {
		return Update{}, fmt.Errorf("load driver %s: %w", *o.DriverCode, err)
	}
	if d.Position == nil {
		return Update{}, ErrNoPosition
	}

	target := o.Origin
	if (o.Status == order.StatusPickedUp || o.Status == order.StatusEnRoute) && o.Destination != nil {
		target = *o.Destination
	}
	pos := *d.Position
	u.DriverCode = d.Code
	u.DriverName = d.Name
	u.Position = &pos
	u.Target = &target
	u.DistanceKm = location.Distance(pos, target)
	u.ETAMinutes = location.ETAMinutes(u.DistanceKm, s.etaPerKm)
	if s.address != nil {
		addr, err := s.address.Address(ctx, pos)
		if err != nil {
			log.Printf("tracking: address for %s: %v", code, err)
		}
		u.Address = addr
	}
	return u, nil
}
