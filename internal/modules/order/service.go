// README: Order service implements the order state machine and persistence.
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"speedyfood/internal/config"
	"speedyfood/internal/types"
)

// Repository is the persistence contract of the order module; *Store implements it.
type Repository interface {
	Create(ctx context.Context, o *Order, e *Event) error
	Get(ctx context.Context, code types.ID) (*Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Order, error)
	ListByCustomer(ctx context.Context, phone string) ([]Order, error)
	ListPendingUnassigned(ctx context.Context, limit int) ([]Order, error)
	Transition(ctx context.Context, p TransitionParams) (TransitionOutcome, error)
	Bind(ctx context.Context, p BindParams) error
	Events(ctx context.Context, code types.ID) ([]Event, error)
}

// Pricing returns catalog unit prices for the given product codes.
type Pricing interface {
	UnitPrices(ctx context.Context, productCodes []string) (map[string]types.Money, error)
}

type DriverLookup interface {
	Exists(ctx context.Context, code types.ID) (bool, error)
}

type OriginSource interface {
	Origin(ctx context.Context) types.Point
}

// EventPublisher fans applied transitions out to other systems.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, o *Order, e Event) error
}

type Deps struct {
	Pricing Pricing
	Drivers DriverLookup
	Origin  OriginSource
	Events  EventPublisher
}

type Service struct {
	store   Repository
	pricing Pricing
	drivers DriverLookup
	origin  OriginSource
	events  EventPublisher
}

func NewService(store Repository, deps Deps) *Service {
	return &Service{
		store:   store,
		pricing: deps.Pricing,
		drivers: deps.Drivers,
		origin:  deps.Origin,
		events:  deps.Events,
	}
}

var (
	ErrInvalidState      = errors.New("invalid state transition")
	ErrNotFound          = errors.New("order not found")
	ErrDriverNotFound    = errors.New("driver not found")
	ErrForbidden         = errors.New("driver is not bound to this order")
	ErrConflict          = errors.New("order state conflict")
	ErrBadRequest        = errors.New("bad request")
	ErrDriverUnavailable = errors.New("driver not available")
	ErrNoDriver          = errors.New("order has no driver")
)

// TransitionError explains a rejected transition and names the next legal state.
type TransitionError struct {
	Code      types.ID
	Current   Status
	Requested Status
	Next      Status
	Detail    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("order %s is %s, cannot move to %s", e.Code, e.Current, e.Requested)
	switch {
	case e.Current.IsTerminal():
		msg += "; order is finished"
	case e.Next != StatusNone:
		msg += fmt.Sprintf("; next state is %s", e.Next)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }

func newTransitionError(o *Order, to Status, detail string) *TransitionError {
	next, _ := NextStatus(o.Status)
	return &TransitionError{Code: o.Code, Current: o.Status, Requested: to, Next: next, Detail: detail}
}

type ItemRequest struct {
	ProductCode string
	Quantity    int
	// UnitPrice is used only when no catalog pricing is wired.
	UnitPrice types.Money
}

type CreateCommand struct {
	CustomerPhone string
	Items         []ItemRequest
	Notes         string
	Destination   *types.Point
}

// MatchCommand binds a driver to a placed order; issued by dispatch only.
type MatchCommand struct {
	OrderCode  types.ID
	DriverCode types.ID
	ActorType  ActorType
	ActorID    *types.ID
}

type TransitionCommand struct {
	OrderCode  types.ID
	To         Status
	DriverCode types.ID
}

type CancelCommand struct {
	OrderCode types.ID
	ActorID   *types.ID
	Reason    string
}

type TransitionResult struct {
	Order          *Order
	DriverReleased bool
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerPhone == "" || len(cmd.Items) == 0 {
		return nil, ErrBadRequest
	}
	for _, it := range cmd.Items {
		if it.ProductCode == "" || it.Quantity <= 0 {
			return nil, ErrBadRequest
		}
	}

	items, err := s.priceItems(ctx, cmd.Items)
	if err != nil {
		return nil, err
	}
	total := types.NewMoney(0)
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}

	origin := config.DefaultOrigin
	if s.origin != nil {
		origin = s.origin.Origin(ctx)
	}

	now := time.Now()
	o := &Order{
		Code:          newCode(),
		CustomerPhone: cmd.CustomerPhone,
		Status:        StatusPlaced,
		Total:         total,
		Notes:         cmd.Notes,
		Origin:        origin,
		Destination:   cmd.Destination,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	actor := types.ID(cmd.CustomerPhone)
	ev := Event{
		OrderCode:  o.Code,
		FromStatus: StatusNone,
		ToStatus:   StatusPlaced,
		ActorType:  ActorCustomer,
		ActorID:    &actor,
		CreatedAt:  now,
	}
	if err := s.store.Create(ctx, o, &ev); err != nil {
		return nil, err
	}
	s.publish(ctx, o, ev)
	return o, nil
}

func (s *Service) priceItems(ctx context.Context, reqs []ItemRequest) ([]Item, error) {
	items := make([]Item, len(reqs))
	if s.pricing == nil {
		for i, r := range reqs {
			if r.UnitPrice.Amount < 0 {
				return nil, ErrBadRequest
			}
			price := r.UnitPrice
			if price.Currency == "" {
				price.Currency = types.DefaultCurrency
			}
			items[i] = Item{ProductCode: r.ProductCode, Quantity: r.Quantity, UnitPrice: price}
		}
		return items, nil
	}

	codes := make([]string, len(reqs))
	for i, r := range reqs {
		codes[i] = r.ProductCode
	}
	prices, err := s.pricing.UnitPrices(ctx, codes)
	if err != nil {
		return nil, err
	}
	for i, r := range reqs {
		p, ok := prices[r.ProductCode]
		if !ok {
			return nil, fmt.Errorf("unknown product %s: %w", r.ProductCode, ErrBadRequest)
		}
		items[i] = Item{ProductCode: r.ProductCode, Quantity: r.Quantity, UnitPrice: p}
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, code types.ID) (*Order, error) {
	return s.store.Get(ctx, code)
}

// History returns the audit trail of an order, oldest event first.
func (s *Service) History(ctx context.Context, code types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, code); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, code)
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	if !status.Valid() {
		return nil, ErrBadRequest
	}
	return s.store.ListByStatus(ctx, status, 0)
}

func (s *Service) ListByCustomer(ctx context.Context, phone string) ([]Order, error) {
	if phone == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListByCustomer(ctx, phone)
}

// ListPendingUnassigned returns placed orders without a driver, oldest first.
func (s *Service) ListPendingUnassigned(ctx context.Context, limit int) ([]Order, error) {
	return s.store.ListPendingUnassigned(ctx, limit)
}

// Match reserves the driver and moves the order to ASIGNADO in one step.
// It returns ErrDriverUnavailable when the driver was taken first and
// ErrConflict when the order is no longer placed and unassigned.
func (s *Service) Match(ctx context.Context, cmd MatchCommand) error {
	if cmd.OrderCode == "" || cmd.DriverCode == "" {
		return ErrBadRequest
	}
	actorType := cmd.ActorType
	if actorType == "" {
		actorType = ActorSystem
	}
	ev := Event{
		OrderCode:  cmd.OrderCode,
		FromStatus: StatusPlaced,
		ToStatus:   StatusAssigned,
		ActorType:  actorType,
		ActorID:    cmd.ActorID,
		Note:       "driver " + string(cmd.DriverCode),
		CreatedAt:  time.Now(),
	}
	if err := s.store.Bind(ctx, BindParams{OrderCode: cmd.OrderCode, DriverCode: cmd.DriverCode, Event: ev}); err != nil {
		return err
	}
	if s.events != nil {
		if o, err := s.store.Get(ctx, cmd.OrderCode); err == nil {
			s.publish(ctx, o, ev)
		}
	}
	return nil
}

// AttemptTransition applies a driver-initiated state change.
func (s *Service) AttemptTransition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	if cmd.OrderCode == "" || cmd.DriverCode == "" {
		return TransitionResult{}, ErrBadRequest
	}
	if !cmd.To.Valid() {
		return TransitionResult{}, fmt.Errorf("unknown state %q: %w", cmd.To, ErrBadRequest)
	}

	o, err := s.store.Get(ctx, cmd.OrderCode)
	if err != nil {
		return TransitionResult{}, err
	}
	if s.drivers != nil {
		ok, err := s.drivers.Exists(ctx, cmd.DriverCode)
		if err != nil {
			return TransitionResult{}, err
		}
		if !ok {
			return TransitionResult{}, ErrDriverNotFound
		}
	}

	if !canDriverTransition(o.Status, cmd.To) {
		detail := ""
		switch cmd.To {
		case StatusAssigned:
			detail = "drivers are assigned by dispatch"
		case StatusCancelled:
			detail = "cancellation is an administrative action"
		}
		return TransitionResult{}, newTransitionError(o, cmd.To, detail)
	}
	if o.DriverCode == nil || *o.DriverCode != cmd.DriverCode {
		return TransitionResult{}, ErrForbidden
	}

	driver := cmd.DriverCode
	return s.apply(ctx, o, cmd.To, Event{
		ActorType: ActorDriver,
		ActorID:   &driver,
	})
}

// Cancel is the administrative cancellation; any non-terminal order may be cancelled.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (TransitionResult, error) {
	if cmd.OrderCode == "" {
		return TransitionResult{}, ErrBadRequest
	}
	o, err := s.store.Get(ctx, cmd.OrderCode)
	if err != nil {
		return TransitionResult{}, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return TransitionResult{}, newTransitionError(o, StatusCancelled, "")
	}
	return s.apply(ctx, o, StatusCancelled, Event{
		ActorType: ActorAdmin,
		ActorID:   cmd.ActorID,
		Note:      cmd.Reason,
	})
}

// ReleaseOrderDriver unbinds the order's driver. An ASIGNADO order goes back
// to SOLICITADO; a finished order only drops its historical reference.
func (s *Service) ReleaseOrderDriver(ctx context.Context, code types.ID, actorID *types.ID) (TransitionResult, error) {
	o, err := s.store.Get(ctx, code)
	if err != nil {
		return TransitionResult{}, err
	}
	if o.DriverCode == nil {
		return TransitionResult{}, ErrNoDriver
	}

	switch {
	case o.Status == StatusAssigned:
		return s.apply(ctx, o, StatusPlaced, Event{ActorType: ActorAdmin, ActorID: actorID, Note: "driver released"})
	case o.Status.IsTerminal():
		return s.apply(ctx, o, o.Status, Event{ActorType: ActorAdmin, ActorID: actorID, Note: "driver released"})
	default:
		return TransitionResult{}, newTransitionError(o, StatusPlaced, "driver already accepted; cancel the order instead")
	}
}

// apply persists from -> to together with the driver side effects.
// to == o.Status only drops the driver reference of a finished order.
func (s *Service) apply(ctx context.Context, o *Order, to Status, ev Event) (TransitionResult, error) {
	now := time.Now()
	ev.OrderCode = o.Code
	ev.FromStatus = o.Status
	ev.ToStatus = to
	ev.CreatedAt = now

	p := TransitionParams{
		Code:   o.Code,
		From:   o.Status,
		To:     to,
		Driver: o.DriverCode,
		Event:  ev,
	}
	if o.DriverCode != nil {
		p.ReleaseDriver = releasesDriver(to) || to == o.Status
		p.ClearDriver = clearsDriver(to) || to == o.Status
	}

	out, err := s.store.Transition(ctx, p)
	if err != nil {
		return TransitionResult{}, err
	}
	if !out.Applied {
		return TransitionResult{}, ErrConflict
	}

	updated := *o
	updated.Status = to
	updated.UpdatedAt = now
	if p.ClearDriver {
		updated.DriverCode = nil
	}
	s.publish(ctx, &updated, ev)
	return TransitionResult{Order: &updated, DriverReleased: out.DriverReleased}, nil
}

func (s *Service) publish(ctx context.Context, o *Order, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, o, ev); err != nil {
		log.Printf("order: publish %s %s->%s: %v", ev.OrderCode, ev.FromStatus, ev.ToStatus, err)
	}
}

const (
	codePrefix   = "PED-"
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// newCode returns PED- plus six random alphanumerics. Collisions are not checked.
func newCode() types.ID {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("order: crypto/rand failed: %v", err))
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return types.ID(codePrefix + string(b))
}
