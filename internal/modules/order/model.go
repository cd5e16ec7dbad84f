// README: Order aggregate and status definitions.
package order

import (
	"strings"
	"time"

	"speedyfood/internal/types"
)

type Status string

const (
	StatusNone         Status = ""
	StatusPlaced       Status = "SOLICITADO"
	StatusAssigned     Status = "ASIGNADO"
	StatusAccepted     Status = "ACEPTADO"
	StatusAtRestaurant Status = "EN_RESTAURANTE"
	StatusPickedUp     Status = "RECOGIO_PEDIDO"
	StatusEnRoute      Status = "EN_CAMINO"
	StatusDelivered    Status = "ENTREGADO"
	StatusCancelled    Status = "CANCELADO"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{
	StatusPlaced,
	StatusAssigned,
	StatusAccepted,
	StatusAtRestaurant,
	StatusPickedUp,
	StatusEnRoute,
	StatusDelivered,
	StatusCancelled,
}

// activeStatuses are the states in which an order holds a driver.
var activeStatuses = []Status{
	StatusAssigned,
	StatusAccepted,
	StatusAtRestaurant,
	StatusPickedUp,
	StatusEnRoute,
}

type ActorType string

const (
	ActorCustomer ActorType = "customer"
	ActorDriver   ActorType = "driver"
	ActorAdmin    ActorType = "admin"
	ActorSystem   ActorType = "system"
)

type Order struct {
	Code          types.ID
	CustomerPhone string
	Status        Status
	DriverCode    *types.ID
	Total         types.Money
	Notes         string
	Origin        types.Point
	Destination   *types.Point
	Items         []Item
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Item is a line of an order with the unit price captured at order time.
type Item struct {
	ProductCode string
	Quantity    int
	UnitPrice   types.Money
}

func (i Item) Subtotal() types.Money {
	return i.UnitPrice.Times(i.Quantity)
}

type Event struct {
	ID         int64
	OrderCode  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  ActorType
	ActorID    *types.ID
	Note       string
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusPlaced:       {StatusAssigned, StatusCancelled},
	StatusAssigned:     {StatusAccepted, StatusPlaced, StatusCancelled},
	StatusAccepted:     {StatusAtRestaurant, StatusCancelled},
	StatusAtRestaurant: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:     {StatusEnRoute, StatusCancelled},
	StatusEnRoute:      {StatusDelivered, StatusCancelled},
}

// forward is the linear delivery chain.
var forward = map[Status]Status{
	StatusPlaced:       StatusAssigned,
	StatusAssigned:     StatusAccepted,
	StatusAccepted:     StatusAtRestaurant,
	StatusAtRestaurant: StatusPickedUp,
	StatusPickedUp:     StatusEnRoute,
	StatusEnRoute:      StatusDelivered,
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// canDriverTransition excludes the moves reserved for dispatch and administration.
func canDriverTransition(from, to Status) bool {
	if to == StatusAssigned || to == StatusCancelled {
		return false
	}
	return CanTransition(from, to)
}

// NextStatus returns the next state of the delivery chain, if any.
func NextStatus(s Status) (Status, bool) {
	n, ok := forward[s]
	return n, ok
}

// ParseStatus accepts any casing and spaces in place of underscores.
func ParseStatus(v string) (Status, bool) {
	s := Status(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), " ", "_")))
	return s, s.Valid()
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// HoldsDriver reports whether an order in this state must have a bound driver.
func (s Status) HoldsDriver() bool {
	for _, v := range activeStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// releasesDriver reports whether entering s frees the bound driver.
func releasesDriver(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusPlaced
}

// clearsDriver reports whether entering s drops the driver reference.
// Delivered orders keep it for history.
func clearsDriver(s Status) bool {
	return s == StatusCancelled || s == StatusPlaced
}

func activeStatusStrings() []string {
	out := make([]string, len(activeStatuses))
	for i, s := range activeStatuses {
		out[i] = string(s)
	}
	return out
}
