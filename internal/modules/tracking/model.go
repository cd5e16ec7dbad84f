// README: Live tracking sessions keyed by order and customer conversation.
package tracking

import (
	"context"
	"errors"
	"time"

	"speedyfood/internal/modules/order"
	"speedyfood/internal/types"
)

var (
	ErrAlreadyActive = errors.New("tracking already active")
	ErrNoDriver      = errors.New("order has no driver assigned")
	ErrNoPosition    = errors.New("driver has not reported a position")
	ErrFinished      = errors.New("order already finished")
)

// Key identifies one tracking session. Chat is zero for API and websocket viewers.
type Key struct {
	Order types.ID `json:"order"`
	Chat  int64    `json:"chat,omitempty"`
}

type Session struct {
	Key           Key       `json:"key"`
	Active        bool      `json:"active"`
	LastMessageID int       `json:"last_message_id,omitempty"`
	LastRefresh   time.Time `json:"last_refresh"`
	StartedAt     time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// Update is one observation of the driver serving an order.
type Update struct {
	OrderCode  types.ID     `json:"order_code"`
	Status     order.Status `json:"status"`
	DriverCode types.ID     `json:"driver_code,omitempty"`
	DriverName string       `json:"driver_name,omitempty"`
	Position   *types.Point `json:"position,omitempty"`
	Target     *types.Point `json:"target,omitempty"`
	DistanceKm float64      `json:"distance_km"`
	ETAMinutes int          `json:"eta_minutes"`
	Address    string       `json:"address,omitempty"`
	At         time.Time    `json:"at"`
	Stopped    bool         `json:"stopped"`
}
