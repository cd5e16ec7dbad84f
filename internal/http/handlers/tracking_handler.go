// README: Live tracking handlers: session control and the websocket feed.
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/http/middleware"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/modules/tracking"
	"speedyfood/internal/types"
)

type TrackingService interface {
	Start(ctx context.Context, key tracking.Key) (tracking.Update, error)
	Stop(ctx context.Context, key tracking.Key) error
	Refresh(ctx context.Context, key tracking.Key) (tracking.Update, error)
	Active(key tracking.Key) (tracking.Session, bool)
	Sessions() []tracking.Session
}

// Streamer serves the websocket feed of one order; *tracking.Hub implements it.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, code types.ID, initial *tracking.Update) error
}

type OrderGetter interface {
	Get(ctx context.Context, code types.ID) (*order.Order, error)
}

type TrackingHandler struct {
	tracking TrackingService
	stream   Streamer
	orders   OrderGetter
}

func NewTrackingHandler(svc TrackingService, stream Streamer, orders OrderGetter) *TrackingHandler {
	return &TrackingHandler{tracking: svc, stream: stream, orders: orders}
}

func (h *TrackingHandler) Start(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	u, err := h.tracking.Start(c.Request.Context(), key)
	if errors.Is(err, tracking.ErrAlreadyActive) {
		writeJSON(c, http.StatusOK, gin.H{"active": true, "message": "tracking already active"})
		return
	}
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"active": true, "update": u})
}

func (h *TrackingHandler) Stop(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	if err := h.tracking.Stop(c.Request.Context(), key); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"active": false})
}

// Refresh answers the current driver position without needing a session.
func (h *TrackingHandler) Refresh(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	u, err := h.tracking.Refresh(c.Request.Context(), key)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	_, active := h.tracking.Active(key)
	writeJSON(c, http.StatusOK, gin.H{"active": active, "update": u})
}

// Sessions lists running sessions; admin only.
func (h *TrackingHandler) Sessions(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"sessions": h.tracking.Sessions()})
}

func (h *TrackingHandler) Stream(c *gin.Context) {
	key, ok := h.sessionKey(c)
	if !ok {
		return
	}
	var initial *tracking.Update
	if u, err := h.tracking.Refresh(c.Request.Context(), key); err == nil {
		initial = &u
	}
	if err := h.stream.Serve(c.Writer, c.Request, key.Order, initial); err != nil {
		log.Printf("http: tracking stream %s: %v", key.Order, err)
	}
}

// sessionKey reads the order code and optional chat id, then checks the
// caller may see the order. Chat sessions belong to the bot, which calls with
// admin credentials; any other caller naming a chat is refused.
func (h *TrackingHandler) sessionKey(c *gin.Context) (tracking.Key, bool) {
	code, ok := codeParam(c, "code")
	if !ok {
		return tracking.Key{}, false
	}
	var chat int64
	if v := c.Query("chat"); v != "" {
		if middleware.CallerRole(c) != middleware.RoleAdmin {
			writeError(c, http.StatusForbidden, "forbidden: chat sessions are managed by the bot")
			return tracking.Key{}, false
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid chat")
			return tracking.Key{}, false
		}
		chat = n
	}
	o, err := h.orders.Get(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return tracking.Key{}, false
	}
	if !canViewOrder(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return tracking.Key{}, false
	}
	return tracking.Key{Order: code, Chat: chat}, true
}

func canViewOrder(c *gin.Context, o *order.Order) bool {
	switch middleware.CallerRole(c) {
	case middleware.RoleAdmin:
		return true
	case middleware.RoleDriver:
		return o.DriverCode != nil && string(*o.DriverCode) == middleware.CallerUID(c)
	default:
		return o.CustomerPhone == middleware.CallerUID(c)
	}
}
