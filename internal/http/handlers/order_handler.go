// README: Order handlers for create, lookup, driver state changes and admin actions.
package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/http/middleware"
	"speedyfood/internal/modules/matching"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/types"
)

type OrderService interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	Get(ctx context.Context, code types.ID) (*order.Order, error)
	ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error)
	ListByCustomer(ctx context.Context, phone string) ([]order.Order, error)
	AttemptTransition(ctx context.Context, cmd order.TransitionCommand) (order.TransitionResult, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (order.TransitionResult, error)
	ReleaseOrderDriver(ctx context.Context, code types.ID, actorID *types.ID) (order.TransitionResult, error)
	History(ctx context.Context, code types.ID) ([]order.Event, error)
}

// NearestAssigner is the part of dispatch used right after an order is placed.
type NearestAssigner interface {
	AssignNearestDriver(ctx context.Context, code types.ID) (matching.Result, error)
}

type OrderHandler struct {
	order    OrderService
	dispatch NearestAssigner
}

func NewOrderHandler(svc OrderService, dispatch NearestAssigner) *OrderHandler {
	return &OrderHandler{order: svc, dispatch: dispatch}
}

type createOrderItem struct {
	ProductCode string `json:"product_code" binding:"required"`
	Quantity    int    `json:"quantity" binding:"required,min=1"`
}

type createOrderReq struct {
	CustomerPhone string            `json:"customer_phone"`
	Items         []createOrderItem `json:"items" binding:"required,min=1,dive"`
	Notes         string            `json:"notes"`
	Destination   *types.Point      `json:"destination"`
}

// Create places an order and tries an immediate dispatch. Customers may only
// order for their own phone.
func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	phone := req.CustomerPhone
	if middleware.CallerRole(c) == middleware.RoleCustomer {
		if phone == "" {
			phone = middleware.CallerUID(c)
		}
		if phone != middleware.CallerUID(c) {
			writeError(c, http.StatusForbidden, "forbidden: phone does not match authenticated user")
			return
		}
	}
	if middleware.CallerRole(c) == middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: drivers cannot place orders")
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{ProductCode: it.ProductCode, Quantity: it.Quantity}
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerPhone: phone,
		Items:         items,
		Notes:         req.Notes,
		Destination:   req.Destination,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}

	resp := gin.H{"order": newOrderView(o)}
	if h.dispatch != nil {
		res, err := h.dispatch.AssignNearestDriver(c.Request.Context(), o.Code)
		if err != nil {
			log.Printf("http: dispatch %s after create: %v", o.Code, err)
		} else {
			resp["dispatch"] = newDispatchView(res)
		}
	}
	writeJSON(c, http.StatusCreated, resp)
}

func (h *OrderHandler) Get(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if !canViewOrder(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(c, http.StatusOK, newOrderView(o))
}

// History lists the audit trail of an order to whoever may view it.
func (h *OrderHandler) History(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if !canViewOrder(c, o) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	events, err := h.order.History(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]gin.H, len(events))
	for i, e := range events {
		out[i] = gin.H{
			"from":       e.FromStatus,
			"to":         e.ToStatus,
			"actor_type": e.ActorType,
			"actor_id":   e.ActorID,
			"note":       e.Note,
			"at":         e.CreatedAt,
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"order_code": code, "events": out})
}

// List filters by status; admin only.
func (h *OrderHandler) List(c *gin.Context) {
	status := order.StatusPlaced
	if v := c.Query("status"); v != "" {
		s, ok := order.ParseStatus(v)
		if !ok {
			writeError(c, http.StatusBadRequest, "unknown status")
			return
		}
		status = s
	}
	list, err := h.order.ListByStatus(c.Request.Context(), status)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": newOrderViews(list)})
}

func (h *OrderHandler) ListByCustomer(c *gin.Context) {
	phone := c.Param("phone")
	if phone == "" {
		writeError(c, http.StatusBadRequest, "missing phone")
		return
	}
	if middleware.CallerRole(c) != middleware.RoleAdmin && middleware.CallerUID(c) != phone {
		writeError(c, http.StatusForbidden, "forbidden: phone does not match authenticated user")
		return
	}
	list, err := h.order.ListByCustomer(c.Request.Context(), phone)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": newOrderViews(list)})
}

type transitionReq struct {
	Status string `json:"status" binding:"required"`
}

// Transition advances or rejects an order on behalf of the authenticated driver.
func (h *OrderHandler) Transition(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to, ok := order.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	res, err := h.order.AttemptTransition(c.Request.Context(), order.TransitionCommand{
		OrderCode:  code,
		To:         to,
		DriverCode: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newTransitionView(res))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	actor := types.ID(middleware.CallerUID(c))
	res, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderCode: code,
		ActorID:   &actor,
		Reason:    req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newTransitionView(res))
}

func (h *OrderHandler) ReleaseDriver(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	actor := types.ID(middleware.CallerUID(c))
	res, err := h.order.ReleaseOrderDriver(c.Request.Context(), code, &actor)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newTransitionView(res))
}
