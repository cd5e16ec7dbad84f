// README: Base handler utilities (JSON helpers, error mapping, response views).
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/matching"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/modules/pricing"
	"speedyfood/internal/modules/settings"
	"speedyfood/internal/modules/tracking"
	"speedyfood/internal/types"
)

type errorResponse struct {
	Error   string `json:"error"`
	Current string `json:"current_status,omitempty"`
	Next    string `json:"next_status,omitempty"`
}

// isValidCode accepts order and driver codes: alphanumerics and dashes, at most 32 chars.
func isValidCode(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// codeParam reads a path code and answers 400 when it is malformed.
func codeParam(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidCode(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

// pointQuery parses lat/lng query parameters.
func pointQuery(c *gin.Context) (types.Point, bool) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return types.Point{}, false
	}
	return types.Point{Lat: lat, Lng: lng}, true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	var te *order.TransitionError
	switch {
	case errors.As(err, &te):
		writeJSON(c, http.StatusConflict, errorResponse{
			Error:   te.Error(),
			Current: string(te.Current),
			Next:    string(te.Next),
		})
	case errors.Is(err, order.ErrBadRequest),
		errors.Is(err, pricing.ErrUnknownProduct),
		errors.Is(err, settings.ErrBadValue):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrDriverNotFound),
		errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrNoDriver),
		errors.Is(err, order.ErrDriverUnavailable),
		errors.Is(err, driver.ErrBusy),
		errors.Is(err, tracking.ErrAlreadyActive),
		errors.Is(err, tracking.ErrFinished):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, driver.ErrNoLocation),
		errors.Is(err, tracking.ErrNoDriver),
		errors.Is(err, tracking.ErrNoPosition):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type driverView struct {
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	Plate          string       `json:"plate"`
	VehicleType    string       `json:"vehicle_type"`
	Vehicle        string       `json:"vehicle"`
	Phone          string       `json:"phone"`
	Position       *types.Point `json:"position,omitempty"`
	Available      bool         `json:"available"`
	LastLocationAt *time.Time   `json:"last_location_at,omitempty"`
}

func newDriverView(d driver.Driver) driverView {
	return driverView{
		Code:           string(d.Code),
		Name:           d.Name,
		Plate:          d.Plate,
		VehicleType:    d.VehicleType,
		Vehicle:        d.Vehicle,
		Phone:          d.Phone,
		Position:       d.Position,
		Available:      d.Available,
		LastLocationAt: d.LastLocationAt,
	}
}

type rankedView struct {
	Driver     driverView `json:"driver"`
	DistanceKm float64    `json:"distance_km"`
	ETAMinutes int        `json:"eta_minutes"`
}

func newRankedViews(rs []driver.Ranked) []rankedView {
	out := make([]rankedView, len(rs))
	for i, r := range rs {
		out[i] = rankedView{Driver: newDriverView(r.Driver), DistanceKm: r.DistanceKm, ETAMinutes: r.ETAMinutes}
	}
	return out
}

type itemView struct {
	ProductCode string      `json:"product_code"`
	Quantity    int         `json:"quantity"`
	UnitPrice   types.Money `json:"unit_price"`
	Subtotal    types.Money `json:"subtotal"`
}

type orderView struct {
	Code          string       `json:"code"`
	CustomerPhone string       `json:"customer_phone"`
	Status        order.Status `json:"status"`
	DriverCode    *types.ID    `json:"driver_code"`
	Total         types.Money  `json:"total"`
	Notes         string       `json:"notes,omitempty"`
	Origin        types.Point  `json:"origin"`
	Destination   *types.Point `json:"destination,omitempty"`
	Items         []itemView   `json:"items,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func newOrderView(o *order.Order) orderView {
	v := orderView{
		Code:          string(o.Code),
		CustomerPhone: o.CustomerPhone,
		Status:        o.Status,
		DriverCode:    o.DriverCode,
		Total:         o.Total,
		Notes:         o.Notes,
		Origin:        o.Origin,
		Destination:   o.Destination,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, itemView{
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal(),
		})
	}
	return v
}

func newOrderViews(orders []order.Order) []orderView {
	out := make([]orderView, len(orders))
	for i := range orders {
		out[i] = newOrderView(&orders[i])
	}
	return out
}

type dispatchView struct {
	Success    bool            `json:"success"`
	Reason     matching.Reason `json:"reason"`
	OrderCode  string          `json:"order_code"`
	Driver     *driverView     `json:"driver,omitempty"`
	DistanceKm float64         `json:"distance_km,omitempty"`
	ETAMinutes int             `json:"eta_minutes,omitempty"`
	Message    string          `json:"message"`
}

func newDispatchView(res matching.Result) dispatchView {
	v := dispatchView{
		Success:    res.Success,
		Reason:     res.Reason,
		OrderCode:  string(res.OrderCode),
		DistanceKm: res.DistanceKm,
		ETAMinutes: res.ETAMinutes,
		Message:    res.Message,
	}
	if res.Driver != nil {
		dv := newDriverView(*res.Driver)
		v.Driver = &dv
	}
	return v
}

// dispatchStatus maps a dispatch outcome to an HTTP status. No driver yet is
// 202: the retry loop keeps the order queued.
func dispatchStatus(r matching.Reason) int {
	switch r {
	case matching.ReasonAssigned:
		return http.StatusOK
	case matching.ReasonNoDriversAvailable:
		return http.StatusAccepted
	case matching.ReasonOrderNotFound, matching.ReasonDriverNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func writeDispatchResult(c *gin.Context, res matching.Result) {
	writeJSON(c, dispatchStatus(res.Reason), newDispatchView(res))
}

type transitionView struct {
	Order          orderView `json:"order"`
	DriverReleased bool      `json:"driver_released"`
}

func newTransitionView(r order.TransitionResult) transitionView {
	return transitionView{Order: newOrderView(r.Order), DriverReleased: r.DriverReleased}
}
