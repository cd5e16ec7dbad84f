// README: Driver handlers: lookup, availability switch, release and distance queries.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/http/middleware"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/types"
)

type DriverService interface {
	Get(ctx context.Context, code types.ID) (*driver.Driver, error)
	SetAvailability(ctx context.Context, code types.ID, available bool) error
	Release(ctx context.Context, code types.ID) (driver.ReleaseResult, error)
	Nearest(ctx context.Context, origin types.Point, limit int) ([]driver.Ranked, error)
	DistanceTo(ctx context.Context, code types.ID, p types.Point) (driver.Ranked, error)
}

type OriginSource interface {
	Origin(ctx context.Context) types.Point
}

type DriverHandler struct {
	drivers DriverService
	origin  OriginSource
}

func NewDriverHandler(drivers DriverService, origin OriginSource) *DriverHandler {
	return &DriverHandler{drivers: drivers, origin: origin}
}

func (h *DriverHandler) Get(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	if !selfOrAdmin(c, code) {
		return
	}
	d, err := h.drivers.Get(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newDriverView(*d))
}

type availabilityReq struct {
	Available *bool `json:"available" binding:"required"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	if !selfOrAdmin(c, code) {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.drivers.SetAvailability(c.Request.Context(), code, *req.Available); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"code": code, "available": *req.Available})
}

// Release frees a driver; admin only.
func (h *DriverHandler) Release(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	res, err := h.drivers.Release(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSON(c, status, gin.H{"success": res.Success, "message": res.Message})
}

// Nearest ranks available drivers around lat/lng, or the restaurant when omitted.
func (h *DriverHandler) Nearest(c *gin.Context) {
	p, ok := pointQuery(c)
	if !ok {
		if c.Query("lat") != "" || c.Query("lng") != "" {
			writeError(c, http.StatusBadRequest, "invalid lat/lng")
			return
		}
		p = h.origin.Origin(c.Request.Context())
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit < 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	rs, err := h.drivers.Nearest(c.Request.Context(), p, limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"origin": p, "drivers": newRankedViews(rs)})
}

func (h *DriverHandler) Distance(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	p, ok := pointQuery(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid lat/lng")
		return
	}
	r, err := h.drivers.DistanceTo(c.Request.Context(), code, p)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_code": code, "distance_km": r.DistanceKm, "eta_minutes": r.ETAMinutes})
}

// selfOrAdmin answers 403 unless the caller is an admin or the driver itself.
func selfOrAdmin(c *gin.Context, code types.ID) bool {
	if middleware.CallerRole(c) == middleware.RoleAdmin {
		return true
	}
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return false
	}
	if middleware.CallerUID(c) != string(code) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return false
	}
	return true
}
