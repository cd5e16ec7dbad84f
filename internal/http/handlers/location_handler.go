// README: Location handlers for driver position reports and radius lookups.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/http/middleware"
	"speedyfood/internal/modules/location"
	"speedyfood/internal/types"
)

type LocationService interface {
	Report(ctx context.Context, r location.Report) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]location.Nearby, error)
	Trail(ctx context.Context, code types.ID, limit int) ([]location.Snapshot, error)
}

type LocationHandler struct {
	location LocationService
}

func NewLocationHandler(svc LocationService) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	// Only the authenticated driver may update their own location.
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	if middleware.CallerUID(c) != string(code) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p := types.Point{Lat: *req.Lat, Lng: *req.Lng}
	if err := h.location.Report(c.Request.Context(), location.Report{DriverCode: code, Position: p}); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *LocationHandler) Nearby(c *gin.Context) {
	p, ok := pointQuery(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid lat/lng")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "3"), 64)
	if err != nil || radius <= 0 {
		writeError(c, http.StatusBadRequest, "invalid radius_km")
		return
	}
	hits, err := h.location.Nearby(c.Request.Context(), p, radius)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]gin.H, len(hits))
	for i, n := range hits {
		out[i] = gin.H{"driver_code": n.DriverCode, "position": n.Position, "distance_km": n.DistanceKm}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}

func (h *LocationHandler) Trail(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	snaps, err := h.location.Trail(c.Request.Context(), code, limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]gin.H, len(snaps))
	for i, s := range snaps {
		out[i] = gin.H{"position": s.Position, "recorded_at": s.RecordedAt}
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_code": code, "trail": out})
}
