// README: Admin dispatch handlers: auto and manual assignment, retry, candidates.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/matching"
	"speedyfood/internal/types"
)

type Dispatcher interface {
	NearestAssigner
	AssignDriver(ctx context.Context, code, driverCode types.ID) (matching.Result, error)
	Candidates(ctx context.Context) ([]driver.Ranked, error)
	Attempts(ctx context.Context, code types.ID) (matching.Attempts, error)
	Tick(ctx context.Context) matching.TickReport
}

type DispatchHandler struct {
	dispatch Dispatcher
}

func NewDispatchHandler(svc Dispatcher) *DispatchHandler {
	return &DispatchHandler{dispatch: svc}
}

func (h *DispatchHandler) Dispatch(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	res, err := h.dispatch.AssignNearestDriver(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeDispatchResult(c, res)
}

func (h *DispatchHandler) Assign(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	driverCode, ok := codeParam(c, "driver")
	if !ok {
		return
	}
	res, err := h.dispatch.AssignDriver(c.Request.Context(), code, driverCode)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeDispatchResult(c, res)
}

func (h *DispatchHandler) Attempts(c *gin.Context) {
	code, ok := codeParam(c, "code")
	if !ok {
		return
	}
	a, err := h.dispatch.Attempts(c.Request.Context(), code)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"order_code":  a.OrderCode,
		"count":       a.Count,
		"last_reason": a.LastReason,
		"last_at":     a.LastAt,
	})
}

// Retry runs one retry pass immediately.
func (h *DispatchHandler) Retry(c *gin.Context) {
	rep := h.dispatch.Tick(c.Request.Context())
	writeJSON(c, http.StatusOK, gin.H{
		"processed": rep.Processed,
		"assigned":  rep.Assigned,
		"skipped":   rep.Skipped,
		"failed":    rep.Failed,
	})
}

func (h *DispatchHandler) Candidates(c *gin.Context) {
	rs, err := h.dispatch.Candidates(c.Request.Context())
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"candidates": newRankedViews(rs)})
}
