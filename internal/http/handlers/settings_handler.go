// README: Admin settings and the public price quote.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/modules/pricing"
)

type SettingsService interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type QuoteService interface {
	Quote(ctx context.Context, lines []pricing.Line) (pricing.Quote, error)
}

type SettingsHandler struct {
	settings SettingsService
	pricing  QuoteService
}

func NewSettingsHandler(settings SettingsService, pricing QuoteService) *SettingsHandler {
	return &SettingsHandler{settings: settings, pricing: pricing}
}

func (h *SettingsHandler) Get(c *gin.Context) {
	key := c.Param("key")
	v, ok, err := h.settings.Get(c.Request.Context(), key)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, "setting not found")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"key": key, "value": v})
}

type settingReq struct {
	Value string `json:"value" binding:"required"`
}

func (h *SettingsHandler) Set(c *gin.Context) {
	key := c.Param("key")
	var req settingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.settings.Set(c.Request.Context(), key, req.Value); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"key": key, "value": req.Value})
}

type quoteReq struct {
	Items []createOrderItem `json:"items" binding:"required,min=1,dive"`
}

func (h *SettingsHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	lines := make([]pricing.Line, len(req.Items))
	for i, it := range req.Items {
		lines[i] = pricing.Line{ProductCode: it.ProductCode, Quantity: it.Quantity}
	}
	q, err := h.pricing.Quote(c.Request.Context(), lines)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"total": q.Total, "breakdown": q.Breakdown})
}
