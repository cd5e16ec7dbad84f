// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"speedyfood/internal/http/handlers"
	"speedyfood/internal/http/middleware"
	"speedyfood/internal/infra"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/location"
	"speedyfood/internal/modules/matching"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/modules/pricing"
	"speedyfood/internal/modules/settings"
	"speedyfood/internal/modules/tracking"
)

type ServerDeps struct {
	Order    *order.Service
	Driver   *driver.Service
	Matching *matching.Service
	Location *location.Service
	Pricing  *pricing.Service
	Settings *settings.Service
	Tracking *tracking.Service
	Hub      *tracking.Hub
	Verifier infra.TokenVerifier
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	orderHandler := handlers.NewOrderHandler(s.deps.Order, s.deps.Matching)
	dispatchHandler := handlers.NewDispatchHandler(s.deps.Matching)
	driverHandler := handlers.NewDriverHandler(s.deps.Driver, s.deps.Settings)
	locationHandler := handlers.NewLocationHandler(s.deps.Location)
	trackingHandler := handlers.NewTrackingHandler(s.deps.Tracking, s.deps.Hub, s.deps.Order)
	settingsHandler := handlers.NewSettingsHandler(s.deps.Settings, s.deps.Pricing)

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))
	api.POST("/quote", settingsHandler.Quote)

	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/:code", orderHandler.Get)
	api.GET("/orders/:code/events", orderHandler.History)
	api.POST("/orders/:code/transition", orderHandler.Transition)
	api.GET("/customers/:phone/orders", orderHandler.ListByCustomer)

	api.POST("/orders/:code/tracking", trackingHandler.Start)
	api.DELETE("/orders/:code/tracking", trackingHandler.Stop)
	api.GET("/orders/:code/tracking", trackingHandler.Refresh)
	api.GET("/orders/:code/tracking/ws", trackingHandler.Stream)

	api.GET("/drivers/nearest", middleware.RequireRole(middleware.RoleAdmin), driverHandler.Nearest)
	api.GET("/drivers/nearby", middleware.RequireRole(middleware.RoleAdmin), locationHandler.Nearby)
	api.GET("/drivers/:code", driverHandler.Get)
	api.PUT("/drivers/:code/availability", driverHandler.SetAvailability)
	api.PUT("/drivers/:code/location", locationHandler.Update)
	api.GET("/drivers/:code/distance", driverHandler.Distance)

	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/orders", orderHandler.List)
	admin.POST("/orders/:code/cancel", orderHandler.Cancel)
	admin.POST("/orders/:code/release", orderHandler.ReleaseDriver)
	admin.POST("/orders/:code/dispatch", dispatchHandler.Dispatch)
	admin.POST("/orders/:code/assign/:driver", dispatchHandler.Assign)
	admin.GET("/orders/:code/attempts", dispatchHandler.Attempts)
	admin.POST("/dispatch/retry", dispatchHandler.Retry)
	admin.GET("/dispatch/candidates", dispatchHandler.Candidates)
	admin.POST("/drivers/:code/release", driverHandler.Release)
	admin.GET("/drivers/:code/trail", locationHandler.Trail)
	admin.GET("/tracking", trackingHandler.Sessions)
	admin.GET("/settings/:key", settingsHandler.Get)
	admin.PUT("/settings/:key", settingsHandler.Set)

	return r
}
