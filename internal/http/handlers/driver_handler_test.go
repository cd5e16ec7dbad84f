package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedyfood/internal/http/handlers"
	httpmiddleware "speedyfood/internal/http/middleware"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/location"
	"speedyfood/internal/types"
)

type stubDrivers struct {
	drivers     map[types.ID]*driver.Driver
	nearestFrom types.Point
	nearestN    int
}

func (s *stubDrivers) Get(_ context.Context, code types.ID) (*driver.Driver, error) {
	d, ok := s.drivers[code]
	if !ok {
		return nil, driver.ErrNotFound
	}
	return d, nil
}

func (s *stubDrivers) SetAvailability(_ context.Context, code types.ID, available bool) error {
	d, ok := s.drivers[code]
	if !ok {
		return driver.ErrNotFound
	}
	d.Available = available
	return nil
}

func (s *stubDrivers) Release(_ context.Context, code types.ID) (driver.ReleaseResult, error) {
	if code == "D2" {
		return driver.ReleaseResult{Message: "driver has an active order"}, nil
	}
	return driver.ReleaseResult{Success: true, Message: "released"}, nil
}

func (s *stubDrivers) Nearest(_ context.Context, origin types.Point, limit int) ([]driver.Ranked, error) {
	s.nearestFrom = origin
	s.nearestN = limit
	return nil, nil
}

func (s *stubDrivers) DistanceTo(_ context.Context, code types.ID, _ types.Point) (driver.Ranked, error) {
	d, ok := s.drivers[code]
	if !ok {
		return driver.Ranked{}, driver.ErrNotFound
	}
	if d.Position == nil {
		return driver.Ranked{}, driver.ErrNoLocation
	}
	return driver.Ranked{Driver: *d, DistanceKm: 2.5, ETAMinutes: 7}, nil
}

type fixedOrigin types.Point

func (f fixedOrigin) Origin(context.Context) types.Point { return types.Point(f) }

func buildDriverRouter(uid, role string, drivers *stubDrivers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(makeVerifier(uid, role)))
	h := handlers.NewDriverHandler(drivers, fixedOrigin{Lat: 4.65, Lng: -74.05})
	r.GET("/api/drivers/nearest", h.Nearest)
	r.GET("/api/drivers/:code", h.Get)
	r.PUT("/api/drivers/:code/availability", h.SetAvailability)
	r.GET("/api/drivers/:code/distance", h.Distance)
	r.POST("/api/admin/drivers/:code/release", h.Release)
	return r
}

func newStubDrivers() *stubDrivers {
	pos := types.Point{Lat: 4.6, Lng: -74.0}
	return &stubDrivers{drivers: map[types.ID]*driver.Driver{
		"D1": {Code: "D1", Name: "Ana", Position: &pos},
		"D2": {Code: "D2", Name: "Luis"},
	}}
}

func TestDriverAvailability_SelfOnly(t *testing.T) {
	drivers := newStubDrivers()

	w := doRequest(buildDriverRouter("D2", "driver", drivers), http.MethodPut, "/api/drivers/D1/availability", map[string]any{"available": true}, "Bearer t")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(buildDriverRouter("D1", "driver", drivers), http.MethodPut, "/api/drivers/D1/availability", map[string]any{"available": true}, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, drivers.drivers["D1"].Available)

	w = doRequest(buildDriverRouter("D1", "driver", drivers), http.MethodPut, "/api/drivers/D1/availability", map[string]any{}, "Bearer t")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDriverNearest_DefaultsToRestaurant(t *testing.T) {
	drivers := newStubDrivers()
	r := buildDriverRouter("ops", "admin", drivers)

	w := doRequest(r, http.MethodGet, "/api/drivers/nearest", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.Point{Lat: 4.65, Lng: -74.05}, drivers.nearestFrom)
	assert.Equal(t, 5, drivers.nearestN)

	w = doRequest(r, http.MethodGet, "/api/drivers/nearest?lat=4.7&lng=-74.1&limit=2", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.Point{Lat: 4.7, Lng: -74.1}, drivers.nearestFrom)
	assert.Equal(t, 2, drivers.nearestN)

	w = doRequest(r, http.MethodGet, "/api/drivers/nearest?lat=95&lng=0", nil, "Bearer t")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDriverDistance(t *testing.T) {
	r := buildDriverRouter("ops", "admin", newStubDrivers())

	w := doRequest(r, http.MethodGet, "/api/drivers/D1/distance?lat=4.6&lng=-74.1", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.5, decode(t, w)["distance_km"])

	w = doRequest(r, http.MethodGet, "/api/drivers/D2/distance?lat=4.6&lng=-74.1", nil, "Bearer t")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doRequest(r, http.MethodGet, "/api/drivers/D9/distance?lat=4.6&lng=-74.1", nil, "Bearer t")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDriverRelease(t *testing.T) {
	r := buildDriverRouter("ops", "admin", newStubDrivers())

	w := doRequest(r, http.MethodPost, "/api/admin/drivers/D1/release", nil, "Bearer t")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPost, "/api/admin/drivers/D2/release", nil, "Bearer t")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

type stubLocation struct {
	reports []location.Report
}

func (s *stubLocation) Report(_ context.Context, r location.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

func (s *stubLocation) Nearby(_ context.Context, p types.Point, _ float64) ([]location.Nearby, error) {
	return []location.Nearby{{DriverCode: "D1", Position: p, DistanceKm: 0.4}}, nil
}

func (s *stubLocation) Trail(context.Context, types.ID, int) ([]location.Snapshot, error) {
	return nil, nil
}

func TestLocationUpdate_DriverSelfOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	loc := &stubLocation{}
	build := func(uid, role string) *gin.Engine {
		r := gin.New()
		r.Use(httpmiddleware.Auth(makeVerifier(uid, role)))
		h := handlers.NewLocationHandler(loc)
		r.PUT("/api/drivers/:code/location", h.Update)
		r.GET("/api/drivers/nearby", h.Nearby)
		return r
	}
	body := map[string]any{"lat": 4.61, "lng": -74.07}

	w := doRequest(build("D2", "driver"), http.MethodPut, "/api/drivers/D1/location", body, "Bearer t")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(build("ops", "admin"), http.MethodPut, "/api/drivers/D1/location", body, "Bearer t")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(build("D1", "driver"), http.MethodPut, "/api/drivers/D1/location", body, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, loc.reports, 1)
	assert.Equal(t, types.Point{Lat: 4.61, Lng: -74.07}, loc.reports[0].Position)

	w = doRequest(build("D1", "driver"), http.MethodGet, "/api/drivers/nearby?lat=4.6&lng=-74.0&radius_km=-1", nil, "Bearer t")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(build("D1", "driver"), http.MethodGet, "/api/drivers/nearby?lat=4.6&lng=-74.0", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := decode(t, w)["drivers"].([]any)
	assert.Len(t, list, 1)
}
