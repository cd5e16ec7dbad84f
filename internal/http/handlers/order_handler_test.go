// README: Handler tests for authorization checks, status codes and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedyfood/internal/http/handlers"
	httpmiddleware "speedyfood/internal/http/middleware"
	"speedyfood/internal/infra"
	"speedyfood/internal/modules/driver"
	"speedyfood/internal/modules/matching"
	"speedyfood/internal/modules/order"
	"speedyfood/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.AuthToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.AuthToken, error) {
	return s.token, s.err
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.AuthToken{UID: uid, Claims: claims}}
}

// stubOrders records the last command and answers canned results.
type stubOrders struct {
	mu        sync.Mutex
	orders    map[types.ID]*order.Order
	created   *order.CreateCommand
	lastTrans *order.TransitionCommand
	transErr  error
}

func newStubOrders(list ...*order.Order) *stubOrders {
	s := &stubOrders{orders: map[types.ID]*order.Order{}}
	for _, o := range list {
		s.orders[o.Code] = o
	}
	return s
}

func (s *stubOrders) Create(_ context.Context, cmd order.CreateCommand) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = &cmd
	o := &order.Order{Code: "ORD-NEW", CustomerPhone: cmd.CustomerPhone, Status: order.StatusPlaced}
	s.orders[o.Code] = o
	return o, nil
}

func (s *stubOrders) Get(_ context.Context, code types.ID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubOrders) ListByStatus(_ context.Context, status order.Status) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubOrders) ListByCustomer(_ context.Context, phone string) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if o.CustomerPhone == phone {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubOrders) AttemptTransition(_ context.Context, cmd order.TransitionCommand) (order.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTrans = &cmd
	if s.transErr != nil {
		return order.TransitionResult{}, s.transErr
	}
	o := s.orders[cmd.OrderCode]
	o.Status = cmd.To
	cp := *o
	return order.TransitionResult{Order: &cp}, nil
}

func (s *stubOrders) Cancel(_ context.Context, cmd order.CancelCommand) (order.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[cmd.OrderCode]
	if !ok {
		return order.TransitionResult{}, order.ErrNotFound
	}
	o.Status = order.StatusCancelled
	released := o.DriverCode != nil
	o.DriverCode = nil
	cp := *o
	return order.TransitionResult{Order: &cp, DriverReleased: released}, nil
}

func (s *stubOrders) ReleaseOrderDriver(ctx context.Context, code types.ID, actorID *types.ID) (order.TransitionResult, error) {
	return s.Cancel(ctx, order.CancelCommand{OrderCode: code, ActorID: actorID})
}

func (s *stubOrders) History(_ context.Context, code types.ID) ([]order.Event, error) {
	return []order.Event{{OrderCode: code, ToStatus: order.StatusPlaced, ActorType: order.ActorCustomer}}, nil
}

type stubDispatch struct {
	res   matching.Result
	err   error
	calls int
}

func (s *stubDispatch) AssignNearestDriver(_ context.Context, code types.ID) (matching.Result, error) {
	s.calls++
	res := s.res
	res.OrderCode = code
	return res, s.err
}

func buildOrderRouter(verifier infra.TokenVerifier, orders *stubOrders, dispatch handlers.NearestAssigner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier))
	h := handlers.NewOrderHandler(orders, dispatch)
	r.POST("/api/orders", h.Create)
	r.GET("/api/orders/:code", h.Get)
	r.GET("/api/orders/:code/events", h.History)
	r.POST("/api/orders/:code/transition", h.Transition)
	r.POST("/api/orders/:code/cancel", h.Cancel)
	admin := r.Group("/api/admin", httpmiddleware.RequireRole(httpmiddleware.RoleAdmin))
	admin.GET("/orders", h.List)
	return r
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "decode body %q", w.Body.String())
	return out
}

func assignedOrder(code types.ID, phone string, driverCode types.ID, status order.Status) *order.Order {
	d := driverCode
	return &order.Order{Code: code, CustomerPhone: phone, Status: status, DriverCode: &d}
}

func TestCreate_Unauthenticated(t *testing.T) {
	r := buildOrderRouter(&stubTokenVerifier{err: errors.New("no token")}, newStubOrders(), nil)
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"product_code": "P1", "quantity": 1}},
	}, "Bearer badtoken")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreate_WrongCustomerPhone(t *testing.T) {
	r := buildOrderRouter(makeVerifier("3001112233", ""), newStubOrders(), nil)
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"customer_phone": "3009998877",
		"items":          []map[string]any{{"product_code": "P1", "quantity": 1}},
	}, "Bearer sometoken")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreate_DriverCannotOrder(t *testing.T) {
	r := buildOrderRouter(makeVerifier("D1", "driver"), newStubOrders(), nil)
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"customer_phone": "3001112233",
		"items":          []map[string]any{{"product_code": "P1", "quantity": 1}},
	}, "Bearer sometoken")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreate_EmptyItemsRejected(t *testing.T) {
	r := buildOrderRouter(makeVerifier("3001112233", ""), newStubOrders(), nil)
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{"items": []any{}}, "Bearer sometoken")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreate_DispatchesImmediately(t *testing.T) {
	orders := newStubOrders()
	dispatch := &stubDispatch{res: matching.Result{Success: true, Reason: matching.ReasonAssigned, Message: "ok"}}
	r := buildOrderRouter(makeVerifier("3001112233", ""), orders, dispatch)
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"product_code": "P1", "quantity": 2}},
		"notes": "sin cebolla",
	}, "Bearer sometoken")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, orders.created)
	assert.Equal(t, "3001112233", orders.created.CustomerPhone, "phone is taken from the token")
	assert.Equal(t, 2, orders.created.Items[0].Quantity)
	assert.Equal(t, 1, dispatch.calls)

	d, ok := decode(t, w)["dispatch"].(map[string]any)
	require.True(t, ok, "dispatch result in body")
	assert.Equal(t, string(matching.ReasonAssigned), d["reason"])
}

func TestCreate_DispatchErrorStillCreates(t *testing.T) {
	dispatch := &stubDispatch{err: errors.New("redis down")}
	r := buildOrderRouter(makeVerifier("3001112233", ""), newStubOrders(), dispatch)
	w := doRequest(r, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"product_code": "P1", "quantity": 1}},
	}, "Bearer sometoken")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, decode(t, w), "dispatch")
}

func TestGet_Visibility(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
	cases := []struct {
		name string
		uid  string
		role string
		want int
	}{
		{"owner", "3001112233", "", http.StatusOK},
		{"other customer", "3000000000", "", http.StatusForbidden},
		{"assigned driver", "D1", "driver", http.StatusOK},
		{"other driver", "D2", "driver", http.StatusForbidden},
		{"admin", "ops", "admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := buildOrderRouter(makeVerifier(tc.uid, tc.role), orders, nil)
			w := doRequest(r, http.MethodGet, "/api/orders/ORD-1", nil, "Bearer sometoken")
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestHistory_Visibility(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
	r := buildOrderRouter(makeVerifier("3000000000", ""), orders, nil)
	w := doRequest(r, http.MethodGet, "/api/orders/ORD-1/events", nil, "Bearer t")
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = buildOrderRouter(makeVerifier("3001112233", ""), orders, nil)
	w = doRequest(r, http.MethodGet, "/api/orders/ORD-1/events", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := decode(t, w)["events"].([]any)
	assert.Len(t, list, 1)
}

func TestGet_NotFoundAndBadCode(t *testing.T) {
	r := buildOrderRouter(makeVerifier("ops", "admin"), newStubOrders(), nil)
	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, "/api/orders/ORD-404", nil, "Bearer t").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(r, http.MethodGet, "/api/orders/bad.code", nil, "Bearer t").Code)
}

func TestTransition_RequiresDriverRole(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
	r := buildOrderRouter(makeVerifier("3001112233", ""), orders, nil)
	w := doRequest(r, http.MethodPost, "/api/orders/ORD-1/transition", map[string]any{"status": "ACEPTADO"}, "Bearer t")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTransition_UsesCallerAsDriver(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
	r := buildOrderRouter(makeVerifier("D1", "driver"), orders, nil)
	w := doRequest(r, http.MethodPost, "/api/orders/ORD-1/transition", map[string]any{"status": "aceptado"}, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.ID("D1"), orders.lastTrans.DriverCode)
	assert.Equal(t, order.StatusAccepted, orders.lastTrans.To)
}

func TestTransition_UnknownStatus(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
	r := buildOrderRouter(makeVerifier("D1", "driver"), orders, nil)
	w := doRequest(r, http.MethodPost, "/api/orders/ORD-1/transition", map[string]any{"status": "FLYING"}, "Bearer t")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransition_InvalidReportsNextState(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
	orders.transErr = &order.TransitionError{
		Code:      "ORD-1",
		Current:   order.StatusAssigned,
		Requested: order.StatusDelivered,
		Next:      order.StatusAccepted,
	}
	r := buildOrderRouter(makeVerifier("D1", "driver"), orders, nil)
	w := doRequest(r, http.MethodPost, "/api/orders/ORD-1/transition", map[string]any{"status": "ENTREGADO"}, "Bearer t")
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(order.StatusAssigned), body["current_status"])
	assert.Equal(t, string(order.StatusAccepted), body["next_status"])
}

func TestTransition_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{order.ErrForbidden, http.StatusForbidden},
		{order.ErrNotFound, http.StatusNotFound},
		{order.ErrDriverNotFound, http.StatusNotFound},
		{order.ErrConflict, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAssigned))
		orders.transErr = tc.err
		r := buildOrderRouter(makeVerifier("D1", "driver"), orders, nil)
		w := doRequest(r, http.MethodPost, "/api/orders/ORD-1/transition", map[string]any{"status": "ACEPTADO"}, "Bearer t")
		assert.Equal(t, tc.want, w.Code, "%v", tc.err)
	}
}

func TestCancel_ReportsRelease(t *testing.T) {
	orders := newStubOrders(assignedOrder("ORD-1", "3001112233", "D1", order.StatusAccepted))
	r := buildOrderRouter(makeVerifier("ops", "admin"), orders, nil)
	w := doRequest(r, http.MethodPost, "/api/orders/ORD-1/cancel", map[string]any{"reason": "cliente"}, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["driver_released"])
}

func TestList_AdminOnly(t *testing.T) {
	orders := newStubOrders(&order.Order{Code: "ORD-1", CustomerPhone: "300", Status: order.StatusPlaced})
	r := buildOrderRouter(makeVerifier("300", ""), orders, nil)
	assert.Equal(t, http.StatusForbidden, doRequest(r, http.MethodGet, "/api/admin/orders", nil, "Bearer t").Code)

	r = buildOrderRouter(makeVerifier("ops", "admin"), orders, nil)
	w := doRequest(r, http.MethodGet, "/api/admin/orders?status=solicitado", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	list, _ := decode(t, w)["orders"].([]any)
	assert.Len(t, list, 1)
}

// stubDispatcher covers the admin dispatch routes.
type stubDispatcher struct {
	stubDispatch
	assignRes matching.Result
	ranked    []driver.Ranked
	report    matching.TickReport
}

func (s *stubDispatcher) AssignDriver(_ context.Context, code, _ types.ID) (matching.Result, error) {
	res := s.assignRes
	res.OrderCode = code
	return res, nil
}

func (s *stubDispatcher) Candidates(context.Context) ([]driver.Ranked, error) { return s.ranked, nil }

func (s *stubDispatcher) Attempts(_ context.Context, code types.ID) (matching.Attempts, error) {
	return matching.Attempts{OrderCode: code, Count: 3, LastReason: matching.ReasonNoDriversAvailable}, nil
}

func (s *stubDispatcher) Tick(context.Context) matching.TickReport { return s.report }

func buildDispatchRouter(d *stubDispatcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(makeVerifier("ops", "admin")))
	h := handlers.NewDispatchHandler(d)
	r.POST("/api/admin/orders/:code/dispatch", h.Dispatch)
	r.POST("/api/admin/orders/:code/assign/:driver", h.Assign)
	r.GET("/api/admin/orders/:code/attempts", h.Attempts)
	r.POST("/api/admin/dispatch/retry", h.Retry)
	r.GET("/api/admin/dispatch/candidates", h.Candidates)
	return r
}

func TestDispatch_StatusByReason(t *testing.T) {
	cases := []struct {
		reason matching.Reason
		want   int
	}{
		{matching.ReasonAssigned, http.StatusOK},
		{matching.ReasonNoDriversAvailable, http.StatusAccepted},
		{matching.ReasonOrderNotFound, http.StatusNotFound},
		{matching.ReasonWrongState, http.StatusConflict},
		{matching.ReasonAlreadyHasDriver, http.StatusConflict},
	}
	for _, tc := range cases {
		d := &stubDispatcher{stubDispatch: stubDispatch{res: matching.Result{Reason: tc.reason}}}
		w := doRequest(buildDispatchRouter(d), http.MethodPost, "/api/admin/orders/ORD-1/dispatch", nil, "Bearer t")
		assert.Equal(t, tc.want, w.Code, string(tc.reason))
	}
}

func TestAssign_DriverNotFound(t *testing.T) {
	d := &stubDispatcher{assignRes: matching.Result{Reason: matching.ReasonDriverNotFound}}
	w := doRequest(buildDispatchRouter(d), http.MethodPost, "/api/admin/orders/ORD-1/assign/D9", nil, "Bearer t")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryAndCandidates(t *testing.T) {
	pos := types.Point{Lat: 4.6, Lng: -74.1}
	d := &stubDispatcher{
		report: matching.TickReport{Processed: 2, Assigned: 1, Skipped: 1},
		ranked: []driver.Ranked{{Driver: driver.Driver{Code: "D1", Name: "Ana", Position: &pos, Available: true}, DistanceKm: 1.2, ETAMinutes: 3}},
	}
	r := buildDispatchRouter(d)

	w := doRequest(r, http.MethodPost, "/api/admin/dispatch/retry", nil, "Bearer t")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["processed"])
	assert.Equal(t, float64(1), body["assigned"])

	w = doRequest(r, http.MethodGet, "/api/admin/dispatch/candidates", nil, "Bearer t")
	list, _ := decode(t, w)["candidates"].([]any)
	assert.Len(t, list, 1)

	w = doRequest(r, http.MethodGet, "/api/admin/orders/ORD-1/attempts", nil, "Bearer t")
	assert.Equal(t, float64(3), decode(t, w)["count"], w.Body.String())
}
