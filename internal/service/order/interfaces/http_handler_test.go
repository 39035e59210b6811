package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"orderpay/internal/service/order/application"
	"orderpay/internal/service/order/domain"
	"orderpay/internal/service/order/infrastructure"
	"orderpay/internal/service/order/infrastructure/adapter"
)

type switchPublisher struct {
	err error
}

func (p *switchPublisher) Publish(context.Context, domain.Event) error { return p.err }

func newTestServer(t *testing.T, pub *switchPublisher) *httptest.Server {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	orders := infrastructure.NewMemoryOrderRepository()
	payments := infrastructure.NewMemoryPaymentRepository()
	outbox := infrastructure.NewMemoryOutboxStore()
	points, err := adapter.NewCelPointPolicy("")
	require.NoError(t, err)

	locker := adapter.NewLocalOrderLocker()
	orderSvc := application.NewOrderApplicationService(orders, pub, outbox, locker, tracer)
	paySvc := application.NewPaymentApplicationService(orders, payments, pub, outbox,
		locker, points, infrastructure.NewMemorySagaJournal(), tracer, application.PaymentOptions{})

	mux := http.NewServeMux()
	NewOrderHandler(orderSvc, paySvc, tracer).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

const orderBody = `{"memberId":7,"address":"Seoul","totalPrice":25000,"items":[{"productId":1,"quantity":2,"price":12500}]}`

func TestHTTPOrderAndPaymentFlow(t *testing.T) {
	srv := newTestServer(t, &switchPublisher{})

	resp, created := do(t, srv, http.MethodPost, "/api/orders", orderBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := created["orderId"].(string)
	assert.Equal(t, "ORDERED", created["status"])

	resp, got := do(t, srv, http.MethodGet, "/api/orders/"+orderID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(25000), got["totalPrice"])

	resp, st := do(t, srv, http.MethodGet, "/api/payments/order/"+orderID+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NOT_REQUESTED", st["status"])

	resp, paid := do(t, srv, http.MethodPost, "/api/payments/"+orderID, `{"method":"CASH"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PAID", paid["orderStatus"])
	paymentID := paid["paymentId"].(string)

	resp, _ = do(t, srv, http.MethodPost, "/api/payments/"+orderID, `{"method":"CASH"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, payment := do(t, srv, http.MethodGet, "/api/payments/"+paymentID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", payment["status"])
	assert.Equal(t, "CASH", payment["method"])

	resp, cancelled := do(t, srv, http.MethodPost, "/api/payments/"+paymentID+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FAILED", cancelled["status"])

	resp, _ = do(t, srv, http.MethodPost, "/api/payments/"+paymentID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/payments/"+paymentID+"/retry", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/orders/"+orderID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "paid orders cannot be cancelled")
}

func TestHTTPOrderAdminEndpoints(t *testing.T) {
	srv := newTestServer(t, &switchPublisher{})
	_, created := do(t, srv, http.MethodPost, "/api/orders", orderBody)
	orderID := created["orderId"].(string)

	resp, _ := do(t, srv, http.MethodPost, "/api/orders/"+orderID+"/cancel", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPut, "/api/orders/"+orderID+"/status?status=PAID", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPut, "/api/orders/"+orderID+"/status?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/orders/"+orderID+"/resend-event", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/orders/missing/resend-event", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPListOrders(t *testing.T) {
	srv := newTestServer(t, &switchPublisher{})
	do(t, srv, http.MethodPost, "/api/orders", orderBody)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/orders?memberId=7", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	bad, _ := do(t, srv, http.MethodGet, "/api/orders?memberId=abc", "")
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHTTPErrorMapping(t *testing.T) {
	srv := newTestServer(t, &switchPublisher{})

	resp, _ := do(t, srv, http.MethodGet, "/api/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/payments/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/payments/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/api/orders", `{"memberId":7,"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid order")

	resp, _ = do(t, srv, http.MethodPost, "/api/orders", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPCreateOrderReportsParkedEvent(t *testing.T) {
	srv := newTestServer(t, &switchPublisher{err: errors.New("broker down")})

	resp, body := do(t, srv, http.MethodPost, "/api/orders", orderBody)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, body["orderId"])
}

func TestHTTPPaymentMethodsAndHealth(t *testing.T) {
	srv := newTestServer(t, &switchPublisher{})

	resp, err := srv.Client().Get(srv.URL + "/api/payments/methods")
	require.NoError(t, err)
	defer resp.Body.Close()
	var methods []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&methods))
	assert.Equal(t, []string{"CARD", "CASH"}, methods)

	health, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrAlreadyPaid))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrEventNotPublished))
}
