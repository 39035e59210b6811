package interfaces

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"orderpay/internal/pkg/logger"
	"orderpay/internal/service/order/application"
	"orderpay/internal/service/order/domain"
)

// OrderHandler 封装了订单和支付的 HTTP 处理器
type OrderHandler struct {
	orders   *application.OrderApplicationService
	payments *application.PaymentApplicationService
	tracer   trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(orders *application.OrderApplicationService, payments *application.PaymentApplicationService, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{orders: orders, payments: payments, tracer: tracer}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/orders", h.traced("http.CreateOrder", h.createOrder))
	mux.HandleFunc("GET /api/orders", h.traced("http.ListOrders", h.listOrders))
	mux.HandleFunc("GET /api/orders/{orderId}", h.traced("http.GetOrder", h.getOrder))
	mux.HandleFunc("POST /api/orders/{orderId}/cancel", h.traced("http.CancelOrder", h.cancelOrder))
	mux.HandleFunc("PUT /api/orders/{orderId}/status", h.traced("http.ChangeStatus", h.changeStatus))
	mux.HandleFunc("POST /api/orders/{orderId}/resend-event", h.traced("http.ResendOrderCreated", h.resendOrderCreated))

	mux.HandleFunc("GET /api/payments/methods", h.traced("http.PaymentMethods", h.paymentMethods))
	mux.HandleFunc("POST /api/payments/{orderId}", h.traced("http.Pay", h.pay))
	mux.HandleFunc("GET /api/payments/{paymentId}", h.traced("http.GetPayment", h.getPayment))
	mux.HandleFunc("GET /api/payments/order/{orderId}/status", h.traced("http.PaymentStatus", h.paymentStatus))
	mux.HandleFunc("POST /api/payments/{paymentId}/cancel", h.traced("http.CancelPayment", h.cancelPayment))
	mux.HandleFunc("POST /api/payments/{paymentId}/retry", h.traced("http.RetryPayment", h.retryPayment))
}

// traced 从请求头恢复上游链路并为每个请求开启一个 server span
func (h *OrderHandler) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.Pattern),
		)
		next(w, r.WithContext(ctx))
	}
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.orders.CreateOrder(r.Context(), &req)
	if err != nil {
		if resp != nil && errors.Is(err, domain.ErrEventNotPublished) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":   err.Error(),
				"orderId": resp.OrderID,
			})
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	var memberID *int64
	if raw := r.URL.Query().Get("memberId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid memberId")
			return
		}
		memberID = &id
	}
	orders, err := h.orders.ListOrders(r.Context(), memberID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	resp, err := h.orders.GetOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.CancelOrder(r.Context(), r.PathValue("orderId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.ChangeStatus(r.Context(), r.PathValue("orderId"), r.URL.Query().Get("status")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandler) resendOrderCreated(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.ResendOrderCreated(r.Context(), r.PathValue("orderId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *OrderHandler) pay(w http.ResponseWriter, r *http.Request) {
	var req application.PayRequest
	// 空 body 等同于使用默认支付方式
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	resp, err := h.payments.Pay(r.Context(), r.PathValue("orderId"), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) getPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.payments.GetPayment(r.Context(), r.PathValue("paymentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.payments.GetPaymentStatusByOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.payments.CancelPayment(r.Context(), r.PathValue("paymentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) retryPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := h.payments.RetryPayment(r.Context(), r.PathValue("paymentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) paymentMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.payments.PaymentMethods())
}

func (h *OrderHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrPaymentAlreadyRequested):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEventNotPublished):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
