package httppresentation

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openbasket/commerce/internal/pkg/logging"
)

type shopperKey struct{}

// withShopper extracts the authenticated shopper identity set by the
// upstream auth collaborator. Requests without it are rejected before any
// service call.
func (h *Handler) withShopper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shopperID := r.Header.Get(headerShopperID)
		if shopperID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing shopper identity"})
			return
		}
		ctx := context.WithValue(r.Context(), shopperKey{}, shopperID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func shopperFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(shopperKey{}).(string); ok {
		return id
	}
	return ""
}

// withTrace creates a server span for the request using OTel and W3C
// propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("commerce.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(parentCtx,
			r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRequestLogger binds a request-scoped logger into the context so the
// application layer logs with trace and request identifiers attached.
func (h *Handler) withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := h.log
		if requestID := r.Header.Get(headerRequestID); requestID != "" {
			logger = logger.With(zap.String("request_id", requestID))
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			logger = logger.With(
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
		ctx := logging.ContextWithLogger(r.Context(), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		if h.metrics == nil {
			return
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		h.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(lrw.status)).Inc()
		h.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// withAccessLog writes a single access log after the handler completes.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logging.FromContext(r.Context()).Info("http_access",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.status),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
