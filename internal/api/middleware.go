package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/metrics"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// Identity headers set by the authenticating gateway in front of the API.
const (
	headerActorID    = "X-Actor-ID"
	headerActorKind  = "X-Actor-Kind"
	headerActorRole  = "X-Actor-Role"
	headerPracticeID = "X-Practice-ID"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var tracer = otel.Tracer("locum/api")

// TracingMiddleware opens the server span the service spans nest under.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("request_id", GetRequestID(r.Context())),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each request and records its latency under the
// matched route pattern.
func LoggingMiddleware(logger *zap.Logger, m *metrics.Lifecycle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveHTTP(route, strconv.Itoa(wrapped.statusCode), duration.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.String("request_id", GetRequestID(r.Context())),
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			logger.Info("http request", fields...)
		})
	}
}

// ActorMiddleware resolves the caller from the identity headers and rejects
// requests without a usable identity.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		act, err := actorFromHeaders(r.Header)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_actor", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, act)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFromHeaders(h http.Header) (actor.Context, error) {
	var act actor.Context

	id, err := uuid.Parse(h.Get(headerActorID))
	if err != nil {
		return act, actor.ErrInvalidActor
	}
	kind, err := actor.ParseKind(h.Get(headerActorKind))
	if err != nil {
		return act, err
	}
	act = actor.Context{ID: id, Kind: kind, Role: h.Get(headerActorRole)}

	if raw := h.Get(headerPracticeID); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return actor.Context{}, actor.ErrInvalidActor
		}
		act.PracticeID = pid
	}
	return act, act.Validate()
}

// ActorFrom returns the caller attached by ActorMiddleware.
func ActorFrom(ctx context.Context) (actor.Context, bool) {
	act, ok := ctx.Value(actorKey).(actor.Context)
	return act, ok
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
