package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/telemetry"
)

// Заголовки запроса, которые читает API.
const (
	TenantHeader    = "X-Tenant-ID"
	RequestIDHeader = "X-Request-ID"
)

type tenantKey struct{}

// Middleware — обёртка над http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain собирает middleware так, что первый в списке выполняется первым:
// Chain(m1, m2)(h) == m1(m2(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RequestID присваивает запросу идентификатор (или берёт X-Request-ID клиента),
// возвращает его в ответе и добавляет в логгер контекста.
func RequestID(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := telemetry.WithLogger(r.Context(), logger.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logging пишет строку лога и метрику на каждый запрос.
func Logging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			telemetry.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			telemetry.FromContext(r.Context()).Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rec.bytes,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"tenant_id", r.Header.Get(TenantHeader),
			)
		})
	}
}

// Recovery перехватывает панику обработчика и отвечает 500.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				logger.Error("panic recovered",
					"error", rv,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				InternalError(w, logger, nil)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Tenant отклоняет запрос без X-Tenant-ID и кладёт tenant в контекст.
func Tenant() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get(TenantHeader)
			if tenantID == "" {
				BadRequest(w, TenantHeader+" header is required")
				return
			}

			ctx := context.WithValue(r.Context(), tenantKey{}, tenantID)
			ctx = telemetry.WithLogger(ctx, telemetry.WithTenantID(telemetry.FromContext(ctx), tenantID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFrom возвращает tenant запроса.
func TenantFrom(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey{}).(string)
	return tenantID
}

// statusRecorder запоминает код и размер ответа.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
