package api

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Header names the surface negotiates on.
const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderRegisterSCITT  = "X-Corsair-Register-SCITT"
)

// CORS allows any origin; credentials are public verifiable artefacts.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, "+HeaderIdempotencyKey+", "+HeaderRegisterSCITT)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for telemetry.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Instrument wraps a handler with tracing, RED metrics, and request logs.
func Instrument(next http.Handler, logger *slog.Logger) http.Handler {
	tracer := otel.Tracer("github.com/grcorsair/corsair/pkg/api")
	meter := otel.Meter("github.com/grcorsair/corsair/pkg/api")

	requests, _ := meter.Int64Counter("corsair.http.requests",
		metric.WithDescription("HTTP requests by route and status"))
	duration, _ := meter.Float64Histogram("corsair.http.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)

		attrs := metric.WithAttributes(
			attribute.String("route", r.URL.Path),
			attribute.Int("status", rec.status),
		)
		requests.Add(ctx, 1, attrs)
		duration.Record(ctx, elapsed.Seconds(), attrs)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}
