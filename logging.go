package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Accepted format for a caller-supplied X-Request-ID
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// InitLogger installs a JSON logger on stdout as the default
func InitLogger(level slog.Level) {
	slog.SetDefault(newLogger(os.Stdout, level))
	slog.Info("logger initialized", "level", level.String())
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// requestID reuses a well-formed upstream X-Request-ID so a proxy's
// logs line up with ours, and mints one otherwise
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); requestIDPattern.MatchString(id) {
		return id
	}
	return uuid.NewString()
}

// RequestIDFromContext extracts request ID from context
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// LoggerFromContext returns the default logger tagged with the request ID
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return slog.Default().With("request_id", id)
	}
	return slog.Default()
}

// logRequests tags each wallet request with an ID, logs its outcome and
// records it in the HTTP metrics. Probes are only counted.
func (a *app) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(rec, r)
			a.metrics.observeHTTP(r.Method, r.URL.Path, rec.status, time.Since(start))
			return
		}

		id := requestID(r)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		w.Header().Set("X-Request-ID", id)

		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		a.metrics.observeHTTP(r.Method, r.URL.Path, rec.status, elapsed)

		level := slog.LevelDebug
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case rec.status >= 400:
			level = slog.LevelWarn
		case rec.status == http.StatusAccepted:
			// Unconfirmed payment; worth seeing at default level
			level = slog.LevelInfo
		}
		slog.LogAttrs(r.Context(), level, "request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
