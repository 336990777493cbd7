// Package logging provides structured logging with zap.
//
// One process-wide logger is configured by Init. Components take a named
// child with Named; request handlers take the request-scoped logger with
// WithContext.
package logging

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
)

// RequestIDHeader carries the request id between the hosts, the client and
// the remote store.
const RequestIDHeader = "X-Request-ID"

var (
	mu     sync.RWMutex
	global *zap.Logger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stderr (default), stdout, or file path
}

func (c Config) build() (*zap.Logger, error) {
	var zc zap.Config
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = level
	if c.OutputPath != "" {
		zc.OutputPaths = []string{c.OutputPath}
	}
	return zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Init configures the global logger. An unknown level selects info.
func Init(cfg Config) error {
	l := zapcore.InfoLevel
	if err := l.UnmarshalText([]byte(cfg.Level)); err != nil {
		l = zapcore.InfoLevel
	}
	level.SetLevel(l)

	logger, err := cfg.build()
	if err != nil {
		return err
	}
	Replace(logger)
	return nil
}

// Replace swaps the global logger, e.g. for zap.NewNop or an observer core in
// tests. nil restores the lazily built default.
func Replace(logger *zap.Logger) {
	mu.Lock()
	global = logger
	mu.Unlock()
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}

// L returns the global logger, building a JSON logger on stderr if Init was
// never called.
func L() *zap.Logger {
	mu.RLock()
	logger := global
	mu.RUnlock()
	if logger != nil {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := Config{}.build()
		if err != nil {
			l = zap.NewNop()
		}
		global = l
	}
	return global
}

// Named returns a child of the global logger for one component. The caller
// skip added for the package-level helpers is removed.
func Named(component string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// WithContext returns the request-scoped logger, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// WithRequestID stores requestID and a logger tagged with it in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	logger := WithContext(ctx).With(zap.String("request_id", requestID))
	ctx = context.WithValue(ctx, loggerKey, logger)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID from context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal logs and exits.
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// statusRecorder captures the status and size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware tags every request with a request id, taken from
// RequestIDHeader when present, and logs its completion. Server errors are
// logged at warn level. observe, when non-nil, receives every completed
// request.
func Middleware(observe func(method, path string, status int, d time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = NewRequestID()
			}
			r = r.WithContext(WithRequestID(r.Context(), requestID))
			w.Header().Set(RequestIDHeader, requestID)

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			d := time.Since(start)

			logf := WithContext(r.Context()).Info
			if rw.status >= http.StatusInternalServerError {
				logf = WithContext(r.Context()).Warn
			}
			logf("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Int64("size", rw.size),
				zap.Duration("duration", d),
			)
			if observe != nil {
				observe(r.Method, r.URL.Path, rw.status, d)
			}
		})
	}
}
