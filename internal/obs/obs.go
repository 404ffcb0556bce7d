package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type correlationContextKey struct{}

// Correlation carries identifiers that tie log lines of one login attempt together.
type Correlation struct {
	AttemptID string
	Stage     string
	TestName  string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	attrs := correlationAttrs(CorrelationFromContext(ctx))
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithAttempt stores the login attempt id in context.
func WithAttempt(ctx context.Context, attemptID string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.AttemptID = strings.TrimSpace(attemptID)
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithStage stores the current bootstrap stage in context.
func WithStage(ctx context.Context, stage string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.Stage = stage
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// WithTestName stores the running test's name in context.
func WithTestName(ctx context.Context, name string) context.Context {
	corr := CorrelationFromContext(ctx)
	corr.TestName = name
	return context.WithValue(ctx, correlationContextKey{}, corr)
}

// AttemptIDFromContext returns the attempt id from context, or "unknown".
func AttemptIDFromContext(ctx context.Context) string {
	corr := CorrelationFromContext(ctx)
	if corr.AttemptID == "" {
		return "unknown"
	}
	return corr.AttemptID
}

// CorrelationFromContext returns correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 6)
	if corr.AttemptID != "" {
		attrs = append(attrs, "attempt_id", corr.AttemptID)
	}
	if corr.Stage != "" {
		attrs = append(attrs, "stage", corr.Stage)
	}
	if corr.TestName != "" {
		attrs = append(attrs, "test", corr.TestName)
	}
	return attrs
}
