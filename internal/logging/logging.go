package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyBackend    = "backend"
	KeySink       = "sink"
	KeyReportID   = "reportId"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// installed is one handler set by Init. gen changes on every Init so derived
// handlers know their cached copy is stale.
type installed struct {
	handler slog.Handler
	gen     uint64
}

type handlerRoot struct {
	current atomic.Pointer[installed]
}

func (r *handlerRoot) set(h slog.Handler) {
	prev := r.current.Load()
	var gen uint64
	if prev != nil {
		gen = prev.gen + 1
	}
	r.current.Store(&installed{handler: h, gen: gen})
}

// deferredHandler replays its WithAttrs/WithGroup calls, in order, on top of
// whatever handler the root currently holds. Loggers created at package init
// therefore follow later Init calls.
type deferredHandler struct {
	root   *handlerRoot
	derive []func(slog.Handler) slog.Handler
	cache  atomic.Pointer[installed]
}

func (h *deferredHandler) resolve() slog.Handler {
	cur := h.root.current.Load()
	if c := h.cache.Load(); c != nil && c.gen == cur.gen {
		return c.handler
	}
	handler := cur.handler
	for _, d := range h.derive {
		handler = d(handler)
	}
	h.cache.Store(&installed{handler: handler, gen: cur.gen})
	return handler
}

func (h *deferredHandler) with(d func(slog.Handler) slog.Handler) *deferredHandler {
	return &deferredHandler{root: h.root, derive: append(h.derive[:len(h.derive):len(h.derive)], d)}
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	attrs = append([]slog.Attr(nil), attrs...)
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

var (
	root          = newRoot(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(&deferredHandler{root: root})
)

func newRoot(h slog.Handler) *handlerRoot {
	r := &handlerRoot{}
	r.set(h)
	return r
}

func init() {
	slog.SetDefault(defaultLogger)
}

// Init installs a text or JSON handler at level behind every logger handed
// out by L, including ones created before the call. A nil output logs to
// stderr so stdout stays free for reports.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(output, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	}

	root.set(handler)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithBackend returns a child logger tagged with a backend name.
func WithBackend(logger *slog.Logger, backend string) *slog.Logger {
	return logger.With(slog.String(KeyBackend, backend))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
