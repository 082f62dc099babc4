package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

const ansiReset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// stateColors highlights supervision states in daemon output, so a scan of
// the log picks out backoff/fatal transitions immediately.
var stateColors = map[string]string{
	"starting": "\033[36m", // cyan
	"running":  "\033[32m", // green
	"stopping": "\033[33m", // yellow
	"backoff":  "\033[33m", // yellow
	"exited":   "\033[35m", // magenta
	"fatal":    "\033[31m", // red
}

// stateAttrKeys are the attribute keys whose values name a supervision state.
var stateAttrKeys = map[string]bool{
	"state": true,
	"from":  true,
	"to":    true,
}

// Handler is the daemon's slog handler: single-line text output with the
// level token and supervision-state attribute values ANSI colored. It writes
// raw escape sequences itself because slog.TextHandler would quote them.
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	prefix string      // dotted group path from WithGroup
	attrs  []slog.Attr // accumulated via WithAttrs
}

// NewHandler builds the daemon's colored text handler.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) *Handler {
	h := &Handler{mu: &sync.Mutex{}, w: w, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, lv slog.Level) bool {
	return lv >= h.level.Level()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString(r.Time.Format("2006-01-02T15:04:05.000"))
		b.WriteByte(' ')
	}
	if c, ok := levelColors[r.Level]; ok {
		b.WriteString(c + r.Level.String() + ansiReset)
	} else {
		b.WriteString(r.Level.String())
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		h.appendAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) appendAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	val := a.Value.Resolve()
	key := h.prefix + a.Key
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	s := fmt.Sprintf("%v", val.Any())
	if c, ok := stateColors[s]; ok && stateAttrKeys[a.Key] && val.Kind() == slog.KindString {
		b.WriteString(c + s + ansiReset)
		return
	}
	if strings.ContainsAny(s, " \t\"") {
		s = strconv.Quote(s)
	}
	b.WriteString(s)
}
