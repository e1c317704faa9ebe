package lib

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DebugLog is an append-only, timestamped diagnostic record. It exists for
// support bundles and on-device inspection, not for protocol correctness,
// and is unbounded on purpose: link sessions are short-lived relative to
// the record size.
type DebugLog struct {
	mu      sync.Mutex
	entries []string
}

func NewDebugLog() *DebugLog {
	return &DebugLog{}
}

// Append records one line, prefixed with the current wall clock.
func (d *DebugLog) Append(line string) {
	stamp := time.Now().Format("2006-01-02 15:04:05.000")
	d.mu.Lock()
	d.entries = append(d.entries, stamp+" "+line)
	d.mu.Unlock()
}

// Snapshot returns a copy of all entries in append order.
func (d *DebugLog) Snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *DebugLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Handler wraps next so every record is appended to the debug log before
// being forwarded. The wrapper reports itself enabled at all levels: the
// debug record captures everything even when the process logger is
// filtered, which is what makes it useful after the fact.
func (d *DebugLog) Handler(next slog.Handler) slog.Handler {
	return &teeHandler{next: next, dlog: d}
}

type teeHandler struct {
	next  slog.Handler
	dlog  *DebugLog
	attrs string // preformatted attrs accumulated through With()
	group string
}

func (h *teeHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.group+a.Key, a.Value.Any())
		return true
	})
	h.dlog.Append(b.String())

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%v", h.group+a.Key, a.Value.Any())
	}
	next := h.next
	if next != nil {
		next = next.WithAttrs(attrs)
	}
	return &teeHandler{next: next, dlog: h.dlog, attrs: b.String(), group: h.group}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.next
	if next != nil {
		next = next.WithGroup(name)
	}
	return &teeHandler{next: next, dlog: h.dlog, attrs: h.attrs, group: h.group + name + "."}
}
