package logging

import (
	"context"
	"log/slog"
	"time"
)

// mirrorHandler tees every record into the shared ring buffer before
// delegating to the real handler, so the API can serve recent lines no
// matter which output format is configured.
type mirrorHandler struct {
	inner slog.Handler
	buf   *RingBuffer
	pre   []slog.Attr
}

func newMirrorHandler(inner slog.Handler, buf *RingBuffer) *mirrorHandler {
	return &mirrorHandler{inner: inner, buf: buf}
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	component, attrs := splitComponent(h.pre, r)
	source := component
	if source == "" {
		source = "system"
	}

	var extra map[string]string
	if len(attrs) > 0 {
		extra = make(map[string]string, len(attrs))
		for _, a := range attrs {
			extra[a.Key] = a.Value.String()
		}
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.buf.Add(AppLogEntry{
		Timestamp: ts,
		Level:     LevelFromSlog(r.Level),
		Source:    source,
		Message:   r.Message,
		Extra:     extra,
	})

	return h.inner.Handle(ctx, r)
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &mirrorHandler{
		inner: h.inner.WithAttrs(attrs),
		buf:   h.buf,
		pre:   append(h.pre[:len(h.pre):len(h.pre)], attrs...),
	}
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	return &mirrorHandler{inner: h.inner.WithGroup(name), buf: h.buf, pre: h.pre}
}
