package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"grimm.is/zedctl/internal/brand"
)

// ConsoleHandler formats records as single human-readable lines:
//
//	2026-01-02T15:04:05Z zedctl[123]: [warn] supervisor: poll failed server=a1
//
// A "component" attribute, if present, becomes the header before the
// message instead of a trailing key=value pair.
type ConsoleHandler struct {
	mu         sync.Mutex
	out        io.Writer
	opts       slog.HandlerOptions
	timeFormat string
	preformat  []slog.Attr
}

// NewConsoleHandler builds a console handler writing to out.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions, timeFormat string) *ConsoleHandler {
	h := &ConsoleHandler{out: out, timeFormat: timeFormat}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.opts.Level != nil {
		threshold = h.opts.Level.Level()
	}
	return level >= threshold
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	component, attrs := splitComponent(h.preformat, r)

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s[%d]: [%s] ",
		r.Time.Format(h.timeFormat),
		brand.LowerName,
		os.Getpid(),
		strings.ToLower(r.Level.String()))
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		writeAttrValue(&b, a.Value.String())
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(b.Bytes())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &ConsoleHandler{
		out:        h.out,
		opts:       h.opts,
		timeFormat: h.timeFormat,
		preformat:  append(h.preformat[:len(h.preformat):len(h.preformat)], attrs...),
	}
	return clone
}

// WithGroup is a no-op; console output stays flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}

// splitComponent separates the component tag from the remaining
// attributes, record attrs taking precedence over preformatted ones.
func splitComponent(pre []slog.Attr, r slog.Record) (string, []slog.Attr) {
	component := ""
	attrs := make([]slog.Attr, 0, len(pre)+r.NumAttrs())
	for _, a := range pre {
		if a.Key == "component" {
			component = strings.ToLower(a.Value.String())
			continue
		}
		attrs = append(attrs, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToLower(a.Value.String())
			return true
		}
		attrs = append(attrs, a)
		return true
	})
	return component, attrs
}

func writeAttrValue(b *bytes.Buffer, v string) {
	if strings.ContainsAny(v, " \t\n") {
		fmt.Fprintf(b, "%q", v)
		return
	}
	b.WriteString(v)
}
