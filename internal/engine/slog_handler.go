package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SlogHandler routes slog records into a LogBuffer.
type SlogHandler struct {
	lb     *LogBuffer
	level  slog.Leveler
	attrs  []groupedAttr
	groups []string
}

// groupedAttr is an attribute with the group path active when it was added.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

// NewSlogHandler returns a handler writing records at or above level.
// A nil level means slog.LevelDebug.
func NewSlogHandler(lb *LogBuffer, level slog.Leveler) *SlogHandler {
	if level == nil {
		level = slog.LevelDebug
	}
	return &SlogHandler{lb: lb, level: level}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	for _, ga := range h.attrs {
		writeAttr(&b, ga.prefix, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, prefix, a)
		return true
	})

	h.lb.CollectLog(b.String(), labelFor(r.Level))
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := strings.Join(h.groups, ".")
	h2.attrs = make([]groupedAttr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, groupedAttr{prefix: prefix, attr: a})
	}
	return &h2
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		// An empty-key group is inlined.
		groupPrefix := joinKey(prefix, a.Key)
		for _, ga := range a.Value.Group() {
			writeAttr(b, groupPrefix, ga)
		}
		return
	}
	key := joinKey(prefix, a.Key)
	fmt.Fprintf(b, " %s=%v", key, a.Value.Any())
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "." + key
	}
}

// labelFor maps slog levels onto record labels.
func labelFor(l slog.Level) string {
	switch {
	case l >= slog.LevelError+4:
		return LabelFatal
	case l >= slog.LevelError:
		return LabelError
	case l >= slog.LevelWarn:
		return LabelWarn
	case l >= slog.LevelInfo:
		return LabelInfo
	default:
		return LabelDebug
	}
}

var _ slog.Handler = (*SlogHandler)(nil)
