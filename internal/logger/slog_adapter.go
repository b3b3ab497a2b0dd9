package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// It returns nil when l is nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

type slogAdapter struct {
	log    *Logger
	groups []string
	attrs  []qualifiedAttr
}

// qualifiedAttr remembers the group path that was open when the attribute
// was attached with WithAttrs.
type qualifiedAttr struct {
	groups []string
	attr   slog.Attr
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return slogLevelToLoggerLevel(level) >= h.log.GetLevel()
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder
	builder.WriteString(record.Message)

	for _, qa := range h.attrs {
		writeAttr(&builder, qa.attr, qa.groups)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&builder, attr, h.groups)
		return true
	})

	message := strings.TrimSpace(builder.String())
	switch slogLevelToLoggerLevel(record.Level) {
	case LevelError:
		h.log.Error("%s", message)
	case LevelWarn:
		h.log.Warn("%s", message)
	case LevelInfo:
		h.log.Info("%s", message)
	default:
		h.log.Debug("%s", message)
	}
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogAdapter{
		log:    h.log,
		groups: h.groups,
		attrs:  make([]qualifiedAttr, 0, len(h.attrs)+len(attrs)),
	}
	next.attrs = append(next.attrs, h.attrs...)
	for _, attr := range attrs {
		next.attrs = append(next.attrs, qualifiedAttr{groups: h.groups, attr: attr})
	}
	return next
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &slogAdapter{log: h.log, groups: groups, attrs: h.attrs}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func writeAttr(builder *strings.Builder, attr slog.Attr, groups []string) {
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, child := range attr.Value.Group() {
			writeAttr(builder, child, nested)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	parts := append(append([]string(nil), groups...), key)
	fmt.Fprintf(builder, " %s=%v", strings.Join(parts, "."), attr.Value.Resolve())
}
