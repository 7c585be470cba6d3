package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[37m"
)

type PrettyHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Leveler
	color bool
	attrs []slog.Attr
	group string
}

func NewPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &PrettyHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
		color: isTerminal(out),
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timestamp := r.Time.Format(time.TimeOnly)
	level := h.colorizeLevel(r.Level)

	var line strings.Builder
	fmt.Fprintf(&line, "%s %s %s", timestamp, level, r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&line, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&line, a)
		return true
	})

	_, err := fmt.Fprintln(h.out, line.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func (h *PrettyHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	if h.color {
		fmt.Fprintf(b, " %s%s%s=%v", colorGray, a.Key, colorReset, a.Value.Any())
		return
	}
	fmt.Fprintf(b, " %s=%v", a.Key, a.Value.Any())
}

func (h *PrettyHandler) colorizeLevel(level slog.Level) string {
	var color string
	var name string

	switch level {
	case slog.LevelDebug:
		color = colorBlue
		name = "DEBUG"
	case slog.LevelInfo:
		color = colorGreen
		name = "INFO"
	case slog.LevelWarn:
		color = colorYellow
		name = "WARN"
	case slog.LevelError:
		color = colorRed
		name = "ERROR"
	default:
		color = colorGray
		name = level.String()
	}

	if !h.color {
		return fmt.Sprintf("%-5s", name)
	}
	return fmt.Sprintf("%s%-5s%s", color, name, colorReset)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func New(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewPrettyHandler(out, level))
}

func NewLogger() *slog.Logger {
	return New(os.Stdout, slog.LevelInfo)
}
