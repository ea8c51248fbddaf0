package logging

import (
	"context"
	"log/slog"
)

// StateFunc returns attributes describing the live simulation, such as the
// current tick and role, when a record is written.
type StateFunc func(ctx context.Context) []slog.Attr

// StateHandler stamps every record with the attributes a StateFunc reports.
type StateHandler struct {
	next  slog.Handler
	state StateFunc
}

// NewStateHandler wraps next. A nil state adds nothing.
func NewStateHandler(next slog.Handler, state StateFunc) *StateHandler {
	return &StateHandler{next: next, state: state}
}

func (h *StateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *StateHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.state != nil {
		if attrs := h.state(ctx); len(attrs) > 0 {
			r = r.Clone()
			r.AddAttrs(attrs...)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *StateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StateHandler{next: h.next.WithAttrs(attrs), state: h.state}
}

func (h *StateHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &StateHandler{next: h.next.WithGroup(name), state: h.state}
}
