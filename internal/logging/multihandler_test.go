package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHandler struct {
	slog.Handler
}

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("sink down")
}

func TestMultiHandler_FansOutAndSkipsNil(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiHandler(nil, slog.NewTextHandler(&a, nil), nil, slog.NewTextHandler(&b, nil))
	require.Equal(t, 2, multi.Len())

	slog.New(multi).Info("sync sent")

	assert.Contains(t, a.String(), "sync sent")
	assert.Contains(t, b.String(), "sync sent")
}

func TestMultiHandler_EnabledIfAnyHandlerIs(t *testing.T) {
	info := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	assert.False(t, NewMultiHandler(info).Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, NewMultiHandler(info, debug).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewMultiHandler().Enabled(context.Background(), slog.LevelError))
}

func TestMultiHandler_JoinsErrorsAndKeepsGoing(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(failingHandler{}, slog.NewTextHandler(&buf, nil))

	err := multi.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "delivered", 0))

	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "delivered")
}

func TestMultiHandler_AttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	multi := NewMultiHandler(slog.NewTextHandler(&buf, nil))

	assert.Same(t, multi, multi.WithGroup(""))

	logger := slog.New(multi.WithAttrs([]slog.Attr{slog.String("strategy", "full")}).WithGroup("body"))
	logger.Info("applied", "id", 7)

	assert.Contains(t, buf.String(), "strategy=full")
	assert.Contains(t, buf.String(), "body.id=7")
}

func TestStateHandler_NilStateAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	h := NewStateHandler(slog.NewTextHandler(&buf, nil), nil)

	slog.New(h.WithAttrs([]slog.Attr{slog.Int("peer", 2)})).Info("joined")

	assert.Contains(t, buf.String(), "peer=2")
	assert.Same(t, h, h.WithGroup(""))
}
