package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autokit/internal/model"
	"github.com/roach88/autokit/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(pub Publisher) *Adapter {
	return NewAdapter(pub,
		WithClock(testutil.NewManualClock(time.UnixMilli(1_700_000_000_000))),
		WithIDGenerator(testutil.NewSequentialIDs("ev").Generate),
		WithLogger(quietLogger()),
	)
}

func TestAdapter_StampsAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	a := newTestAdapter(pub)

	ok, err := a.Handle(context.Background(), model.RawSignal{Action: ActionScreenOn})
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "ev-1", ev.ID)
	assert.Equal(t, model.KindScreenOn, ev.Kind)
	assert.Equal(t, int64(1_700_000_000_000), ev.Timestamp.UnixMilli())
}

func TestAdapter_KeepsRawTimestamp(t *testing.T) {
	pub := &recordingPublisher{}
	a := newTestAdapter(pub)
	ts := time.UnixMilli(1_600_000_000_000)

	_, err := a.Handle(context.Background(), model.RawSignal{Action: ActionScreenOff, Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, ts, pub.events[0].Timestamp)
}

func TestAdapter_DropsMalformedWithoutError(t *testing.T) {
	pub := &recordingPublisher{}
	a := newTestAdapter(pub)

	ok, err := a.Handle(context.Background(), model.RawSignal{Action: "bogus"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, pub.events)
}

func TestAdapter_PublishFailureReturned(t *testing.T) {
	boom := errors.New("bus gone")
	a := newTestAdapter(&recordingPublisher{err: boom})

	ok, err := a.Handle(context.Background(), model.RawSignal{Action: ActionScreenOn})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}
