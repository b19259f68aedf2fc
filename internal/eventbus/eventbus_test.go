package eventbus

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type strokePayload struct {
	Layer int    `json:"layer"`
	Mode  string `json:"mode"`
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ev, err := NewEnvelope("editor", TypeStrokeCommit, "doc-1", strokePayload{Layer: 3, Mode: "paint"})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "doc-1", ev.DocumentID)

	var got strokePayload
	require.NoError(t, ev.Decode(&got))
	assert.Equal(t, strokePayload{Layer: 3, Mode: "paint"}, got)

	_, err = NewEnvelope("editor", TypeStrokeCommit, "doc-1", make(chan int))
	assert.Error(t, err)
}

func TestPublishSubscribeFilter(t *testing.T) {
	bus := NewMemoryBus(16)

	var mu sync.Mutex
	var got []string
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeHistoryUndo, TypeHistoryRedo}},
		func(ctx context.Context, ev *Envelope) {
			mu.Lock()
			got = append(got, ev.EventType)
			mu.Unlock()
		})
	require.NoError(t, err)

	for _, typ := range []string{TypeHistoryPush, TypeHistoryUndo, TypeStrokeAbort, TypeHistoryRedo} {
		ev, err := NewEnvelope("history", typ, "doc", nil)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	bus.Close()

	assert.ElementsMatch(t, []string{TypeHistoryUndo, TypeHistoryRedo}, got)
	stats := bus.Metrics()
	assert.EqualValues(t, 4, stats.Published)
	assert.EqualValues(t, 2, stats.Consumed)
	assert.Zero(t, stats.InFlight)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	calls := make(chan struct{}, 4)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		calls <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()

	ev, _ := NewEnvelope("test", TypeDocumentSaved, "", nil)
	require.NoError(t, bus.Publish(context.Background(), ev))
	bus.Close()
	assert.Empty(t, calls)
}

func TestClosedBus(t *testing.T) {
	bus := NewMemoryBus(1)
	bus.Close()
	bus.Close()

	ev, _ := NewEnvelope("test", TypeDocumentClosed, "", nil)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrClosed)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBackpressure(t *testing.T) {
	mb := NewMemoryBus(1).(*memoryBus)
	newEvent := func(prio int) *Envelope {
		ev, _ := NewEnvelope("test", TypeHistoryPush, "", nil)
		ev.Priority = prio
		return ev
	}

	// останавливаем рассылку: dispatchLoop заберет одно событие и встанет на mu
	mb.mu.Lock()
	require.NoError(t, mb.Publish(context.Background(), newEvent(0)))
	for len(mb.buffer) > 0 {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, mb.Publish(context.Background(), newEvent(0)))

	require.NoError(t, mb.Publish(context.Background(), newEvent(1)))
	assert.EqualValues(t, 1, mb.Metrics().Dropped, "низкий приоритет отбрасывается")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mb.Publish(ctx, newEvent(9)), context.DeadlineExceeded, "высокий приоритет ждет места")

	mb.mu.Unlock()
	mb.Close()
	assert.EqualValues(t, 2, mb.Metrics().Published)
}

func TestMetricsExporter(t *testing.T) {
	bus := NewMemoryBus(8)
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg, time.Hour)

	for i := 0; i < 3; i++ {
		ev, _ := NewEnvelope("test", TypeHistoryPush, "", nil)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	bus.Close()

	me.collect()
	me.collect()
	assert.InDelta(t, 3, testutil.ToFloat64(me.published), 1e-9, "дельта не учитывается дважды")

	expected := `
# HELP voxedit_eventbus_messages_inflight Количество сообщений в очереди.
# TYPE voxedit_eventbus_messages_inflight gauge
voxedit_eventbus_messages_inflight 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "voxedit_eventbus_messages_inflight"))

	me.Start()
	me.Stop()
}

func TestLoggingListener(t *testing.T) {
	bus := NewMemoryBus(4)
	sub, err := StartLoggingListener(bus)
	require.NoError(t, err)
	ev, _ := NewEnvelope("test", TypeDocumentOpened, "doc", nil)
	require.NoError(t, bus.Publish(context.Background(), ev))
	bus.Close()
	sub.Unsubscribe()
	assert.EqualValues(t, 1, bus.Metrics().Consumed)
}
