package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.evs))
	for i, ev := range r.evs {
		out[i] = ev.Name
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestEmitter_DebouncesPerName(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rec := &recorder{}
	e := NewEmitter(rec, Options{Now: clk.now})

	assert.True(t, e.Emit(CacheStats, nil))
	clk.add(10 * time.Millisecond)
	assert.False(t, e.Emit(CacheStats, nil), "inside the 50ms window")
	assert.True(t, e.Emit(CacheEvicted, nil), "other names are independent")
	clk.add(45 * time.Millisecond)
	assert.True(t, e.Emit(CacheStats, map[string]any{"hits": 3}))

	e.Close()
	assert.Equal(t, []string{CacheStats, CacheEvicted, CacheStats}, rec.names())
	c := e.Counters()
	assert.EqualValues(t, 3, c.Emitted)
	assert.EqualValues(t, 1, c.Debounced)
}

// A stuck sink must not block producers; overflow is dropped.
func TestEmitter_NeverBlocks(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocking := SinkFunc(func(Event) { <-release })
	clk := &fakeClock{t: time.Unix(0, 0)}
	e := NewEmitter(blocking, Options{QueueSize: 2, Now: clk.now})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			e.Emit(DecisionSubmitted, nil)
			clk.add(time.Second)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stuck sink")
	}
	close(release)
	e.Close()
	assert.NotZero(t, e.Counters().Dropped)
}

func TestEmitter_SinkPanicIsContained(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	clk := &fakeClock{t: time.Unix(0, 0)}
	e := NewEmitter(MultiSink{
		SinkFunc(func(ev Event) {
			if ev.Name == RecordInvalid {
				panic("bad sink")
			}
		}),
		rec,
	}, Options{Now: clk.now})

	e.Emit(RecordInvalid, nil)
	e.Emit(RecordSkipped, nil)
	e.Close()
	assert.Equal(t, []string{RecordSkipped}, rec.names())
}

func TestEmitter_NilAndClosed(t *testing.T) {
	t.Parallel()

	var nilEmitter *Emitter
	assert.False(t, nilEmitter.Emit(CacheStats, nil))
	nilEmitter.Close()

	e := NewEmitter(nil, Options{})
	e.Close()
	e.Close()
	assert.False(t, e.Emit(CacheStats, nil))
}

func TestZapSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	NewZapSink(zap.New(core)).Emit(Event{
		Name:      RefillCompleted,
		Payload:   map[string]any{"inserted": 5},
		Timestamp: time.Unix(10, 0),
	})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, RefillCompleted, entry.Message)
	assert.EqualValues(t, 5, entry.ContextMap()["inserted"])
	assert.Equal(t, "telemetry", entry.ContextMap()["module"])
}
