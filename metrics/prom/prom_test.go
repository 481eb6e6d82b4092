package prom

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/store"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) NowUnixNano() int64 { return f.t }

func TestAdapter_WiredToStore(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg, "swipedeck", "store", nil)
	clk := &fakeClock{}
	s := store.New(store.Options{Capacity: 2, IdleWindow: time.Second, Metrics: m, Clock: clk})

	bio := strings.Repeat("enjoys quiet mornings ", 30)
	s.Ingest([]record.Record{
		{ID: "1", Name: "A", Fields: map[string]string{"bio": bio}},
		{ID: "2", Name: "B", Fields: map[string]string{"bio": bio}},
		{ID: "3", Name: "C", Fields: map[string]string{"bio": bio}},
	})
	s.Get("3")
	s.Get("1") // evicted
	clk.t += int64(time.Minute)
	s.CompressIdle()

	if got := testutil.ToFloat64(m.hits); got != 1 {
		t.Fatalf("hits want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.misses); got != 1 {
		t.Fatalf("misses want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.evicts.WithLabelValues("capacity")); got != 1 {
		t.Fatalf("capacity evictions want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.packs); got != 2 {
		t.Fatalf("compressions want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.entries); got != 2 {
		t.Fatalf("size_entries want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.memBytes); got != float64(s.Stats().MemoryBytes) {
		t.Fatalf("memory_bytes want %d, got %v", s.Stats().MemoryBytes, got)
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("gather: n=%d err=%v", n, err)
	}
}
