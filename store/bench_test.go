package store

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/IvanBrykalov/swipedeck/record"
)

// benchmarkMix exercises a read/ingest mix against a warm store.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
func benchmarkMix(b *testing.B, readsPct int) {
	s := New(Options{Capacity: 10_000})

	batch := make([]record.Record, 0, 5_000)
	for i := 0; i < 5_000; i++ {
		k := strconv.Itoa(i)
		batch = append(batch, record.Record{ID: k, Name: "n" + k})
	}
	s.Ingest(batch)

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := (1 << 14) - 1

	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := 0
		for pb.Next() {
			k := strconv.Itoa(i & keyMask)
			if r.Intn(100) < readsPct {
				s.Get(k)
			} else {
				s.Ingest([]record.Record{{ID: k, Name: "n"}})
			}
			i++
		}
	})
}

func BenchmarkStore_90r10w(b *testing.B) { benchmarkMix(b, 90) }
func BenchmarkStore_50r50w(b *testing.B) { benchmarkMix(b, 50) }
