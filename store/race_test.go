package store

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/IvanBrykalov/swipedeck/record"
)

// A mixed workload of concurrent Ingest/Get/Peek/MarkPending/ClearPending/
// Remove/CompressIdle on random ids. Should pass under `-race` and leave the
// store within its budget.
func TestRace_Mixed(t *testing.T) {
	s := New(Options{
		Capacity:   512,
		IdleWindow: time.Millisecond,
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 5_000
	deadline := time.Now().Add(time.Second)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2: // ~3%: Remove
					s.Remove(k)
				case 3, 4, 5: // ~3%: pin/unpin
					if s.MarkPending(k, record.Accept) == nil {
						_, _ = s.ClearPending(k)
					}
				case 6: // ~1%: compress sweep
					s.CompressIdle()
				case 7, 8, 9, 10, 11, 12, 13, 14, 15, 16: // ~10%: Ingest
					s.Ingest([]record.Record{{ID: k, Name: "n" + k}})
				case 17, 18, 19, 20, 21:
					s.Peek(r.Intn(s.SeqLen() + 1))
				default: // ~78%: Get
					s.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()

	if st := s.Stats(); st.Entries > 512 || st.Pending != 0 {
		t.Fatalf("invariants broken after race: %+v", st)
	}
}
