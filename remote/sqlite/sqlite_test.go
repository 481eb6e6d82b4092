package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/swipedeck/record"
	"github.com/IvanBrykalov/swipedeck/session"
)

func newTestRemote(t *testing.T, n int) *Remote {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "remote_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	recs := make([]record.Record, n)
	for i := range recs {
		id := strconv.Itoa(i + 1)
		dist := float64(i) + 0.5
		recs[i] = record.Record{
			ID:       id,
			Name:     "cand-" + id,
			Tags:     []string{"t" + id},
			Fields:   map[string]string{"bio": "hello " + id},
			Distance: &dist,
		}
	}
	inserted, err := r.Seed(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
	return r
}

func TestRemote_FetchExcludesAndLimits(t *testing.T) {
	ctx := context.Background()
	r := newTestRemote(t, 6)

	got, err := r.FetchCandidates(ctx, []string{"1", "3"}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2", "4", "5"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, []string{"t2"}, got[0].Tags)
	assert.Equal(t, "hello 2", got[0].Fields["bio"])
	require.NotNil(t, got[0].Distance)
	assert.InDelta(t, 1.5, *got[0].Distance, 1e-9)
	assert.False(t, got[0].FetchedAt.IsZero())
}

func TestRemote_DecidedAreNotServed(t *testing.T) {
	ctx := context.Background()
	r := newTestRemote(t, 3)

	require.NoError(t, r.SubmitDecision(ctx, "1", record.Accept))
	require.NoError(t, r.SubmitDecision(ctx, "2", record.Reject))
	require.NoError(t, r.SubmitDecision(ctx, "2", record.Accept), "re-submit overwrites")

	got, err := r.FetchCandidates(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)

	ds, err := r.Decisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]record.Decision{"1": record.Accept, "2": record.Accept}, ds)

	n, err := r.Undecided(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemote_UnknownCandidate(t *testing.T) {
	r := newTestRemote(t, 1)
	err := r.SubmitDecision(context.Background(), "404", record.Accept)
	assert.True(t, errors.Is(err, ErrUnknownCandidate))
}

func TestRemote_SeedIsIdempotent(t *testing.T) {
	r := newTestRemote(t, 2)
	n, err := r.Seed(context.Background(), []record.Record{{ID: "1", Name: "dup"}, {ID: "9", Name: "new"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// A whole session against the database: every candidate ends up decided.
func TestRemote_DrivesSession(t *testing.T) {
	ctx := context.Background()
	r := newTestRemote(t, 12)

	e := session.New(r, session.Options{})
	t.Cleanup(e.Close)
	require.NoError(t, e.Start(ctx))

	for i := 0; i < 40 && !e.IsExhausted(); i++ {
		d := record.Accept
		if i%3 == 0 {
			d = record.Reject
		}
		require.NoError(t, e.Submit(d))
		e.Wait()
	}
	e.Wait()

	assert.True(t, e.IsExhausted())
	n, err := r.Undecided(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	ds, err := r.Decisions(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 12)
	assert.EqualValues(t, 12, e.Snapshot().Confirmed)
}

// An invalid candidate is skipped once and never fetched again.
func TestRemote_SkippedCandidateStaysSkipped(t *testing.T) {
	ctx := context.Background()
	r, err := Open(filepath.Join(t.TempDir(), "skip_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	_, err = r.Seed(ctx, []record.Record{{ID: "bad"}, {ID: "ok", Name: "ok"}})
	require.NoError(t, err)

	e := session.New(r, session.Options{})
	t.Cleanup(e.Close)
	require.NoError(t, e.Start(ctx))

	invalid := 0
	for i := 0; i < 10; i++ {
		if e.IsExhausted() {
			require.NoError(t, e.ManualRefresh(ctx))
			if e.IsExhausted() {
				break
			}
		}
		var inv *session.InvalidRecordError
		switch err := e.Submit(record.Accept); {
		case errors.As(err, &inv):
			invalid++
			assert.Equal(t, "bad", inv.ID)
			require.NoError(t, e.SkipInvalid())
		default:
			require.NoError(t, err)
		}
		e.Wait()
	}

	assert.Equal(t, 1, invalid)
	assert.True(t, e.IsExhausted())
	ds, err := r.Decisions(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
	assert.Equal(t, record.Accept, ds["ok"])
}
