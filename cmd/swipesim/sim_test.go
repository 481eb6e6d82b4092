package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/swipedeck/record"
)

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	a := generate(50, 7, 0)
	b := generate(50, 7, 0)
	require.Len(t, a, 50)
	assert.Equal(t, a, b)

	seen := make(map[string]bool, len(a))
	for _, r := range a {
		require.NoError(t, record.Validate(r))
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestGenerate_InvalidShare(t *testing.T) {
	t.Parallel()

	var invalid int
	for _, r := range generate(200, 1, 100) {
		if record.Validate(r) != nil {
			invalid++
		}
	}
	assert.Equal(t, 200, invalid)
}

type okRemote struct{ submits int }

func (o *okRemote) FetchCandidates(context.Context, []string, int) ([]record.Record, error) {
	return nil, nil
}

func (o *okRemote) SubmitDecision(context.Context, string, record.Decision) error {
	o.submits++
	return nil
}

func TestFlaky_InjectsFailures(t *testing.T) {
	t.Parallel()

	inner := &okRemote{}
	f := newFlaky(inner, 0, 100, 0, 1)
	err := f.SubmitDecision(context.Background(), "a", record.Accept)
	require.ErrorIs(t, err, errInjected)
	assert.Zero(t, inner.submits)

	f = newFlaky(inner, 0, 0, 0, 1)
	require.NoError(t, f.SubmitDecision(context.Background(), "a", record.Accept))
	assert.Equal(t, 1, inner.submits)
}

func TestFlaky_HangHonorsContext(t *testing.T) {
	t.Parallel()

	f := newFlaky(&okRemote{}, 0, 0, 100, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.SubmitDecision(ctx, "a", record.Reject)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
