package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmatrace/pkg/platform/sentinel"
)

func TestSuspiciousMemoryRecord(t *testing.T) {
	store := NewSuspiciousMemory()
	ctx := context.Background()

	first, err := store.Record(ctx, "dist-1", "unusual_volume", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Count)
	assert.True(t, first.Flagged)
	assert.Zero(t, first.InvestigationID)

	// Repeats accumulate; the counter never resets.
	second, err := store.Record(ctx, "dist-1", "unusual_volume", 9, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Count)
	assert.Equal(t, uint64(9), second.LastOccurrence)
	assert.EqualValues(t, 3, second.InvestigationID)

	// A later report without an investigation keeps the existing link.
	third, err := store.Record(ctx, "dist-1", "unusual_volume", 12, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, third.InvestigationID)
}

func TestSuspiciousMemoryLookups(t *testing.T) {
	store := NewSuspiciousMemory()
	ctx := context.Background()

	_, err := store.Record(ctx, "dist-1", "unusual_volume", 5, 0)
	require.NoError(t, err)
	_, err = store.Record(ctx, "dist-1", "route_deviation", 6, 0)
	require.NoError(t, err)
	_, err = store.Record(ctx, "ph-1", "unusual_volume", 7, 0)
	require.NoError(t, err)

	got, err := store.Get(ctx, "dist-1", "route_deviation")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Count)

	_, err = store.Get(ctx, "dist-1", "nope")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	byEntity, err := store.ListByEntity(ctx, "dist-1")
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)
}
