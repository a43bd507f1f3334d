package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/history"
)

func openTestHistory(t *testing.T) *history.SQLiteStore {
	t.Helper()
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestActivityTracker_AbsenceFromHistoryThenCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	msgs := &fakeMessages{last: now.Add(-5 * time.Hour), hasLast: true}
	tracker := NewActivityTracker(cache.NewMemoryStore(), msgs, &fakeInteractionLog{}, cache.TTLs{})
	tracker.now = func() time.Time { return now }

	absence, ok, err := tracker.Absence(ctx, "mentor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Hour, absence)

	// Served from the cache once looked up.
	msgs.err = errors.New("history gone")
	absence, ok, err = tracker.Absence(ctx, "mentor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Hour, absence)
}

func TestActivityTracker_NeverActive(t *testing.T) {
	tracker := NewActivityTracker(cache.NewMemoryStore(), &fakeMessages{}, &fakeInteractionLog{}, cache.TTLs{})

	_, ok, err := tracker.Absence(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivityTracker_MarkActiveKeepsNewest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	tracker := NewActivityTracker(cache.NewMemoryStore(), &fakeMessages{}, &fakeInteractionLog{}, cache.TTLs{})
	tracker.now = func() time.Time { return now }

	tracker.MarkActive(ctx, "mentor", now.Add(-time.Minute))
	tracker.MarkActive(ctx, "mentor", now.Add(-time.Hour))

	absence, ok, err := tracker.Absence(ctx, "mentor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, absence)
}

func TestActivityTracker_RecordAndCountWithSQLite(t *testing.T) {
	ctx := context.Background()
	store := openTestHistory(t)
	memory := cache.NewMemoryStore()
	tracker := NewActivityTracker(memory, store, store, cache.TTLs{})

	now := time.Now().UTC()
	tracker.now = func() time.Time { return now }

	yesterday := cache.StartOfDayUTC(now).Add(-time.Hour)
	_, err := store.RecordAutoResponse(ctx, history.AutoResponse{ResponderID: "mentor", RequesterID: "s0", CreatedAt: yesterday})
	require.NoError(t, err)

	n, err := tracker.DailyCount(ctx, "mentor")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, requester := range []string{"s1", "s2"} {
		require.NoError(t, tracker.RecordAutoResponse(ctx, history.AutoResponse{
			ResponderID:  "mentor",
			RequesterID:  requester,
			Reason:       ReasonAutoResponseGenerated,
			Confidence:   0.7,
			ResponseText: "back soon",
			CreatedAt:    now,
		}))
	}

	n, err = tracker.DailyCount(ctx, "mentor")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	at, ok := tracker.LastAutoResponse(ctx, "mentor", "s2")
	require.True(t, ok)
	assert.True(t, at.Equal(now))

	_, ok = tracker.LastAutoResponse(ctx, "mentor", "s9")
	assert.False(t, ok)
}

func TestActivityTracker_RecordFailure(t *testing.T) {
	tracker := NewActivityTracker(cache.NewMemoryStore(), &fakeMessages{}, &fakeInteractionLog{err: errors.New("disk full")}, cache.TTLs{})

	err := tracker.RecordAutoResponse(context.Background(), history.AutoResponse{ResponderID: "mentor"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
