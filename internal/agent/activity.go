package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/cache"
	"github.com/xandylearning/zulip-sub000/internal/concurrency"
	"github.com/xandylearning/zulip-sub000/internal/history"
	"github.com/xandylearning/zulip-sub000/internal/logger"
)

// ActivityTracker answers the absence and daily-cap questions from the cache,
// falling back to the history store on a miss.
type ActivityTracker struct {
	cache    cache.Store
	messages MessageSource
	log      InteractionLog
	ttls     cache.TTLs
	locks    *concurrency.KeyedLocker
	now      func() time.Time
}

func NewActivityTracker(store cache.Store, messages MessageSource, log InteractionLog, ttls cache.TTLs) *ActivityTracker {
	if ttls == (cache.TTLs{}) {
		ttls = cache.DefaultTTLs()
	}
	return &ActivityTracker{
		cache:    store,
		messages: messages,
		log:      log,
		ttls:     ttls,
		locks:    concurrency.NewKeyedLocker(),
		now:      time.Now,
	}
}

// LastActive reports when the responder last sent a message. ok is false when
// they never have.
func (t *ActivityTracker) LastActive(ctx context.Context, responderID string) (time.Time, bool, error) {
	if at, ok := cache.GetJSON[time.Time](ctx, t.cache, cache.ActivityKey(responderID)); ok {
		return at, true, nil
	}

	at, ok, err := t.messages.LastMessageAt(ctx, responderID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last activity for %s: %w", responderID, err)
	}
	if ok {
		cache.SetJSON(ctx, t.cache, cache.ActivityKey(responderID), at, t.ttls.LastResponse)
	}
	return at, ok, nil
}

// Absence returns how long the responder has been silent. A responder who was
// never active is reported with ok=false and counts as absent.
func (t *ActivityTracker) Absence(ctx context.Context, responderID string) (time.Duration, bool, error) {
	at, ok, err := t.LastActive(ctx, responderID)
	if err != nil || !ok {
		return 0, false, err
	}
	return t.now().Sub(at), true, nil
}

// DailyCount returns today's (UTC) auto-response count for the responder.
func (t *ActivityTracker) DailyCount(ctx context.Context, responderID string) (int, error) {
	now := t.now()
	key := cache.DailyCountKey(responderID, now)
	if n, ok := cache.GetJSON[int](ctx, t.cache, key); ok {
		return n, nil
	}

	n, err := t.log.CountAutoResponsesSince(ctx, responderID, cache.StartOfDayUTC(now))
	if err != nil {
		return 0, fmt.Errorf("daily count for %s: %w", responderID, err)
	}
	cache.SetJSON(ctx, t.cache, key, n, t.ttls.DailyCount)
	return n, nil
}

// RecordAutoResponse logs the reply and refreshes the day counter. Writes for
// one responder are serialized so the cached count never goes backwards.
func (t *ActivityTracker) RecordAutoResponse(ctx context.Context, rec history.AutoResponse) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}

	return t.locks.WithLock(rec.ResponderID, func() error {
		saved, err := t.log.RecordAutoResponse(ctx, rec)
		if err != nil {
			return fmt.Errorf("record auto-response: %w", err)
		}

		n, err := t.log.CountAutoResponsesSince(ctx, rec.ResponderID, cache.StartOfDayUTC(saved.CreatedAt))
		if err != nil {
			logger.From(ctx).Warn("Failed to recount auto-responses, dropping cached count", "error", err)
			t.cache.Invalidate(ctx, cache.DailyCountKey(rec.ResponderID, saved.CreatedAt))
		} else {
			cache.SetJSON(ctx, t.cache, cache.DailyCountKey(rec.ResponderID, saved.CreatedAt), n, t.ttls.DailyCount)
		}

		cache.SetJSON(ctx, t.cache, cache.LastResponseKey(rec.ResponderID, rec.RequesterID), saved.CreatedAt, t.ttls.LastResponse)
		return nil
	})
}

// LastAutoResponse reports when the responder last auto-replied to this
// requester. Only the short-lived cache entry is consulted.
func (t *ActivityTracker) LastAutoResponse(ctx context.Context, responderID, requesterID string) (time.Time, bool) {
	return cache.GetJSON[time.Time](ctx, t.cache, cache.LastResponseKey(responderID, requesterID))
}

// MarkActive stamps the responder's activity so the absence check sees it
// before the history cache entry would expire.
func (t *ActivityTracker) MarkActive(ctx context.Context, userID string, at time.Time) {
	if at.IsZero() {
		at = t.now()
	}
	if prev, ok := cache.GetJSON[time.Time](ctx, t.cache, cache.ActivityKey(userID)); ok && prev.After(at) {
		return
	}
	cache.SetJSON(ctx, t.cache, cache.ActivityKey(userID), at, t.ttls.LastResponse)
}
