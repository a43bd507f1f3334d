package cache

import (
	"fmt"
	"time"

	"github.com/xandylearning/zulip-sub000/internal/config"
)

const dayLayout = "2006-01-02"

func StyleFullKey(responderID string) string {
	return "style:full:" + responderID
}

func StyleQuickKey(responderID string) string {
	return "style:quick:" + responderID
}

// ActivityKey holds the responder's last outgoing message time.
func ActivityKey(responderID string) string {
	return "activity:last:" + responderID
}

// LastResponseKey holds the last auto-response time for a pair.
func LastResponseKey(responderID, requesterID string) string {
	return fmt.Sprintf("autoresp:last:%s:%s", responderID, requesterID)
}

// DailyCountKey is stamped with the UTC day so the counter resets at midnight
// no matter how long an entry has left to live.
func DailyCountKey(responderID string, at time.Time) string {
	return fmt.Sprintf("autoresp:count:%s:%s", responderID, at.UTC().Format(dayLayout))
}

// StartOfDayUTC truncates at to midnight UTC.
func StartOfDayUTC(at time.Time) time.Time {
	u := at.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// TTLs groups the lifetimes of each entry kind.
type TTLs struct {
	StyleFull    time.Duration
	StyleQuick   time.Duration
	DailyCount   time.Duration
	LastResponse time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		StyleFull:    config.MustDuration(config.DefaultCacheStyleTTL),
		StyleQuick:   config.MustDuration(config.DefaultCacheQuickStyleTTL),
		DailyCount:   config.MustDuration(config.DefaultCacheDailyCountTTL),
		LastResponse: config.MustDuration(config.DefaultCacheLastResponseTTL),
	}
}

func TTLsFromConfig(cfg config.CacheConfig) (TTLs, error) {
	var (
		ttls TTLs
		err  error
	)
	if ttls.StyleFull, err = config.DurationOrDefault(cfg.StyleTTL, config.DefaultCacheStyleTTL); err != nil {
		return TTLs{}, err
	}
	if ttls.StyleQuick, err = config.DurationOrDefault(cfg.QuickStyleTTL, config.DefaultCacheQuickStyleTTL); err != nil {
		return TTLs{}, err
	}
	if ttls.DailyCount, err = config.DurationOrDefault(cfg.DailyCountTTL, config.DefaultCacheDailyCountTTL); err != nil {
		return TTLs{}, err
	}
	if ttls.LastResponse, err = config.DurationOrDefault(cfg.LastResponseTTL, config.DefaultCacheLastResponseTTL); err != nil {
		return TTLs{}, err
	}
	return ttls, nil
}
