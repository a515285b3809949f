package imagegate

import (
	"context"
	"sync"
	"time"
)

// UsageStore enforces the per-client minimum interval and daily cap.
//
// Allow performs an atomic check-and-increment: a nil return means the
// request was counted and may proceed; a ThrottleError means it was
// rejected without being counted. Any other error means the store itself
// failed and the caller should fall back to local enforcement.
type UsageStore interface {
	Allow(ctx context.Context, clientKey string, tier Tier, now time.Time) error

	// Tier returns the stored tier for a client, with ok=false when the
	// store has no profile for it.
	Tier(ctx context.Context, clientKey string) (Tier, bool, error)
}

// dayKey identifies the usage day. Days roll over at midnight UTC.
func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// MemoryUsage is the in-process usage guard. It is always present as the
// fallback when no durable store is configured or the store is
// unreachable, and is best-effort under multi-instance deployments.
type MemoryUsage struct {
	mu          sync.Mutex
	minInterval time.Duration
	caps        map[Tier]int
	records     map[string]*usageRecord
}

type usageRecord struct {
	dayKey        string
	usedToday     int
	lastRequestAt time.Time
}

var _ UsageStore = (*MemoryUsage)(nil)

// NewMemoryUsage creates an in-process usage guard.
func NewMemoryUsage(minInterval time.Duration, caps map[Tier]int) *MemoryUsage {
	return &MemoryUsage{
		minInterval: minInterval,
		caps:        caps,
		records:     make(map[string]*usageRecord),
	}
}

// Allow checks the interval and daily cap for clientKey and counts the
// request when accepted. The whole check-and-increment is atomic under one
// lock, so two concurrent requests from the same client cannot both slip
// through a remaining slot.
func (s *MemoryUsage) Allow(_ context.Context, clientKey string, tier Tier, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dayKey(now)
	rec, ok := s.records[clientKey]
	if !ok || rec.dayKey != day {
		rec = &usageRecord{dayKey: day}
		s.records[clientKey] = rec
	}

	if elapsed := now.Sub(rec.lastRequestAt); !rec.lastRequestAt.IsZero() && elapsed < s.minInterval {
		return &ThrottleError{Err: ErrTooFrequent, Wait: s.minInterval - elapsed}
	}

	limit := s.caps[tier]
	if rec.usedToday >= limit {
		return &ThrottleError{Err: ErrDailyLimit, Cap: limit}
	}

	rec.lastRequestAt = now
	rec.usedToday++
	return nil
}

// Tier always reports no profile; the in-process guard trusts the caller's
// tier hint.
func (s *MemoryUsage) Tier(context.Context, string) (Tier, bool, error) {
	return "", false, nil
}

// UsedToday returns the counted requests for clientKey on the current day.
func (s *MemoryUsage) UsedToday(clientKey string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[clientKey]
	if !ok || rec.dayKey != dayKey(now) {
		return 0
	}
	return rec.usedToday
}
