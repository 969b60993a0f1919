package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"levelkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(ctx context.Context, e core.Event)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, e core.Event)

func (f HookFunc) OnEvent(ctx context.Context, e core.Event) { f(ctx, e) }

// DailyStats is the per-community rollup for one UTC day.
type DailyStats struct {
	Day           string           `json:"day"`
	Community     core.CommunityID `json:"community_id"`
	ActiveMembers int              `json:"active_members"`
	Joined        int64            `json:"joined"`
	Earned        int64            `json:"xp_earned"`
	Awarded       int64            `json:"xp_awarded"`
	Reclaimed     int64            `json:"xp_reclaimed"`
	LevelUps      int64            `json:"level_ups"`
	LevelDowns    int64            `json:"level_downs"`
	Rewards       int64            `json:"rewards_earned"`
}

type dailyBucket struct {
	stats  DailyStats
	active map[core.UserID]struct{}
}

// Activity aggregates XP movement and distinct active members per community
// and day. Days older than the retention window are dropped as new days
// start.
type Activity struct {
	mu      sync.RWMutex
	retain  int
	buckets map[string]*dailyBucket
}

// NewActivity keeps the last retainDays days; retainDays <= 0 keeps all.
func NewActivity(retainDays int) *Activity {
	return &Activity{retain: retainDays, buckets: map[string]*dailyBucket{}}
}

func (a *Activity) OnEvent(_ context.Context, e core.Event) {
	day := e.Time.UTC().Format(time.DateOnly)
	key := dayKey(day, e.Community)
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.buckets[key]
	if b == nil {
		b = &dailyBucket{
			stats:  DailyStats{Day: day, Community: e.Community},
			active: map[core.UserID]struct{}{},
		}
		a.buckets[key] = b
		a.pruneLocked(e.Time)
	}
	if e.UserID != "" {
		b.active[e.UserID] = struct{}{}
		b.stats.ActiveMembers = len(b.active)
	}
	st := &b.stats
	switch e.Type {
	case core.EventMemberJoined:
		st.Joined++
	case core.EventXPEarned:
		st.Earned += e.Delta
	case core.EventXPAwarded:
		st.Awarded += e.Delta
	case core.EventXPReclaimed:
		// reclaimed deltas are stored negative
		st.Reclaimed -= e.Delta
	case core.EventLevelUp:
		st.LevelUps++
	case core.EventLevelDown:
		st.LevelDowns++
	case core.EventRewardEarned:
		st.Rewards++
	}
}

func (a *Activity) pruneLocked(now time.Time) {
	if a.retain <= 0 {
		return
	}
	cutoff := now.UTC().AddDate(0, 0, -(a.retain - 1)).Format(time.DateOnly)
	for key, b := range a.buckets {
		// DateOnly strings order chronologically
		if b.stats.Day < cutoff {
			delete(a.buckets, key)
		}
	}
}

// Day returns a copy of the rollup for community on day (formatted
// 2006-01-02).
func (a *Activity) Day(community core.CommunityID, day string) (DailyStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.buckets[dayKey(day, community)]
	if !ok {
		return DailyStats{}, false
	}
	return b.stats, true
}

func dayKey(day string, c core.CommunityID) string {
	return fmt.Sprintf("%s/%s", day, c)
}
