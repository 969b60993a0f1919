package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventMemberJoined EventType = "member_joined"
	EventXPEarned     EventType = "xp_earned"
	EventXPAwarded    EventType = "xp_awarded"
	EventXPReclaimed  EventType = "xp_reclaimed"
	EventLevelUp      EventType = "level_up"
	EventLevelDown    EventType = "level_down"
	EventRewardEarned EventType = "reward_earned"
)

// AllEventTypes lists every event the engine publishes.
var AllEventTypes = []EventType{
	EventMemberJoined, EventXPEarned, EventXPAwarded, EventXPReclaimed,
	EventLevelUp, EventLevelDown, EventRewardEarned,
}

// Event represents an immutable domain event.
type Event struct {
	Type      EventType   `json:"type"`
	Time      time.Time   `json:"time"`
	Community CommunityID `json:"community_id"`
	UserID    UserID      `json:"user_id"`
	Actor     *UserID     `json:"actor_id,omitempty"`
	Delta     int64       `json:"delta,omitempty"`
	Total     int64       `json:"total,omitempty"`
	Level     int64       `json:"level,omitempty"`
	Role      RoleID      `json:"role_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	Channel   *ChannelID  `json:"log_channel_id,omitempty"`
}

// Member returns the key of the member the event is about.
func (e Event) Member() MemberKey { return MemberKey{Community: e.Community, User: e.UserID} }

func newEvent(typ EventType, m MemberKey) Event {
	return Event{Type: typ, Time: time.Now().UTC(), Community: m.Community, UserID: m.User}
}

// NewScoreEvent describes a ledger append of the given kind.
func NewScoreEvent(entry LedgerEntry, total int64) Event {
	typ := EventXPEarned
	switch entry.Kind {
	case EntryCreated:
		typ = EventMemberJoined
	case EntryAwarded:
		typ = EventXPAwarded
	case EntryReclaimed:
		typ = EventXPReclaimed
	}
	ev := newEvent(typ, entry.Member())
	if !entry.OccurredAt.IsZero() {
		ev.Time = entry.OccurredAt
	}
	ev.Actor = entry.Actor
	ev.Delta = entry.Amount
	ev.Total = total
	return ev
}

// NewLevelChange describes a member moving from one level to another.
func NewLevelChange(m MemberKey, from, to int64) Event {
	typ := EventLevelUp
	if to < from {
		typ = EventLevelDown
	}
	ev := newEvent(typ, m)
	ev.Level = to
	return ev
}

// NewRewardEarned describes a member reaching a reward threshold.
func NewRewardEarned(m MemberKey, r RewardThreshold) Event {
	ev := newEvent(EventRewardEarned, m)
	ev.Level = r.Level
	ev.Role = r.Role
	if r.Message != nil {
		ev.Message = *r.Message
	}
	return ev
}
