package core

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommunityID identifies the tenant every other id is scoped by.
type CommunityID string

// UserID identifies a user of the chat platform.
type UserID string

// RoleID identifies a community role.
type RoleID string

// ChannelID identifies a community channel.
type ChannelID string

// MemberKey identifies a community-scoped participant.
// A member does not store a score; the score is always derived from the ledger.
type MemberKey struct {
	Community CommunityID `json:"community_id"`
	User      UserID      `json:"user_id"`
}

// Normalize trims both ids and rejects empty ones.
func (m MemberKey) Normalize() (MemberKey, error) {
	c, err := NormalizeID(string(m.Community))
	if err != nil {
		return MemberKey{}, InvalidArgumentf("community id: %v", err)
	}
	u, err := NormalizeID(string(m.User))
	if err != nil {
		return MemberKey{}, InvalidArgumentf("user id: %v", err)
	}
	return MemberKey{Community: CommunityID(c), User: UserID(u)}, nil
}

// EntryKind tags a ledger entry.
type EntryKind string

const (
	EntryCreated   EntryKind = "created"
	EntryEarned    EntryKind = "earned"
	EntryAwarded   EntryKind = "awarded"
	EntryReclaimed EntryKind = "reclaimed"
)

// Valid reports whether k is one of the known entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryCreated, EntryEarned, EntryAwarded, EntryReclaimed:
		return true
	}
	return false
}

// LedgerEntry is one immutable, signed score delta.
// Entries are never updated or deleted.
type LedgerEntry struct {
	ID         string      `json:"id" db:"id"`
	Community  CommunityID `json:"community_id" db:"community_id"`
	User       UserID      `json:"user_id" db:"user_id"`
	Amount     int64       `json:"amount" db:"amount"`
	Kind       EntryKind   `json:"kind" db:"kind"`
	OccurredAt time.Time   `json:"occurred_at" db:"occurred_at"`
	Actor      *UserID     `json:"actor_id,omitempty" db:"actor_id"`
}

// Member returns the key of the member the entry belongs to.
func (e LedgerEntry) Member() MemberKey {
	return MemberKey{Community: e.Community, User: e.User}
}

// NewEntry builds a ledger entry with a fresh id and the current UTC time.
func NewEntry(member MemberKey, kind EntryKind, amount int64, actor *UserID) LedgerEntry {
	return LedgerEntry{
		ID:         uuid.NewString(),
		Community:  member.Community,
		User:       member.User,
		Amount:     amount,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
	}
}

// ActorRef returns a pointer to a copy of id, or nil when id is empty.
func ActorRef(id UserID) *UserID {
	if id == "" {
		return nil
	}
	return &id
}

// Fold sums the amounts of entries. It is the definition of a member's score.
func Fold(entries []LedgerEntry) (int64, error) {
	var total int64
	for _, e := range entries {
		next, err := AddSafe(total, e.Amount)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeID trims surrounding whitespace and rejects empty identifiers.
func NormalizeID(id string) (string, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return "", errors.New("empty id")
	}
	return s, nil
}

// RewardThreshold grants a role once a member reaches Level.
type RewardThreshold struct {
	Role    RoleID  `json:"role_id" db:"role_id"`
	Level   int64   `json:"level" db:"level"`
	Message *string `json:"message,omitempty" db:"message"`
}

// CommunitySettings holds the per-community values this engine reads.
type CommunitySettings struct {
	Curve      LevelCurve `json:"curve"`
	LogChannel *ChannelID `json:"log_channel_id,omitempty"`
}
