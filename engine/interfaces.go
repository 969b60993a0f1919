package engine

import (
	"context"

	"levelkit/core"
	"levelkit/leaderboard"
)

// Ledger is the append-only XP store. A member's score is always the fold of
// its entries; implementations may keep a materialized sum only if it is
// updated in the same atomic step as the append.
type Ledger interface {
	// EnsureMember appends the zero-amount created entry the first time a
	// member is seen. It reports whether the member was created.
	EnsureMember(ctx context.Context, member core.MemberKey) (bool, error)
	MemberExists(ctx context.Context, member core.MemberKey) (bool, error)
	// Append fails only on storage faults.
	Append(ctx context.Context, entry core.LedgerEntry) (newTotal int64, err error)
	Sum(ctx context.Context, member core.MemberKey) (int64, error)
	// Sums returns every member's score in a community, in any order.
	Sums(ctx context.Context, community core.CommunityID) ([]leaderboard.Entry, error)
	Entries(ctx context.Context, member core.MemberKey) ([]core.LedgerEntry, error)
	// Reclaim reads the member's score, clamps the option against it and
	// appends the negative entry as one atomic step for that member. It
	// returns the entry as stored; the debit is -entry.Amount.
	Reclaim(ctx context.Context, member core.MemberKey, opt core.ReclaimOption, actor *core.UserID) (entry core.LedgerEntry, newTotal int64, err error)
}

// Settings holds the per-community records the engine reads.
type Settings interface {
	CommunitySettings(ctx context.Context, community core.CommunityID) (core.CommunitySettings, error)
	SetLevelCurve(ctx context.Context, community core.CommunityID, curve core.LevelCurve) error
	SetLogChannel(ctx context.Context, community core.CommunityID, channel *core.ChannelID) error
	Rewards(ctx context.Context, community core.CommunityID) ([]core.RewardThreshold, error)
	// UpsertReward replaces the level and message of an existing role
	// threshold or inserts a new one, reporting whether it was inserted.
	UpsertReward(ctx context.Context, community core.CommunityID, reward core.RewardThreshold) (bool, error)
	RemoveReward(ctx context.Context, community core.CommunityID, role core.RoleID) (bool, error)
	Exemptions(ctx context.Context, community core.CommunityID) (core.ExemptionSet, error)
	SetExempt(ctx context.Context, community core.CommunityID, kind core.ExemptionKind, id string, exempt bool) error
}

// RankWindow is implemented by storage that keeps each community's ranking
// indexed. GetLeaderboard pages through it instead of sorting Sums. Positions
// are zero-based in leaderboard order.
type RankWindow interface {
	Rank(ctx context.Context, community core.CommunityID, user core.UserID) (pos int, ok bool, err error)
	Range(ctx context.Context, community core.CommunityID, start, n int) ([]leaderboard.Entry, error)
	Len(ctx context.Context, community core.CommunityID) (int, error)
}

// Storage abstracts persistence for the leveling engine.
type Storage interface {
	Ledger
	Settings
}

// RuleEngine evaluates rules and emits derived events.
type RuleEngine interface {
	Evaluate(ctx context.Context, change core.ScoreChange) []core.Event
}

// Formatter renders ids in human-readable response text.
type Formatter interface {
	User(id core.UserID) string
}

type mentionFormatter struct{}

func (mentionFormatter) User(id core.UserID) string { return core.MentionUser(id) }
