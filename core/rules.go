package core

import "context"

// ScoreChange captures a member's score before and after one ledger append.
type ScoreChange struct {
	Member  MemberKey
	Before  int64
	After   int64
	Curve   LevelCurve
	Mode    LevelMode
	Rewards []RewardThreshold
}

// Levels returns the level before and after the change.
func (c ScoreChange) Levels() (before, after int64) {
	return c.Curve.LevelFromScore(c.Before, c.Mode), c.Curve.LevelFromScore(c.After, c.Mode)
}

// Rule determines whether a score change should emit derived events.
type Rule interface {
	Evaluate(ctx context.Context, change ScoreChange) []Event
}

// LevelChangeRule emits level_up or level_down when the level moves.
type LevelChangeRule struct{}

func (LevelChangeRule) Evaluate(_ context.Context, change ScoreChange) []Event {
	before, after := change.Levels()
	if before == after {
		return nil
	}
	return []Event{NewLevelChange(change.Member, before, after)}
}

// RewardRule emits reward_earned for every threshold crossed upward.
type RewardRule struct{}

func (RewardRule) Evaluate(_ context.Context, change ScoreChange) []Event {
	before, after := change.Levels()
	if after <= before {
		return nil
	}
	var out []Event
	for _, r := range RewardsBetween(change.Rewards, before, after) {
		out = append(out, NewRewardEarned(change.Member, r))
	}
	return out
}
