package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRewards() []RewardThreshold {
	return []RewardThreshold{
		{Role: "r10", Level: 10},
		{Role: "r5", Level: 5},
		{Role: "r8", Level: 8},
	}
}

func TestEarnedAndNextReward(t *testing.T) {
	earned := EarnedRewards(sampleRewards(), 8)
	require.Len(t, earned, 2)
	assert.Equal(t, RoleID("r5"), earned[0].Role)
	assert.Equal(t, RoleID("r8"), earned[1].Role)

	next, ok := NextReward(sampleRewards(), 8)
	require.True(t, ok)
	assert.Equal(t, RoleID("r10"), next.Role)

	_, ok = NextReward(sampleRewards(), 10)
	assert.False(t, ok)
}

func TestUpsertRewardReplaces(t *testing.T) {
	msg := "welcome to the club"
	rewards, isNew := UpsertReward(sampleRewards(), RewardThreshold{Role: "r8", Level: 12, Message: &msg})
	assert.False(t, isNew)
	require.Len(t, rewards, 3)
	next, ok := NextReward(rewards, 9)
	require.True(t, ok)
	assert.Equal(t, RoleID("r10"), next.Role)

	rewards, isNew = UpsertReward(rewards, RewardThreshold{Role: "r1", Level: 1})
	assert.True(t, isNew)
	assert.Len(t, rewards, 4)
}

func TestExemptionUnion(t *testing.T) {
	set := NewExemptionSet()
	ch := ChannelID("general")
	assert.False(t, set.IsExempt("u1", []RoleID{"a"}, &ch))

	require.NoError(t, set.Set(ExemptMember, "u1", true))
	assert.True(t, set.IsExempt("u1", nil, nil))
	require.NoError(t, set.Set(ExemptMember, "u1", false))

	require.NoError(t, set.Set(ExemptRole, "a", true))
	assert.True(t, set.IsExempt("u1", []RoleID{"b", "a"}, nil))
	assert.False(t, set.IsExempt("u1", []RoleID{"b"}, nil))

	require.NoError(t, set.Set(ExemptChannel, "general", true))
	assert.True(t, set.IsExempt("u2", nil, &ch))
	assert.False(t, set.IsExempt("u2", nil, nil))

	assert.Error(t, set.Set("guild", "x", true))
}

func TestDebit(t *testing.T) {
	d, err := Debit(ReclaimAmount{N: 400}, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), d)

	d, err = Debit(ReclaimAll{}, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), d)

	d, err = Debit(ReclaimAmount{N: 50}, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(50), d)

	_, err = Debit(ReclaimAmount{N: 0}, 300)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Debit(nil, 300)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRulesEmitLevelAndRewardEvents(t *testing.T) {
	change := ScoreChange{
		Member:  MemberKey{Community: "c", User: "u"},
		Before:  0,
		After:   600,
		Curve:   LevelCurve{Base: 100, Modifier: 50},
		Mode:    LevelExact,
		Rewards: []RewardThreshold{{Role: "r2", Level: 2}, {Role: "r4", Level: 4}, {Role: "r9", Level: 9}},
	}
	evs := LevelChangeRule{}.Evaluate(context.Background(), change)
	require.Len(t, evs, 1)
	assert.Equal(t, EventLevelUp, evs[0].Type)
	assert.Equal(t, int64(5), evs[0].Level)

	rewards := RewardRule{}.Evaluate(context.Background(), change)
	require.Len(t, rewards, 2)
	assert.Equal(t, RoleID("r2"), rewards[0].Role)
	assert.Equal(t, RoleID("r4"), rewards[1].Role)

	change.Before, change.After = 600, 0
	evs = LevelChangeRule{}.Evaluate(context.Background(), change)
	require.Len(t, evs, 1)
	assert.Equal(t, EventLevelDown, evs[0].Type)
	assert.Empty(t, RewardRule{}.Evaluate(context.Background(), change))
}
