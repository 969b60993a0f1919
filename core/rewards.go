package core

import "sort"

// SortRewards orders thresholds by ascending level, then role id.
func SortRewards(rewards []RewardThreshold) {
	sort.SliceStable(rewards, func(i, j int) bool {
		if rewards[i].Level == rewards[j].Level {
			return rewards[i].Role < rewards[j].Role
		}
		return rewards[i].Level < rewards[j].Level
	})
}

// EarnedRewards returns every threshold with Level <= level in ascending level order.
func EarnedRewards(rewards []RewardThreshold, level int64) []RewardThreshold {
	out := make([]RewardThreshold, 0, len(rewards))
	for _, r := range rewards {
		if r.Level <= level {
			out = append(out, r)
		}
	}
	SortRewards(out)
	return out
}

// NextReward returns the threshold with the smallest Level > level.
func NextReward(rewards []RewardThreshold, level int64) (RewardThreshold, bool) {
	var (
		best  RewardThreshold
		found bool
	)
	for _, r := range rewards {
		if r.Level <= level {
			continue
		}
		if !found || r.Level < best.Level || (r.Level == best.Level && r.Role < best.Role) {
			best, found = r, true
		}
	}
	return best, found
}

// RewardsBetween returns thresholds with from < Level <= to, ascending.
func RewardsBetween(rewards []RewardThreshold, from, to int64) []RewardThreshold {
	var out []RewardThreshold
	for _, r := range rewards {
		if r.Level > from && r.Level <= to {
			out = append(out, r)
		}
	}
	SortRewards(out)
	return out
}

// UpsertReward replaces the level and message of the threshold for r.Role,
// or appends r when none exists. It reports whether r was inserted.
func UpsertReward(rewards []RewardThreshold, r RewardThreshold) ([]RewardThreshold, bool) {
	for i := range rewards {
		if rewards[i].Role == r.Role {
			rewards[i].Level = r.Level
			rewards[i].Message = r.Message
			return rewards, false
		}
	}
	return append(rewards, r), true
}
