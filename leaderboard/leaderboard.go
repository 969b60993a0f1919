package leaderboard

import (
	"sort"

	"levelkit/core"
)

// Entry represents a member's score within one community.
type Entry struct {
	User  core.UserID `json:"user_id" db:"user_id"`
	Score int64       `json:"score" db:"score"`
}

func less(a, b Entry) bool {
	if a.Score == b.Score {
		return a.User < b.User
	}
	return a.Score > b.Score // higher score first
}

// Sort orders entries by score descending, breaking ties by user id.
func Sort(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
}

// Position returns the zero-based index of user in sorted entries.
func Position(entries []Entry, user core.UserID) (int, bool) {
	for i, e := range entries {
		if e.User == user {
			return i, true
		}
	}
	return 0, false
}

// WindowStart returns the first zero-based index of a page of size entries
// that shows pos with up to lead entries above it, never running past total.
func WindowStart(total, pos, size, lead int) int {
	start := max(0, pos-lead)
	start = min(start, total-size)
	return max(0, start)
}
