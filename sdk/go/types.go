package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// LevelInfo mirrors the level endpoint response.
type LevelInfo struct {
	Score           int64    `json:"score"`
	Level           int64    `json:"level"`
	ProgressInLevel int64    `json:"progress_in_level"`
	XPForNextLevel  int64    `json:"xp_for_next_level"`
	EarnedRewards   []Reward `json:"earned_rewards"`
	NextRewardLevel *int64   `json:"next_reward_level,omitempty"`
	NextRewardRole  *string  `json:"next_reward_role_id,omitempty"`
}

// Reward is a role granted at a level.
type Reward struct {
	RoleID  string  `json:"role_id"`
	Level   int64   `json:"level"`
	Message *string `json:"message,omitempty"`
}

// LedgerEntry is one row of a member's XP history.
type LedgerEntry struct {
	ID      string    `json:"id"`
	Amount  int64     `json:"amount"`
	Kind    string    `json:"kind"`
	Time    time.Time `json:"occurred_at"`
	ActorID *string   `json:"actor_id,omitempty"`
}

// ScoreResult is returned by award and reclaim.
type ScoreResult struct {
	Debited      int64   `json:"debited,omitempty"`
	Total        int64   `json:"total"`
	LogChannelID *string `json:"log_channel_id,omitempty"`
}

// EarnResult is returned by earn.
type EarnResult struct {
	Exempt bool  `json:"exempt"`
	Earned int64 `json:"earned"`
	Total  int64 `json:"total"`
}

// LeaderboardRow is one ranked member.
type LeaderboardRow struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Score  int64  `json:"score"`
	Level  int64  `json:"level"`
}

// LeaderboardPage is one window of a community ranking.
type LeaderboardPage struct {
	Entries      []LeaderboardRow `json:"entries"`
	Start        int              `json:"start"`
	TotalMembers int              `json:"total_members"`
	Text         string           `json:"text"`
}

// Activity describes where and with which roles a member acted.
type Activity struct {
	HeldRoleIDs []string `json:"held_role_ids,omitempty"`
	ChannelID   *string  `json:"channel_id,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is the decoded error body of a non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("levelkit: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Code = "unknown"
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

var (
	// ErrEmptyUserID is returned when user id is empty.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrEmptyCommunityID is returned when the client has no community.
	ErrEmptyCommunityID = errors.New("community id is required")
)
