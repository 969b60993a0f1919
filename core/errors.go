package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks anticipated, user-facing lookups of a missing member
	// or leaderboard entry.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument marks malformed or out-of-range input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnreachable marks a programming error such as an unknown reclaim
	// option or a violated ledger invariant. It is never recovered into a
	// user reply.
	ErrUnreachable = errors.New("unreachable")
)

// Error carries a human-readable message together with its taxonomy kind.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// NotFoundf builds an ErrNotFound error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf builds an ErrInvalidArgument error.
func InvalidArgumentf(format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// Unreachablef builds an ErrUnreachable error.
func Unreachablef(format string, args ...any) error {
	return &Error{Kind: ErrUnreachable, Message: fmt.Sprintf(format, args...)}
}

// IsUserFacing reports whether err should be turned into a reply message
// rather than surfaced as a failure.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument)
}

// MentionUser renders a user mention, e.g. <@!123>.
func MentionUser(id UserID) string { return "<@!" + string(id) + ">" }

// MentionRole renders a role mention, e.g. <@&123>.
func MentionRole(id RoleID) string { return "<@&" + string(id) + ">" }

// MentionChannel renders a channel mention, e.g. <#123>.
func MentionChannel(id ChannelID) string { return "<#" + string(id) + ">" }
