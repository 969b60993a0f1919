package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"levelkit/core"
	"levelkit/leaderboard"
)

const (
	// DefaultPageSize is the number of rows in one leaderboard page.
	DefaultPageSize = 15
	// DefaultLead is how many rows above a focus member a page shows.
	DefaultLead = 5
)

// Service wires storage, event bus, and rules into the leveling API.
// It keeps no state beyond per-member reclaim locks, so any number of
// handlers may share one instance.
type Service struct {
	storage   Storage
	bus       *EventBus
	rules     RuleEngine
	logger    *slog.Logger
	mode      core.LevelMode
	pageSize  int
	lead      int
	formatter Formatter
	locks     *memberLocks
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger; a discard logger is used when nil.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithLevelMode selects exact or approximate level computation.
func WithLevelMode(m core.LevelMode) Option { return func(s *Service) { s.mode = m } }

// WithLeaderboardPage sets the page size and the number of rows shown above a focus member.
func WithLeaderboardPage(size, lead int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
		if lead >= 0 {
			s.lead = lead
		}
	}
}

// WithFormatter overrides how user ids are rendered in messages.
func WithFormatter(f Formatter) Option {
	return func(s *Service) {
		if f != nil {
			s.formatter = f
		}
	}
}

func NewService(storage Storage, bus *EventBus, rules RuleEngine, opts ...Option) *Service {
	if storage == nil || bus == nil || rules == nil {
		panic("NewService requires non-nil storage, bus, and rules")
	}
	s := &Service{
		storage:   storage,
		bus:       bus,
		rules:     rules,
		mode:      core.LevelApprox,
		pageSize:  DefaultPageSize,
		lead:      DefaultLead,
		formatter: mentionFormatter{},
		locks:     newMemberLocks(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return s
}

func DefaultRuleEngine() RuleEngine {
	return &simpleRuleEngine{rules: []core.Rule{core.LevelChangeRule{}, core.RewardRule{}}}
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

// SubscribeAll registers handler for every event type.
func (s *Service) SubscribeAll(handler func(context.Context, core.Event)) func() {
	return s.bus.SubscribeAll(handler)
}

func (s *Service) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// LevelMode reports the configured level computation mode.
func (s *Service) LevelMode() core.LevelMode { return s.mode }

func (s *Service) Close() { s.bus.Close() }

// DroppedEvents reports how many async events the bus discarded on a full queue.
func (s *Service) DroppedEvents() int64 { return s.bus.Dropped() }

// AwardRequest grants Amount points to Member on behalf of Actor.
type AwardRequest struct {
	Member core.MemberKey
	Amount int64
	Actor  core.UserID
}

// AwardResult carries the new score and the channel the caller should notify.
type AwardResult struct {
	Total      int64           `json:"total"`
	LogChannel *core.ChannelID `json:"log_channel_id,omitempty"`
}

// Award appends an awarded entry. Awards are not clamped.
func (s *Service) Award(ctx context.Context, req AwardRequest) (AwardResult, error) {
	member, err := s.existingMember(ctx, req.Member)
	if err != nil {
		return AwardResult{}, err
	}
	if req.Amount < 0 {
		return AwardResult{}, core.InvalidArgumentf("award amount must not be negative, got %d", req.Amount)
	}
	settings, err := s.storage.CommunitySettings(ctx, member.Community)
	if err != nil {
		return AwardResult{}, fmt.Errorf("load community settings: %w", err)
	}
	entry := core.NewEntry(member, core.EntryAwarded, req.Amount, core.ActorRef(req.Actor))
	total, err := s.storage.Append(ctx, entry)
	if err != nil {
		s.logger.Error("failed to append award", "community", member.Community, "user", member.User, "error", err)
		return AwardResult{}, fmt.Errorf("append award: %w", err)
	}
	s.logger.Debug("xp awarded", "community", member.Community, "user", member.User, "amount", req.Amount, "total", total)
	s.afterAppend(ctx, entry, total, settings)
	return AwardResult{Total: total, LogChannel: settings.LogChannel}, nil
}

// ReclaimRequest takes points back from Member.
type ReclaimRequest struct {
	Member core.MemberKey
	Option core.ReclaimOption
	Actor  core.UserID
}

// ReclaimResult reports how much was actually taken.
type ReclaimResult struct {
	Debited    int64           `json:"debited"`
	Total      int64           `json:"total"`
	LogChannel *core.ChannelID `json:"log_channel_id,omitempty"`
}

// Reclaim debits min(score, requested) from the member. The read of the
// score and the append happen atomically per member.
func (s *Service) Reclaim(ctx context.Context, req ReclaimRequest) (ReclaimResult, error) {
	if err := core.ValidateReclaim(req.Option); err != nil {
		return ReclaimResult{}, err
	}
	member, err := s.existingMember(ctx, req.Member)
	if err != nil {
		return ReclaimResult{}, err
	}
	settings, err := s.storage.CommunitySettings(ctx, member.Community)
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("load community settings: %w", err)
	}

	release := s.locks.Lock(member)
	actor := core.ActorRef(req.Actor)
	entry, total, err := s.storage.Reclaim(ctx, member, req.Option, actor)
	release()
	if err != nil {
		if errors.Is(err, core.ErrUnreachable) || errors.Is(err, core.ErrInvalidArgument) {
			return ReclaimResult{}, err
		}
		s.logger.Error("failed to reclaim xp", "community", member.Community, "user", member.User, "error", err)
		return ReclaimResult{}, fmt.Errorf("reclaim: %w", err)
	}
	debited := -entry.Amount
	if total < 0 || debited < 0 {
		s.logger.Error("ledger invariant violated", "community", member.Community, "user", member.User, "total", total, "debited", debited)
		return ReclaimResult{}, core.Unreachablef("score of %s is negative after reclaim: %d", s.formatter.User(member.User), total)
	}
	s.logger.Debug("xp reclaimed", "community", member.Community, "user", member.User, "debited", debited, "total", total)

	s.afterAppend(ctx, entry, total, settings)
	return ReclaimResult{Debited: debited, Total: total, LogChannel: settings.LogChannel}, nil
}

// LevelInfo describes a member's standing.
type LevelInfo struct {
	Member          core.MemberKey         `json:"member"`
	Score           int64                  `json:"score"`
	Level           int64                  `json:"level"`
	ProgressInLevel int64                  `json:"progress_in_level"`
	XPForNextLevel  int64                  `json:"xp_for_next_level"`
	EarnedRewards   []core.RewardThreshold `json:"earned_rewards"`
	NextRewardLevel *int64                 `json:"next_reward_level,omitempty"`
	NextRewardRole  *core.RoleID           `json:"next_reward_role_id,omitempty"`
}

// GetLevel computes the member's level from the current ledger fold.
func (s *Service) GetLevel(ctx context.Context, m core.MemberKey) (LevelInfo, error) {
	member, err := s.existingMember(ctx, m)
	if err != nil {
		return LevelInfo{}, err
	}
	score, err := s.storage.Sum(ctx, member)
	if err != nil {
		return LevelInfo{}, fmt.Errorf("sum ledger: %w", err)
	}
	settings, err := s.storage.CommunitySettings(ctx, member.Community)
	if err != nil {
		return LevelInfo{}, fmt.Errorf("load community settings: %w", err)
	}
	rewards, err := s.storage.Rewards(ctx, member.Community)
	if err != nil {
		return LevelInfo{}, fmt.Errorf("load rewards: %w", err)
	}
	level := settings.Curve.LevelFromScore(score, s.mode)
	progress, span := settings.Curve.Progress(score, level)
	info := LevelInfo{
		Member:          member,
		Score:           score,
		Level:           level,
		ProgressInLevel: progress,
		XPForNextLevel:  span,
		EarnedRewards:   core.EarnedRewards(rewards, level),
	}
	if next, ok := core.NextReward(rewards, level); ok {
		info.NextRewardLevel = &next.Level
		info.NextRewardRole = &next.Role
	}
	return info, nil
}

// LeaderboardRequest selects a community and, optionally, a member to center on.
type LeaderboardRequest struct {
	Community core.CommunityID
	Focus     *core.UserID
}

// RankedEntry is one row of a leaderboard page.
type RankedEntry struct {
	Rank  int         `json:"rank"`
	User  core.UserID `json:"user_id"`
	Score int64       `json:"score"`
	Level int64       `json:"level"`
}

// LeaderboardPage is a window of the community ranking.
type LeaderboardPage struct {
	Entries []RankedEntry `json:"entries"`
	Start   int           `json:"start"`
	Total   int           `json:"total_members"`
	Text    string        `json:"text"`
}

// GetLeaderboard returns one page of the community ranking. Without a focus
// member the page starts at the top; with one, it shows up to lead rows
// above the member and never runs past the end of the board.
func (s *Service) GetLeaderboard(ctx context.Context, req LeaderboardRequest) (LeaderboardPage, error) {
	community, err := core.NormalizeID(string(req.Community))
	if err != nil {
		return LeaderboardPage{}, core.InvalidArgumentf("community id: %v", err)
	}
	cid := core.CommunityID(community)
	var focus core.UserID
	if req.Focus != nil {
		user, err := core.NormalizeID(string(*req.Focus))
		if err != nil {
			return LeaderboardPage{}, core.InvalidArgumentf("user id: %v", err)
		}
		focus = core.UserID(user)
	}
	ranking, err := s.ranking(ctx, cid)
	if err != nil {
		return LeaderboardPage{}, fmt.Errorf("load leaderboard: %w", err)
	}
	settings, err := s.storage.CommunitySettings(ctx, cid)
	if err != nil {
		return LeaderboardPage{}, fmt.Errorf("load community settings: %w", err)
	}
	total, err := ranking.Len(ctx, cid)
	if err != nil {
		return LeaderboardPage{}, fmt.Errorf("load leaderboard: %w", err)
	}

	start := 0
	if focus != "" {
		pos, ok, err := ranking.Rank(ctx, cid, focus)
		if err != nil {
			return LeaderboardPage{}, fmt.Errorf("rank member: %w", err)
		}
		if !ok {
			return LeaderboardPage{}, core.NotFoundf("Could not find user on leaderboard")
		}
		start = leaderboard.WindowStart(total, pos, s.pageSize, s.lead)
	}
	rows, err := ranking.Range(ctx, cid, start, s.pageSize)
	if err != nil {
		return LeaderboardPage{}, fmt.Errorf("load leaderboard: %w", err)
	}

	page := LeaderboardPage{Start: start, Total: total, Entries: make([]RankedEntry, 0, len(rows))}
	var text strings.Builder
	for i, e := range rows {
		row := RankedEntry{
			Rank:  start + i + 1,
			User:  e.User,
			Score: e.Score,
			Level: settings.Curve.LevelFromScore(e.Score, s.mode),
		}
		page.Entries = append(page.Entries, row)
		if i > 0 {
			text.WriteByte('\n')
		}
		fmt.Fprintf(&text, "%d. %s - %d XP", row.Rank, s.formatter.User(row.User), row.Score)
	}
	page.Text = text.String()
	return page, nil
}

// ranking returns the storage's own index when it has one, otherwise a
// sorted snapshot of Sums.
func (s *Service) ranking(ctx context.Context, community core.CommunityID) (RankWindow, error) {
	if w, ok := s.storage.(RankWindow); ok {
		return w, nil
	}
	sums, err := s.storage.Sums(ctx, community)
	if err != nil {
		return nil, err
	}
	leaderboard.Sort(sums)
	return sortedSums(sums), nil
}

type sortedSums []leaderboard.Entry

func (r sortedSums) Rank(_ context.Context, _ core.CommunityID, user core.UserID) (int, bool, error) {
	pos, ok := leaderboard.Position(r, user)
	return pos, ok, nil
}

func (r sortedSums) Range(_ context.Context, _ core.CommunityID, start, n int) ([]leaderboard.Entry, error) {
	if start < 0 || start >= len(r) || n <= 0 {
		return nil, nil
	}
	return r[start:min(start+n, len(r))], nil
}

func (r sortedSums) Len(context.Context, core.CommunityID) (int, error) { return len(r), nil }

// ExemptionQuery describes the member and context of an activity event.
type ExemptionQuery struct {
	Member    core.MemberKey
	HeldRoles []core.RoleID
	Channel   *core.ChannelID
}

// IsExempt reports whether the member is currently barred from earning XP.
func (s *Service) IsExempt(ctx context.Context, q ExemptionQuery) (bool, error) {
	member, err := q.Member.Normalize()
	if err != nil {
		return false, err
	}
	set, err := s.storage.Exemptions(ctx, member.Community)
	if err != nil {
		return false, fmt.Errorf("load exemptions: %w", err)
	}
	return set.IsExempt(member.User, q.HeldRoles, q.Channel), nil
}

// EarnResult reports the outcome of one organic gain event.
type EarnResult struct {
	Exempt bool  `json:"exempt"`
	Earned int64 `json:"earned"`
	Total  int64 `json:"total"`
}

// Earn applies the community's per-event amount to a member unless the
// member is exempt. First-seen members are created. Rate limiting of gain
// events is the caller's concern.
func (s *Service) Earn(ctx context.Context, q ExemptionQuery) (EarnResult, error) {
	member, err := q.Member.Normalize()
	if err != nil {
		return EarnResult{}, err
	}
	if _, err := s.join(ctx, member); err != nil {
		return EarnResult{}, err
	}
	q.Member = member
	exempt, err := s.IsExempt(ctx, q)
	if err != nil {
		return EarnResult{}, err
	}
	if exempt {
		return EarnResult{Exempt: true}, nil
	}
	settings, err := s.storage.CommunitySettings(ctx, member.Community)
	if err != nil {
		return EarnResult{}, fmt.Errorf("load community settings: %w", err)
	}
	amount := settings.Curve.Amount
	if amount <= 0 {
		total, err := s.storage.Sum(ctx, member)
		return EarnResult{Total: total}, err
	}
	entry := core.NewEntry(member, core.EntryEarned, amount, nil)
	total, err := s.storage.Append(ctx, entry)
	if err != nil {
		return EarnResult{}, fmt.Errorf("append earn: %w", err)
	}
	s.afterAppend(ctx, entry, total, settings)
	return EarnResult{Earned: amount, Total: total}, nil
}

// Join records a member's first-seen event. It reports whether the member is new.
func (s *Service) Join(ctx context.Context, m core.MemberKey) (bool, error) {
	member, err := m.Normalize()
	if err != nil {
		return false, err
	}
	return s.join(ctx, member)
}

func (s *Service) join(ctx context.Context, member core.MemberKey) (bool, error) {
	created, err := s.storage.EnsureMember(ctx, member)
	if err != nil {
		return false, fmt.Errorf("ensure member: %w", err)
	}
	if created {
		s.logger.Debug("member joined", "community", member.Community, "user", member.User)
		s.bus.Publish(ctx, core.NewScoreEvent(core.NewEntry(member, core.EntryCreated, 0, nil), 0))
	}
	return created, nil
}

// History returns the member's ledger entries in append order.
func (s *Service) History(ctx context.Context, m core.MemberKey) ([]core.LedgerEntry, error) {
	member, err := s.existingMember(ctx, m)
	if err != nil {
		return nil, err
	}
	entries, err := s.storage.Entries(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}
	return entries, nil
}

// UpsertRewardRequest sets the level at which Role is granted.
type UpsertRewardRequest struct {
	Community core.CommunityID
	Role      core.RoleID
	Level     int64
	Message   *string
}

// UpsertRewardResult reports whether a new threshold was created.
type UpsertRewardResult struct {
	IsNew        bool  `json:"is_new"`
	AppliedLevel int64 `json:"applied_level"`
}

// UpsertReward inserts a reward threshold or replaces the level and message
// of the existing one for the same role.
func (s *Service) UpsertReward(ctx context.Context, req UpsertRewardRequest) (UpsertRewardResult, error) {
	community, err := core.NormalizeID(string(req.Community))
	if err != nil {
		return UpsertRewardResult{}, core.InvalidArgumentf("community id: %v", err)
	}
	role, err := core.NormalizeID(string(req.Role))
	if err != nil {
		return UpsertRewardResult{}, core.InvalidArgumentf("role id: %v", err)
	}
	if req.Level < 1 {
		return UpsertRewardResult{}, core.InvalidArgumentf("reward level must be at least 1, got %d", req.Level)
	}
	isNew, err := s.storage.UpsertReward(ctx, core.CommunityID(community), core.RewardThreshold{
		Role:    core.RoleID(role),
		Level:   req.Level,
		Message: req.Message,
	})
	if err != nil {
		return UpsertRewardResult{}, fmt.Errorf("upsert reward: %w", err)
	}
	return UpsertRewardResult{IsNew: isNew, AppliedLevel: req.Level}, nil
}

// RemoveReward deletes the threshold for role.
func (s *Service) RemoveReward(ctx context.Context, community core.CommunityID, role core.RoleID) error {
	removed, err := s.storage.RemoveReward(ctx, community, role)
	if err != nil {
		return fmt.Errorf("remove reward: %w", err)
	}
	if !removed {
		return core.NotFoundf("no reward configured for %s", core.MentionRole(role))
	}
	return nil
}

// SetExempt adds id to, or removes it from, one of the community's exemption sets.
func (s *Service) SetExempt(ctx context.Context, community core.CommunityID, kind core.ExemptionKind, id string, exempt bool) error {
	if !kind.Valid() {
		return core.InvalidArgumentf("unknown exemption kind %q", kind)
	}
	norm, err := core.NormalizeID(id)
	if err != nil {
		return core.InvalidArgumentf("%s id: %v", kind, err)
	}
	if err := s.storage.SetExempt(ctx, community, kind, norm, exempt); err != nil {
		return fmt.Errorf("set exemption: %w", err)
	}
	return nil
}

// SetLevelCurve stores a community's level curve.
func (s *Service) SetLevelCurve(ctx context.Context, community core.CommunityID, curve core.LevelCurve) error {
	if err := core.CheckCurve(curve); err != nil {
		if !errors.Is(err, core.ErrDegenerateCurve) {
			return err
		}
		s.logger.Warn("level curve never grows; levels are capped", "community", community, "base", curve.Base, "modifier", curve.Modifier)
	}
	if err := s.storage.SetLevelCurve(ctx, community, curve); err != nil {
		return fmt.Errorf("set level curve: %w", err)
	}
	return nil
}

// SetLogChannel sets or clears the community's notification channel.
func (s *Service) SetLogChannel(ctx context.Context, community core.CommunityID, channel *core.ChannelID) error {
	if err := s.storage.SetLogChannel(ctx, community, channel); err != nil {
		return fmt.Errorf("set log channel: %w", err)
	}
	return nil
}

// existingMember normalizes m and fails with NotFound when it has no ledger.
func (s *Service) existingMember(ctx context.Context, m core.MemberKey) (core.MemberKey, error) {
	member, err := m.Normalize()
	if err != nil {
		return core.MemberKey{}, err
	}
	ok, err := s.storage.MemberExists(ctx, member)
	if err != nil {
		return core.MemberKey{}, fmt.Errorf("check member: %w", err)
	}
	if !ok {
		return core.MemberKey{}, core.NotFoundf("could not find member %s", s.formatter.User(member.User))
	}
	return member, nil
}

// afterAppend publishes the score event and any events derived by the rules.
func (s *Service) afterAppend(ctx context.Context, entry core.LedgerEntry, total int64, settings core.CommunitySettings) {
	ev := core.NewScoreEvent(entry, total)
	ev.Channel = settings.LogChannel
	s.bus.Publish(ctx, ev)

	rewards, err := s.storage.Rewards(ctx, entry.Community)
	if err != nil {
		s.logger.Warn("skipping reward rules", "community", entry.Community, "error", err)
	}
	change := core.ScoreChange{
		Member:  entry.Member(),
		Before:  total - entry.Amount,
		After:   total,
		Curve:   settings.Curve,
		Mode:    s.mode,
		Rewards: rewards,
	}
	for _, d := range s.rules.Evaluate(ctx, change) {
		d.Channel = settings.LogChannel
		s.bus.Publish(ctx, d)
	}
}

type simpleRuleEngine struct{ rules []core.Rule }

func (r *simpleRuleEngine) Evaluate(ctx context.Context, change core.ScoreChange) []core.Event {
	var out []core.Event
	for _, rule := range r.rules {
		out = append(out, rule.Evaluate(ctx, change)...)
	}
	return out
}
