package memory

import (
	"context"
	"slices"
	"sync"

	"levelkit/core"
	"levelkit/leaderboard"
)

// Store is a concurrent in-memory Storage implementation. Each member's
// ledger is guarded by its own mutex; each community keeps a skip list of
// member totals that is updated under that mutex so it always equals the
// fold of the ledger.
type Store struct {
	communities sync.Map // map[core.CommunityID]*community
}

type community struct {
	mu         sync.RWMutex
	curve      *core.LevelCurve
	logChannel *core.ChannelID
	rewards    []core.RewardThreshold
	exempt     core.ExemptionSet

	members sync.Map // map[core.UserID]*memberRecord
	board   *leaderboard.SkipList
}

type memberRecord struct {
	mu      sync.Mutex
	entries []core.LedgerEntry
	total   int64
}

func New() *Store { return &Store{} }

func (s *Store) community(id core.CommunityID) *community {
	if v, ok := s.communities.Load(id); ok {
		return v.(*community)
	}
	c := &community{exempt: core.NewExemptionSet(), board: leaderboard.NewSkipList()}
	actual, _ := s.communities.LoadOrStore(id, c)
	return actual.(*community)
}

func (c *community) member(user core.UserID) (*memberRecord, bool) {
	v, ok := c.members.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*memberRecord), true
}

func (c *community) getOrCreate(user core.UserID) *memberRecord {
	if rec, ok := c.member(user); ok {
		return rec
	}
	actual, _ := c.members.LoadOrStore(user, &memberRecord{})
	return actual.(*memberRecord)
}

// appendLocked adds e to the ledger and mirrors the new total into the board.
// rec.mu must be held.
func (c *community) appendLocked(rec *memberRecord, e core.LedgerEntry) (int64, error) {
	next, err := core.AddSafe(rec.total, e.Amount)
	if err != nil {
		return 0, err
	}
	rec.entries = append(rec.entries, e)
	rec.total = next
	c.board.Update(e.User, next)
	return next, nil
}

func (s *Store) EnsureMember(_ context.Context, m core.MemberKey) (bool, error) {
	c := s.community(m.Community)
	rec := &memberRecord{}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, loaded := c.members.LoadOrStore(m.User, rec); loaded {
		return false, nil
	}
	if _, err := c.appendLocked(rec, core.NewEntry(m, core.EntryCreated, 0, nil)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MemberExists(_ context.Context, m core.MemberKey) (bool, error) {
	_, ok := s.community(m.Community).member(m.User)
	return ok, nil
}

func (s *Store) Append(_ context.Context, e core.LedgerEntry) (int64, error) {
	c := s.community(e.Community)
	rec := c.getOrCreate(e.User)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return c.appendLocked(rec, e)
}

func (s *Store) Sum(_ context.Context, m core.MemberKey) (int64, error) {
	rec, ok := s.community(m.Community).member(m.User)
	if !ok {
		return 0, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.total, nil
}

func (s *Store) Sums(_ context.Context, id core.CommunityID) ([]leaderboard.Entry, error) {
	return s.community(id).board.Entries(), nil
}

func (s *Store) Rank(_ context.Context, id core.CommunityID, user core.UserID) (int, bool, error) {
	pos, ok := s.community(id).board.Rank(user)
	return pos, ok, nil
}

func (s *Store) Range(_ context.Context, id core.CommunityID, start, n int) ([]leaderboard.Entry, error) {
	return s.community(id).board.Range(start, n), nil
}

func (s *Store) Len(_ context.Context, id core.CommunityID) (int, error) {
	return s.community(id).board.Len(), nil
}

func (s *Store) Entries(_ context.Context, m core.MemberKey) ([]core.LedgerEntry, error) {
	rec, ok := s.community(m.Community).member(m.User)
	if !ok {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return slices.Clone(rec.entries), nil
}

func (s *Store) Reclaim(_ context.Context, m core.MemberKey, opt core.ReclaimOption, actor *core.UserID) (core.LedgerEntry, int64, error) {
	c := s.community(m.Community)
	rec := c.getOrCreate(m.User)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	debit, err := core.Debit(opt, rec.total)
	if err != nil {
		return core.LedgerEntry{}, 0, err
	}
	entry := core.NewEntry(m, core.EntryReclaimed, -debit, actor)
	total, err := c.appendLocked(rec, entry)
	if err != nil {
		return core.LedgerEntry{}, 0, err
	}
	return entry, total, nil
}

func (s *Store) CommunitySettings(_ context.Context, id core.CommunityID) (core.CommunitySettings, error) {
	c := s.community(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := core.CommunitySettings{Curve: core.DefaultCurve()}
	if c.curve != nil {
		out.Curve = *c.curve
	}
	if c.logChannel != nil {
		ch := *c.logChannel
		out.LogChannel = &ch
	}
	return out, nil
}

func (s *Store) SetLevelCurve(_ context.Context, id core.CommunityID, curve core.LevelCurve) error {
	c := s.community(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curve = &curve
	return nil
}

func (s *Store) SetLogChannel(_ context.Context, id core.CommunityID, ch *core.ChannelID) error {
	c := s.community(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch == nil {
		c.logChannel = nil
		return nil
	}
	v := *ch
	c.logChannel = &v
	return nil
}

func (s *Store) Rewards(_ context.Context, id core.CommunityID) ([]core.RewardThreshold, error) {
	c := s.community(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := slices.Clone(c.rewards)
	core.SortRewards(out)
	return out, nil
}

func (s *Store) UpsertReward(_ context.Context, id core.CommunityID, r core.RewardThreshold) (bool, error) {
	c := s.community(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	var isNew bool
	c.rewards, isNew = core.UpsertReward(c.rewards, r)
	return isNew, nil
}

func (s *Store) RemoveReward(_ context.Context, id core.CommunityID, role core.RoleID) (bool, error) {
	c := s.community(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.rewards, func(r core.RewardThreshold) bool { return r.Role == role })
	if i < 0 {
		return false, nil
	}
	c.rewards = slices.Delete(c.rewards, i, i+1)
	return true, nil
}

func (s *Store) Exemptions(_ context.Context, id core.CommunityID) (core.ExemptionSet, error) {
	c := s.community(id)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exempt.Clone(), nil
}

func (s *Store) SetExempt(_ context.Context, id core.CommunityID, kind core.ExemptionKind, key string, exempt bool) error {
	c := s.community(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exempt.Set(kind, key, exempt)
}
