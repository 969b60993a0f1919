package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"levelkit/adapters/memory"
	"levelkit/core"
	"levelkit/leaderboard"
)

// Store persists the entire ledger and settings to a single JSON file.
// Suitable for demos and small deployments. Reads are served from an
// in-memory store; every write rewrites the file.
type Store struct {
	path string
	mu   sync.Mutex // serializes writes and file persistence
	mem  *memory.Store
}

func New(path string) (*Store, error) {
	s := &Store{path: path, mem: memory.New()}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	return s.mem.Restore(snap)
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.mem.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// commit persists the in-memory state. When the file cannot be written the
// in-memory state is rolled back to the last persisted copy so a failed
// write leaves no trace.
func (s *Store) commit() error {
	err := s.persist()
	if err == nil {
		return nil
	}
	if lerr := s.load(); lerr != nil {
		if !errors.Is(lerr, fs.ErrNotExist) {
			return errors.Join(err, lerr)
		}
		_ = s.mem.Restore(memory.Snapshot{})
	}
	return err
}

func (s *Store) EnsureMember(ctx context.Context, m core.MemberKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created, err := s.mem.EnsureMember(ctx, m)
	if err != nil || !created {
		return created, err
	}
	return true, s.commit()
}

func (s *Store) MemberExists(ctx context.Context, m core.MemberKey) (bool, error) {
	return s.mem.MemberExists(ctx, m)
}

func (s *Store) Append(ctx context.Context, e core.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, err := s.mem.Append(ctx, e)
	if err != nil {
		return 0, err
	}
	if err := s.commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) Sum(ctx context.Context, m core.MemberKey) (int64, error) {
	return s.mem.Sum(ctx, m)
}

func (s *Store) Sums(ctx context.Context, id core.CommunityID) ([]leaderboard.Entry, error) {
	return s.mem.Sums(ctx, id)
}

func (s *Store) Rank(ctx context.Context, id core.CommunityID, user core.UserID) (int, bool, error) {
	return s.mem.Rank(ctx, id, user)
}

func (s *Store) Range(ctx context.Context, id core.CommunityID, start, n int) ([]leaderboard.Entry, error) {
	return s.mem.Range(ctx, id, start, n)
}

func (s *Store) Len(ctx context.Context, id core.CommunityID) (int, error) {
	return s.mem.Len(ctx, id)
}

func (s *Store) Entries(ctx context.Context, m core.MemberKey) ([]core.LedgerEntry, error) {
	return s.mem.Entries(ctx, m)
}

func (s *Store) Reclaim(ctx context.Context, m core.MemberKey, opt core.ReclaimOption, actor *core.UserID) (core.LedgerEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, total, err := s.mem.Reclaim(ctx, m, opt, actor)
	if err != nil {
		return core.LedgerEntry{}, 0, err
	}
	if err := s.commit(); err != nil {
		return core.LedgerEntry{}, 0, err
	}
	return entry, total, nil
}

func (s *Store) CommunitySettings(ctx context.Context, id core.CommunityID) (core.CommunitySettings, error) {
	return s.mem.CommunitySettings(ctx, id)
}

func (s *Store) SetLevelCurve(ctx context.Context, id core.CommunityID, curve core.LevelCurve) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SetLevelCurve(ctx, id, curve); err != nil {
		return err
	}
	return s.commit()
}

func (s *Store) SetLogChannel(ctx context.Context, id core.CommunityID, ch *core.ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SetLogChannel(ctx, id, ch); err != nil {
		return err
	}
	return s.commit()
}

func (s *Store) Rewards(ctx context.Context, id core.CommunityID) ([]core.RewardThreshold, error) {
	return s.mem.Rewards(ctx, id)
}

func (s *Store) UpsertReward(ctx context.Context, id core.CommunityID, r core.RewardThreshold) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	isNew, err := s.mem.UpsertReward(ctx, id, r)
	if err != nil {
		return false, err
	}
	return isNew, s.commit()
}

func (s *Store) RemoveReward(ctx context.Context, id core.CommunityID, role core.RoleID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.mem.RemoveReward(ctx, id, role)
	if err != nil || !removed {
		return removed, err
	}
	return true, s.commit()
}

func (s *Store) Exemptions(ctx context.Context, id core.CommunityID) (core.ExemptionSet, error) {
	return s.mem.Exemptions(ctx, id)
}

func (s *Store) SetExempt(ctx context.Context, id core.CommunityID, kind core.ExemptionKind, key string, exempt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SetExempt(ctx, id, kind, key, exempt); err != nil {
		return err
	}
	return s.commit()
}
