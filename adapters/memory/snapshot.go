package memory

import (
	"fmt"
	"slices"

	"levelkit/core"
)

// Snapshot is a point-in-time copy of a Store, used by file-backed stores.
type Snapshot struct {
	Communities map[core.CommunityID]CommunitySnapshot `json:"communities"`
}

// CommunitySnapshot holds one community's settings and ledger.
type CommunitySnapshot struct {
	Curve      *core.LevelCurve       `json:"curve,omitempty"`
	LogChannel *core.ChannelID        `json:"log_channel_id,omitempty"`
	Rewards    []core.RewardThreshold `json:"rewards,omitempty"`
	Exemptions core.ExemptionSet      `json:"exemptions"`
	Ledger     []core.LedgerEntry     `json:"ledger"`
}

// Snapshot copies the store. Each member's ledger is copied atomically;
// the snapshot as a whole is not a single consistent cut.
func (s *Store) Snapshot() Snapshot {
	out := Snapshot{Communities: map[core.CommunityID]CommunitySnapshot{}}
	s.communities.Range(func(k, v any) bool {
		c := v.(*community)
		c.mu.RLock()
		cs := CommunitySnapshot{
			Curve:      c.curve,
			LogChannel: c.logChannel,
			Rewards:    slices.Clone(c.rewards),
			Exemptions: c.exempt.Clone(),
		}
		c.mu.RUnlock()
		c.members.Range(func(_, mv any) bool {
			rec := mv.(*memberRecord)
			rec.mu.Lock()
			cs.Ledger = append(cs.Ledger, rec.entries...)
			rec.mu.Unlock()
			return true
		})
		out.Communities[k.(core.CommunityID)] = cs
		return true
	})
	return out
}

// Restore replaces the contents of the store with snap. The ledger is
// replayed in order so every member total is rebuilt as a fold. A snapshot
// with malformed entries is rejected before the store is touched.
func (s *Store) Restore(snap Snapshot) error {
	for id, cs := range snap.Communities {
		for i, e := range cs.Ledger {
			switch {
			case !e.Kind.Valid():
				return fmt.Errorf("community %s: ledger entry %d has unknown kind %q", id, i, e.Kind)
			case e.Community != id || e.User == "":
				return fmt.Errorf("community %s: ledger entry %d belongs to %q/%q", id, i, e.Community, e.User)
			}
		}
	}
	s.communities.Clear()
	for id, cs := range snap.Communities {
		c := s.community(id)
		c.curve = cs.Curve
		c.logChannel = cs.LogChannel
		c.rewards = slices.Clone(cs.Rewards)
		c.exempt = cs.Exemptions.Clone()
		for _, e := range cs.Ledger {
			rec := c.getOrCreate(e.User)
			rec.mu.Lock()
			_, err := c.appendLocked(rec, e)
			rec.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
	return nil
}
