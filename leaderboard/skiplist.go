package leaderboard

import (
	"math/rand/v2"
	"sync"

	"levelkit/core"
)

const (
	maxHeight = 16
	promote   = 0.25
)

// link is one forward pointer. span counts the level-0 steps it covers;
// a nil link's span runs to the end of the list.
type link struct {
	to   *node
	span int
}

type node struct {
	entry Entry
	links []link
}

// SkipList is an indexable skip list ordered by score descending, then user
// id ascending. Spans on every link make Rank and Range O(log n). Members
// are never removed; a score change relinks the node.
type SkipList struct {
	mu     sync.RWMutex
	head   *node
	height int
	size   int
	nodes  map[core.UserID]*node
}

func NewSkipList() *SkipList {
	return &SkipList{
		head:   &node{links: make([]link, maxHeight)},
		height: 1,
		nodes:  make(map[core.UserID]*node),
	}
}

func randomHeight() int {
	h := 1
	for h < maxHeight && rand.Float64() < promote {
		h++
	}
	return h
}

// descend records, for every level, the last node ordered before e and its
// zero-based level-0 position (head is 0).
func (s *SkipList) descend(e Entry) (prev [maxHeight]*node, pos [maxHeight]int) {
	at, steps := s.head, 0
	for lv := s.height - 1; lv >= 0; lv-- {
		for l := at.links[lv]; l.to != nil && less(l.to.entry, e); l = at.links[lv] {
			steps += l.span
			at = l.to
		}
		prev[lv], pos[lv] = at, steps
	}
	return prev, pos
}

// Update sets user's score, inserting the user if needed.
func (s *SkipList) Update(user core.UserID, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(user, score)
}

func (s *SkipList) put(user core.UserID, score int64) {
	if n, ok := s.nodes[user]; ok {
		if n.entry.Score == score {
			return
		}
		s.unlink(n)
	}

	e := Entry{User: user, Score: score}
	prev, pos := s.descend(e)
	h := randomHeight()
	for lv := s.height; lv < h; lv++ {
		prev[lv], pos[lv] = s.head, 0
		s.head.links[lv].span = s.size
	}
	s.height = max(s.height, h)

	n := &node{entry: e, links: make([]link, h)}
	for lv := range h {
		before := prev[lv].links[lv]
		gap := pos[0] - pos[lv]
		n.links[lv] = link{to: before.to, span: before.span - gap}
		prev[lv].links[lv] = link{to: n, span: gap + 1}
	}
	for lv := h; lv < s.height; lv++ {
		prev[lv].links[lv].span++
	}
	s.nodes[user] = n
	s.size++
}

func (s *SkipList) unlink(n *node) {
	prev, _ := s.descend(n.entry)
	if prev[0].links[0].to != n {
		return
	}
	for lv := range s.height {
		l := &prev[lv].links[lv]
		if l.to == n {
			l.to = n.links[lv].to
			l.span += n.links[lv].span - 1
		} else {
			l.span--
		}
	}
	for s.height > 1 && s.head.links[s.height-1].to == nil {
		s.height--
	}
	delete(s.nodes, n.entry.User)
	s.size--
}

// Rank returns the zero-based position of user.
func (s *SkipList) Rank(user core.UserID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[user]
	if !ok {
		return 0, false
	}
	_, pos := s.descend(n.entry)
	return pos[0], true
}

// Range returns up to n entries starting at zero-based position start.
func (s *SkipList) Range(start, n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || start < 0 || start >= s.size {
		return nil
	}
	at, steps := s.head, 0
	for lv := s.height - 1; lv >= 0; lv-- {
		for l := at.links[lv]; l.to != nil && steps+l.span <= start; l = at.links[lv] {
			steps += l.span
			at = l.to
		}
	}
	out := make([]Entry, 0, min(n, s.size-start))
	for at = at.links[0].to; at != nil && len(out) < n; at = at.links[0].to {
		out = append(out, at.entry)
	}
	return out
}

// Len returns the number of entries.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Entries returns every entry in rank order.
func (s *SkipList) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, s.size)
	for at := s.head.links[0].to; at != nil; at = at.links[0].to {
		out = append(out, at.entry)
	}
	return out
}
