package leaderboard

import (
	"math/rand/v2"
	"sync"

	"habitquest/core"
)

const (
	maxLevel = 16
	pFactor  = 0.25
)

// node.span[i] counts the level-0 hops from the node to next[i]. The spans
// let Rank add up its position on the way down instead of walking level 0.
type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

// SkipList is an indexable skip list ordered by score desc, then ReachedAt
// asc, then actor id. Updates and rank lookups are O(log n).
type SkipList struct {
	mu      sync.RWMutex
	head    *node
	lvl     int
	length  int
	byActor map[core.ActorID]*node
	rng     *rand.Rand
}

func NewSkipList() *SkipList {
	return &SkipList{
		head:    &node{},
		lvl:     1,
		byActor: map[core.ActorID]*node{},
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func less(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.ReachedAt.Equal(b.ReachedAt) {
		return a.ReachedAt.Before(b.ReachedAt)
	}
	return a.Actor < b.Actor
}

// Record inserts e, replacing any previous entry for the same actor.
func (s *SkipList) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byActor[e.Actor]; ok {
		s.removeLocked(old.e)
	}

	var update [maxLevel]*node
	var rank [maxLevel]int
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}

	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
			s.head.span[i] = s.length
		}
		s.lvl = lvl
	}

	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	s.byActor[e.Actor] = n
	s.length++
}

func (s *SkipList) removeLocked(e Entry) {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.Actor != e.Actor {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
	delete(s.byActor, e.Actor)
	s.length--
}

func (s *SkipList) Remove(actor core.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byActor[actor]; ok {
		s.removeLocked(n.e)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, min(n, s.length))
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

func (s *SkipList) Get(actor core.ActorID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byActor[actor]; ok {
		return n.e, true
	}
	return Entry{}, false
}

func (s *SkipList) Rank(actor core.ActorID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byActor[actor]
	if !ok {
		return 0
	}
	rank := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && !less(n.e, cur.next[i].e) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur == n {
			return rank
		}
	}
	return 0
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

var _ Board = (*SkipList)(nil)
