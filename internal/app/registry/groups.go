package registry

import "sync"

// Groups indexes group ids to their subscriber sets. A user appears in
// a set only between a join and the matching leave; groups whose set
// drains are deleted so the map does not grow over the process
// lifetime.
type Groups struct {
	mu   sync.RWMutex
	subs map[int64]map[int64]struct{}
}

func NewGroups() *Groups {
	return &Groups{
		subs: make(map[int64]map[int64]struct{}),
	}
}

// Join adds the user to the group's subscriber set, creating the set
// if absent.
func (g *Groups) Join(groupID, userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subs[groupID] == nil {
		g.subs[groupID] = make(map[int64]struct{})
	}
	g.subs[groupID][userID] = struct{}{}
}

// Leave removes the user from every group's subscriber set and deletes
// groups left empty. Idempotent: leaving with no subscriptions is a
// no-op.
func (g *Groups) Leave(userID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for groupID, set := range g.subs {
		delete(set, userID)
		if len(set) == 0 {
			delete(g.subs, groupID)
		}
	}
}

// Snapshot returns the subscriber set at the moment of the call, nil
// for an unknown group. The copy keeps fan-out iteration clear of the
// lock.
func (g *Groups) Snapshot(groupID int64) []int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set, ok := g.subs[groupID]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	return out
}

// Contains reports whether the user is subscribed to the group.
func (g *Groups) Contains(groupID, userID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.subs[groupID][userID]
	return ok
}

// Len reports the number of groups with at least one subscriber.
func (g *Groups) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs)
}
