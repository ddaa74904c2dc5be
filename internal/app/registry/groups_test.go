package registry_test

import (
	"sort"
	"testing"

	"github.com/alexgthegreat/StudySync-22/internal/app/registry"
)

func TestJoinSnapshotContains(t *testing.T) {
	g := registry.NewGroups()

	if got := g.Snapshot(42); got != nil {
		t.Fatalf("Snapshot of unknown group = %v, want nil", got)
	}
	g.Join(42, 1)
	g.Join(42, 2)
	g.Join(7, 1)

	subs := g.Snapshot(42)
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	if len(subs) != 2 || subs[0] != 1 || subs[1] != 2 {
		t.Errorf("Snapshot(42) = %v, want [1 2]", subs)
	}
	if !g.Contains(42, 1) || !g.Contains(7, 1) {
		t.Error("Contains did not report joined groups")
	}
	if g.Contains(42, 3) {
		t.Error("Contains reported a user that never joined")
	}
}

func TestLeaveRemovesEverywhereAndCollectsEmptyGroups(t *testing.T) {
	g := registry.NewGroups()
	g.Join(42, 1)
	g.Join(42, 2)
	g.Join(7, 1)

	g.Leave(1)
	if g.Contains(42, 1) || g.Contains(7, 1) {
		t.Error("user 1 still subscribed after Leave")
	}
	if got := g.Snapshot(42); len(got) != 1 || got[0] != 2 {
		t.Errorf("Snapshot(42) after leave = %v, want [2]", got)
	}
	// Group 7 drained, so it must be gone entirely.
	if g.Len() != 1 {
		t.Errorf("group count = %d, want 1", g.Len())
	}

	g.Leave(2)
	if g.Len() != 0 {
		t.Errorf("group count after all leaves = %d, want 0", g.Len())
	}
	if got := g.Snapshot(42); got != nil {
		t.Errorf("Snapshot(42) after drain = %v, want nil", got)
	}
}

func TestLeaveUnknownUserIsNoop(t *testing.T) {
	g := registry.NewGroups()
	g.Join(42, 1)
	g.Leave(99)
	if !g.Contains(42, 1) {
		t.Error("Leave of an unknown user disturbed existing subscriptions")
	}
}

func TestJoinIsIdempotentPerUser(t *testing.T) {
	g := registry.NewGroups()
	g.Join(42, 1)
	g.Join(42, 1)
	if got := g.Snapshot(42); len(got) != 1 {
		t.Errorf("Snapshot(42) = %v, want a single entry", got)
	}
}
