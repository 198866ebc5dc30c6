package graph

import (
	"testing"

	cm "github.com/braidnetworks/braid/src/common"
)

/*
buildTestGraph returns an index holding this graph, in insertion order
g1, g2, e1, e2:

	g1 (creator 1)   g2 (creator 2)
	 \      ........./
	  \    /
	   e1 (creator 1, other-parent g2)
	    \
	     e2 (creator 1)

e2 is the only tip: e1 displaced g1 and g2, and e2 displaced e1.
*/
func buildTestGraph(t *testing.T) (*InmemIndex, map[string]*Event) {
	t.Helper()

	idx := NewInmemIndex()

	g1 := NewEvent(1, nil, nil, testTime(0), nil)
	g2 := NewEvent(2, nil, nil, testTime(0), nil)
	e1 := NewEvent(1, g1, g2, testTime(1), nil)
	e2 := NewEvent(1, e1, nil, testTime(2), nil)

	events := map[string]*Event{"g1": g1, "g2": g2, "e1": e1, "e2": e2}

	for _, name := range []string{"g1", "g2", "e1", "e2"} {
		if err := idx.InsertEvent(events[name]); err != nil {
			t.Fatalf("inserting %s: %v", name, err)
		}
	}

	return idx, events
}

func TestInsertAndLookup(t *testing.T) {
	idx, events := buildTestGraph(t)

	if c := idx.Count(); c != 4 {
		t.Fatalf("count should be 4, not %d", c)
	}

	for name, ev := range events {
		if !idx.ContainsHash(ev.Hex()) {
			t.Fatalf("index should contain %s", name)
		}
		got, err := idx.GetEvent(ev.Hex())
		if err != nil {
			t.Fatalf("getting %s: %v", name, err)
		}
		if got != ev {
			t.Fatalf("got a different event for %s", name)
		}
	}

	if _, err := idx.GetEvent("0Xdeadbeef"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}

func TestInsertDuplicate(t *testing.T) {
	idx, events := buildTestGraph(t)

	err := idx.InsertEvent(events["g1"])
	if !cm.IsStore(err, cm.KeyAlreadyExists) {
		t.Fatalf("expected KeyAlreadyExists, got %v", err)
	}
}

func TestTips(t *testing.T) {
	idx, events := buildTestGraph(t)

	tips := idx.Tips()
	if len(tips) != 1 {
		t.Fatalf("expected 1 tip, got %d", len(tips))
	}
	if tips[0] != events["e2"] {
		t.Fatalf("tip should be e2, not %s", tips[0].Hex())
	}

	//g2 regains creator 2's tip slot as soon as creator 2 catches up
	e3 := NewEvent(2, events["g2"], events["e2"], testTime(3), nil)
	if err := idx.InsertEvent(e3); err != nil {
		t.Fatal(err)
	}

	tips = idx.Tips()
	if len(tips) != 1 || tips[0] != e3 {
		t.Fatal("e3 should be the only tip: it descends from both previous tips")
	}

	tip, ok := idx.TipOf(2)
	if !ok || tip != e3 {
		t.Fatal("TipOf(2) should return e3")
	}
	if _, ok := idx.TipOf(99); ok {
		t.Fatal("TipOf should report no tip for an unknown creator")
	}
}

func TestAncestorsExcluding(t *testing.T) {
	idx, events := buildTestGraph(t)

	//peer knows nothing: everything is missing, ancestors first
	missing := idx.AncestorsExcluding(map[string]bool{}, 0)
	if len(missing) != 4 {
		t.Fatalf("expected 4 events, got %d", len(missing))
	}
	pos := make(map[string]int)
	for i, ev := range missing {
		pos[ev.Hex()] = i
	}
	if pos[events["g1"].Hex()] > pos[events["e1"].Hex()] ||
		pos[events["g2"].Hex()] > pos[events["e1"].Hex()] ||
		pos[events["e1"].Hex()] > pos[events["e2"].Hex()] {
		t.Fatal("ancestors must come before descendants")
	}

	//peer knows e1: the closure covers g1 and g2 as well
	missing = idx.AncestorsExcluding(map[string]bool{events["e1"].Hex(): true}, 0)
	if len(missing) != 1 || missing[0] != events["e2"] {
		t.Fatalf("expected only e2, got %d events", len(missing))
	}

	//the floor drops events the peer considers ancient
	missing = idx.AncestorsExcluding(map[string]bool{}, 2)
	for _, ev := range missing {
		if ev.Generation() < 2 {
			t.Fatalf("event %s below the floor was included", ev.Hex())
		}
	}
	if len(missing) != 2 {
		t.Fatalf("expected e1 and e2 above the floor, got %d events", len(missing))
	}
}

func TestExpire(t *testing.T) {
	idx, events := buildTestGraph(t)

	removed := idx.Expire(3)
	//g1, g2 (gen 1) and e1 (gen 2) are below the boundary; all of them have
	//children, so all three go
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}

	if _, err := idx.GetEvent(events["e1"].Hex()); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatal("e1 should have been expired")
	}
	//an expired hash keeps reading as known, so a re-delivered ancient
	//event is not admitted twice
	if !idx.ContainsHash(events["e1"].Hex()) {
		t.Fatal("expired e1 should still be recognized")
	}
	if !idx.ContainsHash(events["e2"].Hex()) {
		t.Fatal("e2 should have survived")
	}

	//the survivor's dangling parent link must be severed, while the claimed
	//parent generation remains
	e2 := events["e2"]
	if e2.SelfParent() != nil {
		t.Fatal("e2's self-parent link should be severed")
	}
	if !e2.HasSelfParent() {
		t.Fatal("e2 should still claim a self-parent")
	}
}

func TestExpireKeepsChildlessTips(t *testing.T) {
	idx := NewInmemIndex()

	stalled := NewEvent(7, nil, nil, testTime(0), nil)
	if err := idx.InsertEvent(stalled); err != nil {
		t.Fatal(err)
	}

	if removed := idx.Expire(100); removed != 0 {
		t.Fatalf("a childless tip must survive expiry, %d removed", removed)
	}
	if _, ok := idx.TipOf(7); !ok {
		t.Fatal("stalled creator should still be advertised")
	}
}
