package graph

import (
	"testing"

	cm "github.com/braidnetworks/braid/src/common"
)

func TestBadgerIndexReload(t *testing.T) {
	path := t.TempDir() + "/badger"

	index, err := NewBadgerIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if index.NeedBootstrap() {
		t.Fatal("a fresh database should not need bootstrap")
	}

	g1 := NewEvent(1, nil, nil, testTime(0), nil)
	g2 := NewEvent(2, nil, nil, testTime(0), nil)
	e1 := NewEvent(1, g1, g2, testTime(1), [][]byte{[]byte("tx")})

	for _, ev := range []*Event{g1, g2, e1} {
		if err := index.InsertEvent(ev); err != nil {
			t.Fatal(err)
		}
	}

	if err := index.Close(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadBadgerIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()

	if !reloaded.NeedBootstrap() {
		t.Fatal("a reloaded database should report bootstrap")
	}
	if reloaded.Count() != 3 {
		t.Fatalf("reloaded count = %d, want 3", reloaded.Count())
	}

	// parent links are resolved against the rebuilt index
	got, err := reloaded.GetEvent(e1.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if got.SelfParent() == nil || got.SelfParent().Hex() != g1.Hex() {
		t.Fatal("self-parent link not rebuilt")
	}
	if got.OtherParent() == nil || got.OtherParent().Hex() != g2.Hex() {
		t.Fatal("other-parent link not rebuilt")
	}
	if len(got.Transactions()) != 1 {
		t.Fatal("payload lost across reload")
	}

	// insertion order survives: the tip set matches the original
	tips := reloaded.Tips()
	if len(tips) != 1 || tips[0].Hex() != e1.Hex() {
		t.Fatalf("reloaded tip set wrong, %d tips", len(tips))
	}

	if !reloaded.ContainsHash(g1.Hex()) {
		t.Fatal("g1 missing after reload")
	}
	if _, err := reloaded.GetEvent("0Xdeadbeef"); !cm.IsStore(err, cm.KeyNotFound) {
		t.Fatalf("expected KeyNotFound, got %v", err)
	}
}

func TestLoadBadgerIndexMissing(t *testing.T) {
	if _, err := LoadBadgerIndex(t.TempDir() + "/nothing"); err == nil {
		t.Fatal("loading a nonexistent database should fail")
	}
}
