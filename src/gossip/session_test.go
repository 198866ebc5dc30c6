package gossip

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/braidnetworks/braid/src/common"
	"github.com/braidnetworks/braid/src/peers"
)

// sessionNode is one end of a test session: an engine over a private index,
// with recording stubs for the observer and creator hooks.
type sessionNode struct {
	member *testMember
	fix    *gateFixture
	engine *Engine

	mu      sync.Mutex
	created []uint32
	behind  []uint32
	cleared []uint32
}

func newSessionNode(t testing.TB, member *testMember, ps *peers.PeerSet) *sessionNode {
	n := &sessionNode{
		member: member,
		fix:    newGateFixture(t, ps, 1024),
	}
	n.engine = NewEngine(
		n.fix.index,
		n.fix.gens,
		n.fix.gate,
		n,
		n,
		2*time.Second,
		n.fix.stats,
		common.NewTestEntry(t),
	)
	return n
}

func (n *sessionNode) ReportSelfFallenBehind(peerID uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.behind = append(n.behind, peerID)
}

func (n *sessionNode) ClearSelfFallenBehind(peerID uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, peerID)
}

func (n *sessionNode) CreateEvent(otherPartyID uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, otherPartyID)
	return nil
}

func (n *sessionNode) createdCalls() []uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint32(nil), n.created...)
}

func (n *sessionNode) behindCalls() []uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint32(nil), n.behind...)
}

func (n *sessionNode) clearedCalls() []uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uint32(nil), n.cleared...)
}

// runPair executes one session between caller and listener over an in-memory
// pipe and returns both synced flags.
func runPair(t *testing.T, caller, listener *sessionNode, canAccept bool) (bool, bool) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	type result struct {
		synced bool
		err    error
	}
	listenerCh := make(chan result, 1)
	go func() {
		synced, err := listener.engine.RunSession(c2, caller.member.id(), Listener, canAccept)
		listenerCh <- result{synced, err}
	}()

	callerSynced, err := caller.engine.RunSession(c1, listener.member.id(), Caller, true)
	if err != nil {
		t.Fatalf("caller: %v", err)
	}

	lr := <-listenerCh
	if lr.err != nil {
		t.Fatalf("listener: %v", lr.err)
	}

	return callerSynced, lr.synced
}

func TestSessionTransfersMissingEvents(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	ps := peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer})

	at := time.Now()
	g := bob.newEvent(t, nil, nil, at, nil)
	e1 := bob.newEvent(t, g, nil, at.Add(time.Second), [][]byte{[]byte("tx")})

	a := newSessionNode(t, alice, ps)
	b := newSessionNode(t, bob, ps)

	// both hold g, only bob holds e1
	a.fix.seed(t, g)
	b.fix.seed(t, g)
	b.fix.seed(t, e1)

	callerSynced, listenerSynced := runPair(t, a, b, true)
	if !callerSynced || !listenerSynced {
		t.Fatalf("synced = (%v, %v), want (true, true)", callerSynced, listenerSynced)
	}

	if !a.fix.index.ContainsHash(e1.Hex()) {
		t.Fatal("caller did not receive the missing event")
	}
	if len(a.fix.admitted) != 1 || a.fix.admitted[0].Hex() != e1.Hex() {
		t.Fatalf("caller intake saw %d events", len(a.fix.admitted))
	}
	if len(b.fix.admitted) != 0 {
		t.Fatalf("listener intake saw %d events, want 0", len(b.fix.admitted))
	}

	// a fruitful sync on the receiving side records a new local event
	if calls := a.createdCalls(); len(calls) != 1 || calls[0] != bob.id() {
		t.Fatalf("caller CreateEvent calls = %v, want [%d]", calls, bob.id())
	}
	if calls := b.createdCalls(); len(calls) != 0 {
		t.Fatalf("listener CreateEvent calls = %v, want none", calls)
	}
}

func TestSessionIdempotent(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	ps := peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer})

	at := time.Now()
	g := bob.newEvent(t, nil, nil, at, nil)
	e1 := bob.newEvent(t, g, nil, at.Add(time.Second), nil)

	a := newSessionNode(t, alice, ps)
	b := newSessionNode(t, bob, ps)

	a.fix.seed(t, g)
	b.fix.seed(t, g)
	b.fix.seed(t, e1)

	runPair(t, a, b, true)

	admitted := len(a.fix.admitted)
	createdA := len(a.createdCalls())
	createdB := len(b.createdCalls())

	// the second session finds both graphs identical; nothing moves
	callerSynced, listenerSynced := runPair(t, a, b, true)
	if !callerSynced || !listenerSynced {
		t.Fatalf("synced = (%v, %v), want (true, true)", callerSynced, listenerSynced)
	}
	if len(a.fix.admitted) != admitted {
		t.Fatalf("caller admitted %d new events, want 0", len(a.fix.admitted)-admitted)
	}
	if len(a.createdCalls()) != createdA || len(b.createdCalls()) != createdB {
		t.Fatal("an empty sync should not create events")
	}
}

func TestSessionDeliversAncestorsFirst(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	ps := peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer})

	at := time.Now()
	g := bob.newEvent(t, nil, nil, at, nil)
	e1 := bob.newEvent(t, g, nil, at.Add(time.Second), nil)
	e2 := bob.newEvent(t, e1, nil, at.Add(2*time.Second), nil)
	e3 := bob.newEvent(t, e2, nil, at.Add(3*time.Second), nil)

	a := newSessionNode(t, alice, ps)
	b := newSessionNode(t, bob, ps)

	a.fix.seed(t, g)
	b.fix.seed(t, g)
	b.fix.seed(t, e1)
	b.fix.seed(t, e2)
	b.fix.seed(t, e3)

	runPair(t, a, b, true)

	want := []string{e1.Hex(), e2.Hex(), e3.Hex()}
	if len(a.fix.admitted) != len(want) {
		t.Fatalf("caller admitted %d events, want %d", len(a.fix.admitted), len(want))
	}
	for i, hex := range want {
		if a.fix.admitted[i].Hex() != hex {
			t.Fatalf("event %d out of order", i)
		}
	}
}

func TestSessionRejected(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	ps := peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer})

	at := time.Now()
	g := bob.newEvent(t, nil, nil, at, nil)
	e1 := bob.newEvent(t, g, nil, at.Add(time.Second), nil)

	a := newSessionNode(t, alice, ps)
	b := newSessionNode(t, bob, ps)

	a.fix.seed(t, g)
	b.fix.seed(t, g)
	b.fix.seed(t, e1)

	callerSynced, listenerSynced := runPair(t, a, b, false)
	if callerSynced || listenerSynced {
		t.Fatalf("synced = (%v, %v), want (false, false)", callerSynced, listenerSynced)
	}
	if len(a.fix.admitted) != 0 {
		t.Fatalf("caller admitted %d events after a rejected request", len(a.fix.admitted))
	}
}

func TestSessionFallenBehind(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	ps := peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer})

	a := newSessionNode(t, alice, ps)
	b := newSessionNode(t, bob, ps)

	// alice's whole window is ancient from bob's point of view
	a.fix.gens.AdvanceMin(10)
	a.fix.gens.ExtendMax(20)
	b.fix.gens.AdvanceMin(25)
	b.fix.gens.ExtendMax(40)

	callerSynced, listenerSynced := runPair(t, a, b, true)
	if !callerSynced || !listenerSynced {
		t.Fatalf("synced = (%v, %v), want (true, true)", callerSynced, listenerSynced)
	}

	if calls := a.behindCalls(); len(calls) != 1 || calls[0] != bob.id() {
		t.Fatalf("caller fallen-behind reports = %v, want [%d]", calls, bob.id())
	}
	if calls := b.behindCalls(); len(calls) != 0 {
		t.Fatalf("listener fallen-behind reports = %v, want none", calls)
	}

	// no events flow in either direction
	if len(a.fix.admitted) != 0 || len(b.fix.admitted) != 0 {
		t.Fatal("events exchanged despite divergence")
	}
	if len(a.createdCalls()) != 0 || len(b.createdCalls()) != 0 {
		t.Fatal("events created despite divergence")
	}

	// once alice's bounds catch up, the next session retracts the report
	a.fix.gens.AdvanceMin(25)
	a.fix.gens.ExtendMax(40)

	if callerSynced, listenerSynced = runPair(t, a, b, true); !callerSynced || !listenerSynced {
		t.Fatalf("synced = (%v, %v), want (true, true)", callerSynced, listenerSynced)
	}
	if calls := a.behindCalls(); len(calls) != 1 {
		t.Fatalf("caller fallen-behind reports = %v, want the single stale one", calls)
	}
	if calls := a.clearedCalls(); len(calls) != 1 || calls[0] != bob.id() {
		t.Fatalf("caller fallen-behind retractions = %v, want [%d]", calls, bob.id())
	}
}
