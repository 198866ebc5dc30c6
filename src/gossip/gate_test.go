package gossip

import (
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/braidnetworks/braid/src/common"
	"github.com/braidnetworks/braid/src/crypto/keys"
	"github.com/braidnetworks/braid/src/graph"
	"github.com/braidnetworks/braid/src/peers"
)

// testMember bundles a key pair with its Peer record.
type testMember struct {
	key  *ecdsa.PrivateKey
	peer *peers.Peer
}

func newTestMember(t testing.TB, moniker string) *testMember {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	peer := peers.NewPeer(keys.PublicKeyHex(&key.PublicKey), "", moniker)
	return &testMember{key: key, peer: peer}
}

func (m *testMember) id() uint32 {
	return m.peer.ID()
}

// newEvent builds and signs an event created by this member.
func (m *testMember) newEvent(
	t testing.TB,
	selfParent, otherParent *graph.Event,
	at time.Time,
	txs [][]byte,
) *graph.Event {
	ev := graph.NewEvent(m.id(), selfParent, otherParent, at, txs)
	if err := ev.Sign(m.key); err != nil {
		t.Fatal(err)
	}
	return ev
}

type gateFixture struct {
	index    *graph.InmemIndex
	gens     *graph.Generations
	stats    *Stats
	gate     *Gate
	admitted []*graph.Event
}

func newGateFixture(t testing.TB, ps *peers.PeerSet, maxPayload int) *gateFixture {
	f := &gateFixture{
		index: graph.NewInmemIndex(),
		gens:  graph.NewGenerations(),
		stats: NewStats(nil),
	}
	f.gate = NewGate(
		f.index,
		f.gens,
		func() *peers.PeerSet { return ps },
		IntakeFunc(func(ev *graph.Event) { f.admitted = append(f.admitted, ev) }),
		maxPayload,
		f.stats,
		common.NewTestEntry(t),
	)
	return f
}

func (f *gateFixture) admit(t testing.TB, ev *graph.Event) EventStatus {
	wire := ev.ToWire()
	_, status := f.gate.Admit(&wire)
	return status
}

// seed inserts an event directly, bypassing the gate, as if it had been
// created locally.
func (f *gateFixture) seed(t testing.TB, ev *graph.Event) {
	if err := f.index.InsertEvent(ev); err != nil {
		t.Fatal(err)
	}
	f.gens.ExtendMax(ev.Generation())
}

func TestGateAdmitValid(t *testing.T) {
	m := newTestMember(t, "alice")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{m.peer}), 1024)

	ev := m.newEvent(t, nil, nil, time.Now(), [][]byte{[]byte("tx")})

	if status := f.admit(t, ev); status != Valid {
		t.Fatalf("status %s, want VALID", status)
	}
	if !f.index.ContainsHash(ev.Hex()) {
		t.Fatal("admitted event not in index")
	}
	if len(f.admitted) != 1 || f.admitted[0].Hex() != ev.Hex() {
		t.Fatalf("intake saw %d events", len(f.admitted))
	}
	if max := f.gens.Bounds().Max; max != graph.FirstGeneration {
		t.Fatalf("max generation %d, want %d", max, graph.FirstGeneration)
	}
}

func TestGateZeroStake(t *testing.T) {
	alice := newTestMember(t, "alice")
	stranger := newTestMember(t, "stranger")
	drained := newTestMember(t, "drained")
	drained.peer.Stake = 0

	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{alice.peer, drained.peer}), 1024)

	ev := stranger.newEvent(t, nil, nil, time.Now(), nil)
	if status := f.admit(t, ev); status != InvalidZeroStakeNode {
		t.Fatalf("unknown creator: status %s, want INVALID_ZERO_STAKE_NODE", status)
	}

	ev = drained.newEvent(t, nil, nil, time.Now(), nil)
	if status := f.admit(t, ev); status != InvalidZeroStakeNode {
		t.Fatalf("zero-stake creator: status %s, want INVALID_ZERO_STAKE_NODE", status)
	}

	if len(f.admitted) != 0 {
		t.Fatalf("intake saw %d events, want 0", len(f.admitted))
	}
}

func TestGateCreationTime(t *testing.T) {
	m := newTestMember(t, "alice")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{m.peer}), 1024)

	at := time.Now()
	parent := m.newEvent(t, nil, nil, at, nil)
	f.seed(t, parent)

	// not strictly after the resident self-parent
	child := m.newEvent(t, parent, nil, at, nil)
	if status := f.admit(t, child); status != InvalidCreationTime {
		t.Fatalf("equal time: status %s, want INVALID_CREATION_TIME", status)
	}

	child = m.newEvent(t, parent, nil, at.Add(-time.Second), nil)
	if status := f.admit(t, child); status != InvalidCreationTime {
		t.Fatalf("earlier time: status %s, want INVALID_CREATION_TIME", status)
	}

	child = m.newEvent(t, parent, nil, at.Add(time.Nanosecond), nil)
	if status := f.admit(t, child); status != Valid {
		t.Fatalf("later time: status %s, want VALID", status)
	}
}

func TestGateTransactionsSize(t *testing.T) {
	m := newTestMember(t, "alice")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{m.peer}), 10)

	ev := m.newEvent(t, nil, nil, time.Now(), [][]byte{make([]byte, 11)})
	if status := f.admit(t, ev); status != InvalidTransactionsSize {
		t.Fatalf("status %s, want INVALID_TRANSACTIONS_SIZE", status)
	}

	ev = m.newEvent(t, nil, nil, time.Now(), [][]byte{make([]byte, 10)})
	if status := f.admit(t, ev); status != Valid {
		t.Fatalf("payload at the limit: status %s, want VALID", status)
	}
}

func TestGateDuplicate(t *testing.T) {
	m := newTestMember(t, "alice")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{m.peer}), 1024)

	ev := m.newEvent(t, nil, nil, time.Now(), nil)

	if status := f.admit(t, ev); status != Valid {
		t.Fatalf("first admit: status %s, want VALID", status)
	}
	if status := f.admit(t, ev); status != InvalidDuplicateEvent {
		t.Fatalf("second admit: status %s, want INVALID_DUPLICATE_EVENT", status)
	}

	if len(f.admitted) != 1 {
		t.Fatalf("intake saw %d events, want 1", len(f.admitted))
	}
	if got := testutil.ToFloat64(f.stats.Duplicates); got != 1 {
		t.Fatalf("duplicate counter %f, want 1", got)
	}
}

func TestGateMissingParents(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer}), 1024)

	aliceGenesis := alice.newEvent(t, nil, nil, time.Now(), nil)
	bobGenesis := bob.newEvent(t, nil, nil, time.Now(), nil)

	// self-parent claimed but never delivered
	child := alice.newEvent(t, aliceGenesis, nil, time.Now().Add(time.Second), nil)
	if status := f.admit(t, child); status != InvalidMissingSelfParent {
		t.Fatalf("status %s, want INVALID_MISSING_SELF_PARENT", status)
	}

	// other-parent claimed but never delivered
	child = alice.newEvent(t, nil, bobGenesis, time.Now(), nil)
	if status := f.admit(t, child); status != InvalidMissingOtherParent {
		t.Fatalf("status %s, want INVALID_MISSING_OTHER_PARENT", status)
	}

	// once the parents arrive, the same children go through
	if status := f.admit(t, aliceGenesis); status != Valid {
		t.Fatalf("status %s, want VALID", status)
	}
	if status := f.admit(t, bobGenesis); status != Valid {
		t.Fatalf("status %s, want VALID", status)
	}
	child = alice.newEvent(t, aliceGenesis, bobGenesis, time.Now().Add(time.Second), nil)
	if status := f.admit(t, child); status != Valid {
		t.Fatalf("status %s, want VALID", status)
	}
}

func TestGateForgedParentGeneration(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer}), 1024)

	aliceGenesis := alice.newEvent(t, nil, nil, time.Now(), nil)
	bobGenesis := bob.newEvent(t, nil, nil, time.Now(), nil)
	f.seed(t, aliceGenesis)
	f.seed(t, bobGenesis)

	// the self-parent is resident at generation 1, but the child claims it
	// at generation 1000000 and signs over the claim
	forged := graph.NewEvent(alice.id(), aliceGenesis, bobGenesis,
		time.Now().Add(time.Second), nil)
	forged.Hashed.SelfParentGen = 1000000
	if err := forged.Sign(alice.key); err != nil {
		t.Fatal(err)
	}

	if status := f.admit(t, forged); status != InvalidMissingSelfParent {
		t.Fatalf("inflated self-parent claim: status %s, want INVALID_MISSING_SELF_PARENT", status)
	}
	if max := f.gens.Bounds().Max; max != graph.FirstGeneration {
		t.Fatalf("max generation %d after rejection, want %d", max, graph.FirstGeneration)
	}

	// the honest claim still goes through
	child := alice.newEvent(t, aliceGenesis, bobGenesis,
		time.Now().Add(time.Second), nil)
	if status := f.admit(t, child); status != Valid {
		t.Fatalf("status %s, want VALID", status)
	}
	if max := f.gens.Bounds().Max; max != child.Generation() {
		t.Fatalf("max generation %d, want %d", max, child.Generation())
	}

	// a deflated claim is just as wrong as an inflated one: child is
	// resident at generation 2, the forgery claims it one lower
	forged = graph.NewEvent(bob.id(), bobGenesis, child,
		time.Now().Add(2*time.Second), nil)
	forged.Hashed.OtherParentGen = child.Generation() - 1
	if err := forged.Sign(bob.key); err != nil {
		t.Fatal(err)
	}
	if status := f.admit(t, forged); status != InvalidMissingOtherParent {
		t.Fatalf("deflated other-parent claim: status %s, want INVALID_MISSING_OTHER_PARENT", status)
	}

	if len(f.admitted) != 1 {
		t.Fatalf("intake saw %d events, want 1", len(f.admitted))
	}
}

func TestGateAncientParent(t *testing.T) {
	m := newTestMember(t, "alice")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{m.peer}), 1024)

	parent := m.newEvent(t, nil, nil, time.Now(), nil)
	child := m.newEvent(t, parent, nil, time.Now().Add(time.Second), nil)

	// the parent's claimed generation is below the pruning horizon, so its
	// absence is legitimate and the link stays unresolved
	f.gens.AdvanceMin(parent.Generation() + 1)

	event, status := func() (*graph.Event, EventStatus) {
		wire := child.ToWire()
		return f.gate.Admit(&wire)
	}()
	if status != Valid {
		t.Fatalf("status %s, want VALID", status)
	}
	if event.SelfParent() != nil {
		t.Fatal("expired parent should not resolve")
	}
	if !event.HasSelfParent() {
		t.Fatal("claimed parent lost in admission")
	}
}

func TestGateBadSignature(t *testing.T) {
	alice := newTestMember(t, "alice")
	bob := newTestMember(t, "bob")
	f := newGateFixture(t, peers.NewPeerSet([]*peers.Peer{alice.peer, bob.peer}), 10)

	// signed with the wrong key
	ev := graph.NewEvent(alice.id(), nil, nil, time.Now(), nil)
	if err := ev.Sign(bob.key); err != nil {
		t.Fatal(err)
	}
	if status := f.admit(t, ev); status != InvalidEventSignature {
		t.Fatalf("status %s, want INVALID_EVENT_SIGNATURE", status)
	}
	if got := testutil.ToFloat64(f.stats.BadSignatures); got != 1 {
		t.Fatalf("bad signature counter %f, want 1", got)
	}

	// signature verification runs last: a cheaper check wins when both fail
	ev = graph.NewEvent(alice.id(), nil, nil, time.Now(), [][]byte{make([]byte, 11)})
	if err := ev.Sign(bob.key); err != nil {
		t.Fatal(err)
	}
	if status := f.admit(t, ev); status != InvalidTransactionsSize {
		t.Fatalf("status %s, want INVALID_TRANSACTIONS_SIZE", status)
	}
}
