package gossip

import (
	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/graph"
	"github.com/braidnetworks/braid/src/peers"
)

// Intake is the downstream consumer of admitted events. Accept is
// fire-and-forget from the gate's point of view; if the consumer applies
// backpressure, the session's read side slows down with it.
type Intake interface {
	Accept(event *graph.Event)
}

// IntakeFunc adapts a function to the Intake interface.
type IntakeFunc func(event *graph.Event)

// Accept implements Intake.
func (f IntakeFunc) Accept(event *graph.Event) { f(event) }

/*
Gate is the event admission gate. Every inbound event, whatever its ingress
path, goes through Admit before it can reach the ancestry index or the
downstream intake. The checks run in a fixed order, cheapest first,
signature verification last; the first failing check decides the status.

Rejections are silent at the protocol level. The sending peer is never
notified, the session carries on, and the only trace is a debug log line
and a statistics increment. This is deliberate: rejections occur benignly
under normal operation, eg. when two concurrent sessions race to deliver
the same event, or when an event goes ancient while in flight.
*/
type Gate struct {
	index   graph.Index
	gens    *graph.Generations
	peerSet func() *peers.PeerSet
	intake  Intake

	maxPayload int

	stats  *Stats
	logger *logrus.Entry
}

// NewGate instantiates a Gate. peerSet is a provider rather than a fixed
// set because the membership view can change between events.
func NewGate(
	index graph.Index,
	gens *graph.Generations,
	peerSet func() *peers.PeerSet,
	intake Intake,
	maxPayload int,
	stats *Stats,
	logger *logrus.Entry,
) *Gate {
	return &Gate{
		index:      index,
		gens:       gens,
		peerSet:    peerSet,
		intake:     intake,
		maxPayload: maxPayload,
		stats:      stats,
		logger:     logger,
	}
}

// Admit validates a wire event and, if it passes, links it to its resident
// parents, inserts it in the ancestry index, and hands it to the intake
// consumer. The intake sees a given event hash at most once, across all
// concurrent sessions. Any status other than Valid means the event was
// dropped and no state was retained.
func (g *Gate) Admit(wire *graph.WireEvent) (*graph.Event, EventStatus) {
	event, status := g.Validate(wire)
	if status != Valid {
		g.reject(event, status)
		return nil, status
	}

	// two sessions can race to admit the same event; the index insert is
	// the arbiter, and the loser counts as a duplicate
	if err := g.index.InsertEvent(event); err != nil {
		g.reject(event, InvalidDuplicateEvent)
		return nil, InvalidDuplicateEvent
	}

	g.gens.ExtendMax(event.Generation())
	g.intake.Accept(event)

	return event, Valid
}

// Validate runs the admission checks over a wire event without touching
// the index. On Valid the returned event has its resident parent links
// set. This is the standalone entry point for ingress paths that manage
// insertion themselves; sessions use Admit.
func (g *Gate) Validate(wire *graph.WireEvent) (*graph.Event, EventStatus) {
	event := wire.ToEvent()

	// zero-stake filter
	ps := g.peerSet()
	creator, ok := ps.ByID[event.CreatorID()]
	if !ok || creator.Stake == 0 {
		return event, InvalidZeroStakeNode
	}

	selfParent := g.residentParent(event.SelfParentHex())
	otherParent := g.residentParent(event.OtherParentHex())

	// creation-time monotonicity against the resident self-parent
	if selfParent != nil &&
		!event.Hashed.TimeCreated.After(selfParent.Hashed.TimeCreated) {
		return event, InvalidCreationTime
	}

	// transaction payload bound
	if event.PayloadSize() > g.maxPayload {
		return event, InvalidTransactionsSize
	}

	// duplicate check
	if g.index.ContainsHash(event.Hex()) {
		return event, InvalidDuplicateEvent
	}

	// parent presence: a parent is required if its claimed generation is
	// still non-ancient; an ancient parent is allowed to stay absent (it
	// has legitimately been expired) and the link remains nil. A resident
	// parent must also confirm the claimed generation: the claim is what
	// the child's own generation derives from, so a mismatch is treated
	// as an unresolvable parent. Otherwise a single signed event with an
	// inflated claim would drag the generation bounds arbitrarily far.
	minGen := g.gens.MinimumNonAncient()
	if event.HasSelfParent() {
		if selfParent == nil && event.Hashed.SelfParentGen >= minGen {
			return event, InvalidMissingSelfParent
		}
		if selfParent != nil &&
			selfParent.Generation() != event.Hashed.SelfParentGen {
			return event, InvalidMissingSelfParent
		}
	}
	if event.HasOtherParent() {
		if otherParent == nil && event.Hashed.OtherParentGen >= minGen {
			return event, InvalidMissingOtherParent
		}
		if otherParent != nil &&
			otherParent.Generation() != event.Hashed.OtherParentGen {
			return event, InvalidMissingOtherParent
		}
	}

	// signature verification, deliberately last
	pubKey := creator.PubKey()
	if pubKey == nil {
		return event, InvalidEventSignature
	}
	if ok, err := event.Verify(pubKey); err != nil || !ok {
		return event, InvalidEventSignature
	}

	event.SetParents(selfParent, otherParent)

	return event, Valid
}

func (g *Gate) residentParent(hex string) *graph.Event {
	if hex == "" {
		return nil
	}
	parent, err := g.index.GetEvent(hex)
	if err != nil {
		return nil
	}
	return parent
}

func (g *Gate) reject(event *graph.Event, status EventStatus) {
	g.stats.countRejection(status)
	g.logger.WithFields(logrus.Fields{
		"event":   event.Hex(),
		"creator": event.CreatorID(),
		"status":  status.String(),
	}).Debug("Event rejected")
}
