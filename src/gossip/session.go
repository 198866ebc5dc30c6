package gossip

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/common"
	"github.com/braidnetworks/braid/src/graph"
)

// Role distinguishes the two halves of a gossip session.
type Role int

const (
	// Caller is the side that initiated the session.
	Caller Role = iota

	// Listener is the side that accepted the inbound connection.
	Listener
)

func (r Role) String() string {
	if r == Caller {
		return "caller"
	}
	return "listener"
}

// Observer is notified when a session learns that the local node has fallen
// behind a peer, and when a later session with that peer completes without
// the condition. What to do about it (reconnect, fast-forward, suspend) is
// the observer's business, not the session's.
type Observer interface {
	ReportSelfFallenBehind(peerID uint32)
	ClearSelfFallenBehind(peerID uint32)
}

// Creator creates a new local event with the given peer as other-parent.
// Invoked once at the end of a fruitful session; this is how knowledge
// gathered in a sync starts propagating to everyone else.
type Creator interface {
	CreateEvent(otherPartyID uint32) error
}

/*
Engine runs gossip sessions. One Engine serves the whole node; each session
gets its own connection and its own transcript, so sessions with different
peers proceed independently. The five steps of a session are strictly
sequential, but steps two and four each run their read and write halves
concurrently and join before moving on.
*/
type Engine struct {
	index    graph.Index
	gens     *graph.Generations
	gate     *Gate
	observer Observer
	creator  Creator

	timeout time.Duration

	stats  *Stats
	logger *logrus.Entry
}

// NewEngine instantiates a session Engine.
func NewEngine(
	index graph.Index,
	gens *graph.Generations,
	gate *Gate,
	observer Observer,
	creator Creator,
	timeout time.Duration,
	stats *Stats,
	logger *logrus.Entry,
) *Engine {
	return &Engine{
		index:    index,
		gens:     gens,
		gate:     gate,
		observer: observer,
		creator:  creator,
		timeout:  timeout,
		stats:    stats,
		logger:   logger,
	}
}

// transcript is the ephemeral per-session state. Created at session start,
// discarded at session end, never persisted.
type transcript struct {
	role   Role
	peerID uint32

	myBounds graph.Bounds
	myTips   []*graph.Event

	peerBounds graph.Bounds
	peerTips   [][]byte

	// peerHas[i] is the peer's answer for myTips[i]
	peerHas []bool

	divergence Divergence
	sendList   []*graph.Event
}

// RunSession executes one five-step gossip session over conn and returns
// whether the two graphs were actually synced. canAccept only matters for
// the listener role: it carries the scheduler's admission decision, and a
// false is answered to the peer as a rejected request. A false return with
// a nil error is a no-op sync, not a failure; any I/O or protocol error
// aborts the session and surfaces to the caller, who just tries again at
// the next scheduled session.
func (e *Engine) RunSession(conn net.Conn, peerID uint32, role Role, canAccept bool) (bool, error) {
	synced, err := e.runSession(conn, peerID, role, canAccept)
	if err != nil {
		e.stats.SyncFailures.Inc()
		return false, err
	}
	if synced {
		e.stats.Syncs.Inc()
	}
	return synced, nil
}

func (e *Engine) runSession(conn net.Conn, peerID uint32, role Role, canAccept bool) (bool, error) {
	stream := NewStream(conn, e.timeout)

	t := &transcript{
		role:   role,
		peerID: peerID,
	}

	logger := e.logger.WithFields(logrus.Fields{
		"peer": peerID,
		"role": role.String(),
	})

	// S1: the caller announces itself; the listener answers with the
	// admission decision already made by the scheduler. The verdict comes
	// before any payload so a rejection leaves no unread bytes behind.
	if role == Caller {
		if err := stream.WriteMarker(markerSyncRequest); err != nil {
			return false, err
		}
		if err := stream.Flush(); err != nil {
			return false, err
		}
		m, err := stream.ReadMarker(markerSyncAccept, markerSyncReject)
		if err != nil {
			return false, err
		}
		if m == markerSyncReject {
			logger.Debug("Sync request rejected")
			return false, nil
		}
	} else {
		if _, err := stream.ReadMarker(markerSyncRequest); err != nil {
			return false, err
		}
		verdict := markerSyncAccept
		if !canAccept {
			verdict = markerSyncReject
		}
		if err := stream.WriteMarker(verdict); err != nil {
			return false, err
		}
		if err := stream.Flush(); err != nil {
			return false, err
		}
		if !canAccept {
			logger.Debug("Sync request rejected")
			return false, nil
		}
	}

	// S2a: generation bounds and tip hashes, both directions at once
	if err := e.exchangeKnowledge(stream, t, logger); err != nil {
		return false, err
	}

	// S2b: answer which of the peer's tips we already have, and learn
	// which of ours it has
	if err := e.exchangeBooleans(stream, t, logger); err != nil {
		return false, err
	}

	// S3: pure bounds comparison; a policy branch, not a correctness gate
	t.divergence = Compare(t.myBounds, t.peerBounds)
	if !t.divergence.Proceed() {
		logger.WithFields(logrus.Fields{
			"self_behind":  t.divergence.SelfBehind,
			"other_behind": t.divergence.OtherBehind,
			"my_bounds":    t.myBounds.String(),
			"peer_bounds":  t.peerBounds.String(),
		}).Debug("Fallen-behind detected")
	}

	// S4: stream the diff both ways
	if err := e.exchangeEvents(stream, t, logger); err != nil {
		return false, err
	}

	// S5: mutual done ack before anyone moves on, caller first
	if role == Caller {
		if err := stream.WriteMarker(markerSyncDone); err != nil {
			return false, err
		}
		if err := stream.Flush(); err != nil {
			return false, err
		}
		if _, err := stream.ReadMarker(markerSyncDone); err != nil {
			return false, err
		}
	} else {
		if _, err := stream.ReadMarker(markerSyncDone); err != nil {
			return false, err
		}
		if err := stream.WriteMarker(markerSyncDone); err != nil {
			return false, err
		}
		if err := stream.Flush(); err != nil {
			return false, err
		}
	}

	e.stats.EventsRead.Add(float64(stream.EventsRead()))
	e.stats.EventsWritten.Add(float64(stream.EventsWritten()))

	logger.WithFields(logrus.Fields{
		"events_read":    stream.EventsRead(),
		"events_written": stream.EventsWritten(),
	}).Debug("Sync complete")

	if t.divergence.SelfBehind {
		e.observer.ReportSelfFallenBehind(peerID)
	} else {
		// a completed session without the condition retracts any earlier
		// report from this peer; a transient divergence must not ratchet
		e.observer.ClearSelfFallenBehind(peerID)
	}

	// a fruitful sync ends with a new local event recording it
	if stream.EventsRead() > 0 {
		if err := e.creator.CreateEvent(peerID); err != nil {
			return false, err
		}
	}

	return true, nil
}

// exchangeKnowledge is S2a: each side writes its generation bounds and tip
// hashes while reading the peer's.
func (e *Engine) exchangeKnowledge(stream *Stream, t *transcript, logger *logrus.Entry) error {
	t.myBounds = e.gens.Bounds()
	t.myTips = e.index.Tips()

	writeHalf := func() error {
		if err := stream.WriteBounds(t.myBounds); err != nil {
			return err
		}
		hashes := make([][]byte, len(t.myTips))
		for i, tip := range t.myTips {
			hashes[i] = tip.Hash()
		}
		if err := stream.WriteHashList(hashes); err != nil {
			return err
		}
		return stream.Flush()
	}

	readHalf := func() error {
		bounds, err := stream.ReadBounds()
		if err != nil {
			return err
		}
		tips, err := stream.ReadHashList()
		if err != nil {
			return err
		}
		t.peerBounds = bounds
		t.peerTips = tips
		return nil
	}

	return join(writeHalf, readHalf, logger)
}

// exchangeBooleans is S2b. Each side answers, per peer-advertised tip, "I
// already have this one", letting the peer prune its send-list without
// another round trip.
func (e *Engine) exchangeBooleans(stream *Stream, t *transcript, logger *logrus.Entry) error {
	writeHalf := func() error {
		have := make([]bool, len(t.peerTips))
		for i, hash := range t.peerTips {
			have[i] = e.index.ContainsHash(common.EncodeToString(hash))
		}
		if err := stream.WriteBools(have); err != nil {
			return err
		}
		return stream.Flush()
	}

	readHalf := func() error {
		peerHas, err := stream.ReadBools()
		if err != nil {
			return err
		}
		if len(peerHas) != len(t.myTips) {
			return fmt.Errorf("peer answered %d booleans for %d tips",
				len(peerHas), len(t.myTips))
		}
		t.peerHas = peerHas
		return nil
	}

	return join(writeHalf, readHalf, logger)
}

// exchangeEvents is S4. Each side streams exactly the events the peer is
// missing, ancestors before descendants, while funnelling every inbound
// event through the admission gate as it arrives. When either side has
// fallen behind there is nothing to usefully exchange and both send-lists
// are empty; only the framing markers flow.
func (e *Engine) exchangeEvents(stream *Stream, t *transcript, logger *logrus.Entry) error {
	if t.divergence.Proceed() {
		t.sendList = e.computeSendList(t)
	}

	writeHalf := func() error {
		for _, event := range t.sendList {
			if err := stream.WriteMarker(markerEventNext); err != nil {
				return err
			}
			if err := stream.WriteEvent(event); err != nil {
				return err
			}
		}
		if err := stream.WriteMarker(markerEventsDone); err != nil {
			return err
		}
		return stream.Flush()
	}

	readHalf := func() error {
		for {
			m, err := stream.ReadMarker(markerEventNext, markerEventsDone)
			if err != nil {
				return err
			}
			if m == markerEventsDone {
				return nil
			}
			wire, err := stream.ReadEvent()
			if err != nil {
				return err
			}
			// rejection is not an error; the event is dropped and the
			// stream carries on
			e.gate.Admit(wire)
		}
	}

	return join(writeHalf, readHalf, logger)
}

// computeSendList derives the events the peer is missing: the transitive
// ancestors of our tips, minus everything at or below what the peer told
// us it knows, minus everything already ancient on the peer's side.
func (e *Engine) computeSendList(t *transcript) []*graph.Event {
	known := make(map[string]bool)

	// a peer tip we also hold pins the whole shared subgraph below it
	for _, hash := range t.peerTips {
		hex := common.EncodeToString(hash)
		if e.index.ContainsHash(hex) {
			known[hex] = true
		}
	}

	// likewise any of our tips the peer already has
	for i, has := range t.peerHas {
		if has && i < len(t.myTips) {
			known[t.myTips[i].Hex()] = true
		}
	}

	return e.index.AncestorsExcluding(known, t.peerBounds.Min)
}

// join runs two halves of a parallel step and waits for both. The spawned
// half's failure takes priority over the inline half's; the losing error
// is logged, never silently dropped.
func join(spawned, inline func() error, logger *logrus.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- spawned()
	}()

	inlineErr := inline()
	spawnedErr := <-errCh

	if spawnedErr != nil {
		if inlineErr != nil {
			logger.WithError(inlineErr).Debug("Secondary failure in parallel step")
		}
		return spawnedErr
	}

	return inlineErr
}
