package node

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/gossip"
	"github.com/braidnetworks/braid/src/graph"
	"github.com/braidnetworks/braid/src/peers"
)

/*
Core is the engine room of a node: it owns the ancestry index, the
generation bounds, the transaction pool, and the creation of this node's
own events. Gossip sessions drive it from two sides: the admission gate
inserts peer events, and a fruitful session ends with CreateEvent minting
a new local event that records the sync.

Core implements gossip.Creator and gossip.Observer.
*/
type Core struct {
	sync.Mutex

	validator *Validator
	peers     *peers.PeerSet

	peerSelector PeerSelector
	selectorLock sync.Mutex

	index graph.Index
	gens  *graph.Generations

	intake gossip.Intake

	transactionPool [][]byte

	// extraRandomEvent mints a second event, with a random other-parent,
	// after every fruitful sync
	extraRandomEvent bool

	// ancientWindow is the number of generations retained behind the
	// maximum; zero disables expiry
	ancientWindow int64

	// fallenBehindReports tracks which peers have told us we are behind
	fallenBehindReports map[uint32]bool
	reportsLock         sync.Mutex

	logger *logrus.Entry
}

// NewCore instantiates a Core.
func NewCore(
	validator *Validator,
	peerSet *peers.PeerSet,
	index graph.Index,
	gens *graph.Generations,
	intake gossip.Intake,
	conf *Config,
	logger *logrus.Entry,
) *Core {
	return &Core{
		validator:           validator,
		peers:               peerSet,
		peerSelector:        NewRandomPeerSelector(peerSet, validator.ID()),
		index:               index,
		gens:                gens,
		intake:              intake,
		extraRandomEvent:    conf.ExtraRandomEvent,
		ancientWindow:       conf.AncientWindow,
		fallenBehindReports: make(map[uint32]bool),
		logger:              logger,
	}
}

// ID returns the local creator ID.
func (c *Core) ID() uint32 {
	return c.validator.ID()
}

// Peers returns the current peer set.
func (c *Core) Peers() *peers.PeerSet {
	return c.peers
}

// Init makes sure the node has a head: a parentless genesis event is
// created and indexed if the index holds nothing from this creator yet.
func (c *Core) Init() error {
	c.Lock()
	defer c.Unlock()

	if _, ok := c.index.TipOf(c.validator.ID()); ok {
		return nil
	}

	return c.addSelfEvent(nil)
}

// Head returns this node's latest own event.
func (c *Core) Head() (*graph.Event, bool) {
	return c.index.TipOf(c.validator.ID())
}

// AddTransactions queues transactions for inclusion in the next self-event.
func (c *Core) AddTransactions(txs [][]byte) {
	c.Lock()
	defer c.Unlock()

	c.transactionPool = append(c.transactionPool, txs...)
}

// Busy reports whether the node has something it wants to gossip about.
func (c *Core) Busy() bool {
	c.Lock()
	defer c.Unlock()

	return len(c.transactionPool) > 0
}

// TransactionPoolCount returns the number of queued transactions.
func (c *Core) TransactionPoolCount() int {
	c.Lock()
	defer c.Unlock()

	return len(c.transactionPool)
}

// CreateEvent mints a new self-event with the given peer's latest event as
// other-parent, draining the transaction pool into its payload. Called by
// the session engine at the end of every fruitful sync; this is the
// gossip-about-gossip step that lets knowledge spread transitively.
func (c *Core) CreateEvent(otherPartyID uint32) error {
	c.Lock()

	otherHead, _ := c.index.TipOf(otherPartyID)
	if err := c.addSelfEvent(otherHead); err != nil {
		c.Unlock()
		return err
	}
	c.Unlock()

	if c.extraRandomEvent {
		c.selectorLock.Lock()
		extra := c.peerSelector.Next()
		c.selectorLock.Unlock()

		if extra != nil && extra.ID() != otherPartyID {
			c.Lock()
			defer c.Unlock()

			if extraHead, ok := c.index.TipOf(extra.ID()); ok {
				return c.addSelfEvent(extraHead)
			}
		}
	}

	return nil
}

// addSelfEvent does the work of CreateEvent with the lock already held.
func (c *Core) addSelfEvent(otherHead *graph.Event) error {
	selfHead, _ := c.index.TipOf(c.validator.ID())

	txs := len(c.transactionPool)

	newHead := graph.NewEvent(
		c.validator.ID(),
		selfHead,
		otherHead,
		time.Now().UTC(),
		c.transactionPool,
	)

	if err := newHead.Sign(c.validator.Key); err != nil {
		return err
	}

	if err := c.index.InsertEvent(newHead); err != nil {
		return err
	}

	c.gens.ExtendMax(newHead.Generation())
	c.intake.Accept(newHead)

	// keep pool elements that arrived while the event was being built
	c.transactionPool = c.transactionPool[txs:]

	c.logger.WithFields(logrus.Fields{
		"event":        newHead.Hex(),
		"generation":   newHead.Generation(),
		"transactions": txs,
	}).Debug("Created self-event")

	return nil
}

// AdvanceAncientBoundary slides the non-ancient window forward behind the
// maximum known generation and expires everything that fell out of it.
// With consensus out of the picture the window is a fixed depth; a
// consensus layer would advance the minimum from round decisions instead.
func (c *Core) AdvanceAncientBoundary() {
	if c.ancientWindow <= 0 {
		return
	}

	bounds := c.gens.Bounds()
	min := bounds.Max - c.ancientWindow + 1
	if min <= bounds.Min {
		return
	}

	c.gens.AdvanceMin(min)

	removed := c.index.Expire(min)
	if removed > 0 {
		c.logger.WithFields(logrus.Fields{
			"min_generation": min,
			"removed":        removed,
		}).Debug("Expired ancient events")
	}
}

// ReportSelfFallenBehind implements gossip.Observer: it records that a peer
// told us every event we hold is already ancient to it.
func (c *Core) ReportSelfFallenBehind(peerID uint32) {
	c.reportsLock.Lock()
	defer c.reportsLock.Unlock()

	c.fallenBehindReports[peerID] = true
}

// ClearSelfFallenBehind implements gossip.Observer: a completed session with
// the peer, free of the condition, retracts its earlier report.
func (c *Core) ClearSelfFallenBehind(peerID uint32) {
	c.reportsLock.Lock()
	defer c.reportsLock.Unlock()

	delete(c.fallenBehindReports, peerID)
}

// FallenBehindMajority reports whether peers holding more than two thirds
// of the total stake consider this node fallen behind.
func (c *Core) FallenBehindMajority() bool {
	c.reportsLock.Lock()
	defer c.reportsLock.Unlock()

	var reported int64
	for id := range c.fallenBehindReports {
		reported += c.peers.Stake(id)
	}

	return reported*3 > c.peers.TotalStake()*2
}
