package node

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/gossip"
	"github.com/braidnetworks/braid/src/graph"
	bnet "github.com/braidnetworks/braid/src/net"
	"github.com/braidnetworks/braid/src/peers"
)

//Node is a Braid node: a gossip engine, a scheduler, and a control loop
//wrapped around a Core.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	validator *Validator

	core *Core

	engine    *gossip.Engine
	scheduler *scheduler

	trans *bnet.Transport

	intakeCh chan *graph.Event
	submitCh chan []byte

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	controlTimer *ControlTimer

	gossipStats *gossip.Stats

	start time.Time
}

//NewNode is a factory method that returns a Node instance
func NewNode(
	conf *Config,
	validator *Validator,
	peerSet *peers.PeerSet,
	index graph.Index,
	gens *graph.Generations,
	trans *bnet.Transport,
	gossipStats *gossip.Stats,
) *Node {
	logger := conf.Logger.WithField("this_id", validator.ID())

	intakeCh := make(chan *graph.Event, conf.IntakeSize)

	// the intake channel is the hook point for a consensus layer; a full
	// channel blocks Accept, which backpressures every session's read side
	intake := gossip.IntakeFunc(func(event *graph.Event) {
		intakeCh <- event
	})

	core := NewCore(validator, peerSet, index, gens, intake, conf, logger)

	gate := gossip.NewGate(
		index,
		gens,
		core.Peers,
		intake,
		conf.MaxPayloadSize,
		gossipStats,
		logger,
	)

	engine := gossip.NewEngine(
		index,
		gens,
		gate,
		core,
		core,
		conf.TCPTimeout,
		gossipStats,
		logger,
	)

	return &Node{
		conf:         conf,
		logger:       logger,
		validator:    validator,
		core:         core,
		engine:       engine,
		scheduler:    newScheduler(conf.MaxSessions),
		trans:        trans,
		intakeCh:     intakeCh,
		submitCh:     make(chan []byte, 100),
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
		gossipStats:  gossipStats,
	}
}

//Init initialises the node: the core gets a head, and the node starts in
//the Gossiping state.
func (n *Node) Init() error {
	if err := n.core.Init(); err != nil {
		return err
	}

	n.setState(Gossiping)

	return nil
}

//RunAsync calls Run in a separate goroutine
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("runasync")

	go n.Run(gossip)
}

//Run invokes the main loop of the node
func (n *Node) Run(gossip bool) {
	n.start = time.Now()

	//The ControlTimer paces outbound gossip; background routines slow it
	//down when there is nothing to say.
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Accept inbound connections regardless of the state of the node.
	go n.listen()

	//Drain submitted transactions and admitted events.
	go n.doBackgroundWork()

	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Gossiping:
			n.gossiping(gossip)
		case Suspended:
			n.suspended()
		case Shutdown:
			return
		}
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case t := <-n.submitCh:
			n.logger.Debug("Adding Transaction")
			n.core.AddTransactions([][]byte{t})
			n.resetTimer()
		case event := <-n.intakeCh:
			//consensus hook point; for now admitted events are only traced
			n.logger.WithFields(logrus.Fields{
				"event":      event.Hex(),
				"creator":    event.CreatorID(),
				"generation": event.Generation(),
			}).Debug("Event admitted")
		case <-n.shutdownCh:
			return
		}
	}
}

//resetTimer sets the control timer to the fast heartbeat when the node has
//pending transactions, and to the slow one otherwise.
func (n *Node) resetTimer() {
	if !n.controlTimer.set {
		ts := n.conf.HeartbeatTimeout

		//Slow gossip if nothing interesting to say
		if !n.core.Busy() {
			ts = n.conf.SlowHeartbeatTimeout
		}

		n.controlTimer.resetCh <- ts
	}
}

//gossiping periodically initiates a session with a random peer.
func (n *Node) gossiping(gossip bool) {
	n.logger.Debug("GOSSIPING")

	for n.getState() == Gossiping {
		select {
		case <-n.controlTimer.tickCh:
			if gossip {
				n.core.selectorLock.Lock()
				peer := n.core.peerSelector.Next()
				n.core.selectorLock.Unlock()

				if peer != nil {
					n.goFunc(func() { n.gossip(peer) })
				}
			}
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

//suspended parks the run loop; inbound requests are rejected by the state
//check in handleInbound until an operator restarts the node.
func (n *Node) suspended() {
	n.logger.Debug("SUSPENDED")

	<-n.shutdownCh
}

//gossip runs one outbound session with the given peer.
func (n *Node) gossip(peer *peers.Peer) error {
	peerID := peer.ID()

	if !n.scheduler.tryAcquire(peerID) {
		n.logger.WithField("peer", peerID).Debug("Session throttled")
		return nil
	}
	defer n.scheduler.release(peerID)

	connLock := n.scheduler.connLock(peerID)
	connLock.Lock()
	defer connLock.Unlock()

	conn, err := n.trans.Connection(peerID, peer.NetAddr)
	if err != nil {
		n.logger.WithError(err).WithField("peer", peerID).Error("Connecting")
		return err
	}

	synced, err := n.engine.RunSession(conn, peerID, gossip.Caller, true)
	if err != nil {
		n.logger.WithError(err).WithField("peer", peerID).Error("Session failed")
		n.trans.Disconnect(peerID)
		return err
	}

	if synced {
		n.core.selectorLock.Lock()
		n.core.peerSelector.UpdateLast(peerID)
		n.core.selectorLock.Unlock()

		n.afterSync()
	}

	n.logStats()

	return nil
}

//listen accepts inbound connections and serves sessions on them until they
//fail or the transport shuts down.
func (n *Node) listen() {
	for {
		conn, peerID, err := n.trans.Accept()
		if err != nil {
			select {
			case <-n.shutdownCh:
				return
			default:
				n.logger.WithError(err).Error("Accepting connection")
				continue
			}
		}

		n.logger.WithField("peer", peerID).Debug("Inbound connection")

		go n.serveConn(conn, peerID)
	}
}

//serveConn answers back-to-back sessions on one inbound connection. The
//connection is dropped at the first failed session; the peer redials.
func (n *Node) serveConn(conn net.Conn, peerID uint32) {
	defer conn.Close()

	_, known := n.core.peers.ByID[peerID]

	for {
		canAccept := known &&
			n.getState() == Gossiping &&
			n.scheduler.tryAcquire(peerID)

		synced, err := n.engine.RunSession(conn, peerID, gossip.Listener, canAccept)

		if canAccept {
			n.scheduler.release(peerID)
		}

		if err != nil {
			n.logger.WithError(err).WithField("peer", peerID).Debug("Inbound session ended")
			return
		}

		if synced {
			n.afterSync()
			n.logStats()
		}
	}
}

//afterSync runs the post-session housekeeping shared by both roles.
func (n *Node) afterSync() {
	n.core.AdvanceAncientBoundary()

	if n.conf.SuspendOnFallenBehind && n.core.FallenBehindMajority() {
		n.logger.Warn("Fallen behind a majority of stake => Suspended")
		n.setState(Suspended)
	}
}

//Suspend parks the node: no outbound sessions are initiated and inbound
//requests are rejected until shutdown.
func (n *Node) Suspend() {
	n.setState(Suspended)
}

//SubmitTransaction queues a transaction for inclusion in a future
//self-event.
func (n *Node) SubmitTransaction(tx []byte) {
	n.submitCh <- tx
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		n.shutdownOnce.Do(func() { close(n.shutdownCh) })

		n.waitRoutines()

		n.controlTimer.Shutdown()

		//transport and index should only be closed once all concurrent
		//operations are finished, otherwise they panic trying to use closed
		//objects
		n.trans.Close()

		n.core.index.Close()
	}
}

//GetStats returns node statistics
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	bounds := n.core.gens.Bounds()
	eventCount := n.core.index.Count()

	eventsPerSecond := float64(eventCount) / timeElapsed.Seconds()

	s := map[string]string{
		"events":           strconv.Itoa(eventCount),
		"min_generation":   strconv.FormatInt(bounds.Min, 10),
		"max_generation":   strconv.FormatInt(bounds.Max, 10),
		"transaction_pool": strconv.Itoa(n.core.TransactionPoolCount()),
		"num_peers":        strconv.Itoa(n.core.peers.Len()),
		"events_per_second": strconv.FormatFloat(
			eventsPerSecond, 'f', 2, 64),
		"id":      fmt.Sprint(n.validator.ID()),
		"state":   n.getState().String(),
		"moniker": n.validator.Moniker,
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"events":           stats["events"],
		"min_generation":   stats["min_generation"],
		"max_generation":   stats["max_generation"],
		"transaction_pool": stats["transaction_pool"],
		"num_peers":        stats["num_peers"],
		"events/s":         stats["events_per_second"],
		"state":            stats["state"],
	}).Debug("Stats")
}

//ID returns the validator ID
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

//Moniker returns the validator moniker
func (n *Node) Moniker() string {
	return n.validator.Moniker
}

//GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.core.peers.Peers
}

//Tips returns the current tip set of the ancestry index
func (n *Node) Tips() []*graph.Event {
	return n.core.index.Tips()
}

//Bounds returns the current generation boundary pair
func (n *Node) Bounds() graph.Bounds {
	return n.core.gens.Bounds()
}
