// Package braid assembles the components of a Braid node from a Config:
// keys, peers, the ancestry index, the transport, the node, and the HTTP
// service.
package braid

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/braidnetworks/braid/src/config"
	"github.com/braidnetworks/braid/src/crypto/keys"
	"github.com/braidnetworks/braid/src/gossip"
	"github.com/braidnetworks/braid/src/graph"
	"github.com/braidnetworks/braid/src/net"
	"github.com/braidnetworks/braid/src/node"
	"github.com/braidnetworks/braid/src/peers"
	"github.com/braidnetworks/braid/src/service"
)

// Braid is a top-level wrapper for a Braid node: it holds the Config and
// the components assembled from it.
type Braid struct {
	Config    *config.Config
	Validator *node.Validator
	Peers     *peers.PeerSet
	Index     graph.Index
	Node      *node.Node
	Transport *net.Transport
	Service   *service.Service

	logger *logrus.Entry
}

// NewBraid instantiates a Braid with a Config. Call Init to assemble the
// components, then Run.
func NewBraid(conf *config.Config) *Braid {
	return &Braid{
		Config: conf,
		logger: conf.Logger(),
	}
}

// Init assembles the node from the configuration. It must be called before
// Run.
func (b *Braid) Init() error {
	if err := b.initKey(); err != nil {
		return err
	}

	if err := b.initPeers(); err != nil {
		return err
	}

	if err := b.initIndex(); err != nil {
		return err
	}

	if err := b.initTransport(); err != nil {
		return err
	}

	if err := b.initNode(); err != nil {
		return err
	}

	if err := b.initService(); err != nil {
		return err
	}

	return nil
}

func (b *Braid) initKey() error {
	if b.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(b.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			return fmt.Errorf("reading keyfile %s: %s", b.Config.Keyfile(), err)
		}

		b.Config.Key = privKey
	}

	b.Validator = node.NewValidator(b.Config.Key, b.Config.Moniker)

	return nil
}

func (b *Braid) initPeers() error {
	peerStore := peers.NewJSONPeerSet(b.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		return err
	}

	if participants.Len() < 2 {
		return fmt.Errorf("peers.json should define at least two peers")
	}

	if _, ok := participants.ByID[b.Validator.ID()]; !ok {
		return fmt.Errorf("cannot find self pubkey in peers.json")
	}

	b.Peers = participants

	return nil
}

func (b *Braid) initIndex() error {
	// bootstrap requires an existing database
	if b.Config.Bootstrap {
		b.logger.WithField("path", b.Config.DatabaseDir).
			Debug("Loading database")

		index, err := graph.LoadBadgerIndex(b.Config.DatabaseDir)
		if err != nil {
			return fmt.Errorf("bootstrapping from %s: %s", b.Config.DatabaseDir, err)
		}

		b.Index = index

		return nil
	}

	if !b.Config.Store {
		b.Index = graph.NewInmemIndex()
		b.logger.Debug("Created new in-mem index")
		return nil
	}

	b.logger.WithField("path", b.Config.DatabaseDir).
		Debug("Attempting to load or create database")

	index, err := graph.LoadOrCreateBadgerIndex(b.Config.DatabaseDir)
	if err != nil {
		return err
	}

	if index.NeedBootstrap() {
		b.logger.Debug("Loaded badger index from existing database")
	} else {
		b.logger.Debug("Created new badger index from fresh database")
	}

	b.Index = index

	return nil
}

func (b *Braid) initTransport() error {
	transport, err := net.NewTCPTransport(
		b.Config.BindAddr,
		b.Config.AdvertiseAddr,
		b.Validator.ID(),
		b.Config.TCPTimeout,
		b.logger,
	)
	if err != nil {
		return err
	}

	b.Transport = transport

	return nil
}

func (b *Braid) initNode() error {
	b.logger.WithFields(logrus.Fields{
		"participants": b.Peers.Len(),
		"id":           b.Validator.ID(),
	}).Debug("PARTICIPANTS")

	nodeConf := &node.Config{
		HeartbeatTimeout:      b.Config.HeartbeatTimeout,
		SlowHeartbeatTimeout:  b.Config.SlowHeartbeatTimeout,
		TCPTimeout:            b.Config.TCPTimeout,
		MaxPayloadSize:        b.Config.MaxPayloadSize,
		MaxSessions:           b.Config.MaxSessions,
		IntakeSize:            b.Config.IntakeSize,
		AncientWindow:         b.Config.AncientWindow,
		SuspendOnFallenBehind: true,
		ExtraRandomEvent:      b.Config.ExtraRandomEvent,
		Logger:                b.logger.Logger,
	}

	gens := graph.NewGenerations()

	// rebuild the generation bounds from a bootstrapped index
	for _, tip := range b.Index.Tips() {
		gens.ExtendMax(tip.Generation())
	}

	b.Node = node.NewNode(
		nodeConf,
		b.Validator,
		b.Peers,
		b.Index,
		gens,
		b.Transport,
		gossip.NewStats(prometheus.DefaultRegisterer),
	)

	if err := b.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	if b.Config.MaintenanceMode {
		b.logger.Debug("Maintenance mode => Suspended")
		b.Node.Suspend()
	}

	return nil
}

func (b *Braid) initService() error {
	if !b.Config.NoService {
		b.Service = service.NewService(b.Config.ServiceAddr, b.Node, b.logger)
	}
	return nil
}

// Run starts the HTTP service and the node's main loop. It blocks until
// the node shuts down.
func (b *Braid) Run() {
	if b.Service != nil {
		go b.Service.Serve()
	}

	b.Node.Run(!b.Config.MaintenanceMode)
}
