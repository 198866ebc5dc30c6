package net

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrTransportShutdown is returned when operations on a transport are
// invoked after it's been terminated.
var ErrTransportShutdown = errors.New("transport shutdown")

// StreamLayer provides the low level stream abstraction under a Transport:
// plain TCP here, but anything that can listen and dial duplex byte streams
// fits.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr returns the publicly-reachable address of the stream
	AdvertiseAddr() string
}

/*
Transport manages the connections a node gossips over. Outbound connections
are cached per peer and reused across sessions; a connection that fails
mid-session is dropped and redialed at the next session. Every connection
starts with a fixed 4-byte identification preamble carrying the dialer's
creator ID, so the listening side knows which peer it is talking to, and
therefore which per-peer session lock applies, before the protocol proper
begins.
*/
type Transport struct {
	localID uint32
	stream  StreamLayer
	timeout time.Duration

	connPool     map[uint32]net.Conn
	connPoolLock sync.Mutex

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	logger *logrus.Entry
}

// NewTransport wraps a stream layer. localID is written as the
// identification preamble on every outbound connection.
func NewTransport(
	stream StreamLayer,
	localID uint32,
	timeout time.Duration,
	logger *logrus.Entry,
) *Transport {
	return &Transport{
		localID:    localID,
		stream:     stream,
		timeout:    timeout,
		connPool:   make(map[uint32]net.Conn),
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
}

// AdvertiseAddr returns the publicly-reachable address of the underlying
// stream layer.
func (t *Transport) AdvertiseAddr() string {
	return t.stream.AdvertiseAddr()
}

// Connection returns the cached outbound connection to a peer, dialing a
// fresh one if none exists. The caller is responsible for serializing use
// of the returned connection.
func (t *Transport) Connection(peerID uint32, netAddr string) (net.Conn, error) {
	t.connPoolLock.Lock()
	if t.shutdown {
		t.connPoolLock.Unlock()
		return nil, ErrTransportShutdown
	}
	if conn, ok := t.connPool[peerID]; ok {
		t.connPoolLock.Unlock()
		return conn, nil
	}
	t.connPoolLock.Unlock()

	// dial outside the pool lock; a slow peer must not stall dials to
	// everyone else
	conn, err := t.dial(netAddr)
	if err != nil {
		return nil, err
	}

	t.connPoolLock.Lock()
	defer t.connPoolLock.Unlock()

	if t.shutdown {
		conn.Close()
		return nil, ErrTransportShutdown
	}
	if cached, ok := t.connPool[peerID]; ok {
		conn.Close()
		return cached, nil
	}
	t.connPool[peerID] = conn

	return conn, nil
}

// Disconnect drops the cached outbound connection to a peer, if any. Called
// after a session error so the next session starts from a clean dial.
func (t *Transport) Disconnect(peerID uint32) {
	t.connPoolLock.Lock()
	defer t.connPoolLock.Unlock()

	if conn, ok := t.connPool[peerID]; ok {
		conn.Close()
		delete(t.connPool, peerID)
	}
}

func (t *Transport) dial(netAddr string) (net.Conn, error) {
	conn, err := t.stream.Dial(netAddr, t.timeout)
	if err != nil {
		return nil, err
	}

	if t.timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}

	preamble := make([]byte, 4)
	binary.BigEndian.PutUint32(preamble, t.localID)
	if _, err := conn.Write(preamble); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// Accept blocks for the next inbound connection and reads its
// identification preamble. It returns the connection together with the
// dialing peer's creator ID.
func (t *Transport) Accept() (net.Conn, uint32, error) {
	conn, err := t.stream.Accept()
	if err != nil {
		select {
		case <-t.shutdownCh:
			return nil, 0, ErrTransportShutdown
		default:
			return nil, 0, err
		}
	}

	if t.timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(t.timeout))
	}

	preamble := make([]byte, 4)
	if _, err := io.ReadFull(conn, preamble); err != nil {
		conn.Close()
		return nil, 0, err
	}

	return conn, binary.BigEndian.Uint32(preamble), nil
}

// Close shuts the transport down: the listener stops accepting and every
// pooled connection is closed, which surfaces as an I/O failure in any
// session currently blocked on one of them.
func (t *Transport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	t.connPoolLock.Lock()
	if t.shutdown {
		t.connPoolLock.Unlock()
		return nil
	}
	t.shutdown = true
	for id, conn := range t.connPool {
		conn.Close()
		delete(t.connPool, id)
	}
	t.connPoolLock.Unlock()

	close(t.shutdownCh)

	return t.stream.Close()
}
