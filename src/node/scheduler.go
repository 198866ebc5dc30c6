package node

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

/*
scheduler admits gossip sessions. Three rules apply:

  - sessions with the same peer are serialized, whoever initiated them, by
    a per-peer lock;
  - only one session at a time may use the outbound connection object for a
    given peer, guarded by a second per-peer lock;
  - a weighted semaphore caps the number of simultaneous sessions across
    all peers.

Admission is non-blocking: a session that cannot get both the global slot
and the peer lock is simply not run. The next control-timer tick, or the
peer's own retry, gets another chance.
*/
type scheduler struct {
	slots *semaphore.Weighted

	mu        sync.Mutex
	peerLocks map[uint32]*sync.Mutex
	connLocks map[uint32]*sync.Mutex
}

func newScheduler(maxSessions int64) *scheduler {
	return &scheduler{
		slots:     semaphore.NewWeighted(maxSessions),
		peerLocks: make(map[uint32]*sync.Mutex),
		connLocks: make(map[uint32]*sync.Mutex),
	}
}

func (s *scheduler) peerLock(peerID uint32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.peerLocks[peerID]
	if !ok {
		l = new(sync.Mutex)
		s.peerLocks[peerID] = l
	}
	return l
}

// connLock returns the lock serializing use of the outbound connection
// object for a peer.
func (s *scheduler) connLock(peerID uint32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.connLocks[peerID]
	if !ok {
		l = new(sync.Mutex)
		s.connLocks[peerID] = l
	}
	return l
}

// tryAcquire attempts to admit a session with the given peer. On success
// the caller holds both a global slot and the per-peer session lock, and
// must call release when the session is over.
func (s *scheduler) tryAcquire(peerID uint32) bool {
	if !s.slots.TryAcquire(1) {
		return false
	}
	if !s.peerLock(peerID).TryLock() {
		s.slots.Release(1)
		return false
	}
	return true
}

func (s *scheduler) release(peerID uint32) {
	s.peerLock(peerID).Unlock()
	s.slots.Release(1)
}
