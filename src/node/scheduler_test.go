package node

import "testing"

func TestSchedulerSerializesPerPeer(t *testing.T) {
	s := newScheduler(8)

	if !s.tryAcquire(1) {
		t.Fatal("first acquisition refused")
	}
	if s.tryAcquire(1) {
		t.Fatal("concurrent session with the same peer admitted")
	}

	// a different peer is unaffected
	if !s.tryAcquire(2) {
		t.Fatal("session with another peer refused")
	}

	s.release(1)
	if !s.tryAcquire(1) {
		t.Fatal("acquisition refused after release")
	}
}

func TestSchedulerGlobalCap(t *testing.T) {
	s := newScheduler(2)

	if !s.tryAcquire(1) || !s.tryAcquire(2) {
		t.Fatal("acquisitions under the cap refused")
	}
	if s.tryAcquire(3) {
		t.Fatal("session above the cap admitted")
	}

	s.release(1)
	if !s.tryAcquire(3) {
		t.Fatal("freed slot not reusable")
	}
}

func TestSchedulerFailedAcquireReleasesSlot(t *testing.T) {
	s := newScheduler(1)

	if !s.tryAcquire(1) {
		t.Fatal("first acquisition refused")
	}

	// refused on the peer lock; the global slot must be given back
	if s.tryAcquire(1) {
		t.Fatal("concurrent session with the same peer admitted")
	}

	s.release(1)
	if !s.tryAcquire(1) {
		t.Fatal("slot leaked by a failed acquisition")
	}
}

func TestSchedulerConnLock(t *testing.T) {
	s := newScheduler(8)

	l := s.connLock(7)
	if l != s.connLock(7) {
		t.Fatal("connLock not stable for a given peer")
	}
	if l == s.connLock(8) {
		t.Fatal("connLock shared between peers")
	}

	l.Lock()
	if s.connLock(7).TryLock() {
		t.Fatal("held conn lock acquired twice")
	}
	l.Unlock()
}
