package graph

// Index is the ancestry index, or shadow graph: for every known event it
// tracks parent links, a hash-indexed lookup, and the current tip set per
// creator. It is mutated only by the admission gate's acceptance path and by
// local event creation, and read concurrently by every gossip session.
type Index interface {
	// ContainsHash reports whether an event with the given hex key is
	// resident, or was resident until it expired recently. The grace period
	// keeps a re-delivered ancient event from being admitted twice.
	ContainsHash(hex string) bool

	// GetEvent returns a resident event by hex key.
	GetEvent(hex string) (*Event, error)

	// InsertEvent adds an event whose parent links have already been
	// resolved. Inserting a duplicate returns a KeyAlreadyExists store
	// error.
	InsertEvent(event *Event) error

	// Tips returns a snapshot of the tip set: events with no known children,
	// across all creators.
	Tips() []*Event

	// TipOf returns the most recent tip of a given creator, if any.
	TipOf(creatorID uint32) (*Event, bool)

	// AncestorsExcluding computes the send-list for a gossip session: the
	// transitive ancestors of the local tips, excluding the events in known
	// and all of their ancestors, and excluding events below the floor
	// generation. The result is in topological order, ancestors before
	// descendants.
	AncestorsExcluding(known map[string]bool, floor int64) []*Event

	// Expire removes events whose generation is below minGen. Tips are kept
	// regardless of generation so a stalled creator can still be advertised.
	// It returns the number of events removed.
	Expire(minGen int64) int

	// Count returns the number of resident events.
	Count() int

	// Close releases any underlying resources.
	Close() error
}
