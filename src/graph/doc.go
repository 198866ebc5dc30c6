// Package graph implements Braid's event-graph data model: the Event itself,
// generation arithmetic, the generation boundary pair, and the Ancestry Index
// that tracks parent links, per-creator tips, and the send-list computation
// used by gossip sessions.
//
// An Event has a hashed part and an unhashed part. The hashed part is what
// the creator signs: creator id, parent generations, parent hashes, creation
// timestamp, and the transaction payload. The unhashed part carries the
// creator's sequence number, the other-parent's coordinates, and the
// signature itself. Once an event's hash is computed the event is immutable;
// only the derived consensus fields (consensus order, round received,
// consensus timestamp) are set later, by the consensus layer, and the gossip
// core treats them as opaque.
package graph
