// Package gossip implements Braid's bilateral gossip synchronization
// protocol and the event admission gate.
//
// A gossip session is a five-step exchange between a caller and a listener
// over one duplex connection: request, knowledge exchange (generation bounds
// and tip hashes, then already-have booleans), divergence check, event
// exchange, and completion. Each side computes the exact set of events the
// other is missing and streams them in topological order; every inbound event
// passes through the admission gate before it may enter the local ancestry
// index.
//
// Validation rejections are statuses, not errors: they are counted, logged at
// debug level, and never abort a session. I/O failures, by contrast, abort
// the whole session and surface to the caller, who simply tries again later.
package gossip
