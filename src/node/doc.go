/*
Package node implements the control loop of a Braid node.

A node wraps a Core, which owns the ancestry index, the generation bounds
and the transaction pool, with the machinery that keeps gossip flowing: a
control timer paces outbound sessions with randomly selected peers, a
listener serves inbound sessions, and a scheduler enforces the per-peer
serialization and the global session cap.

The node is a state machine with three states:

	Gossiping: the normal operating state; sessions run in both directions.

	Suspended: reached when a qualified majority of peers report that this
	node has fallen behind. The node stops initiating and rejects inbound
	requests; recovery is an operator action.

	Shutdown: terminal.

Admitted events flow out through an intake channel, which is where a
consensus layer would plug in. When the channel fills up, every session's
read side slows down with it.
*/
package node
