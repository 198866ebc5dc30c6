// Package peers defines the concept of a peer and a peer-set in a Braid
// network.
//
// A Peer is identified by its public key, and carries a network address, an
// optional moniker, and a voting stake. The stake is what gives a peer weight
// in the consensus layer; events created by peers with zero stake are refused
// at the gossip ingress.
package peers
