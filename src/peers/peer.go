package peers

import (
	"crypto/ecdsa"
	"encoding/json"

	"github.com/braidnetworks/braid/src/common"
	"github.com/braidnetworks/braid/src/crypto/keys"
)

// Peer is a participant in a Braid network.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	// Stake is the peer's voting weight in the consensus layer. A peer with
	// zero stake may connect and request syncs, but events it creates are
	// refused by the admission gate.
	Stake int64

	id uint32
}

// NewPeer instantiates a new Peer from a hex-encoded public key, a network
// address and a moniker. The peer gets a default stake of 1.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
		Stake:     1,
	}
}

// UnmarshalJSON decodes a Peer, giving an omitted Stake field the same
// default as NewPeer. A hand-written peers.json usually carries only
// addresses and keys; without the default it would decode to an all-zero
// stake set whose events the admission gate refuses wholesale. An explicit
// "Stake": 0 is preserved.
func (p *Peer) UnmarshalJSON(data []byte) error {
	type peerJSON Peer
	aux := struct {
		Stake *int64
		*peerJSON
	}{peerJSON: (*peerJSON)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Stake != nil {
		p.Stake = *aux.Stake
	} else {
		p.Stake = 1
	}

	return nil
}

// ID returns a 32-bit identifier derived from the peer's public key.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		pubKeyBytes := p.PubKeyBytes()
		p.id = common.Hash32(pubKeyBytes)
	}
	return p.id
}

// PubKeyString returns the upper-case hex representation of the public key
// with the 0X prefix, the canonical map key used throughout Braid.
func (p *Peer) PubKeyString() string {
	return p.PubKeyHex
}

// PubKeyBytes returns the raw bytes of the peer's public key.
func (p *Peer) PubKeyBytes() []byte {
	res, _ := common.DecodeFromString(p.PubKeyHex)
	return res
}

// PubKey returns the peer's public key in ecdsa format, for signature
// verification.
func (p *Peer) PubKey() *ecdsa.PublicKey {
	return keys.ToPublicKey(p.PubKeyBytes())
}

// ExcludePeer returns the list of peers with the peer identified by id
// removed, along with the index at which it was found (-1 if absent).
func ExcludePeer(peers []*Peer, id uint32) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.ID() != id {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
