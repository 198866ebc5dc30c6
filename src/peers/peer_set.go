package peers

import (
	"bytes"
	"encoding/json"
	"sort"
)

// PeerSet is a set of Peers forming a Braid network.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByID     map[uint32]*Peer `json:"-"`

	//cached values
	totalStake *int64
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers, sorted by ID.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
		ByID:     make(map[uint32]*Peer),
	}

	sorted := append([]*Peer(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	for _, peer := range sorted {
		peerSet.ByPubKey[peer.PubKeyString()] = peer
		peerSet.ByID[peer.ID()] = peer
	}

	peerSet.Peers = sorted

	return peerSet
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a JSON-encoded slice
// of Peers.
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	peers := []*Peer{}

	b := bytes.NewBuffer(peerSliceBytes)
	dec := json.NewDecoder(b)

	if err := dec.Decode(&peers); err != nil {
		return nil, err
	}

	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet including the provided peer.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := peerSet.Peers

	//don't add it if it already exists
	if _, ok := peerSet.ByID[peer.ID()]; !ok {
		peers = append(peers, peer)
	}

	return NewPeerSet(peers)
}

// WithRemovedPeer returns a new PeerSet excluding the provided peer.
func (peerSet *PeerSet) WithRemovedPeer(peer *Peer) *PeerSet {
	peers := []*Peer{}
	for _, p := range peerSet.Peers {
		if p.PubKeyHex != peer.PubKeyHex {
			peers = append(peers, p)
		}
	}
	return NewPeerSet(peers)
}

/* Utilities */

// Len returns the number of Peers in the PeerSet.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.ByPubKey)
}

// IDs returns the PeerSet's slice of IDs.
func (peerSet *PeerSet) IDs() []uint32 {
	res := []uint32{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.ID())
	}

	return res
}

// Stake returns the voting weight of the peer with the given id. A peer that
// is not in the set has zero stake.
func (peerSet *PeerSet) Stake(id uint32) int64 {
	p, ok := peerSet.ByID[id]
	if !ok {
		return 0
	}
	return p.Stake
}

// TotalStake returns the sum of all the peers' stakes.
func (peerSet *PeerSet) TotalStake() int64 {
	if peerSet.totalStake == nil {
		var total int64
		for _, p := range peerSet.Peers {
			total += p.Stake
		}
		peerSet.totalStake = &total
	}
	return *peerSet.totalStake
}

// Marshal returns the JSON encoding of the PeerSet's peers.
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
