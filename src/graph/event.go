package graph

import (
	"bytes"
	"crypto/ecdsa"
	"time"

	"github.com/braidnetworks/braid/src/common"
	"github.com/braidnetworks/braid/src/crypto"
	"github.com/braidnetworks/braid/src/crypto/keys"
	"github.com/ugorji/go/codec"
)

// GenerationUnknown is the generation claimed for an absent parent. A parent
// generation of GenerationUnknown means the event has no such parent.
const GenerationUnknown int64 = 0

// FirstGeneration is the generation of an event with no parents.
const FirstGeneration int64 = 1

/*******************************************************************************
HashedData
*******************************************************************************/

// HashedData is the signed portion of an Event. It is hashed exactly once,
// and the hash is what the creator signs and what other nodes use to address
// the event.
type HashedData struct {
	CreatorID       uint32
	SelfParentGen   int64
	OtherParentGen  int64
	SelfParentHash  []byte
	OtherParentHash []byte
	TimeCreated     time.Time
	Transactions    [][]byte
}

// Marshal returns the canonical CBOR encoding of the HashedData. Canonical
// encoding matters: the hash, and therefore the signature, must be stable
// across nodes.
func (h *HashedData) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	ch := new(codec.CborHandle)
	ch.Canonical = true
	enc := codec.NewEncoder(b, ch)

	if err := enc.Encode(h); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a CBOR encoded HashedData.
func (h *HashedData) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	ch := new(codec.CborHandle)
	ch.Canonical = true
	dec := codec.NewDecoder(b, ch)

	return dec.Decode(h)
}

// Hash returns the SHA-384 hash of the canonical encoding.
func (h *HashedData) Hash() ([]byte, error) {
	hashBytes, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	return crypto.SHA384(hashBytes), nil
}

/*******************************************************************************
UnhashedData
*******************************************************************************/

// UnhashedData carries the fields that ride alongside an event on the wire
// but are not covered by its hash: the creator's sequence number, the
// other-parent's coordinates, and the creator's signature over the hashed
// part.
type UnhashedData struct {
	CreatorSeq           int64
	OtherParentCreatorID uint32
	OtherParentSeq       int64
	Signature            string
}

// Marshal returns the CBOR encoding of the UnhashedData.
func (u *UnhashedData) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, new(codec.CborHandle))

	if err := enc.Encode(u); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a CBOR encoded UnhashedData.
func (u *UnhashedData) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := codec.NewDecoder(b, new(codec.CborHandle))
	return dec.Decode(u)
}

/*******************************************************************************
Event
*******************************************************************************/

// Event is the fundamental unit of the braid. It combines a HashedData with
// its UnhashedData, plus local-only fields: resolved parent links, a
// topological insertion index, and the consensus fields assigned later by the
// consensus layer.
type Event struct {
	Hashed   HashedData
	Unhashed UnhashedData

	// Resolved parent links. A nil link with a non-zero claimed parent
	// generation means the parent is ancient and has been expired from the
	// index.
	selfParent  *Event
	otherParent *Event

	// topologicalIndex records insertion order in the local index. It is a
	// partial order, different on every node.
	topologicalIndex int

	// Consensus fields. Set by the consensus layer, carried but never
	// interpreted by the gossip core.
	consensusOrder     *int64
	roundReceived      *int64
	consensusTimestamp *time.Time

	hash []byte
	hex  string
}

// NewEvent instantiates an Event from its hashed fields. The unhashed fields
// are filled in by Sign and by the caller.
func NewEvent(
	creatorID uint32,
	selfParent, otherParent *Event,
	timeCreated time.Time,
	transactions [][]byte,
) *Event {

	hashed := HashedData{
		CreatorID:    creatorID,
		TimeCreated:  timeCreated,
		Transactions: transactions,
	}

	unhashed := UnhashedData{}

	if selfParent != nil {
		hashed.SelfParentGen = selfParent.Generation()
		hashed.SelfParentHash = selfParent.Hash()
		unhashed.CreatorSeq = selfParent.Unhashed.CreatorSeq + 1
	}

	if otherParent != nil {
		hashed.OtherParentGen = otherParent.Generation()
		hashed.OtherParentHash = otherParent.Hash()
		unhashed.OtherParentCreatorID = otherParent.Hashed.CreatorID
		unhashed.OtherParentSeq = otherParent.Unhashed.CreatorSeq
	}

	return &Event{
		Hashed:      hashed,
		Unhashed:    unhashed,
		selfParent:  selfParent,
		otherParent: otherParent,
	}
}

// CreatorID returns the 32-bit id of the event's creator.
func (e *Event) CreatorID() uint32 {
	return e.Hashed.CreatorID
}

// Generation returns 1 + max(parent generations), or FirstGeneration for an
// event with no parents. It is derived from the claimed parent generations in
// the hashed part, so it is covered by the signature.
func (e *Event) Generation() int64 {
	g := e.Hashed.SelfParentGen
	if e.Hashed.OtherParentGen > g {
		g = e.Hashed.OtherParentGen
	}
	return g + 1
}

// SelfParent returns the resolved self-parent link, or nil if the event has
// no self-parent or the parent has been expired.
func (e *Event) SelfParent() *Event {
	return e.selfParent
}

// OtherParent returns the resolved other-parent link, or nil.
func (e *Event) OtherParent() *Event {
	return e.otherParent
}

// HasSelfParent returns true if the event claims a self-parent, resident or
// not.
func (e *Event) HasSelfParent() bool {
	return e.Hashed.SelfParentGen != GenerationUnknown
}

// HasOtherParent returns true if the event claims an other-parent, resident
// or not.
func (e *Event) HasOtherParent() bool {
	return e.Hashed.OtherParentGen != GenerationUnknown
}

// SelfParentHex returns the hex key of the claimed self-parent, or "".
func (e *Event) SelfParentHex() string {
	if !e.HasSelfParent() {
		return ""
	}
	return common.EncodeToString(e.Hashed.SelfParentHash)
}

// OtherParentHex returns the hex key of the claimed other-parent, or "".
func (e *Event) OtherParentHex() string {
	if !e.HasOtherParent() {
		return ""
	}
	return common.EncodeToString(e.Hashed.OtherParentHash)
}

// Transactions returns the event's transaction payload.
func (e *Event) Transactions() [][]byte {
	return e.Hashed.Transactions
}

// PayloadSize returns the total serialized size of the event's transactions.
func (e *Event) PayloadSize() int {
	size := 0
	for _, tx := range e.Hashed.Transactions {
		size += len(tx)
	}
	return size
}

// Hash returns the SHA-384 hash of the hashed part. It is computed once and
// then fixed; the event is immutable from that point on.
func (e *Event) Hash() []byte {
	if len(e.hash) == 0 {
		hash, err := e.Hashed.Hash()
		if err != nil {
			return nil
		}
		e.hash = hash
	}
	return e.hash
}

// Hex returns the string key of the event's hash.
func (e *Event) Hex() string {
	if e.hex == "" {
		e.hex = common.EncodeToString(e.Hash())
	}
	return e.hex
}

// Sign signs the event's hash with an ecdsa key and records the signature in
// the unhashed part.
func (e *Event) Sign(privKey *ecdsa.PrivateKey) error {
	signBytes := e.Hash()

	R, S, err := keys.Sign(privKey, signBytes)
	if err != nil {
		return err
	}

	e.Unhashed.Signature = keys.EncodeSignature(R, S)

	return nil
}

// Verify checks the creator's signature over the event's hash against the
// provided public key.
func (e *Event) Verify(pubKey *ecdsa.PublicKey) (bool, error) {
	signBytes := e.Hash()

	r, s, err := keys.DecodeSignature(e.Unhashed.Signature)
	if err != nil {
		return false, err
	}

	return keys.Verify(pubKey, signBytes, r, s), nil
}

// SetParents records the locally-resolved parent links. Either link may be
// nil when the corresponding parent is absent or ancient.
func (e *Event) SetParents(selfParent, otherParent *Event) {
	e.selfParent = selfParent
	e.otherParent = otherParent
}

// SetConsensus records the fields assigned by the consensus layer once the
// event's position in the total order is finalized. The gossip core only
// passes them through.
func (e *Event) SetConsensus(order int64, roundReceived int64, timestamp time.Time) {
	e.consensusOrder = &order
	e.roundReceived = &roundReceived
	e.consensusTimestamp = &timestamp
}

// ConsensusOrder returns the event's consensus order, or nil if undecided.
func (e *Event) ConsensusOrder() *int64 {
	return e.consensusOrder
}

// RoundReceived returns the event's round-received, or nil if undecided.
func (e *Event) RoundReceived() *int64 {
	return e.roundReceived
}

// ToWire converts an Event to its wire representation.
func (e *Event) ToWire() WireEvent {
	return WireEvent{
		Hashed:   e.Hashed,
		Unhashed: e.Unhashed,
	}
}

/*******************************************************************************
Sorting
*******************************************************************************/

// ByTopologicalOrder implements sort.Interface for []*Event based on the
// private topologicalIndex field. THIS IS A PARTIAL ORDER.
type ByTopologicalOrder []*Event

// Len implements the sort.Interface
func (a ByTopologicalOrder) Len() int { return len(a) }

// Swap implements the sort.Interface
func (a ByTopologicalOrder) Swap(i, j int) { a[i], a[j] = a[j], a[i] }

// Less implements the sort.Interface
func (a ByTopologicalOrder) Less(i, j int) bool {
	return a[i].topologicalIndex < a[j].topologicalIndex
}
