package graph

// WireEvent is the wire representation of an Event: the hashed-field block
// and the unhashed-field block, nothing else. Parent links are carried as
// hashes and generations inside HashedData and are resolved locally by the
// receiver's admission gate.
type WireEvent struct {
	Hashed   HashedData
	Unhashed UnhashedData
}

// ToEvent converts a WireEvent into an Event with no resolved parent links.
// The admission gate resolves the links before the event is inserted in the
// index.
func (w *WireEvent) ToEvent() *Event {
	return &Event{
		Hashed:   w.Hashed,
		Unhashed: w.Unhashed,
	}
}
