package gossip

import "github.com/braidnetworks/braid/src/graph"

/*
Divergence captures the outcome of comparing two peers' non-ancient
generation windows during a sync. Each direction is computed
independently; it is possible for neither, one, or (transiently, when
both windows are empty or disjoint in both directions) both sides to
have fallen behind.
*/
type Divergence struct {
	SelfBehind  bool
	OtherBehind bool
}

//Compare reports whether either party has fallen behind the other. A
//node has fallen behind when every event it still holds is already
//ancient from the counterparty's point of view, ie. the counterparty's
//minimum non-ancient generation exceeds the node's maximum generation.
//A node with no events at all (Max == 0) is behind any peer whose
//window has advanced past the first generation.
func Compare(self, other graph.Bounds) Divergence {
	return Divergence{
		SelfBehind:  other.Min > self.Max,
		OtherBehind: self.Min > other.Max,
	}
}

//Proceed returns true when the sync can continue into the event
//exchange phase, ie. neither side has fallen behind.
func (d Divergence) Proceed() bool {
	return !d.SelfBehind && !d.OtherBehind
}
