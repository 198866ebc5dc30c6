package graph

import (
	"fmt"
	"sync/atomic"
)

// Bounds is a generation boundary pair: the minimum non-ancient generation
// and the maximum known generation. Min only ever increases; it is the
// pruning horizon below which events are ancient and may be expired.
type Bounds struct {
	Min int64
	Max int64
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d, %d]", b.Min, b.Max)
}

// Generations tracks a node's generation boundary pair. It is read by every
// gossip session without locking; both values only move forward, so a stale
// read is always safe.
type Generations struct {
	min int64
	max int64
}

// NewGenerations returns a Generations with Min = FirstGeneration and Max =
// GenerationUnknown (no events yet).
func NewGenerations() *Generations {
	return &Generations{
		min: FirstGeneration,
	}
}

// Bounds returns the current boundary pair.
func (g *Generations) Bounds() Bounds {
	return Bounds{
		Min: atomic.LoadInt64(&g.min),
		Max: atomic.LoadInt64(&g.max),
	}
}

// MinimumNonAncient returns the generation below which events are ancient.
func (g *Generations) MinimumNonAncient() int64 {
	return atomic.LoadInt64(&g.min)
}

// ExtendMax raises the maximum known generation. Lower values are ignored.
func (g *Generations) ExtendMax(gen int64) {
	for {
		cur := atomic.LoadInt64(&g.max)
		if gen <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&g.max, cur, gen) {
			return
		}
	}
}

// AdvanceMin raises the minimum non-ancient generation. The minimum is
// monotonic: attempts to lower it are ignored.
func (g *Generations) AdvanceMin(gen int64) {
	for {
		cur := atomic.LoadInt64(&g.min)
		if gen <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&g.min, cur, gen) {
			return
		}
	}
}
