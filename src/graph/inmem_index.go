package graph

import (
	"sort"
	"sync"

	cm "github.com/braidnetworks/braid/src/common"
)

// expiredCacheSize bounds the memory spent remembering expired hashes.
const expiredCacheSize = 50000

// InmemIndex is the in-memory implementation of the ancestry index. Reads and
// writes are guarded by a single RWMutex: sessions take read locks to compute
// tip sets and send-lists, the admission gate takes the write lock to insert.
type InmemIndex struct {
	sync.RWMutex

	events     map[string]*Event   //hex => event
	childCount map[string]int      //hex => number of resident children
	tips       map[uint32][]*Event //creator id => events with no resident children

	//hashes of recently expired events, so they still read as known
	expired *cm.LRU

	topologicalIndex int
}

// NewInmemIndex creates an empty InmemIndex.
func NewInmemIndex() *InmemIndex {
	return &InmemIndex{
		events:     make(map[string]*Event),
		childCount: make(map[string]int),
		tips:       make(map[uint32][]*Event),
		expired:    cm.NewLRU(expiredCacheSize, nil),
	}
}

// ContainsHash implements the Index interface.
func (idx *InmemIndex) ContainsHash(hex string) bool {
	idx.RLock()
	defer idx.RUnlock()

	if _, ok := idx.events[hex]; ok {
		return true
	}
	return idx.expired.Contains(hex)
}

// GetEvent implements the Index interface.
func (idx *InmemIndex) GetEvent(hex string) (*Event, error) {
	idx.RLock()
	defer idx.RUnlock()

	ev, ok := idx.events[hex]
	if !ok {
		return nil, cm.NewStoreErr("EventIndex", cm.KeyNotFound, hex)
	}
	return ev, nil
}

// InsertEvent implements the Index interface.
func (idx *InmemIndex) InsertEvent(event *Event) error {
	idx.Lock()
	defer idx.Unlock()

	hex := event.Hex()

	if _, ok := idx.events[hex]; ok {
		return cm.NewStoreErr("EventIndex", cm.KeyAlreadyExists, hex)
	}

	event.topologicalIndex = idx.topologicalIndex
	idx.topologicalIndex++

	idx.events[hex] = event

	//the new event displaces its resident parents from the tip set
	for _, parent := range []*Event{event.SelfParent(), event.OtherParent()} {
		if parent == nil {
			continue
		}
		idx.childCount[parent.Hex()]++
		idx.removeTip(parent)
	}

	creator := event.CreatorID()
	idx.tips[creator] = append(idx.tips[creator], event)

	return nil
}

// removeTip drops ev from its creator's tip list. Caller holds the lock.
func (idx *InmemIndex) removeTip(ev *Event) {
	creator := ev.CreatorID()
	tips := idx.tips[creator]
	for i, t := range tips {
		if t.Hex() == ev.Hex() {
			idx.tips[creator] = append(tips[:i], tips[i+1:]...)
			break
		}
	}
	if len(idx.tips[creator]) == 0 {
		delete(idx.tips, creator)
	}
}

// Tips implements the Index interface. The snapshot is sorted by creator id
// then sequence so that two calls on an unchanged index agree.
func (idx *InmemIndex) Tips() []*Event {
	idx.RLock()
	defer idx.RUnlock()

	res := []*Event{}
	for _, tips := range idx.tips {
		res = append(res, tips...)
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatorID() != res[j].CreatorID() {
			return res[i].CreatorID() < res[j].CreatorID()
		}
		return res[i].Unhashed.CreatorSeq < res[j].Unhashed.CreatorSeq
	})

	return res
}

// TipOf implements the Index interface. With multiple tips (a fork), the one
// with the highest sequence number is returned.
func (idx *InmemIndex) TipOf(creatorID uint32) (*Event, bool) {
	idx.RLock()
	defer idx.RUnlock()

	tips, ok := idx.tips[creatorID]
	if !ok || len(tips) == 0 {
		return nil, false
	}

	best := tips[0]
	for _, t := range tips[1:] {
		if t.Unhashed.CreatorSeq > best.Unhashed.CreatorSeq {
			best = t
		}
	}
	return best, true
}

// AncestorsExcluding implements the Index interface.
//
// The known map seeds the exclusion set; since a peer that has an event also
// has all of its ancestors, the exclusion set is the transitive ancestor
// closure of the seeds. The send-list is then every resident ancestor of the
// local tips that is not in the closure and not below the floor generation,
// sorted by generation with ties broken by local insertion order. A parent's
// generation is always strictly smaller than its child's, so this order
// delivers ancestors before descendants.
func (idx *InmemIndex) AncestorsExcluding(known map[string]bool, floor int64) []*Event {
	idx.RLock()
	defer idx.RUnlock()

	//expand the seeds into their ancestor closure
	excluded := make(map[string]bool, len(known))
	stack := []string{}
	for hex := range known {
		if ev, ok := idx.events[hex]; ok {
			excluded[ev.Hex()] = true
			stack = append(stack, ev.Hex())
		}
	}

	for len(stack) > 0 {
		hex := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ev := idx.events[hex]
		for _, parent := range []*Event{ev.SelfParent(), ev.OtherParent()} {
			if parent == nil {
				continue
			}
			if !excluded[parent.Hex()] {
				excluded[parent.Hex()] = true
				stack = append(stack, parent.Hex())
			}
		}
	}

	//walk down from the local tips collecting everything not excluded
	missing := []*Event{}
	seen := make(map[string]bool)

	for _, tips := range idx.tips {
		for _, tip := range tips {
			stack = append(stack, tip.Hex())
		}
	}

	for len(stack) > 0 {
		hex := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[hex] || excluded[hex] {
			continue
		}
		seen[hex] = true

		ev, ok := idx.events[hex]
		if !ok {
			continue
		}

		if ev.Generation() >= floor {
			missing = append(missing, ev)
		}

		for _, parent := range []*Event{ev.SelfParent(), ev.OtherParent()} {
			if parent != nil {
				stack = append(stack, parent.Hex())
			}
		}
	}

	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Generation() != missing[j].Generation() {
			return missing[i].Generation() < missing[j].Generation()
		}
		return missing[i].topologicalIndex < missing[j].topologicalIndex
	})

	return missing
}

// Expire implements the Index interface.
func (idx *InmemIndex) Expire(minGen int64) int {
	idx.Lock()
	defer idx.Unlock()

	removed := 0
	for hex, ev := range idx.events {
		if ev.Generation() >= minGen {
			continue
		}

		//keep tips so stalled creators remain advertised
		if idx.childCount[hex] == 0 {
			continue
		}

		delete(idx.events, hex)
		delete(idx.childCount, hex)
		idx.expired.Add(hex, nil)
		removed++
	}

	//prune dangling parent links of the survivors
	for _, ev := range idx.events {
		sp := ev.SelfParent()
		if sp != nil {
			if _, ok := idx.events[sp.Hex()]; !ok {
				ev.SetParents(nil, ev.OtherParent())
			}
		}
		op := ev.OtherParent()
		if op != nil {
			if _, ok := idx.events[op.Hex()]; !ok {
				ev.SetParents(ev.SelfParent(), nil)
			}
		}
	}

	return removed
}

// Count implements the Index interface.
func (idx *InmemIndex) Count() int {
	idx.RLock()
	defer idx.RUnlock()

	return len(idx.events)
}

// Close implements the Index interface.
func (idx *InmemIndex) Close() error {
	return nil
}
