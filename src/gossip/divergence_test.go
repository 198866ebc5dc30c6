package gossip

import (
	"testing"

	"github.com/braidnetworks/braid/src/graph"
)

func TestCompare(t *testing.T) {
	testCases := []struct {
		name        string
		self, other graph.Bounds
		selfBehind  bool
		otherBehind bool
	}{
		{
			name:  "overlapping windows",
			self:  graph.Bounds{Min: 10, Max: 40},
			other: graph.Bounds{Min: 25, Max: 60},
		},
		{
			name:       "self behind",
			self:       graph.Bounds{Min: 10, Max: 20},
			other:      graph.Bounds{Min: 25, Max: 40},
			selfBehind: true,
		},
		{
			name:        "other behind",
			self:        graph.Bounds{Min: 25, Max: 40},
			other:       graph.Bounds{Min: 10, Max: 20},
			otherBehind: true,
		},
		{
			name:  "windows touching at the boundary",
			self:  graph.Bounds{Min: 10, Max: 25},
			other: graph.Bounds{Min: 25, Max: 40},
		},
		{
			name:  "both empty",
			self:  graph.Bounds{},
			other: graph.Bounds{},
		},
		{
			name:       "empty graph against advanced peer",
			self:       graph.Bounds{},
			other:      graph.Bounds{Min: 5, Max: 12},
			selfBehind: true,
		},
		{
			name:  "empty graph against fresh peer",
			self:  graph.Bounds{},
			other: graph.Bounds{Min: 0, Max: 3},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := Compare(tc.self, tc.other)
			if d.SelfBehind != tc.selfBehind {
				t.Fatalf("SelfBehind = %v, want %v", d.SelfBehind, tc.selfBehind)
			}
			if d.OtherBehind != tc.otherBehind {
				t.Fatalf("OtherBehind = %v, want %v", d.OtherBehind, tc.otherBehind)
			}

			wantProceed := !tc.selfBehind && !tc.otherBehind
			if d.Proceed() != wantProceed {
				t.Fatalf("Proceed() = %v, want %v", d.Proceed(), wantProceed)
			}
		})
	}
}

func TestCompareSymmetry(t *testing.T) {
	a := graph.Bounds{Min: 10, Max: 20}
	b := graph.Bounds{Min: 25, Max: 40}

	ab := Compare(a, b)
	ba := Compare(b, a)

	if ab.SelfBehind != ba.OtherBehind || ab.OtherBehind != ba.SelfBehind {
		t.Fatalf("Compare not symmetric: %+v vs %+v", ab, ba)
	}
}
