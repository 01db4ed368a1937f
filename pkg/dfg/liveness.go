package dfg

import (
	"container/list"

	"github.com/bits-and-blooms/bitset"

	"github.com/l3aro/pystruct/pkg/cfg"
)

// solveLiveness iterates live variables backwards to a fixed point and
// reports whether any set changed.
func (r *Result) solveLiveness() bool {
	changed := false
	worklist := list.New()
	queued := make([]bool, len(r.graph.Blocks))
	for i := len(r.graph.Blocks) - 1; i >= 0; i-- {
		id := r.graph.Blocks[i].ID
		worklist.PushBack(id)
		queued[id] = true
	}

	for worklist.Len() > 0 {
		id := worklist.Remove(worklist.Front()).(cfg.BlockID)
		queued[id] = false

		// out[block] = union of in[succ] for all successors
		out := r.unionSuccs(id)
		if !out.Equal(r.liveOut[id]) {
			r.liveOut[id] = out
			changed = true
		}

		// in[block] = use[block] U (out[block] - def[block])
		in := out.Difference(r.defSet[id]).Union(r.useSet[id])
		if in.Equal(r.liveIn[id]) {
			continue
		}
		r.liveIn[id] = in
		changed = true
		for _, p := range r.graph.Blocks[id].Preds {
			if !queued[p] {
				worklist.PushBack(p)
				queued[p] = true
			}
		}
	}
	return changed
}

func (r *Result) unionSuccs(id cfg.BlockID) *bitset.BitSet {
	result := bitset.New(uint(len(r.Vars)))
	for _, s := range r.graph.Blocks[id].Succs {
		result.InPlaceUnion(r.liveIn[s])
	}
	return result
}

// IsLiveAfter reports whether a variable may be read after the end of a block
func (r *Result) IsLiveAfter(b cfg.BlockID, name string) bool {
	v, ok := r.varOf[name]
	if !ok || !r.graph.Reachable(b) {
		return false
	}
	return r.liveOut[b].Test(uint(v))
}
