package inference

import (
	"github.com/tidwall/btree"

	"github.com/opengraphlabs/layerinfer/internal/signed"
)

// partialKey orders partials by layer, then dimension, then arrival. Arrival keeps the sort
// stable when a receipt repeats a coordinate.
type partialKey struct {
	layer, dim, seq int
	value           signed.Value
}

func partialLess(a, b partialKey) bool {
	if a.layer != b.layer {
		return a.layer < b.layer
	}
	if a.dim != b.dim {
		return a.dim < b.dim
	}
	return a.seq < b.seq
}

// Reconstruct regroups per-dimension partials into per-layer output vectors. Receipt order is
// not computation order, so partials are always sorted. Layers without partials are absent
// from the result; partials outside [0, totalLayers) are dropped.
func Reconstruct(partials []LayerPartialComputed, totalLayers int) map[int]signed.Vector {
	ordered := btree.NewBTreeG[partialKey](partialLess)
	for i, p := range partials {
		if p.LayerIdx < 0 || p.LayerIdx >= totalLayers {
			continue
		}
		ordered.Set(partialKey{layer: p.LayerIdx, dim: p.DimIdx, seq: i, value: p.Value})
	}

	out := make(map[int]signed.Vector)
	ordered.Scan(func(k partialKey) bool {
		v := out[k.layer]
		v.Append(k.value)
		out[k.layer] = v
		return true
	})
	return out
}
