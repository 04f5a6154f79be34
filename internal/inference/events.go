package inference

import (
	"fmt"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
)

// Event names emitted by the on-chain model module.
const (
	EventLayerComputed        = "LayerComputed"
	EventPredictionCompleted  = "PredictionCompleted"
	EventLayerPartialComputed = "LayerPartialComputed"
)

// Namespace qualifies event names with the package and module that emit them.
type Namespace struct {
	Package string
	Module  string
}

// EventType returns package::module::name.
func (n Namespace) EventType(name string) string {
	return fmt.Sprintf("%s::%s::%s", n.Package, n.Module, name)
}

// Decoded is one of LayerComputed, PredictionCompleted, LayerPartialComputed or Unrecognized.
type Decoded interface {
	decoded()
}

// LayerComputed reports the full output of one layer.
type LayerComputed struct {
	ModelID    string
	LayerIdx   int
	Output     signed.Vector
	Activation model.Activation
}

// PredictionCompleted reports the final output and predicted class. ArgmaxIdx is -1 when the
// output has no positive entry.
type PredictionCompleted struct {
	ModelID   string
	Output    signed.Vector
	ArgmaxIdx int
}

// LayerPartialComputed reports one output dimension of one layer.
type LayerPartialComputed struct {
	ModelID         string
	LayerIdx        int
	DimIdx          int
	Value           signed.Value
	IsLastDimension bool
}

// Unrecognized is any event outside the namespace, or a recognized type with a malformed payload.
type Unrecognized struct {
	Type   string
	Reason string
}

func (LayerComputed) decoded()        {}
func (PredictionCompleted) decoded()  {}
func (LayerPartialComputed) decoded() {}
func (Unrecognized) decoded()         {}

// Decode maps a raw event onto its variant. Types are matched by exact string equality.
// Magnitudes are dequantized with scale.
func Decode(ns Namespace, ev ledger.Event, scale uint64) Decoded {
	var (
		d   Decoded
		err error
	)
	switch ev.Type {
	case ns.EventType(EventLayerComputed):
		d, err = decodeLayerComputed(ev.ParsedJSON, scale)
	case ns.EventType(EventPredictionCompleted):
		d, err = decodePredictionCompleted(ev.ParsedJSON, scale)
	case ns.EventType(EventLayerPartialComputed):
		d, err = decodeLayerPartialComputed(ev.ParsedJSON, scale)
	default:
		return Unrecognized{Type: ev.Type, Reason: "unknown event type"}
	}
	if err != nil {
		return Unrecognized{Type: ev.Type, Reason: err.Error()}
	}
	return d
}

func modelID(fields map[string]any) string {
	id, _ := fields["model_id"].(string)
	return id
}

func outputVector(fields map[string]any, scale uint64) (signed.Vector, error) {
	mags, ok, err := ledger.Uint64SliceField(fields, "output_magnitude")
	if err != nil {
		return signed.Vector{}, err
	}
	if !ok {
		return signed.Vector{}, fmt.Errorf("missing output_magnitude")
	}
	signs, ok, err := ledger.Uint64SliceField(fields, "output_sign")
	if err != nil {
		return signed.Vector{}, err
	}
	if !ok {
		return signed.Vector{}, fmt.Errorf("missing output_sign")
	}
	return signed.Dequantize(mags, signs, scale)
}

func requiredIndex(fields map[string]any, key string) (int, error) {
	v, ok, err := ledger.Uint64Field(fields, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	return int(v), nil
}

func decodeLayerComputed(fields map[string]any, scale uint64) (Decoded, error) {
	layer, err := requiredIndex(fields, "layer_idx")
	if err != nil {
		return nil, err
	}
	out, err := outputVector(fields, scale)
	if err != nil {
		return nil, err
	}
	act, _, err := ledger.Uint64Field(fields, "activation_type")
	if err != nil {
		return nil, err
	}
	return LayerComputed{
		ModelID:    modelID(fields),
		LayerIdx:   layer,
		Output:     out,
		Activation: model.Activation(act),
	}, nil
}

func decodePredictionCompleted(fields map[string]any, scale uint64) (Decoded, error) {
	out, err := outputVector(fields, scale)
	if err != nil {
		return nil, err
	}
	argmax := signed.Argmax(out)
	if v, ok, err := ledger.Uint64Field(fields, "argmax_idx"); err != nil {
		return nil, err
	} else if ok {
		argmax = int(v)
	}
	return PredictionCompleted{ModelID: modelID(fields), Output: out, ArgmaxIdx: argmax}, nil
}

func decodeLayerPartialComputed(fields map[string]any, scale uint64) (Decoded, error) {
	layer, err := requiredIndex(fields, "layer_idx")
	if err != nil {
		return nil, err
	}
	dim, err := requiredIndex(fields, "output_dim_idx")
	if err != nil {
		return nil, err
	}
	mag, ok, err := ledger.Uint64Field(fields, "output_magnitude")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("missing output_magnitude")
	}
	sign, _, err := ledger.Uint64Field(fields, "output_sign")
	if err != nil {
		return nil, err
	}
	v, err := signed.Dequantize([]uint64{mag}, []uint64{sign}, scale)
	if err != nil {
		return nil, err
	}
	last, _ := fields["is_last_dimension"].(bool)
	return LayerPartialComputed{
		ModelID:         modelID(fields),
		LayerIdx:        layer,
		DimIdx:          dim,
		Value:           v.At(0),
		IsLastDimension: last,
	}, nil
}

// Parsed groups the recognized events of one receipt in emission order.
type Parsed struct {
	Computed     []LayerComputed
	Completion   *PredictionCompleted
	Partials     []LayerPartialComputed
	Unrecognized []Unrecognized
}

// ParseReceipt decodes every event of r. When several PredictionCompleted events are present
// the last one wins.
func ParseReceipt(ns Namespace, r *ledger.Receipt, scale uint64) Parsed {
	var p Parsed
	if r == nil {
		return p
	}
	for _, ev := range r.Events {
		switch d := Decode(ns, ev, scale).(type) {
		case LayerComputed:
			p.Computed = append(p.Computed, d)
		case PredictionCompleted:
			c := d
			p.Completion = &c
		case LayerPartialComputed:
			p.Partials = append(p.Partials, d)
		case Unrecognized:
			p.Unrecognized = append(p.Unrecognized, d)
		}
	}
	return p
}

// LatestComputed returns the most recently emitted LayerComputed event.
func (p Parsed) LatestComputed() (LayerComputed, bool) {
	if len(p.Computed) == 0 {
		return LayerComputed{}, false
	}
	return p.Computed[len(p.Computed)-1], true
}

// Empty reports whether the receipt carried no computation evidence at all.
func (p Parsed) Empty() bool {
	return len(p.Computed) == 0 && len(p.Partials) == 0 && p.Completion == nil
}
