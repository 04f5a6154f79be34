// Package model holds on-chain model metadata and the reference the inference driver runs against.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Uint64 decodes a u64 serialized either as a JSON number or as a decimal string.
type Uint64 uint64

func (u *Uint64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*u = 0
			return nil
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid u64 %q: %w", s, err)
		}
		*u = Uint64(v)
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %s: %w", data, err)
	}
	*u = Uint64(v)
	return nil
}

// Activation is the activation applied to a layer's output.
type Activation uint8

const (
	ActivationNone Activation = iota
	ActivationReLU
	ActivationSigmoid
	ActivationTanh
	ActivationSoftmax
	ActivationLeakyReLU
)

var activationNames = map[Activation]string{
	ActivationNone:      "none",
	ActivationReLU:      "relu",
	ActivationSigmoid:   "sigmoid",
	ActivationTanh:      "tanh",
	ActivationSoftmax:   "softmax",
	ActivationLeakyReLU: "leaky_relu",
}

func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("activation(%d)", uint8(a))
}

// Tensor is a sign-magnitude tensor as stored on chain.
type Tensor struct {
	Shape     []Uint64 `json:"shape"`
	Magnitude []Uint64 `json:"magnitude"`
	Sign      []Uint64 `json:"sign"`
	Scale     Uint64   `json:"scale"`
}

// Layer is one dense layer of a graph.
type Layer struct {
	LayerType    Uint64  `json:"layer_type"`
	InDimension  Uint64  `json:"in_dimension"`
	OutDimension Uint64  `json:"out_dimension"`
	WeightTensor *Tensor `json:"weight_tensor,omitempty"`
	BiasTensor   *Tensor `json:"bias_tensor,omitempty"`
}

// Graph is an ordered list of layers.
type Graph struct {
	ID     string  `json:"id,omitempty"`
	Layers []Layer `json:"layers"`
}

// Object is the Model object as returned by the metadata query service.
type Object struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	TaskType          string   `json:"task_type"`
	Graphs            []Graph  `json:"graphs"`
	Scale             Uint64   `json:"scale"`
	Creator           string   `json:"creator"`
	TrainingDatasetID string   `json:"training_dataset_id"`
	TestDatasetIDs    []string `json:"test_dataset_ids"`
}

// Layers returns the layers of the first graph.
func (o *Object) Layers() []Layer {
	if len(o.Graphs) == 0 {
		return nil
	}
	return o.Graphs[0].Layers
}

// LayerDimensions returns out_dimension per layer of the first graph.
func (o *Object) LayerDimensions() []uint64 {
	layers := o.Layers()
	dims := make([]uint64, len(layers))
	for i, l := range layers {
		dims[i] = uint64(l.OutDimension)
	}
	return dims
}
