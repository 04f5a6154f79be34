package inference

import (
	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

const (
	FunctionPredictLayer        = "predict_layer"
	FunctionPredictLayerPartial = "predict_layer_partial"
)

// Builder constructs inference transactions against one deployed package.
type Builder struct {
	Package   string
	Module    string
	GasBudget uint64
}

// NewBuilder returns a builder for pkg::module.
func NewBuilder(pkg, module string, gasBudget uint64) (*Builder, error) {
	if pkg == "" {
		return nil, errors.ConfigInvalid.Explain("ledger package id is not configured")
	}
	if module == "" {
		module = "model"
	}
	return &Builder{Package: pkg, Module: module, GasBudget: gasBudget}, nil
}

// Namespace returns the event namespace of the builder's module.
func (b *Builder) Namespace() Namespace {
	return Namespace{Package: b.Package, Module: b.Module}
}

func (b *Builder) quantize(ref model.Reference, input signed.Vector) (mags, signs []uint64, err error) {
	if err := ref.Validate(); err != nil {
		return nil, nil, err
	}
	if input.Len() == 0 {
		return nil, nil, errors.InputInvalid.Explain("Input vector is empty. Please provide comma-separated numbers.")
	}
	return signed.Quantize(input, ref.Scale)
}

// SingleLayer builds predict_layer(model, layer, input) for one layer.
func (b *Builder) SingleLayer(ref model.Reference, layer int, input signed.Vector) (*ledger.Transaction, error) {
	mags, signs, err := b.quantize(ref, input)
	if err != nil {
		return nil, err
	}
	if layer < 0 || layer >= ref.TotalLayers {
		return nil, errors.ConfigInvalid.Explain("layer %d is outside model with %d layers", layer, ref.TotalLayers)
	}

	tx := ledger.NewTransaction(b.GasBudget)
	tx.MoveCall(b.Package, b.Module, FunctionPredictLayer,
		ledger.Object(ref.ID),
		ledger.U64(uint64(layer)),
		ledger.U64Vector(mags),
		ledger.U64Vector(signs),
	)
	return tx, nil
}

// Batched builds one transaction calling predict_layer for every layer with the same initial
// input. The on-chain module chains outputs to inputs inside the transaction.
func (b *Builder) Batched(ref model.Reference, input signed.Vector) (*ledger.Transaction, error) {
	mags, signs, err := b.quantize(ref, input)
	if err != nil {
		return nil, err
	}

	tx := ledger.NewTransaction(b.GasBudget)
	for layer := 0; layer < ref.TotalLayers; layer++ {
		tx.MoveCall(b.Package, b.Module, FunctionPredictLayer,
			ledger.Object(ref.ID),
			ledger.U64(uint64(layer)),
			ledger.U64Vector(mags),
			ledger.U64Vector(signs),
		)
	}
	return tx, nil
}

// Decomposed builds one predict_layer_partial call per (layer, output dimension). Within a
// layer each call receives the previous call's accumulator; the first receives empty seeds.
// Layer l>0 takes the final accumulator of layer l-1 as its input. dims must hold one positive
// entry per layer; it is checked before any call is built.
func (b *Builder) Decomposed(ref model.Reference, dims []uint64, input signed.Vector) (*ledger.Transaction, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if !model.DimensionsValid(dims, ref.TotalLayers) {
		return nil, errors.ConfigInvalid.Explain("Layer dimensions not found. Please check the model metadata.").
			WithField("mismatch", "layer_dimensions", "expected one positive dimension per layer")
	}
	mags, signs, err := b.quantize(ref, input)
	if err != nil {
		return nil, err
	}

	tx := ledger.NewTransaction(b.GasBudget)
	inMags, inSigns := ledger.U64Vector(mags), ledger.U64Vector(signs)
	for layer := 0; layer < ref.TotalLayers; layer++ {
		accMags, accSigns := ledger.U64Vector(nil), ledger.U64Vector(nil)
		for dim := uint64(0); dim < dims[layer]; dim++ {
			res := tx.MoveCall(b.Package, b.Module, FunctionPredictLayerPartial,
				ledger.Object(ref.ID),
				ledger.U64(uint64(layer)),
				ledger.U64(dim),
				inMags,
				inSigns,
				accMags,
				accSigns,
			)
			accMags, accSigns = res.Nested(0), res.Nested(1)
		}
		inMags, inSigns = accMags, accSigns
	}
	return tx, nil
}
