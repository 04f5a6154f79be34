package model

import (
	"encoding/json"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// CreateModelFunction is the move function that publishes a model.
const CreateModelFunction = "create_model"

// Upload is a quantized dense model ready to be published. Each LayerDimensions entry is
// [in, out]; weights are row-major in*out and biases have out entries.
type Upload struct {
	LayerDimensions   [][]uint64 `json:"layerDimensions" validate:"required,min=1,dive,len=2,dive,gt=0"`
	WeightsMagnitudes [][]uint64 `json:"weightsMagnitudes" validate:"required"`
	WeightsSigns      [][]uint64 `json:"weightsSigns" validate:"required"`
	BiasesMagnitudes  [][]uint64 `json:"biasesMagnitudes" validate:"required"`
	BiasesSigns       [][]uint64 `json:"biasesSigns" validate:"required"`
	Scale             uint64     `json:"scale" validate:"lte=18"`
}

// Info is the descriptive metadata stored with an uploaded model.
type Info struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description" validate:"max=2048"`
	Task        string `json:"task" validate:"required"`
}

var validate = validator.New()

// DecodeUpload reads an Upload from JSON.
func DecodeUpload(r io.Reader) (*Upload, error) {
	var u Upload
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return nil, errors.InputInvalid.Explain("model file is not valid JSON").Wrap(err)
	}
	return &u, nil
}

// Validate checks that every per-layer array agrees with the declared dimensions.
func (u *Upload) Validate() error {
	if err := validate.Struct(u); err != nil {
		return errors.InputInvalid.Explain("model structure is invalid").Wrap(err)
	}

	n := len(u.LayerDimensions)
	for _, c := range []struct {
		name string
		got  int
	}{
		{"Weights magnitudes", len(u.WeightsMagnitudes)},
		{"Weights signs", len(u.WeightsSigns)},
		{"Biases magnitudes", len(u.BiasesMagnitudes)},
		{"Biases signs", len(u.BiasesSigns)},
	} {
		if c.got != n {
			return errors.InputInvalid.Explain("%s array length must match layer dimensions.", c.name)
		}
	}

	for i, dim := range u.LayerDimensions {
		in, out := dim[0], dim[1]
		if uint64(len(u.WeightsMagnitudes[i])) != in*out {
			return errors.InputInvalid.Explain("Weights magnitudes at index %d must have length %d.", i, in*out)
		}
		if uint64(len(u.WeightsSigns[i])) != in*out {
			return errors.InputInvalid.Explain("Weights signs at index %d must have length %d.", i, in*out)
		}
		if uint64(len(u.BiasesMagnitudes[i])) != out {
			return errors.InputInvalid.Explain("Biases magnitudes at index %d must have length %d.", i, out)
		}
		if uint64(len(u.BiasesSigns[i])) != out {
			return errors.InputInvalid.Explain("Biases signs at index %d must have length %d.", i, out)
		}
		if i > 0 && u.LayerDimensions[i-1][1] != in {
			return errors.InputInvalid.Explain("Layer %d input dimension %d does not match layer %d output dimension %d.",
				i, in, i-1, u.LayerDimensions[i-1][1])
		}
	}
	return nil
}

// BuildCreateModel returns a transaction publishing u under pkg::module.
func BuildCreateModel(pkg, module string, gasBudget uint64, info Info, u *Upload) (*ledger.Transaction, error) {
	if pkg == "" {
		return nil, errors.ConfigInvalid.Explain("ledger package id is not configured")
	}
	if err := validate.Struct(info); err != nil {
		return nil, errors.InputInvalid.Explain("model info is invalid").Wrap(err)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	tx := ledger.NewTransaction(gasBudget)
	tx.MoveCall(pkg, module, CreateModelFunction,
		ledger.String(info.Name),
		ledger.String(info.Description),
		ledger.String(info.Task),
		ledger.U64Matrix(u.LayerDimensions),
		ledger.U64Matrix(u.WeightsMagnitudes),
		ledger.U64Matrix(u.WeightsSigns),
		ledger.U64Matrix(u.BiasesMagnitudes),
		ledger.U64Matrix(u.BiasesSigns),
		ledger.U64(u.Scale),
	)
	return tx, nil
}
