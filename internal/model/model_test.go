package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

const sampleModel = `{
  "id": "0x5f3c",
  "name": "mnist-tiny",
  "scale": "2",
  "graphs": [{"layers": [
    {"layer_type": 0, "in_dimension": "3", "out_dimension": "2"},
    {"layer_type": "0", "in_dimension": 2, "out_dimension": "4"}
  ]}]
}`

func TestObjectDecodesStringAndNumberU64(t *testing.T) {
	var o Object
	require.NoError(t, json.Unmarshal([]byte(sampleModel), &o))

	assert.Equal(t, Uint64(2), o.Scale)
	assert.Equal(t, []uint64{2, 4}, o.LayerDimensions())

	ref := ReferenceFromObject(&o)
	assert.Equal(t, 2, ref.TotalLayers)
	assert.Equal(t, uint64(2), ref.Scale)
	assert.NoError(t, ref.Validate())
}

func TestUint64RejectsGarbage(t *testing.T) {
	var u Uint64
	assert.Error(t, json.Unmarshal([]byte(`"-1"`), &u))
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &u))
}

func TestReferenceValidate(t *testing.T) {
	cases := map[string]Reference{
		"missing id":  {TotalLayers: 1},
		"not hex":     {ID: "model-1", TotalLayers: 1},
		"no prefix":   {ID: "abcd", TotalLayers: 1},
		"too long":    {ID: "0x" + strings.Repeat("ab", 33), TotalLayers: 1},
		"zero layers": {ID: "0x1"},
	}
	for name, ref := range cases {
		err := ref.Validate()
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, errors.ConfigInvalid), name)
	}

	assert.NoError(t, Reference{ID: "0x" + strings.Repeat("ab", 32), TotalLayers: 3}.Validate())
}

func TestDimensionsValid(t *testing.T) {
	assert.True(t, DimensionsValid([]uint64{3, 2}, 2))
	assert.False(t, DimensionsValid([]uint64{3}, 2))
	assert.False(t, DimensionsValid([]uint64{3, 0}, 2))
	assert.False(t, DimensionsValid(nil, 0))
}

func validUpload() *Upload {
	return &Upload{
		LayerDimensions:   [][]uint64{{2, 3}, {3, 1}},
		WeightsMagnitudes: [][]uint64{{1, 2, 3, 4, 5, 6}, {1, 2, 3}},
		WeightsSigns:      [][]uint64{{0, 1, 0, 1, 0, 1}, {0, 0, 1}},
		BiasesMagnitudes:  [][]uint64{{1, 1, 1}, {0}},
		BiasesSigns:       [][]uint64{{0, 0, 0}, {0}},
		Scale:             2,
	}
}

func TestUploadValidate(t *testing.T) {
	require.NoError(t, validUpload().Validate())

	u := validUpload()
	u.WeightsSigns = u.WeightsSigns[:1]
	assert.ErrorContains(t, u.Validate(), "Weights signs array length")

	u = validUpload()
	u.WeightsMagnitudes[1] = []uint64{1}
	assert.ErrorContains(t, u.Validate(), "Weights magnitudes at index 1 must have length 3")

	u = validUpload()
	u.BiasesSigns[0] = []uint64{0}
	assert.ErrorContains(t, u.Validate(), "Biases signs at index 0 must have length 3")

	u = validUpload()
	u.LayerDimensions[0] = []uint64{2, 3, 4}
	err := u.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InputInvalid))

	u = validUpload()
	u.LayerDimensions[1] = []uint64{4, 1}
	u.WeightsMagnitudes[1] = []uint64{1, 2, 3, 4}
	u.WeightsSigns[1] = []uint64{0, 0, 0, 0}
	assert.ErrorContains(t, u.Validate(), "does not match")
}

func TestBuildCreateModel(t *testing.T) {
	info := Info{Name: "xor", Description: "two layer xor", Task: "classification"}
	tx, err := BuildCreateModel("0xabc", "model", 0, info, validUpload())
	require.NoError(t, err)
	require.Len(t, tx.Commands, 1)

	call := tx.Commands[0]
	assert.Equal(t, "0xabc::model::create_model", call.Target())
	require.Len(t, call.Arguments, 9)
	assert.Equal(t, ledger.ArgString, call.Arguments[0].Kind)
	assert.Equal(t, ledger.ArgU64Matrix, call.Arguments[3].Kind)
	assert.Equal(t, [][]uint64{{2, 3}, {3, 1}}, call.Arguments[3].U64Matrix)
	assert.Equal(t, uint64(2), call.Arguments[8].U64)
	assert.Equal(t, ledger.DefaultGasBudget, tx.GasBudget)

	_, err = BuildCreateModel("", "model", 0, info, validUpload())
	assert.True(t, errors.Is(err, errors.ConfigInvalid))

	_, err = BuildCreateModel("0xabc", "model", 0, Info{}, validUpload())
	assert.True(t, errors.Is(err, errors.InputInvalid))
}

func TestDecodeUpload(t *testing.T) {
	_, err := DecodeUpload(strings.NewReader("{"))
	assert.True(t, errors.Is(err, errors.InputInvalid))

	u, err := DecodeUpload(strings.NewReader(`{"layerDimensions":[[1,1]],"weightsMagnitudes":[[5]],"weightsSigns":[[0]],"biasesMagnitudes":[[1]],"biasesSigns":[[1]],"scale":1}`))
	require.NoError(t, err)
	assert.NoError(t, u.Validate())
}
