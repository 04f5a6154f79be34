package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

const (
	testPackage = "0xfeed"
	testModel   = "0x5f3c9a"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(testPackage, "model", 0)
	require.NoError(t, err)
	return b
}

func mustParse(t *testing.T, s string) signed.Vector {
	t.Helper()
	v, err := signed.Parse(s)
	require.NoError(t, err)
	return v
}

func TestNewBuilderRequiresPackage(t *testing.T) {
	_, err := NewBuilder("", "model", 0)
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
}

func TestSingleLayer(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2, Scale: 1}
	tx, err := testBuilder(t).SingleLayer(ref, 1, mustParse(t, "1.0, -2.0, 3.0"))
	require.NoError(t, err)

	require.Len(t, tx.Commands, 1)
	call := tx.Commands[0]
	assert.Equal(t, "0xfeed::model::predict_layer", call.Target())
	require.Len(t, call.Arguments, 4)
	assert.Equal(t, ledger.Object(testModel), call.Arguments[0])
	assert.Equal(t, uint64(1), call.Arguments[1].U64)
	assert.Equal(t, []uint64{10, 20, 30}, call.Arguments[2].U64Vector)
	assert.Equal(t, []uint64{0, 1, 0}, call.Arguments[3].U64Vector)
	assert.Equal(t, ledger.DefaultGasBudget, tx.GasBudget)

	_, err = testBuilder(t).SingleLayer(ref, 2, mustParse(t, "1"))
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
}

func TestMissingModelReference(t *testing.T) {
	b := testBuilder(t)
	in := mustParse(t, "1")

	_, err := b.SingleLayer(model.Reference{TotalLayers: 1}, 0, in)
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
	_, err = b.Batched(model.Reference{TotalLayers: 1}, in)
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
	_, err = b.Decomposed(model.Reference{TotalLayers: 1}, []uint64{1}, in)
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
}

func TestBatchedUsesSameInputForEveryLayer(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 3}
	tx, err := testBuilder(t).Batched(ref, mustParse(t, "4, -5"))
	require.NoError(t, err)

	require.Len(t, tx.Commands, 3)
	for i, call := range tx.Commands {
		assert.Equal(t, FunctionPredictLayer, call.Function)
		assert.Equal(t, uint64(i), call.Arguments[1].U64)
		assert.Equal(t, []uint64{4, 5}, call.Arguments[2].U64Vector)
		assert.Equal(t, []uint64{0, 1}, call.Arguments[3].U64Vector)
	}
}

func TestDecomposedChainsAccumulators(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	tx, err := testBuilder(t).Decomposed(ref, []uint64{3, 2}, mustParse(t, "1, -1"))
	require.NoError(t, err)
	require.Len(t, tx.Commands, 5)

	for i, call := range tx.Commands {
		assert.Equal(t, FunctionPredictLayerPartial, call.Function)
		require.Len(t, call.Arguments, 7, "command %d", i)
	}

	// layer 0, dim 0: initial input with empty seeds
	first := tx.Commands[0].Arguments
	assert.Equal(t, uint64(0), first[1].U64)
	assert.Equal(t, uint64(0), first[2].U64)
	assert.Equal(t, ledger.ArgU64Vector, first[3].Kind)
	assert.Equal(t, []uint64{1, 1}, first[3].U64Vector)
	assert.Equal(t, ledger.ArgU64Vector, first[5].Kind)
	assert.Empty(t, first[5].U64Vector)
	assert.Empty(t, first[6].U64Vector)

	// layer 0, dim 2 accumulates the outputs of dim 1
	third := tx.Commands[2].Arguments
	assert.Equal(t, uint64(2), third[2].U64)
	assert.Equal(t, ledger.Result{Command: 1}.Nested(0), third[5])
	assert.Equal(t, ledger.Result{Command: 1}.Nested(1), third[6])

	// layer 1, dim 0 takes the final layer 0 accumulator as input and fresh seeds
	fourth := tx.Commands[3].Arguments
	assert.Equal(t, uint64(1), fourth[1].U64)
	assert.Equal(t, uint64(0), fourth[2].U64)
	assert.Equal(t, ledger.Result{Command: 2}.Nested(0), fourth[3])
	assert.Equal(t, ledger.Result{Command: 2}.Nested(1), fourth[4])
	assert.Equal(t, ledger.ArgU64Vector, fourth[5].Kind)

	fifth := tx.Commands[4].Arguments
	assert.Equal(t, ledger.Result{Command: 2}.Nested(0), fifth[3])
	assert.Equal(t, ledger.Result{Command: 3}.Nested(0), fifth[5])
}

func TestDecomposedValidatesDimensionsFirst(t *testing.T) {
	b := testBuilder(t)
	for total := 1; total <= 4; total++ {
		ref := model.Reference{ID: testModel, TotalLayers: total}
		for _, dims := range [][]uint64{nil, make([]uint64, total+1), []uint64{1, 1, 1, 1, 1}[:total-1]} {
			tx, err := b.Decomposed(ref, dims, mustParse(t, "1"))
			assert.Nil(t, tx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ConfigInvalid))
		}
	}

	// an empty input is not inspected before the dimension check
	_, err := b.Decomposed(model.Reference{ID: testModel, TotalLayers: 2}, []uint64{1}, signed.Vector{})
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
}
