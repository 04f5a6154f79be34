package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vec(t *testing.T, text string) signed.Vector {
	t.Helper()
	v, err := signed.Parse(text)
	require.NoError(t, err)
	return v
}

func completedSnapshot(t *testing.T) inference.Snapshot {
	class := 1
	return inference.Snapshot{
		Generation:  3,
		Mode:        inference.ModeSingleLayer,
		State:       inference.StateCompleted,
		Input:       "1.0, -2.0, 3.0",
		TotalLayers: 2,
		TxDigest:    "digest-1",
		Status: inference.Status{
			Message:  "Success! All 2 layers processed. Final output value: 7.2 (class 1)",
			Severity: inference.SeveritySuccess,
		},
		Results: []inference.LayerResult{
			{LayerIdx: 0, Input: vec(t, "1.0, -2.0, 3.0"), Output: vec(t, "4.0, -1.0"),
				Activation: model.ActivationReLU, TxDigest: "digest-0", Status: inference.LayerSuccess},
			{LayerIdx: 1, Input: vec(t, "4.0, -1.0"), Output: vec(t, "0.5, 7.2"),
				ArgmaxIdx: &class, TxDigest: "digest-1", Status: inference.LayerSuccess},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := FromSnapshot("session-a", "0xabc", completedSnapshot(t))
	require.NoError(t, s.Save(ctx, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "session-a", got.SessionID)
	assert.Equal(t, "completed", got.State)
	assert.Equal(t, "success", got.Severity)
	assert.Equal(t, uint64(3), got.Generation)
	require.NotNil(t, got.FinalClass)
	assert.Equal(t, 1, *got.FinalClass)

	require.Len(t, got.Layers, 2)
	assert.Equal(t, 0, got.Layers[0].LayerIdx)
	assert.Equal(t, "[4.00, -1.00]", signed.Format(got.Layers[0].Output))
	assert.Equal(t, int(model.ActivationReLU), got.Layers[0].Activation)
	assert.Equal(t, "[0.50, 7.20]", signed.Format(got.Layers[1].Output))
	require.NotNil(t, got.Layers[1].ArgmaxIdx)
	assert.Equal(t, 1, *got.Layers[1].ArgmaxIdx)
}

func TestGetUnknownRun(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestFailedRunKeepsErrorLayer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := inference.Snapshot{
		Generation:  1,
		Mode:        inference.ModeBatched,
		State:       inference.StateFailed,
		Input:       "1",
		TotalLayers: 2,
		Status: inference.Status{
			Message:  "Warning: PTB transaction completed but no layer computation events found. Please check the transaction details.",
			Severity: inference.SeverityWarning,
			Kind:     errors.KindNoEventsFound,
		},
		Results: []inference.LayerResult{
			{LayerIdx: 0, Input: vec(t, "1"), Status: inference.LayerError, ErrorMessage: "no events"},
		},
	}
	run := FromSnapshot("s", "0xabc", snap)
	assert.Nil(t, run.FinalClass)
	require.NoError(t, s.Save(ctx, run))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, errors.KindNoEventsFound, got.ErrorKind)
	require.Len(t, got.Layers, 1)
	assert.Equal(t, "error", got.Layers[0].Status)
	assert.Equal(t, 0, got.Layers[0].Output.Len())
}

func TestListByModel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		run := FromSnapshot("s", "0xabc", completedSnapshot(t))
		run.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Save(ctx, run))
		ids = append(ids, run.ID)
	}
	require.NoError(t, s.Save(ctx, FromSnapshot("s", "0xother", completedSnapshot(t))))

	runs, err := s.ListByModel(ctx, "0xabc", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Empty(t, runs[0].Layers)

	runs, err = s.ListByModel(ctx, "0xnone", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql", DSN: "x"}, zap.NewNop())
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
}
