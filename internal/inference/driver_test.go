package inference

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/ledger/ledgertest"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

// transitions returns the snapshots at which the state changed.
func (r *recorder) transitions() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Snapshot
	for i, s := range r.snaps {
		if i == 0 || r.snaps[i-1].State != s.State || r.snaps[i-1].Generation != s.Generation {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) submittedLayers() []int {
	var layers []int
	for _, s := range r.transitions() {
		if s.State == StateSubmitting {
			layers = append(layers, s.CurrentLayer)
		}
	}
	return layers
}

func newTestDriver(t *testing.T, ref model.Reference, l *ledgertest.Ledger, opts ...Option) (*Driver, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithChainDelay(0), WithObserver(rec.observe)}, opts...)
	return NewDriver(ref, testBuilder(t), l, zap.NewNop(), opts...), rec
}

func receipt(digest string, events ...ledger.Event) ledgertest.Step {
	return ledgertest.Step{Receipt: &ledger.Receipt{Digest: digest, Events: events}}
}

func TestTwoLayerRunReportsFinalValue(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2, Scale: 1}
	l := ledgertest.New(
		receipt("digest-0", layerComputedEvent(0, []uint64{40, 10}, []uint64{0, 1})),
		receipt("digest-1",
			layerComputedEvent(1, []uint64{5, 72}, []uint64{0, 0}),
			completedEvent([]uint64{5, 72}, []uint64{0, 0}, intPtr(1)),
		),
	)
	d, rec := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1.0, -2.0, 3.0", ModeSingleLayer)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, SeveritySuccess, snap.Status.Severity)
	assert.Equal(t, "Success! All 2 layers processed. Final output value: 7.2 (class 1)", snap.Status.Message)
	assert.False(t, snap.Busy)
	assert.Equal(t, 2, snap.CurrentLayer)
	assert.Equal(t, "digest-1", snap.TxDigest)

	require.Len(t, snap.Results, 2)
	assert.Equal(t, "[1.00, -2.00, 3.00]", signed.Format(snap.Results[0].Input))
	assert.Equal(t, "[4.00, -1.00]", signed.Format(snap.Results[0].Output))
	assert.Nil(t, snap.Results[0].ArgmaxIdx)
	assert.True(t, snap.Results[1].Input.Equal(snap.Results[0].Output))
	require.NotNil(t, snap.Results[1].ArgmaxIdx)
	assert.Equal(t, 1, *snap.Results[1].ArgmaxIdx)

	// the second transaction carries the first layer's output
	txs := l.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, []uint64{40, 10}, txs[1].Commands[0].Arguments[2].U64Vector)
	assert.Equal(t, []uint64{0, 1}, txs[1].Commands[0].Arguments[3].U64Vector)

	assert.Equal(t, []int{0, 1}, rec.submittedLayers())
	final, ok := snap.Final()
	require.True(t, ok)
	assert.Equal(t, 1, final.LayerIdx)
}

func TestSingleLayerVisitsEveryLayerOnce(t *testing.T) {
	const total = 4
	ref := model.Reference{ID: testModel, TotalLayers: total}
	var steps []ledgertest.Step
	for i := 0; i < total; i++ {
		steps = append(steps, receipt("d", layerComputedEvent(i, []uint64{uint64(i + 1)}, []uint64{0})))
	}
	l := ledgertest.New(steps...)
	d, rec := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeSingleLayer)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, total, l.Calls())
	assert.Equal(t, []int{0, 1, 2, 3}, rec.submittedLayers())
	assert.Equal(t, "Success! All 4 layers processed. Final output value: 4 (class 0)", snap.Status.Message)

	// every transition the driver published is allowed by the state machine
	trans := rec.transitions()
	for i := 1; i < len(trans); i++ {
		assert.True(t, IsValidTransition(trans[i-1].State, trans[i].State),
			"%s -> %s", trans[i-1].State, trans[i].State)
	}
}

func TestSingleLayerStopsAtFirstFailure(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 3}
	l := ledgertest.New(
		receipt("d0", layerComputedEvent(0, []uint64{2}, []uint64{0})),
		ledgertest.Step{Err: stderrors.New("user rejected the request")},
	)
	d, rec := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeSingleLayer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SubmissionFailed))

	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, SeverityError, snap.Status.Severity)
	assert.Equal(t, "Error: user rejected the request", snap.Status.Message)
	assert.Equal(t, 2, l.Calls())
	assert.Equal(t, []int{0, 1}, rec.submittedLayers())

	require.Len(t, snap.Results, 2)
	assert.Equal(t, LayerSuccess, snap.Results[0].Status)
	assert.Equal(t, LayerError, snap.Results[1].Status)
	assert.Equal(t, 1, snap.Results[1].LayerIdx)
	assert.Equal(t, "user rejected the request", snap.Results[1].ErrorMessage)
}

func TestParseErrorSubmitsNothing(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	for _, mode := range []Mode{ModeSingleLayer, ModeBatched, ModeDecomposed} {
		l := ledgertest.New()
		d, _ := newTestDriver(t, ref, l)

		snap, err := d.Start(context.Background(), "1, abc", mode)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.InputInvalid))
		assert.Equal(t, StateFailed, snap.State)
		assert.Equal(t, `Error: Invalid number format: "abc". Please provide valid numbers.`, snap.Status.Message)
		assert.Equal(t, 0, l.Calls())

		snap, err = d.Start(context.Background(), " , ", mode)
		require.Error(t, err)
		assert.Equal(t, "Error: Input vector is empty. Please provide comma-separated numbers.", snap.Status.Message)
		assert.Equal(t, 0, l.Calls())
	}
}

func TestMissingModelFailsBeforeSubmission(t *testing.T) {
	l := ledgertest.New()
	d, _ := newTestDriver(t, model.Reference{TotalLayers: 2}, l)

	snap, err := d.Start(context.Background(), "1", ModeBatched)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
	assert.Equal(t, "Error: Model reference is missing.", snap.Status.Message)
	assert.Equal(t, 0, l.Calls())
	assert.Empty(t, snap.Results)
}

func TestNoEventsIsWarning(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	l := ledgertest.New(receipt("empty-digest"))
	d, _ := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeSingleLayer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NoEventsFound))
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, SeverityWarning, snap.Status.Severity)
	assert.Equal(t, errors.KindNoEventsFound, snap.Status.Kind)
	assert.Equal(t,
		"Warning: Transaction completed but no layer computation events found. Please check the transaction details.",
		snap.Status.Message)
	assert.Equal(t, "empty-digest", snap.TxDigest)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, "empty-digest", snap.Results[0].TxDigest)
}

func TestMissingDigestIsSubmissionFailure(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 1}
	l := ledgertest.New(receipt(""))
	d, _ := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeSingleLayer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SubmissionFailed))
	assert.Equal(t, "Error: No transaction digest received. The transaction might have failed.", snap.Status.Message)
}

func TestEarlyPredictionCompletedEndsRun(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 3}
	l := ledgertest.New(receipt("d0",
		layerComputedEvent(0, []uint64{3, 9}, []uint64{0, 0}),
		completedEvent([]uint64{3, 9}, []uint64{0, 0}, nil),
	))
	d, _ := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeSingleLayer)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, 1, l.Calls())
	require.Len(t, snap.Results, 1)
	assert.Equal(t, 1, *snap.Results[0].ArgmaxIdx)
	assert.Equal(t, 1, snap.CurrentLayer)
	assert.Equal(t, 3, snap.TotalLayers)
}

func TestSupersededRunIsDiscarded(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 1}
	gate := make(chan struct{})
	l := ledgertest.New(
		ledgertest.Step{Gate: gate, Receipt: &ledger.Receipt{Digest: "old",
			Events: []ledger.Event{layerComputedEvent(0, []uint64{1}, []uint64{0})}}},
		receipt("new", layerComputedEvent(0, []uint64{2}, []uint64{0})),
	)
	d, _ := newTestDriver(t, ref, l)

	type outcome struct {
		snap Snapshot
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		snap, err := d.Start(context.Background(), "1", ModeBatched)
		first <- outcome{snap, err}
	}()
	require.Eventually(t, func() bool { return l.Calls() == 1 }, time.Second, time.Millisecond)

	snap, err := d.Start(context.Background(), "2", ModeBatched)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Generation)
	assert.Equal(t, "new", snap.TxDigest)

	close(gate)
	old := <-first
	require.Error(t, old.err)
	assert.True(t, errors.Is(old.err, errors.StaleRun))

	current := d.Snapshot()
	assert.Equal(t, uint64(2), current.Generation)
	assert.Equal(t, StateCompleted, current.State)
	assert.Equal(t, "new", current.TxDigest)
	require.Len(t, current.Results, 1)
	assert.Equal(t, "[2.00]", signed.Format(current.Results[0].Output))
}

func TestManualAdvance(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	l := ledgertest.New(
		receipt("d0", layerComputedEvent(0, []uint64{5}, []uint64{1})),
		receipt("d1", layerComputedEvent(1, []uint64{6}, []uint64{0})),
	)
	d, _ := newTestDriver(t, ref, l, WithManualAdvance(true))

	_, err := d.PredictNextLayer(context.Background())
	assert.True(t, errors.Is(err, errors.Conflict))

	snap, err := d.Start(context.Background(), "1", ModeSingleLayer)
	require.NoError(t, err)
	assert.Equal(t, StateChaining, snap.State)
	assert.False(t, snap.Busy)
	assert.Equal(t, 1, snap.CurrentLayer)
	assert.Equal(t, "Layer 1 completed. Ready to run layer 2 of 2.", snap.Status.Message)
	assert.Equal(t, 1, l.Calls())

	snap, err = d.PredictNextLayer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, []uint64{5}, l.Transactions()[1].Commands[0].Arguments[2].U64Vector)
	assert.Equal(t, []uint64{1}, l.Transactions()[1].Commands[0].Arguments[3].U64Vector)

	_, err = d.PredictNextLayer(context.Background())
	assert.True(t, errors.Is(err, errors.Conflict))
}

func TestCancelledBetweenLayers(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	l := ledgertest.New(receipt("d0", layerComputedEvent(0, []uint64{5}, []uint64{0})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _ := newTestDriver(t, ref, l, WithChainDelay(time.Hour), WithObserver(func(s Snapshot) {
		if s.State == StateChaining {
			cancel()
		}
	}))

	snap, err := d.Start(ctx, "1", ModeSingleLayer)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.SubmissionFailed))
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "Error: Run cancelled before layer 2.", snap.Status.Message)
	require.Len(t, snap.Results, 1)
	assert.Equal(t, 1, l.Calls())
}

func TestBatchedRun(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	l := ledgertest.New(receipt("ptb",
		layerComputedEvent(1, []uint64{1, 8}, []uint64{0, 0}),
		layerComputedEvent(0, []uint64{3, 4}, []uint64{1, 0}),
	))
	d, rec := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1, 2", ModeBatched)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, "Success! All 2 layers processed. Final output value: 8 (class 1)", snap.Status.Message)

	require.Len(t, snap.Results, 2)
	assert.Equal(t, 0, snap.Results[0].LayerIdx)
	assert.Equal(t, "[-3.00, 4.00]", signed.Format(snap.Results[0].Output))
	assert.True(t, snap.Results[1].Input.Equal(snap.Results[0].Output))
	for _, r := range snap.Results {
		assert.Equal(t, "ptb", r.TxDigest)
	}

	require.Len(t, l.Transactions(), 1)
	assert.Len(t, l.Transactions()[0].Commands, 2)
	assert.Equal(t, []int{0}, rec.submittedLayers())
}

func TestBatchedRunMissingLayer(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 3}
	l := ledgertest.New(receipt("ptb",
		layerComputedEvent(0, []uint64{3}, []uint64{0}),
		layerComputedEvent(2, []uint64{4}, []uint64{0}),
	))
	d, _ := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeBatched)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NoEventsFound))
	assert.Equal(t, SeverityWarning, snap.Status.Severity)
	require.Len(t, snap.Results, 3)
	assert.Equal(t, LayerError, snap.Results[2].Status)
	assert.Equal(t, 1, snap.Results[2].LayerIdx)
}

func decomposedReceipt() ledgertest.Step {
	// layer 0 -> [2, -1], layer 1 -> [0, 5], emitted out of order
	return receipt("opt",
		partialEvent(1, 1, 5, 0, true),
		partialEvent(0, 1, 1, 1, true),
		partialEvent(1, 0, 0, 0, false),
		partialEvent(0, 0, 2, 0, false),
	)
}

func TestDecomposedRun(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2, LayerDimensions: []uint64{2, 2}}
	l := ledgertest.New(decomposedReceipt())
	d, _ := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1, 1", ModeDecomposed)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	require.Len(t, snap.Results, 2)
	assert.Equal(t, "[2.00, -1.00]", signed.Format(snap.Results[0].Output))
	assert.Equal(t, model.ActivationReLU, snap.Results[0].Activation)
	assert.Equal(t, "[0.00, 5.00]", signed.Format(snap.Results[1].Output))
	assert.Equal(t, model.ActivationNone, snap.Results[1].Activation)
	assert.Equal(t, 1, *snap.Results[1].ArgmaxIdx)
	assert.Len(t, l.Transactions()[0].Commands, 4)
}

func TestDecomposedWithoutDimensions(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	l := ledgertest.New()
	d, _ := newTestDriver(t, ref, l)

	snap, err := d.Start(context.Background(), "1", ModeDecomposed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ConfigInvalid))
	assert.Equal(t, "Error: Layer dimensions not found. Please check the model metadata.", snap.Status.Message)
	assert.Equal(t, 0, l.Calls())
}

func TestDecomposedFallsBackToPreviousOutputs(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 2}
	l := ledgertest.New(
		receipt("ptb",
			layerComputedEvent(0, []uint64{3, 4}, []uint64{0, 0}),
			layerComputedEvent(1, []uint64{1, 8, 2}, []uint64{0, 0, 0}),
		),
		receipt("opt",
			partialEvent(0, 0, 1, 0, false),
			partialEvent(0, 1, 1, 0, true),
			partialEvent(1, 0, 1, 0, false),
			partialEvent(1, 1, 1, 0, false),
			partialEvent(1, 2, 1, 0, true),
		),
	)
	d, _ := newTestDriver(t, ref, l)

	_, err := d.Start(context.Background(), "1", ModeBatched)
	require.NoError(t, err)

	snap, err := d.Start(context.Background(), "1", ModeDecomposed)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snap.State)
	require.Len(t, l.Transactions(), 2)
	assert.Len(t, l.Transactions()[1].Commands, 5)
	assert.Equal(t, 3, snap.Results[1].Output.Len())
}

func TestGoReturnsGenerationImmediately(t *testing.T) {
	ref := model.Reference{ID: testModel, TotalLayers: 1}
	gate := make(chan struct{})
	l := ledgertest.New(ledgertest.Step{Gate: gate, Receipt: &ledger.Receipt{Digest: "d",
		Events: []ledger.Event{layerComputedEvent(0, []uint64{1}, []uint64{0})}}})
	d, _ := newTestDriver(t, ref, l)

	gen, done := d.Go(context.Background(), "1", ModeSingleLayer)
	assert.Equal(t, uint64(1), gen)
	assert.True(t, d.Snapshot().Busy)

	close(gate)
	out, ok := <-done
	require.True(t, ok)
	require.NoError(t, out.Err)
	assert.Equal(t, StateCompleted, out.Snapshot.State)
	_, ok = <-done
	assert.False(t, ok)
}

func TestStateMachine(t *testing.T) {
	assert.True(t, IsValidTransition(StateIdle, StateParsing))
	assert.True(t, IsValidTransition(StateAwaitingReceipt, StateChaining))
	assert.True(t, IsValidTransition(StateCompleted, StateParsing))
	assert.False(t, IsValidTransition(StateIdle, StateSubmitting))
	assert.False(t, IsValidTransition(StateCompleted, StateFailed))
	assert.False(t, IsValidTransition(StateChaining, StateCompleted))

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateChaining.IsTerminal())

	for in, want := range map[string]Mode{
		"single":    ModeSingleLayer,
		"batched":   ModeBatched,
		"optimized": ModeDecomposed,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("turbo")
	assert.True(t, errors.Is(err, errors.InputInvalid))
}
