// Package inference sequences layer-wise model inference on the ledger: it builds the
// transactions, decodes the events of their receipts and tracks the run as a state machine.
package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
	"github.com/opengraphlabs/layerinfer/pkg/metrics"
)

// DefaultChainDelay separates consecutive single-layer submissions.
const DefaultChainDelay = 500 * time.Millisecond

const tracerName = "github.com/opengraphlabs/layerinfer/internal/inference"

// Observer receives every snapshot the driver publishes, in order, outside the driver lock.
type Observer func(Snapshot)

// Option configures a Driver.
type Option func(*Driver)

// WithChainDelay sets the pause between single-layer submissions.
func WithChainDelay(delay time.Duration) Option {
	return func(d *Driver) { d.chainDelay = delay }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observers = append(d.observers, o) }
}

// WithManualAdvance makes single-layer runs pause in Chaining after every non-final layer
// until PredictNextLayer is called.
func WithManualAdvance(on bool) Option {
	return func(d *Driver) { d.manualAdvance = on }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// Driver runs inference for one model. Starting a new run supersedes any run in flight:
// every run carries a generation and results arriving for an older generation are discarded.
type Driver struct {
	ref       model.Reference
	builder   *Builder
	submitter ledger.Submitter
	logger    *zap.Logger
	tracer    trace.Tracer

	chainDelay    time.Duration
	manualAdvance bool
	observers     []Observer

	mu         sync.Mutex
	snap       Snapshot
	cachedText string
	cached     *signed.Vector
}

// NewDriver creates an idle driver for ref.
func NewDriver(ref model.Reference, builder *Builder, submitter ledger.Submitter, logger *zap.Logger, opts ...Option) *Driver {
	d := &Driver{
		ref:        ref,
		builder:    builder,
		submitter:  submitter,
		logger:     logger.With(zap.String("model", ref.ID)),
		tracer:     otel.Tracer(tracerName),
		chainDelay: DefaultChainDelay,
		snap: Snapshot{
			State:       StateIdle,
			TotalLayers: ref.TotalLayers,
			Status:      Status{Severity: SeverityInfo},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reference returns the model the driver runs against.
func (d *Driver) Reference() model.Reference {
	return d.ref
}

// Snapshot returns a copy of the current state.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap.clone()
}

// Start parses input and runs it through every layer in the given mode. It blocks until the
// run reaches a terminal state, pauses for manual advance, or is superseded. The returned
// error carries the same kind recorded in the snapshot status.
func (d *Driver) Start(ctx context.Context, input string, mode Mode) (Snapshot, error) {
	gen, prev := d.begin(input, mode)
	return d.execute(ctx, gen, mode, input, prev)
}

// Outcome is the result of a background run.
type Outcome struct {
	Snapshot Snapshot
	Err      error
}

// Go opens a new generation like Start but returns it at once and finishes the run in the
// background. The outcome is sent on the returned channel, which is then closed.
func (d *Driver) Go(ctx context.Context, input string, mode Mode) (uint64, <-chan Outcome) {
	gen, prev := d.begin(input, mode)
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		snap, err := d.execute(ctx, gen, mode, input, prev)
		out <- Outcome{Snapshot: snap, Err: err}
	}()
	return gen, out
}

func (d *Driver) execute(ctx context.Context, gen uint64, mode Mode, input string, prev []LayerResult) (Snapshot, error) {
	vec, err := d.parse(input)
	if err != nil {
		return d.fail(gen, mode, nil, "", err)
	}
	return d.run(ctx, gen, mode, vec, prev)
}

// StartVector runs a pre-encoded input, such as pixels of an image, skipping the text parser.
func (d *Driver) StartVector(ctx context.Context, vec signed.Vector, mode Mode) (Snapshot, error) {
	text := joinDecimals(vec)
	gen, prev := d.begin(text, mode)

	if _, err := signed.NewVector(vec.Magnitudes, vec.Signs); err != nil {
		return d.fail(gen, mode, nil, "", err)
	}
	if vec.Len() == 0 {
		return d.fail(gen, mode, nil, "", errors.InputInvalid.Explain("Input vector is empty. Please provide comma-separated numbers."))
	}
	d.remember(text, vec)
	return d.run(ctx, gen, mode, vec.Clone(), prev)
}

// PredictNextLayer advances a single-layer run paused in Chaining by one layer, then pauses
// again or completes. It returns Conflict when no run is paused.
func (d *Driver) PredictNextLayer(ctx context.Context) (Snapshot, error) {
	d.mu.Lock()
	s := d.snap
	if s.Mode != ModeSingleLayer || s.State != StateChaining || s.Busy || len(s.Results) == 0 {
		snap := d.snap.clone()
		d.mu.Unlock()
		return snap, errors.Conflict.Explain("No paused single-layer run to advance.")
	}
	gen := s.Generation
	input := s.Results[len(s.Results)-1].Output.Clone()
	layer := s.CurrentLayer
	d.snap.Busy = true
	d.mu.Unlock()

	ctx, span := d.tracer.Start(ctx, "inference.next_layer", trace.WithAttributes(
		attribute.Int64("generation", int64(gen)),
		attribute.Int("layer", layer),
	))
	defer span.End()
	return d.runSingle(ctx, gen, input, layer)
}

// begin opens a new generation and resets the observable state. It returns the results of
// the previous run, which may still supply layer dimensions.
func (d *Driver) begin(input string, mode Mode) (uint64, []LayerResult) {
	d.mu.Lock()
	from := d.snap.State
	prev := d.snap.Results
	gen := d.snap.Generation + 1
	d.snap = Snapshot{
		Generation:  gen,
		Mode:        mode,
		State:       StateParsing,
		Input:       input,
		TotalLayers: d.ref.TotalLayers,
		Busy:        true,
		Status:      Status{Message: "Processing: Parsing input vector...", Severity: SeverityInfo},
	}
	snap := d.snap.clone()
	d.mu.Unlock()

	if !from.IsTerminal() && from != StateIdle {
		d.logger.Warn("Superseding inference run in flight",
			zap.Uint64("generation", gen),
			zap.String("from", string(from)))
	}
	d.logger.Info("Inference state transition",
		zap.Uint64("generation", gen),
		zap.String("from", string(from)),
		zap.String("to", string(StateParsing)),
		zap.String("mode", mode.String()))
	d.notify(snap)
	return gen, prev
}

func (d *Driver) parse(input string) (signed.Vector, error) {
	d.mu.Lock()
	if d.cached != nil && d.cachedText == input {
		v := d.cached.Clone()
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	v, err := signed.Parse(input)
	if err != nil {
		return signed.Vector{}, err
	}
	d.remember(input, v)
	return v, nil
}

func (d *Driver) remember(text string, v signed.Vector) {
	c := v.Clone()
	d.mu.Lock()
	d.cachedText = text
	d.cached = &c
	d.mu.Unlock()
}

// advance moves generation gen to state to and applies mutate, all under the lock. It fails
// with StaleRun when gen has been superseded.
func (d *Driver) advance(gen uint64, to State, mutate func(*Snapshot)) (Snapshot, error) {
	d.mu.Lock()
	if d.snap.Generation != gen {
		current := d.snap.Generation
		d.mu.Unlock()
		metrics.StaleReceipts.Inc()
		d.logger.Warn("Discarding result of superseded run",
			zap.Uint64("generation", gen),
			zap.Uint64("current", current))
		return Snapshot{}, errors.StaleRun.Explain("run %d was superseded by run %d", gen, current)
	}
	from := d.snap.State
	if from != to && !IsValidTransition(from, to) {
		d.mu.Unlock()
		d.logger.Warn("Invalid state transition attempted",
			zap.Uint64("generation", gen),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return Snapshot{}, errors.Conflict.Explain("invalid state transition from %s to %s", from, to)
	}
	d.snap.State = to
	if mutate != nil {
		mutate(&d.snap)
	}
	snap := d.snap.clone()
	d.mu.Unlock()

	if from != to {
		d.logger.Info("Inference state transition",
			zap.Uint64("generation", gen),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int("layer", snap.CurrentLayer))
	}
	d.notify(snap)
	return snap, nil
}

func (d *Driver) notify(s Snapshot) {
	for _, o := range d.observers {
		o(s.clone())
	}
}

func (d *Driver) run(ctx context.Context, gen uint64, mode Mode, vec signed.Vector, prev []LayerResult) (Snapshot, error) {
	ctx, span := d.tracer.Start(ctx, "inference.run", trace.WithAttributes(
		attribute.String("model", d.ref.ID),
		attribute.String("mode", mode.String()),
		attribute.Int64("generation", int64(gen)),
		attribute.Int("layers", d.ref.TotalLayers),
	))
	defer span.End()

	snap, err := d.dispatch(ctx, gen, mode, vec, prev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.MessageOf(err))
	}
	return snap, err
}

func (d *Driver) dispatch(ctx context.Context, gen uint64, mode Mode, vec signed.Vector, prev []LayerResult) (Snapshot, error) {
	_, err := d.advance(gen, StateSubmitting, func(s *Snapshot) {
		s.Parsed = vec.Clone()
		s.CurrentLayer = 0
		s.Results = nil
	})
	if err != nil {
		return d.Snapshot(), err
	}

	switch mode {
	case ModeSingleLayer:
		return d.runSingle(ctx, gen, vec, 0)
	case ModeBatched:
		return d.runBatched(ctx, gen, vec)
	case ModeDecomposed:
		return d.runDecomposed(ctx, gen, vec, prev)
	default:
		return d.fail(gen, mode, nil, "", errors.InputInvalid.Explain("unknown inference mode %q", mode))
	}
}

// submit hands tx to the ledger and waits for its receipt.
func (d *Driver) submit(ctx context.Context, gen uint64, mode Mode, layer int, tx *ledger.Transaction) (*ledger.Receipt, error) {
	if _, err := d.advance(gen, StateAwaitingReceipt, func(s *Snapshot) { s.CurrentLayer = layer }); err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "inference.submit", trace.WithAttributes(
		attribute.Int("layer", layer),
		attribute.Int("commands", len(tx.Commands)),
	))
	defer span.End()

	start := time.Now()
	receipt, err := d.submitter.SignAndExecute(ctx, tx)
	metrics.ReceiptLatency.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	if err == nil && (receipt == nil || receipt.Digest == "") {
		err = errors.SubmissionFailed.Explain("No transaction digest received. The transaction might have failed.")
	}
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(mode.String(), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, errors.SubmissionFailed) {
			err = errors.SubmissionFailed.Explain("%s", errors.MessageOf(err)).Wrap(err)
		}
		return nil, err
	}

	metrics.SubmissionsTotal.WithLabelValues(mode.String(), "ok").Inc()
	span.SetAttributes(attribute.String("digest", receipt.Digest))
	return receipt, nil
}

func (d *Driver) parseReceipt(receipt *ledger.Receipt) Parsed {
	parsed := ParseReceipt(d.builder.Namespace(), receipt, d.ref.Scale)
	for _, u := range parsed.Unrecognized {
		if strings.HasPrefix(u.Type, d.builder.Package+"::") {
			d.logger.Warn("Malformed inference event",
				zap.String("digest", receipt.Digest),
				zap.String("type", u.Type),
				zap.String("reason", u.Reason))
		}
	}
	return parsed
}

func (d *Driver) runSingle(ctx context.Context, gen uint64, input signed.Vector, start int) (Snapshot, error) {
	total := d.ref.TotalLayers
	for layer := start; layer < total; layer++ {
		_, err := d.advance(gen, StateSubmitting, func(s *Snapshot) {
			s.CurrentLayer = layer
			s.Busy = true
			s.Status = Status{
				Message:  fmt.Sprintf("Processing: Running layer %d of %d...", layer+1, total),
				Severity: SeverityInfo,
			}
		})
		if err != nil {
			return d.Snapshot(), err
		}

		tx, err := d.builder.SingleLayer(d.ref, layer, input)
		if err != nil {
			return d.fail(gen, ModeSingleLayer, nil, "", err)
		}

		receipt, err := d.submit(ctx, gen, ModeSingleLayer, layer, tx)
		if err != nil {
			if errors.Is(err, errors.StaleRun) {
				return d.Snapshot(), err
			}
			return d.fail(gen, ModeSingleLayer, []LayerResult{failedLayer(layer, input, "", err)}, "", err)
		}

		parsed := d.parseReceipt(receipt)
		computed, ok := parsed.LatestComputed()
		if !ok {
			err := errors.NoEventsFound.Explain("Transaction completed but no layer computation events found. Please check the transaction details.")
			return d.fail(gen, ModeSingleLayer, []LayerResult{failedLayer(layer, input, receipt.Digest, err)}, receipt.Digest, err)
		}
		if computed.LayerIdx != layer {
			d.logger.Warn("Layer index mismatch in receipt",
				zap.Int("expected", layer),
				zap.Int("reported", computed.LayerIdx),
				zap.String("digest", receipt.Digest))
		}

		result := LayerResult{
			LayerIdx:   layer,
			Input:      input,
			Output:     computed.Output,
			Activation: computed.Activation,
			TxDigest:   receipt.Digest,
			Status:     LayerSuccess,
		}

		last := layer == total-1
		if parsed.Completion != nil || last {
			result.ArgmaxIdx = finalClass(parsed.Completion, computed.Output)
			return d.complete(gen, ModeSingleLayer, receipt.Digest, []LayerResult{result})
		}

		next := layer + 1
		snap, err := d.advance(gen, StateChaining, func(s *Snapshot) {
			s.Results = append(s.Results, result)
			s.CurrentLayer = next
			s.TxDigest = receipt.Digest
			if d.manualAdvance {
				s.Busy = false
				s.Status = Status{
					Message:  fmt.Sprintf("Layer %d completed. Ready to run layer %d of %d.", layer+1, next+1, total),
					Severity: SeverityInfo,
				}
				return
			}
			s.Status = Status{
				Message:  fmt.Sprintf("Layer %d completed. Processing layer %d of %d...", layer+1, next+1, total),
				Severity: SeverityInfo,
			}
		})
		if err != nil || d.manualAdvance {
			return snap, err
		}

		if err := d.wait(ctx); err != nil {
			return d.fail(gen, ModeSingleLayer, nil, "",
				errors.SubmissionFailed.Explain("Run cancelled before layer %d.", next+1).Wrap(err))
		}
		input = computed.Output
	}
	return d.Snapshot(), errors.Conflict.Explain("layer %d is past the last layer", start)
}

func (d *Driver) runBatched(ctx context.Context, gen uint64, input signed.Vector) (Snapshot, error) {
	total := d.ref.TotalLayers
	_, err := d.advance(gen, StateSubmitting, func(s *Snapshot) {
		s.Status = Status{
			Message:  fmt.Sprintf("Processing: Running all %d layers in one transaction...", total),
			Severity: SeverityInfo,
		}
	})
	if err != nil {
		return d.Snapshot(), err
	}

	tx, err := d.builder.Batched(d.ref, input)
	if err != nil {
		return d.fail(gen, ModeBatched, nil, "", err)
	}
	receipt, err := d.submit(ctx, gen, ModeBatched, 0, tx)
	if err != nil {
		if errors.Is(err, errors.StaleRun) {
			return d.Snapshot(), err
		}
		return d.fail(gen, ModeBatched, []LayerResult{failedLayer(0, input, "", err)}, "", err)
	}

	parsed := d.parseReceipt(receipt)
	if len(parsed.Computed) == 0 {
		err := errors.NoEventsFound.Explain("PTB transaction completed but no layer computation events found. Please check the transaction details.")
		return d.fail(gen, ModeBatched, []LayerResult{failedLayer(0, input, receipt.Digest, err)}, receipt.Digest, err)
	}

	computed := append([]LayerComputed(nil), parsed.Computed...)
	sort.SliceStable(computed, func(i, j int) bool { return computed[i].LayerIdx < computed[j].LayerIdx })

	outputs := make(map[int]signed.Vector, len(computed))
	activations := make(map[int]model.Activation, len(computed))
	for _, c := range computed {
		outputs[c.LayerIdx] = c.Output
		activations[c.LayerIdx] = c.Activation
	}
	return d.finishBatch(gen, ModeBatched, receipt.Digest, input, outputs, func(layer int) model.Activation {
		return activations[layer]
	}, parsed.Completion)
}

func (d *Driver) runDecomposed(ctx context.Context, gen uint64, input signed.Vector, prev []LayerResult) (Snapshot, error) {
	total := d.ref.TotalLayers
	_, err := d.advance(gen, StateSubmitting, func(s *Snapshot) {
		s.Status = Status{
			Message:  fmt.Sprintf("Processing: Running all %d layers with optimized PTB...", total),
			Severity: SeverityInfo,
		}
	})
	if err != nil {
		return d.Snapshot(), err
	}

	dims, err := d.layerDimensions(prev)
	if err != nil {
		return d.fail(gen, ModeDecomposed, nil, "", err)
	}
	tx, err := d.builder.Decomposed(d.ref, dims, input)
	if err != nil {
		return d.fail(gen, ModeDecomposed, nil, "", err)
	}
	receipt, err := d.submit(ctx, gen, ModeDecomposed, 0, tx)
	if err != nil {
		if errors.Is(err, errors.StaleRun) {
			return d.Snapshot(), err
		}
		return d.fail(gen, ModeDecomposed, []LayerResult{failedLayer(0, input, "", err)}, "", err)
	}

	parsed := d.parseReceipt(receipt)
	if len(parsed.Partials) == 0 {
		err := errors.NoEventsFound.Explain("PTB transaction completed but no layer computation events found. Please check the transaction details.")
		return d.fail(gen, ModeDecomposed, []LayerResult{failedLayer(0, input, receipt.Digest, err)}, receipt.Digest, err)
	}

	outputs := Reconstruct(parsed.Partials, total)
	return d.finishBatch(gen, ModeDecomposed, receipt.Digest, input, outputs, func(layer int) model.Activation {
		// The partial module applies ReLU to hidden layers and leaves the output layer linear.
		if layer < total-1 {
			return model.ActivationReLU
		}
		return model.ActivationNone
	}, parsed.Completion)
}

// finishBatch turns per-layer outputs of a single receipt into chained layer results.
func (d *Driver) finishBatch(gen uint64, mode Mode, digest string, input signed.Vector, outputs map[int]signed.Vector,
	activation func(int) model.Activation, completion *PredictionCompleted) (Snapshot, error) {
	total := d.ref.TotalLayers
	results := make([]LayerResult, 0, total)
	prevIn := input
	missing := -1
	for layer := 0; layer < total; layer++ {
		out, ok := outputs[layer]
		if !ok {
			if missing < 0 {
				missing = layer
			}
			continue
		}
		results = append(results, LayerResult{
			LayerIdx:   layer,
			Input:      prevIn,
			Output:     out,
			Activation: activation(layer),
			TxDigest:   digest,
			Status:     LayerSuccess,
		})
		prevIn = out
	}

	if missing >= 0 {
		err := errors.NoEventsFound.Explain("PTB transaction completed but only %d of %d layer results were found. Please check the transaction details.",
			len(results), total)
		return d.fail(gen, mode, append(results, failedLayer(missing, prevIn, digest, err)), digest, err)
	}

	last := &results[len(results)-1]
	last.ArgmaxIdx = finalClass(completion, last.Output)
	return d.complete(gen, mode, digest, results)
}

// layerDimensions prefers model metadata and falls back to the output sizes observed in the
// previous run.
func (d *Driver) layerDimensions(prev []LayerResult) ([]uint64, error) {
	total := d.ref.TotalLayers
	if model.DimensionsValid(d.ref.LayerDimensions, total) {
		return append([]uint64(nil), d.ref.LayerDimensions...), nil
	}

	dims := make([]uint64, total)
	for _, r := range prev {
		if r.Status == LayerSuccess && r.LayerIdx >= 0 && r.LayerIdx < total && r.Output.Len() > 0 {
			dims[r.LayerIdx] = uint64(r.Output.Len())
		}
	}
	if model.DimensionsValid(dims, total) {
		d.logger.Info("Using layer dimensions from previous results", zap.Uint64s("dimensions", dims))
		return dims, nil
	}
	return nil, errors.ConfigInvalid.Explain("Layer dimensions not found. Please check the model metadata.")
}

func (d *Driver) complete(gen uint64, mode Mode, digest string, results []LayerResult) (Snapshot, error) {
	total := d.ref.TotalLayers
	final := results[len(results)-1]
	msg := fmt.Sprintf("Success! All %d layers processed.", total)
	if idx := final.ArgmaxIdx; idx != nil && *idx >= 0 && *idx < final.Output.Len() {
		msg = fmt.Sprintf("Success! All %d layers processed. Final output value: %s (class %d)",
			total, final.Output.At(*idx).Decimal().String(), *idx)
	}

	snap, err := d.advance(gen, StateCompleted, func(s *Snapshot) {
		s.Results = append(s.Results, results...)
		s.CurrentLayer = final.LayerIdx + 1
		s.TxDigest = digest
		s.Busy = false
		s.Status = Status{Message: msg, Severity: SeveritySuccess}
	})
	if err != nil {
		return d.Snapshot(), err
	}
	metrics.RunsTotal.WithLabelValues(mode.String(), "success").Inc()
	d.logger.Info("Inference run completed",
		zap.Uint64("generation", gen),
		zap.String("mode", mode.String()),
		zap.String("digest", digest))
	return snap, nil
}

// fail ends generation gen. results are appended as-is; the failing layer, if any, is expected
// last with status error.
func (d *Driver) fail(gen uint64, mode Mode, results []LayerResult, digest string, cause error) (Snapshot, error) {
	status := statusFor(cause)
	snap, err := d.advance(gen, StateFailed, func(s *Snapshot) {
		s.Results = append(s.Results, results...)
		s.Busy = false
		s.Status = status
		if digest != "" {
			s.TxDigest = digest
		}
	})
	if err != nil {
		return d.Snapshot(), err
	}

	outcome := "error"
	log := d.logger.Error
	if status.Severity == SeverityWarning {
		outcome = "warning"
		log = d.logger.Warn
	}
	metrics.RunsTotal.WithLabelValues(mode.String(), outcome).Inc()
	log("Inference run failed",
		zap.Uint64("generation", gen),
		zap.String("mode", mode.String()),
		zap.String("kind", status.Kind),
		zap.String("digest", digest),
		zap.Error(cause))
	return snap, cause
}

func failedLayer(layer int, input signed.Vector, digest string, err error) LayerResult {
	return LayerResult{
		LayerIdx:     layer,
		Input:        input,
		TxDigest:     digest,
		Status:       LayerError,
		ErrorMessage: errors.MessageOf(err),
	}
}

// finalClass prefers the class reported on chain and falls back to the local argmax.
func finalClass(completion *PredictionCompleted, out signed.Vector) *int {
	idx := signed.Argmax(out)
	if completion != nil {
		idx = completion.ArgmaxIdx
	}
	if idx < 0 {
		return nil
	}
	return &idx
}

func (d *Driver) wait(ctx context.Context) error {
	if d.chainDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.chainDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func joinDecimals(v signed.Vector) string {
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = v.At(i).String()
	}
	return strings.Join(parts, ", ")
}
