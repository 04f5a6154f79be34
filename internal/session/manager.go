// Package session hosts many concurrent model views. Each session owns one inference driver
// and forwards its snapshots to the websocket hub, the event publishers and the run store.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/events"
	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/modelquery"
	"github.com/opengraphlabs/layerinfer/internal/runstore"
	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Broadcaster streams snapshots to live viewers.
type Broadcaster interface {
	Broadcast(topic string, data []byte)
}

// EventSink receives run lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, event *events.RunEvent) error
}

// RunSaver persists terminal runs.
type RunSaver interface {
	Save(ctx context.Context, run *runstore.Run) error
}

// Config holds session defaults.
type Config struct {
	ChainDelay  time.Duration
	MaxSessions int
	OutboxSize  int
}

// OpenOptions tune a single session.
type OpenOptions struct {
	ManualAdvance bool
}

// Info describes an open session.
type Info struct {
	ID          string             `json:"session_id"`
	ModelID     string             `json:"model_id"`
	ModelName   string             `json:"model_name"`
	TotalLayers int                `json:"total_layers"`
	CreatedAt   time.Time          `json:"created_at"`
	Snapshot    inference.Snapshot `json:"snapshot"`
}

// Topic is the websocket topic carrying a session's snapshots.
func Topic(sessionID string) string {
	return "session." + sessionID
}

// Manager owns every open session.
type Manager struct {
	models    modelquery.Source
	builder   *inference.Builder
	submitter ledger.Submitter
	hub       Broadcaster
	sink      EventSink
	runs      RunSaver
	cfg       Config
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// Option wires an optional collaborator into the manager.
type Option func(*Manager)

// WithBroadcaster streams snapshots through b.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) { m.hub = b }
}

// WithEventSink publishes lifecycle events to s.
func WithEventSink(s EventSink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithRunSaver persists terminal runs through r.
func WithRunSaver(r RunSaver) Option {
	return func(m *Manager) { m.runs = r }
}

// NewManager creates a manager. Sessions resolve models through models and submit through
// submitter.
func NewManager(models modelquery.Source, builder *inference.Builder, submitter ledger.Submitter,
	cfg Config, log *zap.Logger, opts ...Option) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		models:    models,
		builder:   builder,
		submitter: submitter,
		cfg:       cfg,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open resolves modelID and creates an idle session for it.
func (m *Manager) Open(ctx context.Context, modelID string, opts OpenOptions) (Info, error) {
	if err := model.ValidateObjectID(modelID); err != nil {
		return Info{}, errors.InputInvalid.Explain("invalid model id %q", modelID).Wrap(err)
	}
	obj, err := m.models.GetModel(ctx, modelID)
	if err != nil {
		return Info{}, err
	}
	ref := model.ReferenceFromObject(obj)
	if err := ref.Validate(); err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Info{}, errors.Conflict.Explain("session manager is shutting down")
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return Info{}, errors.Conflict.Explain("too many open sessions (%d)", m.cfg.MaxSessions)
	}

	s := &Session{
		id:        uuid.NewString(),
		modelID:   ref.ID,
		modelName: obj.Name,
		createdAt: time.Now().UTC(),
		manager:   m,
		outbox:    make(chan inference.Snapshot, m.cfg.OutboxSize),
		done:      make(chan struct{}),
	}
	s.log = m.log.With(zap.String("session", s.id))
	s.driver = inference.NewDriver(ref, m.builder, m.submitter, s.log,
		inference.WithChainDelay(m.cfg.ChainDelay),
		inference.WithManualAdvance(opts.ManualAdvance),
		inference.WithObserver(s.observe),
	)
	go s.drain()
	m.sessions[s.id] = s

	s.log.Info("Session opened",
		zap.String("model", ref.ID),
		zap.Int("layers", ref.TotalLayers),
		zap.Bool("manual_advance", opts.ManualAdvance))
	return s.info(), nil
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.NotFound.Explain("session %s not found", id)
	}
	return s, nil
}

// Run starts input on the session in the background and returns the run's generation. A run
// already in flight is superseded.
func (m *Manager) Run(sessionID, input string, mode inference.Mode) (uint64, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return 0, err
	}
	return s.run(input, mode)
}

// Step advances a paused single-layer run by one layer.
func (m *Manager) Step(ctx context.Context, sessionID string) (inference.Snapshot, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return inference.Snapshot{}, err
	}
	return s.step(ctx)
}

// Snapshot returns a session's current state.
func (m *Manager) Snapshot(sessionID string) (inference.Snapshot, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return inference.Snapshot{}, err
	}
	return s.driver.Snapshot(), nil
}

// Info describes a session.
func (m *Manager) Info(sessionID string) (Info, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close cancels the session's run and releases it.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return errors.NotFound.Explain("session %s not found", sessionID)
	}
	s.close()
	return nil
}

// Shutdown closes every session and waits for pending deliveries.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	m.cancel()
	m.log.Info("Session manager stopped", zap.Int("sessions", len(sessions)))
}

// Session is one model view with its own driver.
type Session struct {
	id        string
	modelID   string
	modelName string
	createdAt time.Time
	manager   *Manager
	driver    *inference.Driver
	log       *zap.Logger

	mu        sync.Mutex
	cancelRun context.CancelFunc
	closing   bool
	runs      sync.WaitGroup

	outbox chan inference.Snapshot
	done   chan struct{}
}

func (s *Session) info() Info {
	ref := s.driver.Reference()
	return Info{
		ID:          s.id,
		ModelID:     s.modelID,
		ModelName:   s.modelName,
		TotalLayers: ref.TotalLayers,
		CreatedAt:   s.createdAt,
		Snapshot:    s.driver.Snapshot(),
	}
}

func (s *Session) run(input string, mode inference.Mode) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return 0, errors.NotFound.Explain("session %s is closed", s.id)
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	ctx, cancel := context.WithCancel(s.manager.ctx)
	s.cancelRun = cancel

	gen, done := s.driver.Go(ctx, input, mode)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		out := <-done
		if out.Err != nil && !errors.Is(out.Err, errors.StaleRun) {
			s.log.Debug("Run ended with error", zap.Uint64("generation", gen), zap.Error(out.Err))
		}
	}()
	return gen, nil
}

func (s *Session) step(ctx context.Context) (inference.Snapshot, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return inference.Snapshot{}, errors.NotFound.Explain("session %s is closed", s.id)
	}
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()
	return s.driver.PredictNextLayer(ctx)
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.mu.Unlock()

	// no driver callbacks can arrive once every run has returned
	s.runs.Wait()
	close(s.outbox)
	<-s.done
	s.log.Info("Session closed")
}

// observe runs on the driver's goroutine; delivery happens on drain.
func (s *Session) observe(snap inference.Snapshot) {
	s.outbox <- snap
}

func (s *Session) drain() {
	defer close(s.done)
	var lastLayer = -1
	var lastGen uint64
	for snap := range s.outbox {
		if snap.Generation < lastGen {
			continue
		}
		if snap.Generation != lastGen {
			lastGen, lastLayer = snap.Generation, -1
		}
		s.broadcast(snap)

		// batched and decomposed runs report all their layers in one snapshot
		for _, r := range snap.Results {
			if r.Status == inference.LayerSuccess && r.LayerIdx > lastLayer {
				lastLayer = r.LayerIdx
				s.publish(snap, events.TypeLayerComputed, r.LayerIdx, r.TxDigest)
			}
		}

		switch snap.State {
		case inference.StateCompleted:
			s.publish(snap, events.TypeRunCompleted, snap.CurrentLayer-1, snap.TxDigest)
			s.persist(snap)
		case inference.StateFailed:
			layer := -1
			if n := len(snap.Results); n > 0 {
				layer = snap.Results[n-1].LayerIdx
			}
			s.publish(snap, events.TypeRunFailed, layer, snap.TxDigest)
			s.persist(snap)
		}
	}
}

func (s *Session) broadcast(snap inference.Snapshot) {
	hub := s.manager.hub
	if hub == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("Failed to encode snapshot", zap.Error(err))
		return
	}
	hub.Broadcast(Topic(s.id), data)
}

func (s *Session) publish(snap inference.Snapshot, typ string, layer int, digest string) {
	sink := s.manager.sink
	if sink == nil {
		return
	}
	ev := &events.RunEvent{
		Type:       typ,
		SessionID:  s.id,
		ModelID:    s.modelID,
		Generation: snap.Generation,
		State:      string(snap.State),
		Layer:      layer,
		Digest:     digest,
		Severity:   string(snap.Status.Severity),
		Message:    snap.Status.Message,
	}
	ctx, cancel := context.WithTimeout(s.manager.ctx, 10*time.Second)
	defer cancel()
	if err := sink.Publish(ctx, ev); err != nil {
		s.log.Warn("Failed to publish run event", zap.String("type", typ), zap.Error(err))
	}
}

func (s *Session) persist(snap inference.Snapshot) {
	runs := s.manager.runs
	if runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.manager.ctx, 10*time.Second)
	defer cancel()
	if err := runs.Save(ctx, runstore.FromSnapshot(s.id, s.modelID, snap)); err != nil {
		s.log.Error("Failed to persist run", zap.Uint64("generation", snap.Generation), zap.Error(err))
	}
}
