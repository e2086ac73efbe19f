// Package pipeline runs the periodic capture, inference, decode, suppress
// and render loop and hands each result to a publisher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/metrics"
	"github.com/Tutortoise/yolo-overlay-service/models"
	"github.com/Tutortoise/yolo-overlay-service/overlay"
)

// State is where the driver is within a cycle.
type State int32

const (
	StateIdle State = iota
	StateAwaitingOutput
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingOutput:
		return "awaiting_output"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultInterval         = 3 * time.Second
	DefaultInferenceTimeout = 5 * time.Second
)

type Config struct {
	InputWidth       int
	InputHeight      int
	Interval         time.Duration
	InferenceTimeout time.Duration
	DecodeWorkers    int
	Labels           []string
}

func DefaultConfig() Config {
	return Config{
		InputWidth:       detections.InputWidth,
		InputHeight:      detections.InputHeight,
		Interval:         DefaultInterval,
		InferenceTimeout: DefaultInferenceTimeout,
		DecodeWorkers:    runtime.NumCPU(),
		Labels:           detections.CocoLabels,
	}
}

type Option func(*Driver)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Driver) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

func WithSettings(s Settings) Option {
	return func(d *Driver) { d.settings = s }
}

// Driver owns the cycle loop. Cycles never overlap; nothing carries over
// from one cycle to the next except the published snapshot.
type Driver struct {
	cfg       Config
	source    FrameSource
	engine    Engine
	publisher Publisher

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	clock   clock.Clock

	state atomic.Int32

	mu       sync.RWMutex
	settings Settings
}

func New(cfg Config, source FrameSource, engine Engine, publisher Publisher, opts ...Option) (*Driver, error) {
	if source == nil {
		return nil, errors.New("pipeline requires a frame source")
	}
	if engine == nil {
		return nil, errors.New("pipeline requires an inference engine")
	}
	if publisher == nil {
		return nil, errors.New("pipeline requires a publisher")
	}
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid model input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("invalid cycle interval %v", cfg.Interval)
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = DefaultInferenceTimeout
	}
	if cfg.DecodeWorkers <= 0 {
		cfg.DecodeWorkers = 1
	}
	if cfg.Labels == nil {
		cfg.Labels = detections.CocoLabels
	}

	d := &Driver{
		cfg:       cfg,
		source:    source,
		engine:    engine,
		publisher: publisher,
		logger:    zap.NewNop().Sugar(),
		clock:     clock.New(),
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.settings.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// UpdateSettings replaces the settings used from the next cycle on.
func (d *Driver) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
	d.logger.Infow("settings updated",
		"confidence_threshold", s.ConfidenceThreshold,
		"iou_threshold", s.IOUThreshold,
		"class_aware", s.ClassAware,
		"target_label", s.TargetLabel)
	return nil
}

// Run executes cycles until ctx is cancelled, waiting Interval between the
// end of one cycle and the start of the next. Cycle failures are logged and
// never stop the loop. It returns ctx.Err().
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Infow("pipeline started",
		"interval", d.cfg.Interval,
		"input", fmt.Sprintf("%dx%d", d.cfg.InputWidth, d.cfg.InputHeight))
	defer d.logger.Info("pipeline stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.runOnce(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		timer := d.clock.Timer(d.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Driver) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.CycleFailed("panic")
			d.logger.Errorw("pipeline cycle panicked", "panic", r)
		}
	}()

	snapshot, err := d.RunCycle(ctx)
	if err != nil {
		d.reportFailure(ctx, err)
		return
	}

	d.metrics.ObserveCycle(snapshot)
	t := snapshot.Timings
	d.logger.Debugw("cycle complete",
		"cycle_id", snapshot.CycleID,
		"detections", len(snapshot.Detections),
		"capture", t.Capture,
		"resize", t.Resize,
		"inference", t.Inference,
		"decode", t.Decode,
		"suppress", t.Suppress,
		"render", t.Render,
		"total", t.Total)
}

func (d *Driver) reportFailure(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}

	kind := detections.KindOf(err)
	d.metrics.CycleFailed(kind.String())
	if detections.Recoverable(err) {
		d.logger.Warnw("pipeline cycle failed, keeping previous overlay", "kind", kind.String(), "error", err)
		return
	}
	d.logger.Errorw("model output cannot be decoded", "kind", kind.String(), "error", err)
}

// RunCycle performs one capture-to-publish cycle. On error nothing is
// published, so the previous snapshot stays visible. The frame and the
// inference output are released on every return path.
func (d *Driver) RunCycle(ctx context.Context) (*models.Snapshot, error) {
	d.state.Store(int32(StateAwaitingOutput))
	defer d.state.Store(int32(StateIdle))

	start := d.clock.Now()
	timings := models.ProcessingTimings{CycleID: uuid.NewString()}
	settings := d.Settings()

	frame, release, err := d.source.Next(ctx)
	timings.Capture = d.clock.Since(start)
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	if release != nil {
		defer release()
	}

	snapshot, err := d.process(ctx, frame, settings, timings)
	if err != nil {
		return nil, err
	}
	snapshot.CapturedAt = start
	snapshot.Timings.Total = d.clock.Since(start)

	d.publisher.Publish(snapshot)
	return snapshot, nil
}

// Process runs resize, inference, decode, suppression and rendering on img
// with the current settings, without publishing the result.
func (d *Driver) Process(ctx context.Context, img image.Image) (*models.Snapshot, error) {
	start := d.clock.Now()
	snapshot, err := d.process(ctx, img, d.Settings(), models.ProcessingTimings{CycleID: uuid.NewString()})
	if err != nil {
		return nil, err
	}
	snapshot.CapturedAt = start
	snapshot.Timings.Total = d.clock.Since(start)
	return snapshot, nil
}

func (d *Driver) process(ctx context.Context, img image.Image, settings Settings, timings models.ProcessingTimings) (*models.Snapshot, error) {
	width, height := d.cfg.InputWidth, d.cfg.InputHeight

	stageStart := d.clock.Now()
	resized := imaging.Resize(img, width, height, imaging.Linear)
	timings.Resize = d.clock.Since(stageStart)

	stageStart = d.clock.Now()
	inference, err := d.infer(ctx, resized)
	timings.Inference = d.clock.Since(stageStart)
	if err != nil {
		return nil, err
	}
	defer inference.Release()

	stageStart = d.clock.Now()
	decoder := detections.Decoder{
		ConfidenceThreshold: settings.ConfidenceThreshold,
		Workers:             d.cfg.DecodeWorkers,
	}
	candidates, err := decoder.Decode(ctx, inference.Output, inference.NumAttributes, inference.NumCandidates)
	timings.Decode = d.clock.Since(stageStart)
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}

	stageStart = d.clock.Now()
	kept := detections.Suppress(candidates, settings.IOUThreshold, settings.ClassAware)
	timings.Suppress = d.clock.Since(stageStart)

	stageStart = d.clock.Now()
	result := overlay.Render(width, height, kept, settings.overlayOptions(d.cfg.Labels))
	timings.Render = d.clock.Since(stageStart)

	return &models.Snapshot{
		CycleID:    timings.CycleID,
		Width:      width,
		Height:     height,
		Detections: result.Detections,
		Report:     result.Report,
		Overlay:    result.Overlay,
		Timings:    timings,
	}, nil
}

func (d *Driver) infer(ctx context.Context, img image.Image) (*Inference, error) {
	inferCtx, cancel := d.clock.WithTimeout(ctx, d.cfg.InferenceTimeout)
	defer cancel()

	inference, err := d.engine.Infer(inferCtx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if detections.KindOf(err) != detections.KindUnknown {
			return nil, err
		}
		return nil, detections.InferenceUnavailable(err)
	}
	if inference == nil {
		return nil, detections.InferenceUnavailable(errors.New("engine returned no output"))
	}
	return inference, nil
}
