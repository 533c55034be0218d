package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"shelfwatch/internal/background"
	"shelfwatch/internal/classify"
	"shelfwatch/internal/config"
	"shelfwatch/internal/detector"
	"shelfwatch/internal/engine"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/model"
	"shelfwatch/internal/scoring"
	"shelfwatch/internal/sink"
	"shelfwatch/internal/source"
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Alerts  sink.AlertSink
	Status  sink.StatusSink
	// Detector overrides the one built from the detection config.
	Detector detector.Detector
}

// settings is swapped as a whole between frames.
type settings struct {
	scorer    *scoring.Scorer
	bands     classify.Bands
	bgParams  background.Params
	workers   int
	detector  detector.Detector
	threshold float64
}

type regionWorker struct {
	mu     sync.Mutex
	region model.Region
	bg     *background.Model
}

// Pipeline processes one frame at a time; the regions of a frame are scored
// in parallel. Configuration changes wait for the in-flight frame.
type Pipeline struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	alerts  sink.AlertSink
	status  sink.StatusSink
	engine  *engine.Engine

	fixedDetector detector.Detector
	settings      atomic.Pointer[settings]
	alerting      atomic.Bool

	mu      sync.Mutex
	workers []*regionWorker
	lastTS  time.Time

	runMu    sync.Mutex
	done     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	queue        chan delivery
	sinkCtx      context.Context
	sinkCancel   context.CancelFunc
	drained      chan struct{}
	drainTimeout time.Duration
	closeOnce    sync.Once
}

func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	def := config.DefaultConfig().Pipeline
	queueSize := cfg.Pipeline.SinkQueue
	if queueSize <= 0 {
		queueSize = def.SinkQueue
	}
	drainTimeout := cfg.Pipeline.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = def.DrainTimeout
	}
	p := &Pipeline{
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		alerts:        opts.Alerts,
		status:        opts.Status,
		engine:        engine.NewEngine(cfg.Alerts, opts.Logger),
		fixedDetector: opts.Detector,
		stopCh:        make(chan struct{}),
		queue:         make(chan delivery, queueSize),
		drained:       make(chan struct{}),
		drainTimeout:  drainTimeout,
	}
	s, err := p.buildSettings(cfg)
	if err != nil {
		return nil, err
	}
	p.settings.Store(s)
	p.alerting.Store(true)
	p.sinkCtx, p.sinkCancel = context.WithCancel(context.Background())
	go p.drain()
	return p, nil
}

func (p *Pipeline) buildSettings(cfg *config.Config) (*settings, error) {
	scorer, err := scoring.New(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	det := p.fixedDetector
	if det == nil {
		if det, err = detector.New(cfg.Detection); err != nil {
			return nil, err
		}
	}
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	threshold := cfg.Regions.DefaultEmptyThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = classify.DefaultEmptyThreshold
	}
	return &settings{
		scorer:    scorer,
		bands:     classify.BandsFrom(cfg.Classification),
		bgParams:  background.ParamsFrom(cfg.Background),
		workers:   workers,
		detector:  det,
		threshold: threshold,
	}, nil
}

// UpdateConfig swaps scorer, bands, cooldown and background parameters.
// An invalid config leaves the running settings untouched. Background models
// are rebuilt only when their parameters changed.
func (p *Pipeline) UpdateConfig(cfg *config.Config) error {
	s, err := p.buildSettings(cfg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.settings.Load()
	p.settings.Store(s)
	p.engine.UpdateConfig(cfg.Alerts)
	if old.bgParams != s.bgParams {
		for _, w := range p.workers {
			w.mu.Lock()
			_ = w.bg.Close()
			w.bg = background.New(s.bgParams)
			w.mu.Unlock()
		}
		if p.logger != nil {
			p.logger.Info("background models rebuilt", "regions", len(p.workers))
		}
	}
	return nil
}

// Configure replaces the monitored region set. Regions whose id and box are
// unchanged keep their background model; duplicate ids after the first are
// ignored.
func (p *Pipeline) Configure(regions []model.Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.settings.Load()
	existing := make(map[string]*regionWorker, len(p.workers))
	for _, w := range p.workers {
		existing[w.region.ID] = w
	}
	next := make([]*regionWorker, 0, len(regions))
	ids := make([]string, 0, len(regions))
	seen := make(map[string]struct{}, len(regions))
	kept := make(map[*regionWorker]struct{}, len(regions))
	for _, r := range regions {
		if _, dup := seen[r.ID]; dup {
			if p.logger != nil {
				p.logger.Warn("duplicate region ignored", "region_id", r.ID)
			}
			continue
		}
		seen[r.ID] = struct{}{}
		if r.EmptyThreshold <= 0 {
			r.EmptyThreshold = s.threshold
		}
		if w, ok := existing[r.ID]; ok && w.region.Box == r.Box {
			w.mu.Lock()
			w.region = r
			w.mu.Unlock()
			kept[w] = struct{}{}
			next = append(next, w)
		} else {
			next = append(next, &regionWorker{region: r, bg: background.New(s.bgParams)})
		}
		ids = append(ids, r.ID)
	}
	for _, w := range p.workers {
		if _, ok := kept[w]; ok {
			continue
		}
		w.mu.Lock()
		_ = w.bg.Close()
		w.mu.Unlock()
	}
	p.workers = next
	p.engine.Sync(ids)
	p.metrics.SetRegions(ids)
	if p.logger != nil {
		p.logger.Info("regions configured", "count", len(next))
	}
}

func (p *Pipeline) Regions() []model.Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Region, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.region)
	}
	return out
}

// Redetect runs the region detector on frame and reconfigures with the
// result. Zero detected regions is a valid outcome; a detector failure
// leaves the current regions in place.
func (p *Pipeline) Redetect(frame model.Frame) ([]model.Region, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("%w: redetect needs a decoded frame", model.ErrFrameDecode)
	}
	s := p.settings.Load()
	cands, err := s.detector.Detect(frame.Image)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("region detection failed", "strategy", s.detector.Name(), "err", err)
		}
		return nil, fmt.Errorf("detect regions: %w", err)
	}
	regions := detector.ToRegions(cands, s.threshold)
	if p.logger != nil {
		p.logger.Info("regions detected", "strategy", s.detector.Name(), "count", len(regions))
	}
	p.Configure(regions)
	return regions, nil
}

// Reset reinitialises every background model.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.mu.Lock()
		w.bg.Reset()
		w.mu.Unlock()
	}
	if p.logger != nil {
		p.logger.Info("background models reset", "regions", len(p.workers))
	}
}

// ResetAlerts clears every region's cooldown.
func (p *Pipeline) ResetAlerts() {
	p.engine.Reset()
}

// SetAlerting pauses or resumes alert evaluation. Scoring and reports
// continue while paused.
func (p *Pipeline) SetAlerting(on bool) {
	p.alerting.Store(on)
	if p.logger != nil {
		p.logger.Info("alerting toggled", "enabled", on)
	}
}

func (p *Pipeline) Alerting() bool {
	return p.alerting.Load()
}

func (p *Pipeline) AlertStates() []engine.RegionSnapshot {
	return p.engine.Snapshot()
}

// ProcessFrame scores every configured region of one frame, evaluates
// alerts and queues the report for the sinks without waiting on them.
// Report rows follow configuration order.
func (p *Pipeline) ProcessFrame(_ context.Context, frame model.Frame) model.FrameReport {
	started := time.Now()
	s := p.settings.Load()
	if frame.Timestamp.IsZero() {
		frame.Timestamp = started.UTC()
	}

	p.mu.Lock()
	workers := p.workers
	statuses := make([]model.RegionStatus, len(workers))
	fired := make([]*model.AlertEvent, len(workers))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, w := range workers {
		g.Go(func() error {
			statuses[i], fired[i] = p.processRegion(w, frame, s)
			return nil
		})
	}
	_ = g.Wait()
	if frame.Timestamp.After(p.lastTS) {
		p.lastTS = frame.Timestamp
	}
	p.mu.Unlock()

	report := model.FrameReport{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Regions:   statuses,
	}
	for _, a := range fired {
		if a != nil {
			report.Alerts = append(report.Alerts, *a)
		}
	}
	p.enqueue(report)
	p.metrics.ObserveReport(report, time.Since(started))
	return report
}

func (p *Pipeline) processRegion(w *regionWorker, frame model.Frame, s *settings) (st model.RegionStatus, alert *model.AlertEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.region
	st = model.RegionStatus{RegionID: r.ID, RegionName: r.Name}
	defer func() {
		if rec := recover(); rec != nil {
			p.metrics.RegionFault(metrics.FaultScoring)
			if p.logger != nil {
				p.logger.Error("region scoring failed", "region_id", r.ID, "seq", frame.Seq, "err", rec)
			}
			st = model.RegionStatus{
				RegionID:   r.ID,
				RegionName: r.Name,
				Level:      model.StockError,
				Error:      fmt.Sprintf("scoring failed: %v", rec),
			}
			alert = nil
		}
	}()

	b := frame.Bounds()
	if !r.Box.Within(b.Dx(), b.Dy()) {
		err := fmt.Errorf("%w: region %s at (%d,%d) %dx%d outside %dx%d frame",
			model.ErrRegionBounds, r.ID, r.Box.X, r.Box.Y, r.Box.W, r.Box.H, b.Dx(), b.Dy())
		p.metrics.RegionFault(metrics.FaultBounds)
		if p.logger != nil {
			p.logger.Warn("region out of bounds", "region_id", r.ID, "seq", frame.Seq, "err", err)
		}
		st.Level = model.StockError
		st.Error = err.Error()
		return st, nil
	}
	crop := frame.Image.SubImage(r.Box.Rect().Add(b.Min))

	foreground := 0.0
	mask, err := w.bg.Update(crop)
	if err != nil {
		p.metrics.RegionFault(metrics.FaultBackground)
		if p.logger != nil {
			p.logger.Warn("background model fault", "region_id", r.ID, "seq", frame.Seq, "err", err)
		}
	} else {
		foreground = background.ForegroundRatio(mask)
	}

	score, m, err := s.scorer.Score(crop, foreground)
	if err != nil {
		p.metrics.RegionFault(metrics.FaultScoring)
		if p.logger != nil {
			p.logger.Error("region scoring failed", "region_id", r.ID, "seq", frame.Seq, "err", err)
		}
		st.Level = model.StockError
		st.Error = fmt.Sprintf("scoring failed: %v", err)
		return st, nil
	}
	level := classify.Classify(score, r.EmptyThreshold, s.bands)
	st.Score = score
	st.Level = level
	st.Metrics = m

	if p.alerting.Load() {
		if a, ok := p.engine.Evaluate(r, score, level, frame.Timestamp); ok {
			alert = &a
		}
	}
	return st, alert
}

// Run pulls frames from src until end of stream, a source fault, context
// cancellation or Stop. Frames older than the last processed one are
// dropped; undecodable frames are skipped.
func (p *Pipeline) Run(ctx context.Context, src source.Source) error {
	p.runMu.Lock()
	if p.done != nil {
		p.runMu.Unlock()
		return errors.New("pipeline already running")
	}
	done := make(chan struct{})
	p.done = done
	p.runMu.Unlock()
	defer func() {
		p.runMu.Lock()
		p.done = nil
		p.runMu.Unlock()
		close(done)
	}()

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		if p.Stopped() {
			return nil
		}
		frame, err := src.Next(readCtx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				if p.logger != nil {
					p.logger.Info("frame source exhausted")
				}
				p.flushWithin(ctx)
				return nil
			case p.Stopped():
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, model.ErrFrameDecode):
				p.metrics.FrameSkipped("decode")
				if p.logger != nil {
					p.logger.Warn("frame skipped", "err", err)
				}
				continue
			default:
				return fmt.Errorf("frame source: %w", err)
			}
		}
		if frame.Image == nil {
			p.metrics.FrameSkipped("decode")
			if p.logger != nil {
				p.logger.Warn("frame skipped", "seq", frame.Seq, "err", "no image")
			}
			continue
		}
		if p.outOfOrder(frame) {
			p.metrics.FrameSkipped("out_of_order")
			if p.logger != nil {
				p.logger.Warn("out-of-order frame dropped", "seq", frame.Seq, "timestamp", frame.Timestamp)
			}
			continue
		}
		p.ProcessFrame(ctx, frame)
	}
}

func (p *Pipeline) outOfOrder(frame model.Frame) bool {
	if frame.Timestamp.IsZero() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return frame.Timestamp.Before(p.lastTS)
}

// Stop lets the in-flight frame finish, then halts Run and waits for it to
// return. Queued reports get up to the drain timeout to reach the sinks
// before delivery is cancelled. Stop is final.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.runMu.Lock()
	done := p.done
	p.runMu.Unlock()
	if done != nil {
		<-done
	}
	p.closeSinks()
	p.releaseModels()
}

// releaseModels frees every background model. A later frame reseeds them.
func (p *Pipeline) releaseModels() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.mu.Lock()
		_ = w.bg.Close()
		w.mu.Unlock()
	}
}

func (p *Pipeline) Stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}
