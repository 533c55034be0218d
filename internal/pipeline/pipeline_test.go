package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/config"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/model"
	"shelfwatch/internal/source"
)

var epoch = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type collector struct {
	mu      sync.Mutex
	alerts  []model.AlertEvent
	reports []model.FrameReport
	err     error
}

func (c *collector) SendAlert(_ context.Context, a model.AlertEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return c.err
}

func (c *collector) SendReport(_ context.Context, r model.FrameReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return c.err
}

func (c *collector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts), len(c.reports)
}

func grayFrame(seq uint64, sec int, w, h int, v uint8) model.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return model.Frame{Seq: seq, Timestamp: epoch.Add(time.Duration(sec) * time.Second), Image: img}
}

func newPipeline(t *testing.T, c *collector) *Pipeline {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Pipeline.Workers = 2
	p, err := New(cfg, Options{Alerts: c, Status: c, Metrics: metrics.New()})
	require.NoError(t, err)
	return p
}

func testRegions() []model.Region {
	return []model.Region{
		{ID: "a", Name: "Top", Box: model.BBox{X: 0, Y: 0, W: 50, H: 40}, EmptyThreshold: 0.15},
		{ID: "out", Name: "Ghost", Box: model.BBox{X: 90, Y: 70, W: 30, H: 30}, EmptyThreshold: 0.15},
		{ID: "c", Name: "Bottom", Box: model.BBox{X: 50, Y: 40, W: 50, H: 40}, EmptyThreshold: 0.15},
	}
}

func TestProcessFrameReportsInConfigOrder(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions())

	report := p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	require.Len(t, report.Regions, 3)
	assert.Equal(t, []string{"a", "out", "c"}, []string{
		report.Regions[0].RegionID, report.Regions[1].RegionID, report.Regions[2].RegionID,
	})

	ghost := report.Regions[1]
	assert.Equal(t, model.StockError, ghost.Level)
	assert.Zero(t, ghost.Score)
	assert.Contains(t, ghost.Error, "outside")

	for _, i := range []int{0, 2} {
		assert.Equal(t, model.StockEmpty, report.Regions[i].Level)
		assert.InDelta(t, 0, report.Regions[i].Score, 1e-9)
	}
	require.Len(t, report.Alerts, 2)
	assert.Equal(t, "a", report.Alerts[0].RegionID)
	assert.Equal(t, model.PriorityHigh, report.Alerts[0].Priority)

	require.NoError(t, p.Flush(context.Background()))
	alerts, reports := c.counts()
	assert.Equal(t, 2, alerts)
	assert.Equal(t, 1, reports)
}

func TestCooldownAcrossFrames(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	for i := 0; i < 5; i++ {
		p.ProcessFrame(context.Background(), grayFrame(uint64(i+1), i, 100, 80, 60))
	}
	require.NoError(t, p.Flush(context.Background()))
	alerts, reports := c.counts()
	assert.Equal(t, 1, alerts)
	assert.Equal(t, 5, reports)
}

func TestZeroRegions(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	report := p.ProcessFrame(context.Background(), grayFrame(1, 0, 10, 10, 0))
	assert.Empty(t, report.Regions)
	assert.Empty(t, report.Alerts)
}

func TestSinkErrorsDoNotChangeState(t *testing.T) {
	c := &collector{err: errors.New("sink down")}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	r1 := p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	r2 := p.ProcessFrame(context.Background(), grayFrame(2, 1, 100, 80, 128))
	assert.Len(t, r1.Alerts, 1)
	assert.Empty(t, r2.Alerts, "cooldown holds even though delivery failed")
}

func TestPausedAlertingStillScores(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	p.SetAlerting(false)
	assert.False(t, p.Alerting())
	report := p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	assert.Equal(t, model.StockEmpty, report.Regions[0].Level)
	assert.Empty(t, report.Alerts)

	p.SetAlerting(true)
	report = p.ProcessFrame(context.Background(), grayFrame(2, 1, 100, 80, 128))
	assert.Len(t, report.Alerts, 1)
}

func TestConfigureKeepsUnchangedModels(t *testing.T) {
	p := newPipeline(t, &collector{})
	p.Configure(testRegions()[:1])
	p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	p.ProcessFrame(context.Background(), grayFrame(2, 1, 100, 80, 128))
	first := p.workers[0].bg

	renamed := testRegions()[:1]
	renamed[0].Name = "Renamed"
	moved := model.Region{ID: "c", Box: model.BBox{X: 1, Y: 1, W: 10, H: 10}}
	p.Configure(append(renamed, moved, moved))

	require.Len(t, p.workers, 2)
	assert.Same(t, first, p.workers[0].bg)
	assert.Equal(t, 2, p.workers[0].bg.Frames())
	assert.Equal(t, "Renamed", p.Regions()[0].Name)
	assert.Equal(t, 0.15, p.Regions()[1].EmptyThreshold)
	assert.Len(t, p.AlertStates(), 2)
}

func TestResetReinitialisesModels(t *testing.T) {
	p := newPipeline(t, &collector{})
	p.Configure(testRegions()[:1])
	p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	require.Equal(t, 1, p.workers[0].bg.Frames())
	p.Reset()
	assert.Equal(t, 0, p.workers[0].bg.Frames())
}

func TestResetAlertsClearsCooldown(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	p.ResetAlerts()
	report := p.ProcessFrame(context.Background(), grayFrame(2, 1, 100, 80, 128))
	assert.Len(t, report.Alerts, 1)
}

func TestRunSkipsDecodeErrorsAndOutOfOrder(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])

	src := source.NewMemory(grayFrame(1, 10, 100, 80, 128))
	src.PushError(&source.DecodeError{Origin: "frame-2", Err: errors.New("truncated")})
	src.Push(grayFrame(3, 5, 100, 80, 128))
	src.Push(model.Frame{Seq: 4, Timestamp: epoch.Add(11 * time.Second)})
	src.Push(grayFrame(5, 10, 100, 80, 128))
	src.Push(grayFrame(6, 12, 100, 80, 128))

	require.NoError(t, p.Run(context.Background(), src))
	_, reports := c.counts()
	assert.Equal(t, 3, reports)
	var seqs []uint64
	c.mu.Lock()
	for _, r := range c.reports {
		seqs = append(seqs, r.Seq)
	}
	c.mu.Unlock()
	assert.Equal(t, []uint64{1, 5, 6}, seqs)
}

func TestRunReturnsSourceFault(t *testing.T) {
	p := newPipeline(t, &collector{})
	src := source.NewMemory()
	src.PushError(errors.New("camera unplugged"))
	err := p.Run(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera unplugged")
}

type blockingSource struct {
	frames chan model.Frame
}

func (b *blockingSource) Next(ctx context.Context) (model.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-ctx.Done():
		return model.Frame{}, ctx.Err()
	}
}

func (b *blockingSource) Close() error { return nil }

func TestStopHaltsRun(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	src := &blockingSource{frames: make(chan model.Frame, 1)}
	src.frames <- grayFrame(1, 0, 100, 80, 128)

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background(), src) }()
	require.Eventually(t, func() bool {
		_, n := c.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.True(t, p.Stopped())
	assert.NoError(t, p.Run(context.Background(), src))
}

func TestRunContextCancel(t *testing.T) {
	p := newPipeline(t, &collector{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx, &blockingSource{frames: make(chan model.Frame)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedetectConfiguresRegions(t *testing.T) {
	p := newPipeline(t, &collector{})
	frame := grayFrame(1, 0, 640, 480, 255)
	for y := 100; y < 210; y++ {
		for x := 50; x < 400; x++ {
			frame.Image.SetRGBA(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	regions, err := p.Redetect(frame)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Shelf 1", regions[0].Name)
	assert.Equal(t, regions, p.Regions())

	_, err = p.Redetect(model.Frame{})
	assert.ErrorIs(t, err, model.ErrFrameDecode)
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }

func (failingDetector) Detect(image.Image) ([]model.Candidate, error) {
	return nil, errors.New("opencv exception")
}

func TestRedetectFailureKeepsRegions(t *testing.T) {
	p, err := New(config.DefaultConfig(), Options{Detector: failingDetector{}, Metrics: metrics.New()})
	require.NoError(t, err)
	p.Configure(testRegions())
	_, err = p.Redetect(grayFrame(1, 0, 100, 80, 128))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opencv exception")
	assert.Len(t, p.Regions(), 3)
}

func TestStopReleasesModelsForReuse(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	p.Stop()
	p.mu.Lock()
	frames := p.workers[0].bg.Frames()
	p.mu.Unlock()
	assert.Zero(t, frames)

	report := p.ProcessFrame(context.Background(), grayFrame(2, 1, 100, 80, 128))
	require.Len(t, report.Regions, 1)
	assert.NotEqual(t, model.StockError, report.Regions[0].Level)
}

func TestUpdateConfig(t *testing.T) {
	c := &collector{}
	p := newPipeline(t, c)
	p.Configure(testRegions()[:1])
	p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))

	bad := config.DefaultConfig()
	bad.Scoring.Weights.EdgeDensity = 5
	assert.ErrorIs(t, p.UpdateConfig(bad), model.ErrConfiguration)

	cfg := config.DefaultConfig()
	cfg.Alerts.Cooldown = time.Second
	cfg.Background.History = 50
	require.NoError(t, p.UpdateConfig(cfg))
	assert.Equal(t, 0, p.workers[0].bg.Frames(), "new background params rebuild the models")

	report := p.ProcessFrame(context.Background(), grayFrame(2, 1, 100, 80, 128))
	assert.Len(t, report.Alerts, 1)
}

// stalledSink holds every delivery until its context is cancelled.
type stalledSink struct {
	entered chan struct{}
	once    sync.Once
}

func newStalledSink() *stalledSink {
	return &stalledSink{entered: make(chan struct{})}
}

func (s *stalledSink) SendReport(ctx context.Context, _ model.FrameReport) error {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func droppedReports(t *testing.T, m *metrics.Metrics) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "shelfwatch_sink_dropped_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestStalledSinkDoesNotBlockRunOrStop(t *testing.T) {
	stalled := newStalledSink()
	cfg := config.DefaultConfig()
	cfg.Pipeline.DrainTimeout = 50 * time.Millisecond
	p, err := New(cfg, Options{Status: stalled, Metrics: metrics.New()})
	require.NoError(t, err)
	p.Configure(testRegions()[:1])

	src := &blockingSource{frames: make(chan model.Frame, 3)}
	for i := 0; i < 3; i++ {
		src.frames <- grayFrame(uint64(i+1), i, 100, 80, 128)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, src) }()

	waitClosed(t, stalled.entered, "first delivery")
	last := epoch.Add(2 * time.Second)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lastTS.Equal(last)
	}, 2*time.Second, 5*time.Millisecond, "frames keep flowing while the sink is stuck")

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after cancel")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	waitClosed(t, stopped, "Stop")
}

func TestFullQueueDropsReports(t *testing.T) {
	stalled := newStalledSink()
	cfg := config.DefaultConfig()
	cfg.Pipeline.SinkQueue = 1
	cfg.Pipeline.DrainTimeout = 20 * time.Millisecond
	m := metrics.New()
	p, err := New(cfg, Options{Status: stalled, Metrics: m})
	require.NoError(t, err)
	p.Configure(testRegions()[:1])

	p.ProcessFrame(context.Background(), grayFrame(1, 0, 100, 80, 128))
	waitClosed(t, stalled.entered, "first delivery")
	for i := 2; i <= 5; i++ {
		p.ProcessFrame(context.Background(), grayFrame(uint64(i), i, 100, 80, 128))
	}
	// one report is held by the sink, one waits in the queue
	assert.Equal(t, 3.0, droppedReports(t, m))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)
	p.Stop()
	assert.NoError(t, p.Flush(context.Background()), "flush after stop returns at once")
}

func TestConfigureUsesCurrentBackgroundParams(t *testing.T) {
	p := newPipeline(t, &collector{})
	cfg := config.DefaultConfig()
	cfg.Pipeline.Workers = 2
	cfg.Background.History = 40
	require.NoError(t, p.UpdateConfig(cfg))
	p.Configure(testRegions()[:1])
	assert.Equal(t, 40, p.workers[0].bg.Params().History)
}
