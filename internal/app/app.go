package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"shelfwatch/internal/alerts"
	"shelfwatch/internal/api"
	"shelfwatch/internal/config"
	"shelfwatch/internal/logging"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/model"
	"shelfwatch/internal/pipeline"
	"shelfwatch/internal/regions"
	"shelfwatch/internal/sink"
	"shelfwatch/internal/source"
	"shelfwatch/internal/status"
	"shelfwatch/internal/storage"
)

const reloadInterval = 3 * time.Second

// App wires a pipeline to its frame source, region provider, sinks and ops
// endpoint from one config.
type App struct {
	cfg      *config.Manager
	logger   *slog.Logger
	metrics  *metrics.Metrics
	alerts   *alerts.Store
	status   *status.Store
	store    storage.Store
	pipeline *pipeline.Pipeline
	provider regions.Provider
	server   *api.Server
	closers  []io.Closer
}

func New(ctx context.Context, path, version string) (*App, error) {
	m, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	return NewWithManager(ctx, m, nil, version)
}

// NewWithManager builds the app; a nil logger is built from the config.
func NewWithManager(ctx context.Context, m *config.Manager, logger *slog.Logger, version string) (*App, error) {
	cfg := m.Get()
	if logger == nil {
		logger = logging.NewLogger(cfg.LogLevel)
	}
	a := &App{
		cfg:     m,
		logger:  logger,
		metrics: metrics.New(),
		alerts:  alerts.NewStore(cfg.History.AlertLimit),
		status:  status.NewStore(0),
	}
	fan := sink.NewFanout()
	fan.Add(a.alerts)
	fan.Add(a.status)
	if cfg.Sinks.Log {
		fan.Add(sink.NewLog(logger))
	}

	st, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if err := st.Init(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("storage init: %w", err)
		}
		a.store = st
		fan.AddAlert(st)
		if cfg.Storage.SaveReports {
			fan.AddStatus(st)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}
	if cfg.Sinks.Kafka.Enabled {
		k := sink.NewKafka(cfg.Sinks.Kafka)
		fan.Add(k)
		a.closers = append(a.closers, k)
		logger.Info("kafka sink enabled", "brokers", cfg.Sinks.Kafka.Brokers)
	}
	if cfg.Sinks.NATS.Enabled {
		n, err := sink.NewNATS(cfg.Sinks.NATS)
		if err != nil {
			logger.Warn("nats sink disabled", "url", cfg.Sinks.NATS.URL, "err", err)
		} else {
			fan.Add(n)
			a.closers = append(a.closers, n)
			logger.Info("nats sink enabled", "subject", cfg.Sinks.NATS.Subject)
		}
	}

	p, err := pipeline.New(cfg, pipeline.Options{
		Logger:  logger,
		Metrics: a.metrics,
		Alerts:  fan,
		Status:  fan,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = p
	a.provider = a.regionProvider(cfg)
	a.server = api.NewServer(m, a.status, a.alerts, p, a.metrics, logger, version)
	return a, nil
}

func (a *App) regionProvider(cfg *config.Config) regions.Provider {
	threshold := regions.DefaultThreshold(cfg.Regions)
	switch strings.ToLower(cfg.Regions.Provider) {
	case "static":
		return regions.NewStatic(cfg.Regions.Static, threshold, a.logger)
	case "storage":
		if a.store != nil {
			return a.store
		}
	default:
		if cfg.Regions.File != "" {
			return regions.NewFile(cfg.Regions.File, threshold, a.logger)
		}
	}
	return nil
}

func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }
func (a *App) Alerts() *alerts.Store        { return a.alerts }
func (a *App) Status() *status.Store        { return a.status }
func (a *App) Store() storage.Store         { return a.store }
func (a *App) Metrics() *metrics.Metrics    { return a.metrics }
func (a *App) Server() *api.Server          { return a.server }

func (a *App) openSource(cfg *config.Config) (source.Source, error) {
	w, h := cfg.Source.ResizeWidth, cfg.Source.ResizeHeight
	switch strings.ToLower(cfg.Source.Kind) {
	case "dir":
		return source.NewDir(cfg.Source.Dir, w, h, a.logger)
	case "kafka":
		return source.NewKafka(cfg.Source.Kafka, w, h, a.logger), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unsupported source.kind %q", model.ErrConfiguration, cfg.Source.Kind)
}

// Run loads regions, starts the ops endpoint and config watcher, then
// processes frames until the source ends or ctx is done.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg.Get()
	regs, err := regions.Load(ctx, a.provider, a.logger)
	if err != nil {
		a.logger.Warn("region provider failed, starting with zero regions", "err", err)
	}
	a.pipeline.Configure(regs)

	api.Start(ctx, a.server)

	stop := make(chan struct{})
	defer close(stop)
	go a.cfg.Watch(reloadInterval, a.applyConfig, func(err error) {
		a.logger.Warn("config reload failed", "err", err)
	}, stop)

	src, err := a.openSource(cfg)
	if err != nil {
		return err
	}
	if src == nil {
		<-ctx.Done()
		return nil
	}
	a.closers = append(a.closers, src)

	if len(regs) == 0 && cfg.Regions.AutoDetect {
		first, err := a.autoDetect(ctx, src)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		src = &prepended{first: &first, Source: src}
	}
	return a.pipeline.Run(ctx, src)
}

// autoDetect reads the first decodable frame, detects regions on it and
// returns the frame so it is still processed.
func (a *App) autoDetect(ctx context.Context, src source.Source) (model.Frame, error) {
	for {
		frame, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, model.ErrFrameDecode) {
				a.logger.Warn("frame skipped", "err", err)
				continue
			}
			return model.Frame{}, err
		}
		if frame.Image == nil {
			continue
		}
		regs, err := a.pipeline.Redetect(frame)
		if err != nil {
			return model.Frame{}, err
		}
		if a.store != nil && len(regs) > 0 {
			if err := a.store.SaveRegions(ctx, regs); err != nil {
				a.logger.Warn("saving detected regions failed", "err", err)
			}
		}
		return frame, nil
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	if err := a.pipeline.UpdateConfig(cfg); err != nil {
		a.logger.Warn("config rejected", "err", err)
		return
	}
	a.logger.Info("config reloaded", "path", a.cfg.Path())
}

// Close stops the pipeline and releases sources, sinks and storage.
func (a *App) Close() error {
	if a.pipeline != nil {
		a.pipeline.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.store = nil
	}
	return errors.Join(errs...)
}

type prepended struct {
	first *model.Frame
	source.Source
}

func (p *prepended) Next(ctx context.Context) (model.Frame, error) {
	if p.first != nil {
		f := *p.first
		p.first = nil
		return f, nil
	}
	return p.Source.Next(ctx)
}
