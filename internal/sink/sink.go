package sink

import (
	"context"
	"errors"
	"log/slog"

	"shelfwatch/internal/model"
)

// AlertSink receives emitted alerts. Delivery failures are reported to the
// caller for logging only; they never change monitoring state.
type AlertSink interface {
	SendAlert(ctx context.Context, alert model.AlertEvent) error
}

// StatusSink receives one report per processed frame.
type StatusSink interface {
	SendReport(ctx context.Context, report model.FrameReport) error
}

// Fanout forwards to every registered sink and joins their errors.
type Fanout struct {
	alerts []AlertSink
	status []StatusSink
}

func NewFanout() *Fanout {
	return &Fanout{}
}

func (f *Fanout) AddAlert(s AlertSink) {
	if s != nil {
		f.alerts = append(f.alerts, s)
	}
}

func (f *Fanout) AddStatus(s StatusSink) {
	if s != nil {
		f.status = append(f.status, s)
	}
}

// Add registers s for alerts, reports or both, depending on what it implements.
func (f *Fanout) Add(s any) {
	if a, ok := s.(AlertSink); ok {
		f.AddAlert(a)
	}
	if st, ok := s.(StatusSink); ok {
		f.AddStatus(st)
	}
}

func (f *Fanout) SendAlert(ctx context.Context, alert model.AlertEvent) error {
	var errs []error
	for _, s := range f.alerts {
		if err := s.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) SendReport(ctx context.Context, report model.FrameReport) error {
	var errs []error
	for _, s := range f.status {
		if err := s.SendReport(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) SendAlert(_ context.Context, alert model.AlertEvent) error {
	if l.logger != nil {
		l.logger.Warn(alert.Message,
			"alert_id", alert.ID,
			"region_id", alert.RegionID,
			"priority", alert.Priority,
			"score", alert.Score,
		)
	}
	return nil
}

func (l *Log) SendReport(_ context.Context, report model.FrameReport) error {
	if l.logger == nil {
		return nil
	}
	for _, r := range report.Regions {
		l.logger.Debug("region status",
			"seq", report.Seq,
			"region_id", r.RegionID,
			"score", r.Score,
			"stock_level", r.Level,
		)
	}
	return nil
}
