package pipeline

import (
	"context"
	"time"

	"shelfwatch/internal/model"
)

// delivery is a queued report, or a flush marker when flushed is set.
type delivery struct {
	report  model.FrameReport
	flushed chan struct{}
}

// enqueue hands report to the delivery goroutine without blocking. A full
// queue drops the report and its alerts.
func (p *Pipeline) enqueue(report model.FrameReport) bool {
	if p.alerts == nil && p.status == nil {
		return true
	}
	select {
	case <-p.drained:
		return false
	default:
	}
	select {
	case p.queue <- delivery{report: report}:
		return true
	default:
		p.metrics.SinkDropped()
		if p.logger != nil {
			p.logger.Warn("delivery queue full, dropping report", "seq", report.Seq, "alerts", len(report.Alerts))
		}
		return false
	}
}

func (p *Pipeline) drain() {
	defer close(p.drained)
	for {
		select {
		case <-p.sinkCtx.Done():
			return
		case d := <-p.queue:
			if d.flushed != nil {
				close(d.flushed)
				continue
			}
			p.deliver(p.sinkCtx, d.report)
		}
	}
}

func (p *Pipeline) deliver(ctx context.Context, report model.FrameReport) {
	if p.alerts != nil {
		for _, a := range report.Alerts {
			if err := p.alerts.SendAlert(ctx, a); err != nil {
				p.metrics.SinkError()
				if p.logger != nil {
					p.logger.Warn("alert delivery failed", "region_id", a.RegionID, "err", err)
				}
			}
		}
	}
	if p.status != nil {
		if err := p.status.SendReport(ctx, report); err != nil {
			p.metrics.SinkError()
			if p.logger != nil {
				p.logger.Warn("status delivery failed", "seq", report.Seq, "err", err)
			}
		}
	}
}

// Flush waits until every report queued before the call has been handed to
// the sinks. It returns early with ctx's error, or nil once delivery has
// been shut down by Stop.
func (p *Pipeline) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.queue <- delivery{flushed: done}:
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) flushWithin(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.drainTimeout)
	defer cancel()
	if err := p.Flush(ctx); err != nil && p.logger != nil {
		p.logger.Warn("queued reports not yet delivered", "pending", len(p.queue), "err", err)
	}
}

func (p *Pipeline) closeSinks() {
	p.closeOnce.Do(func() {
		p.flushWithin(context.Background())
		p.sinkCancel()
		t := time.NewTimer(p.drainTimeout)
		defer t.Stop()
		select {
		case <-p.drained:
		case <-t.C:
			if p.logger != nil {
				p.logger.Warn("sink ignored cancellation; abandoning delivery")
			}
		}
	})
}
