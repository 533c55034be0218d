package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes alerts and reports as JSON, keyed by region id and frame
// sequence respectively. An empty topic disables that stream.
type Kafka struct {
	alerts messageWriter
	status messageWriter
}

func NewKafka(cfg config.KafkaSinkConfig) *Kafka {
	k := &Kafka{}
	if cfg.AlertTopic != "" {
		k.alerts = newWriter(cfg.Brokers, cfg.AlertTopic)
	}
	if cfg.StatusTopic != "" {
		k.status = newWriter(cfg.Brokers, cfg.StatusTopic)
	}
	return k
}

// newWriter flushes every message promptly; the writer's default one second
// batch window would otherwise hold each single-message write.
func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func (k *Kafka) SendAlert(ctx context.Context, alert model.AlertEvent) error {
	if k.alerts == nil {
		return nil
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return k.alerts.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.RegionID),
		Value: payload,
		Time:  alert.Timestamp,
	})
}

func (k *Kafka) SendReport(ctx context.Context, report model.FrameReport) error {
	if k.status == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return k.status.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(report.Seq, 10)),
		Value: payload,
		Time:  report.Timestamp,
	})
}

func (k *Kafka) Close() error {
	var err error
	for _, w := range []messageWriter{k.alerts, k.status} {
		if w == nil {
			continue
		}
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
