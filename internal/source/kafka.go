package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

const redeliveryTTL = 10 * time.Minute

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Kafka reads encoded frames from a topic. The message time becomes the
// frame timestamp.
type Kafka struct {
	reader messageReader
	width  int
	height int
	logger *slog.Logger
	dedupe *DedupeCache
	seq    uint64
	now    func() time.Time
}

func NewKafka(cfg config.KafkaSourceConfig, width, height int, logger *slog.Logger) *Kafka {
	if logger != nil {
		logger.Info("kafka frame source enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return newKafka(reader, width, height, logger)
}

func newKafka(reader messageReader, width, height int, logger *slog.Logger) *Kafka {
	return &Kafka{
		reader: reader,
		width:  width,
		height: height,
		logger: logger,
		dedupe: NewDedupeCache(0),
		now:    time.Now,
	}
}

func (k *Kafka) Next(ctx context.Context) (model.Frame, error) {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return model.Frame{}, ctx.Err()
			}
			if k.logger != nil {
				k.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, 500*time.Millisecond) {
				return model.Frame{}, ctx.Err()
			}
			continue
		}
		now := k.now()
		key := fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
		if k.dedupe.Seen(key, now, redeliveryTTL) {
			continue
		}
		k.seq++
		ts := m.Time
		if ts.IsZero() {
			ts = now
		}
		img, err := Decode(key, m.Value, k.width, k.height)
		if err != nil {
			return model.Frame{}, err
		}
		return model.Frame{Seq: k.seq, Timestamp: ts.UTC(), Image: img}, nil
	}
}

func (k *Kafka) Close() error {
	return k.reader.Close()
}
