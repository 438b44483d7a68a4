// Package alert is the operational alerting path for failures that happen
// after the primary write has committed (cache invalidation, audit reads,
// publisher hiccups). Those failures must never roll back a move, but they
// must not vanish either.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mt-karim/shopboard/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

const TopicOpsAlert = "board.ops_alert.v1"

type Notifier interface {
	Notify(ctx context.Context, kind string, detail map[string]any)
}

// KafkaNotifier publishes alerts to the ops topic. Every alert is also
// logged, so a broken broker still leaves a trace.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewNotifier returns a log-only notifier when no brokers are configured.
func NewNotifier(brokers string, logger *slog.Logger) Notifier {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return &KafkaNotifier{logger: logger}
	}
	return &KafkaNotifier{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: list,
			Topic:   TopicOpsAlert,
		}),
		logger: logger,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, kind string, detail map[string]any) {
	n.logger.Error("operational alert", "kind", kind, "detail", detail)
	if n.writer == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"kind":        kind,
		"detail":      detail,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logger.Error("alert payload marshal failed", "err", err)
		return
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{Key: []byte(kind), Value: payload}); err != nil {
		n.logger.Error("alert publish failed", "err", err, "kind", kind)
	}
}
