package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"emc/pkg/utils/logger"
)

// MirrorTopic is the Kafka topic carrying the lifecycle stream for
// external consumers.
const MirrorTopic = "emc.submission.events"

// Publisher delivers one event to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Fanout publishes to every sink. The realtime bus comes first and its
// error is returned; mirror sinks are best effort and only logged, a
// slow or down broker must not fail a grading run.
type Fanout struct {
	Primary Publisher
	Mirrors []Publisher
}

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	var primaryErr error
	if f.Primary != nil {
		primaryErr = f.Primary.Publish(ctx, ev)
	}
	for _, m := range f.Mirrors {
		if err := m.Publish(ctx, ev); err != nil {
			logger.Warn(ctx, "event mirror publish failed",
				zap.String("type", string(ev.Type)),
				zap.String("submission_id", ev.SubmissionID),
				zap.Error(err))
		}
	}
	return primaryErr
}

// KafkaMirror writes events to the mirror topic, keyed by submission so
// one attempt's events stay ordered within a partition.
type KafkaMirror struct {
	writer *kafka.Writer
}

// NewKafkaMirror creates the mirror over the given brokers.
func NewKafkaMirror(brokers []string, clientID string) (*KafkaMirror, error) {
	if len(brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        MirrorTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Transport:    &kafka.Transport{ClientID: clientID},
	}
	return &KafkaMirror{writer: writer}, nil
}

func (k *KafkaMirror) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SubmissionID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (k *KafkaMirror) Close() error { return k.writer.Close() }
