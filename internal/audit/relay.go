package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers audit events downstream.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// KafkaPublisher writes events to a Kafka topic keyed by account, so one
// account's transfers stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a synchronous publisher that waits for all
// in-sync replicas.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs[i] = kafka.Message{
			Key:   []byte(e.Account),
			Value: val,
			Time:  e.RecordedAt,
		}
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Relay periodically drains NEW outbox entries to a Publisher and marks
// them DELIVERED. A failed publish leaves the batch NEW for the next tick.
type Relay struct {
	outbox    *Outbox
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewRelay creates a Relay publishing up to batchSize events per round.
func NewRelay(outbox *Outbox, publisher Publisher, interval time.Duration, batchSize int, logger *slog.Logger) *Relay {
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Start launches a background goroutine that ticks at the configured
// interval and relays pending events. It stops when ctx is cancelled; the
// returned channel is closed once it has.
func (r *Relay) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.tick(ctx); err != nil {
					r.logger.Warn("audit relay failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return done
}

// tick publishes pending events batch by batch until none are left or a
// publish fails. It returns how many events were delivered.
func (r *Relay) tick(ctx context.Context) (int, error) {
	delivered := 0
	for {
		events, err := r.outbox.Pending(r.batchSize)
		if err != nil {
			return delivered, err
		}
		if len(events) == 0 {
			return delivered, nil
		}
		if err := r.publisher.Publish(ctx, events); err != nil {
			return delivered, err
		}
		if err := r.outbox.MarkDelivered(events); err != nil {
			return delivered, err
		}
		delivered += len(events)
		r.logger.Debug("audit events relayed", slog.Int("count", len(events)))
	}
}

// Flush relays everything pending now. Shutdown uses it to push the last
// events out before the process exits.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	return r.tick(ctx)
}
