package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/nazeru/shop-orders-go/pkg/kafka"
	"github.com/nazeru/shop-orders-go/pkg/logging"
)

// Store is the slice of outbox storage the relay needs.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// Publisher delivers one raw event payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// PoolStore adapts a pgx pool to the Store interface.
type PoolStore struct {
	Pool *pgxpool.Pool
}

func (s PoolStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.Pool, limit)
}

func (s PoolStore) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.Pool, id)
}

// KafkaPublisher publishes through one lazily created writer per topic.
type KafkaPublisher struct {
	Client *kafka.Client

	mu      sync.Mutex
	writers map[string]*kafkago.Writer
}

func NewKafkaPublisher(client *kafka.Client) *KafkaPublisher {
	return &KafkaPublisher{Client: client, writers: make(map[string]*kafkago.Writer)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if !p.Client.Enabled() {
		return kafka.ErrDisabled
	}
	p.mu.Lock()
	w, ok := p.writers[topic]
	if !ok {
		w = p.Client.NewWriter(topic)
		p.writers[topic] = w
	}
	p.mu.Unlock()
	return kafka.PublishRaw(ctx, w, key, payload)
}

func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.writers {
		_ = w.Close()
	}
}

// Relay polls the outbox table and pushes pending events to the broker.
// Events are marked sent only after a successful publish, so delivery is
// at-least-once and consumers must dedupe by event_id.
type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	interval  time.Duration
	quit      chan struct{}
	wg        sync.WaitGroup
}

func NewRelay(store Store, publisher Publisher, batchSize int, interval time.Duration) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
		quit:      make(chan struct{}),
	}
}

func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.ProcessBatch(ctx); err != nil {
					logging.Log(logging.Fields{Service: "outbox_relay", Status: "error", Message: err.Error()})
				}
			case <-r.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessBatch publishes up to batchSize pending records. A publish failure
// stops the batch; the unsent remainder is retried on the next tick.
func (r *Relay) ProcessBatch(ctx context.Context) error {
	records, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
			return fmt.Errorf("publish event %s: %w", rec.EventID, err)
		}
		if err := r.store.MarkSent(ctx, rec.ID); err != nil {
			return fmt.Errorf("mark sent %d: %w", rec.ID, err)
		}
		logging.Log(logging.Fields{Service: "outbox_relay", EventID: rec.EventID, Step: "publish", Status: "sent"})
	}
	return nil
}

func (r *Relay) Stop() {
	close(r.quit)
	r.wg.Wait()
}
