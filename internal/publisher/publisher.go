// Package publisher emits computed bills to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/deannos/tariff-billing-engine/internal/config"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventTypeBillComputed is the event type header of every published bill.
const EventTypeBillComputed = "bill.computed"

// BillEvent is the Kafka message value.
type BillEvent struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Bill       *model.BillResult `json:"bill"`
}

// Publisher queues computed bills and sends them to Kafka from a worker pool.
// Failed messages are retried with exponential backoff and then sent to the DLQ topic.
type Publisher struct {
	config         *config.Config
	logger         *zap.Logger
	eventChan      chan *model.BillResult
	retryChan      chan *sarama.ProducerMessage
	kafkaProducer  sarama.AsyncProducer
	workerWg       sync.WaitGroup
	retryWorkerWg  sync.WaitGroup
	notifyWg       sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	now            func() time.Time

	closeMu sync.RWMutex
	closed  bool

	mu               sync.Mutex
	eventsAccepted   uint64
	eventsDropped    uint64
	kafkaErrors      uint64
	kafkaSuccesses   uint64
	retriesAttempted uint64
	dlqMessagesSent  uint64
}

// NewPublisher creates a Publisher that writes to producer.
func NewPublisher(cfg *config.Config, logger *zap.Logger, producer sarama.AsyncProducer) *Publisher {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &Publisher{
		config:         cfg,
		logger:         logger,
		eventChan:      make(chan *model.BillResult, cfg.Publisher.EventChannelCapacity),
		retryChan:      make(chan *sarama.ProducerMessage, cfg.Publisher.Retry.ChannelCapacity),
		kafkaProducer:  producer,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		now:            time.Now,
	}
}

// Start launches the producer notification handler and the worker pools.
func (p *Publisher) Start() {
	p.logger.Info("Starting bill publisher...",
		zap.Int("num_workers", p.config.Publisher.NumWorkers),
		zap.Int("event_channel_capacity", cap(p.eventChan)),
		zap.Int("retry_channel_capacity", cap(p.retryChan)),
		zap.Int("num_retry_workers", p.config.Publisher.Retry.NumWorkers),
	)

	p.notifyWg.Add(1)
	go p.handleProducerNotifications()

	for i := 0; i < p.config.Publisher.NumWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}
	for i := 0; i < p.config.Publisher.Retry.NumWorkers; i++ {
		p.retryWorkerWg.Add(1)
		go p.retryWorker(i)
	}
	p.logger.Info("Bill publisher started.")
}

// Stop drains queued bills into the producer, stops the retry workers and closes the producer.
// Messages still waiting for a retry are abandoned.
func (p *Publisher) Stop() {
	p.logger.Info("Stopping bill publisher...")

	p.closeMu.Lock()
	p.closed = true
	close(p.eventChan)
	p.closeMu.Unlock()

	p.workerWg.Wait()
	p.logger.Info("Publisher workers stopped.")

	p.shutdownCancel()
	p.retryWorkerWg.Wait()
	p.logger.Info("Retry workers stopped.")

	if err := p.kafkaProducer.Close(); err != nil {
		p.logger.Error("Error closing Kafka producer", zap.Error(err))
	} else {
		p.logger.Info("Kafka producer closed.")
	}
	p.notifyWg.Wait()
	p.logger.Info("Bill publisher stopped.")
}

// Publish queues bill for delivery. It never blocks: a full queue drops the bill and returns an error.
func (p *Publisher) Publish(ctx context.Context, bill *model.BillResult) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher shutting down")
	}

	select {
	case p.eventChan <- bill:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.incrementEventsDropped()
		return fmt.Errorf("event channel full")
	}
}

func (p *Publisher) worker(id int) {
	defer p.workerWg.Done()
	p.logger.Debug("Publisher worker started", zap.Int("worker_id", id))

	for bill := range p.eventChan {
		p.processBill(bill)
	}
	p.logger.Debug("Event channel closed, worker exiting", zap.Int("worker_id", id))
}

func (p *Publisher) processBill(bill *model.BillResult) {
	event := BillEvent{
		EventID:    uuid.NewString(),
		EventType:  EventTypeBillComputed,
		OccurredAt: p.now().UTC(),
		Bill:       bill,
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal bill event",
			zap.String("provider", bill.ProviderCode),
			zap.Error(err),
		)
		p.incrementEventsDropped()
		return
	}

	// Keyed by provider so one provider's bills stay ordered within a partition.
	msg := &sarama.ProducerMessage{
		Topic: p.config.Kafka.Topic,
		Key:   sarama.StringEncoder(bill.ProviderCode),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(EventTypeBillComputed)},
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
		},
	}

	select {
	case p.kafkaProducer.Input() <- msg:
		p.incrementEventsAccepted()
		p.logger.Debug("Bill event sent to Kafka producer input", zap.String("event_id", event.EventID))
	default:
		p.logger.Warn("Kafka producer input channel full. Dropping bill event.",
			zap.String("event_id", event.EventID),
			zap.String("topic", p.config.Kafka.Topic),
		)
		p.incrementEventsDropped()
	}
}

func (p *Publisher) handleProducerNotifications() {
	defer p.notifyWg.Done()

	successes := p.kafkaProducer.Successes()
	errs := p.kafkaProducer.Errors()
	for successes != nil || errs != nil {
		select {
		case success, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.incrementKafkaSuccesses()
			p.logger.Debug("Message successfully sent to Kafka",
				zap.String("topic", success.Topic),
				zap.Int32("partition", success.Partition),
				zap.Int64("offset", success.Offset),
			)
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.incrementKafkaErrors()
			p.logger.Error("Failed to produce message to Kafka",
				zap.String("topic", perr.Msg.Topic),
				zap.Error(perr.Err),
			)
			if perr.Msg.Topic == p.config.Kafka.DLQTopic {
				continue
			}
			p.sendToRetryQueue(perr.Msg)
		}
	}
	p.logger.Debug("Producer notification channels closed.")
}

func (p *Publisher) sendToRetryQueue(msg *sarama.ProducerMessage) {
	if p.shutdownCtx.Err() != nil {
		p.logger.Warn("Publisher stopping, dropping failed message.", zap.String("topic", msg.Topic))
		p.incrementEventsDropped()
		return
	}
	select {
	case p.retryChan <- msg:
		p.logger.Debug("Message sent to retry queue", zap.String("topic", msg.Topic))
	default:
		p.logger.Error("Retry queue full. Dropping failed message.", zap.String("topic", msg.Topic))
		p.incrementEventsDropped()
	}
}

func (p *Publisher) retryWorker(id int) {
	defer p.retryWorkerWg.Done()
	p.logger.Debug("Retry worker started", zap.Int("retry_worker_id", id))

	for {
		select {
		case msg := <-p.retryChan:
			p.retryMessage(msg)
		case <-p.shutdownCtx.Done():
			p.logger.Debug("Shutdown signal received, retry worker exiting", zap.Int("retry_worker_id", id))
			return
		}
	}
}

func (p *Publisher) backoff(retryCount int) time.Duration {
	rc := p.config.Publisher.Retry
	backoff := time.Duration(float64(rc.InitialBackoff) * math.Pow(rc.BackoffMultiplier, float64(retryCount)))
	if backoff > rc.MaxBackoff {
		backoff = rc.MaxBackoff
	}
	// Up to 10% jitter so retry workers do not fire in lockstep.
	if spread := int64(backoff / 10); spread > 0 {
		backoff += time.Duration(rand.Int63n(spread))
	}
	return backoff
}

func (p *Publisher) retryMessage(msg *sarama.ProducerMessage) {
	retryCount, _ := msg.Metadata.(int)

	if retryCount >= p.config.Publisher.Retry.MaxRetries {
		p.logger.Warn("Message exceeded max retry attempts. Sending to DLQ.",
			zap.String("topic", msg.Topic),
			zap.Int("retry_count", retryCount),
		)
		p.sendToDLQ(msg, retryCount)
		return
	}

	backoff := p.backoff(retryCount)
	p.logger.Info("Retrying message",
		zap.String("topic", msg.Topic),
		zap.Int("attempt", retryCount+1),
		zap.Duration("backoff", backoff),
	)

	select {
	case <-time.After(backoff):
		msg.Metadata = retryCount + 1
		select {
		case p.kafkaProducer.Input() <- msg:
			p.incrementRetriesAttempted()
		default:
			p.logger.Warn("Kafka producer input full during retry. Re-queuing.", zap.String("topic", msg.Topic))
			p.sendToRetryQueue(msg)
		}
	case <-p.shutdownCtx.Done():
		p.logger.Info("Shutdown received during message retry, abandoning.", zap.String("topic", msg.Topic))
	}
}

func (p *Publisher) sendToDLQ(msg *sarama.ProducerMessage, retryCount int) {
	dlqMessage := &sarama.ProducerMessage{
		Topic: p.config.Kafka.DLQTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			sarama.RecordHeader{Key: []byte("original_topic"), Value: []byte(msg.Topic)},
			sarama.RecordHeader{Key: []byte("retry_count"), Value: []byte(fmt.Sprint(retryCount))},
			sarama.RecordHeader{Key: []byte("dlq_timestamp"), Value: []byte(p.now().UTC().Format(time.RFC3339))},
		),
	}

	select {
	case p.kafkaProducer.Input() <- dlqMessage:
		p.incrementDLQMessagesSent()
		p.logger.Info("Message sent to DLQ",
			zap.String("dlq_topic", p.config.Kafka.DLQTopic),
			zap.String("original_topic", msg.Topic),
		)
	default:
		p.logger.Error("CRITICAL: Kafka producer input channel full. FAILED to send message to DLQ. DATA MAY BE LOST.",
			zap.String("dlq_topic", p.config.Kafka.DLQTopic),
			zap.String("original_topic", msg.Topic),
		)
	}
}

func (p *Publisher) incrementEventsAccepted() { p.mu.Lock(); p.eventsAccepted++; p.mu.Unlock() }
func (p *Publisher) incrementEventsDropped()  { p.mu.Lock(); p.eventsDropped++; p.mu.Unlock() }
func (p *Publisher) incrementKafkaErrors()    { p.mu.Lock(); p.kafkaErrors++; p.mu.Unlock() }
func (p *Publisher) incrementKafkaSuccesses() { p.mu.Lock(); p.kafkaSuccesses++; p.mu.Unlock() }
func (p *Publisher) incrementRetriesAttempted() {
	p.mu.Lock()
	p.retriesAttempted++
	p.mu.Unlock()
}
func (p *Publisher) incrementDLQMessagesSent() { p.mu.Lock(); p.dlqMessagesSent++; p.mu.Unlock() }

// GetMetrics returns current counter values.
func (p *Publisher) GetMetrics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"bill_events_accepted_total":    p.eventsAccepted,
		"bill_events_dropped_total":     p.eventsDropped,
		"kafka_produce_errors_total":    p.kafkaErrors,
		"kafka_produce_successes_total": p.kafkaSuccesses,
		"retries_attempted_total":       p.retriesAttempted,
		"dlq_messages_sent_total":       p.dlqMessagesSent,
	}
}
