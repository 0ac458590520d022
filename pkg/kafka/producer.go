package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// LeadEvent represents a lifecycle event about a lead
type LeadEvent struct {
	EventType  string          `json:"event_type"` // lead.created, lead.linked, attribution.updated
	AccountID  string          `json:"account_id"`
	LeadID     string          `json:"lead_id"`
	LeadKey    string          `json:"lead_key"`
	EventID    string          `json:"event_id,omitempty"` // the interaction that triggered this
	Pass       string          `json:"pass,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// JobEvent represents a match job lifecycle event
type JobEvent struct {
	EventType    string    `json:"event_type"` // job.completed, job.failed
	AccountID    string    `json:"account_id"`
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	EventCount   int       `json:"event_count"`
	NewLeadCount int       `json:"new_lead_count"`
	LinkCount    int       `json:"link_count"`
	ErrorCount   int       `json:"error_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// PublishLeadEvent publishes a lead event to Kafka
func (p *Producer) PublishLeadEvent(ctx context.Context, event *LeadEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishLeadEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.LeadID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "account_id", Value: []byte(event.AccountID)},
			{Key: "lead_key", Value: []byte(event.LeadKey)},
		},
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish lead event")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"lead_id":    event.LeadID,
		"lead_key":   event.LeadKey,
	}).Debug("Published lead event")

	return nil
}

// PublishJobEvent publishes a match job event to Kafka
func (p *Producer) PublishJobEvent(ctx context.Context, event *JobEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishJobEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.JobID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "account_id", Value: []byte(event.AccountID)},
		},
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish job event")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"job_id":     event.JobID,
		"status":     event.Status,
	}).Debug("Published job event")

	return nil
}

// PublishLeadEvents publishes multiple lead events in a batch
func (p *Producer) PublishLeadEvents(ctx context.Context, events []*LeadEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishLeadEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.LeadID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "account_id", Value: []byte(event.AccountID)},
				{Key: "lead_key", Value: []byte(event.LeadKey)},
				{Key: "schema_version", Value: []byte("1.0")},
			},
		}
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish lead events batch")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published lead events batch")

	return nil
}
