package kafka

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"table-service/internal/events"
	"table-service/internal/logger"
)

// Producer mirrors in-process bus events onto Kafka so other services can
// follow the floor. In mock mode it only logs.
type Producer struct {
	producer sarama.SyncProducer
	mockMode bool
	log      *logger.Logger
}

func NewProducer(brokers []string, mockMode bool, log *logger.Logger) (*Producer, error) {
	if mockMode {
		log.LogKafka("MOCK_MODE", "producer", "Running in mock mode - no actual Kafka connection")
		return &Producer{
			producer: nil,
			mockMode: true,
			log:      log,
		}, nil
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	log.LogKafka("CONNECTED", "producer", fmt.Sprintf("Connected to Kafka brokers: %v", brokers))
	return newProducer(producer, log), nil
}

func newProducer(producer sarama.SyncProducer, log *logger.Logger) *Producer {
	return &Producer{producer: producer, log: log}
}

func (p *Producer) PublishEnvelope(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := getTopicForEvent(env.Type)

	if p.mockMode {
		p.log.LogKafka("MOCK_PUBLISH", topic, fmt.Sprintf("Mock publishing event: %s #%d", env.Type, env.Sequence))
		return nil
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.Type),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(env.Type)},
			{Key: []byte("event-id"), Value: []byte(env.ID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Error("KAFKA", fmt.Sprintf("Failed to send message to topic %s: %v", topic, err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.log.LogKafka("PUBLISHED", topic, fmt.Sprintf("Event %s sent to partition %d at offset %d", env.Type, partition, offset))
	return nil
}

// Forward subscribes the producer to every bus event. The returned func
// stops forwarding.
func (p *Producer) Forward(bus *events.Bus) func() {
	return bus.Subscribe(events.Wildcard, func(env events.Envelope) {
		_ = p.PublishEnvelope(env)
	})
}

func getTopicForEvent(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "order"):
		return "table-service.orders"
	case strings.HasPrefix(eventType, "table"):
		return "table-service.tables"
	case strings.HasPrefix(eventType, "session"):
		return "table-service.sessions"
	case strings.HasPrefix(eventType, "inventory"):
		return "table-service.inventory"
	case strings.HasPrefix(eventType, "payment"):
		return "table-service.payments"
	default:
		return "table-service.events"
	}
}

func (p *Producer) Close() error {
	if p.mockMode {
		p.log.LogKafka("MOCK_CLOSE", "producer", "Mock producer closed")
		return nil
	}

	if p.producer != nil {
		p.log.LogKafka("CLOSING", "producer", "Closing Kafka producer connection")
		return p.producer.Close()
	}
	return nil
}
