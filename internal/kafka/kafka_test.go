package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
)

type MockConsumerGroupSession struct {
	mock.Mock
}

func (m *MockConsumerGroupSession) Claims() map[string][]int32 {
	args := m.Called()
	return args.Get(0).(map[string][]int32)
}

func (m *MockConsumerGroupSession) MemberID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConsumerGroupSession) GenerationID() int32 {
	args := m.Called()
	return int32(args.Int(0))
}

func (m *MockConsumerGroupSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
	m.Called(topic, partition, offset, metadata)
}

func (m *MockConsumerGroupSession) Commit() {
	m.Called()
}

func (m *MockConsumerGroupSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
	m.Called(topic, partition, offset, metadata)
}

func (m *MockConsumerGroupSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	m.Called(msg, metadata)
}

func (m *MockConsumerGroupSession) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

type MockConsumerGroupClaim struct {
	mock.Mock
}

func (m *MockConsumerGroupClaim) Topic() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConsumerGroupClaim) Partition() int32 {
	args := m.Called()
	return int32(args.Int(0))
}

func (m *MockConsumerGroupClaim) InitialOffset() int64 {
	args := m.Called()
	return int64(args.Int(0))
}

func (m *MockConsumerGroupClaim) HighWaterMarkOffset() int64 {
	args := m.Called()
	return int64(args.Int(0))
}

func (m *MockConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage {
	args := m.Called()
	return args.Get(0).(chan *sarama.ConsumerMessage)
}

func paymentMessage(t *testing.T, offset int64, event models.PaymentEvent) *sarama.ConsumerMessage {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "payment-success", Offset: offset, Value: data}
}

func successMessage(t *testing.T, offset int64, orderID string) *sarama.ConsumerMessage {
	t.Helper()
	return paymentMessage(t, offset, models.PaymentEvent{
		Type:      "payment.success",
		PaymentID: "pay_" + orderID,
		Payment:   &models.Payment{PaymentID: "pay_" + orderID, OrderID: orderID, Status: models.GatewaySuccess},
	})
}

func TestConsumeClaim(t *testing.T) {
	good := successMessage(t, 0, "ORD-1")
	poison := &sarama.ConsumerMessage{Topic: "payment-success", Offset: 1, Value: []byte("{nope")}
	unknown := successMessage(t, 2, "ORD-404")
	last := successMessage(t, 3, "ORD-3")

	msgChan := make(chan *sarama.ConsumerMessage, 4)
	msgChan <- good
	msgChan <- poison
	msgChan <- unknown
	msgChan <- last
	close(msgChan)

	session := &MockConsumerGroupSession{}
	session.On("Context").Return(context.Background())
	session.On("MarkMessage", good, "").Return().Once()
	session.On("MarkMessage", poison, "").Return().Once()
	session.On("MarkMessage", unknown, "").Return().Once()
	session.On("MarkMessage", last, "").Return().Once()

	claim := &MockConsumerGroupClaim{}
	claim.On("Messages").Return(msgChan)

	var seen []string
	handler := &paymentConsumerHandler{
		log: logger.NewNop(),
		handler: func(ctx context.Context, event *models.PaymentEvent) error {
			seen = append(seen, event.Payment.OrderID)
			if event.Payment.OrderID == "ORD-404" {
				return apperrors.NotFound(apperrors.CodeOrderNotFound, "order ORD-404 not found", "ORD-404")
			}
			return nil
		},
	}

	require.NoError(t, handler.ConsumeClaim(session, claim))
	assert.Equal(t, []string{"ORD-1", "ORD-404", "ORD-3"}, seen)
	session.AssertExpectations(t)
	claim.AssertExpectations(t)
}

func TestConsumeClaim_TransientErrorStopsClaim(t *testing.T) {
	good := successMessage(t, 0, "ORD-1")
	failing := successMessage(t, 1, "ORD-2")
	after := successMessage(t, 2, "ORD-3")

	msgChan := make(chan *sarama.ConsumerMessage, 3)
	msgChan <- good
	msgChan <- failing
	msgChan <- after
	close(msgChan)

	session := &MockConsumerGroupSession{}
	session.On("Context").Return(context.Background())
	session.On("MarkMessage", good, "").Return().Once()

	claim := &MockConsumerGroupClaim{}
	claim.On("Messages").Return(msgChan)

	var seen []string
	handler := &paymentConsumerHandler{
		log: logger.NewNop(),
		handler: func(ctx context.Context, event *models.PaymentEvent) error {
			seen = append(seen, event.Payment.OrderID)
			if event.Payment.OrderID == "ORD-2" {
				return errors.New("table store unavailable")
			}
			return nil
		},
	}

	err := handler.ConsumeClaim(session, claim)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table store unavailable")
	assert.Equal(t, []string{"ORD-1", "ORD-2"}, seen)
	session.AssertExpectations(t)
	session.AssertNotCalled(t, "MarkMessage", failing, "")
	session.AssertNotCalled(t, "MarkMessage", after, "")
	assert.True(t, handler.failed.Load())
}

func TestGetTopicForEvent(t *testing.T) {
	cases := map[string]string{
		events.OrderCreated:         "table-service.orders",
		events.OrdersSummaryUpdated: "table-service.orders",
		events.TableLayoutUpdated:   "table-service.tables",
		events.SessionsCleaned:      "table-service.sessions",
		events.InventoryLowStock:    "table-service.inventory",
		events.PaymentPreference:    "table-service.payments",
		"something.else":            "table-service.events",
	}
	for eventType, topic := range cases {
		assert.Equal(t, topic, getTopicForEvent(eventType), eventType)
	}
}

func TestPublishEnvelope(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env events.Envelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Type != events.TableUpdated {
			return errors.New("unexpected event type " + env.Type)
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newProducer(sp, logger.NewNop())
	defer p.Close()

	require.NoError(t, p.PublishEnvelope(events.Envelope{ID: "e1", Type: events.TableUpdated, Sequence: 1}))
	assert.Error(t, p.PublishEnvelope(events.Envelope{ID: "e2", Type: events.OrderCreated, Sequence: 2}))
}

func TestMockProducer(t *testing.T) {
	p, err := NewProducer(nil, true, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, p.PublishEnvelope(events.Envelope{Type: events.OrderCreated}))
	assert.NoError(t, p.Close())
}
