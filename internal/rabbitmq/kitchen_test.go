package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, msg)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

type fixedTables map[string]models.Table

func (f fixedTables) GetTable(ctx context.Context, id string) (*models.Table, error) {
	t, ok := f[id]
	if !ok {
		return nil, errors.New("no such table")
	}
	return &t, nil
}

func sampleOrder() models.Order {
	return models.Order{
		ID:          "ORD-7",
		TableID:     "T1",
		TableNumber: "1",
		Items: []models.OrderItem{
			{MenuItemID: "pizza", Name: "Margherita", Quantity: 2, Notes: "no basil"},
		},
		CreatedAt: time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC),
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "kitchen.default", RoutingKey(""))
	assert.Equal(t, "kitchen.terrace", RoutingKey(" Terrace "))
	assert.Equal(t, "kitchen.main_hall", RoutingKey("Main Hall"))
}

func TestPublishTicket(t *testing.T) {
	ch := new(MockChannel)
	ch.On("PublishWithContext", "orders_topic", "kitchen.terrace", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var ticket KitchenTicket
		if err := json.Unmarshal(msg.Body, &ticket); err != nil {
			return false
		}
		return ticket.OrderID == "ORD-7" &&
			len(ticket.PickupCode) == 6 &&
			len(ticket.Items) == 1 && ticket.Items[0].Quantity == 2 &&
			msg.DeliveryMode == amqp.Persistent && msg.Priority == 1
	})).Return(nil).Once()

	p := NewKitchenPublisher(ch, "orders_topic", fixedTables{"T1": {ID: "T1", Zone: "terrace"}}, logger.NewNop())
	order := sampleOrder()
	require.NoError(t, p.PublishTicket(context.Background(), &order, false))
	ch.AssertExpectations(t)
}

func TestPublishTicket_CancelledUnknownTable(t *testing.T) {
	ch := new(MockChannel)
	ch.On("PublishWithContext", "orders_topic", "kitchen.default", mock.MatchedBy(func(msg amqp.Publishing) bool {
		return msg.Priority == 9
	})).Return(errors.New("channel closed")).Once()

	p := NewKitchenPublisher(ch, "orders_topic", fixedTables{}, logger.NewNop())
	order := sampleOrder()
	assert.Error(t, p.PublishTicket(context.Background(), &order, true))
	ch.AssertExpectations(t)
}

func TestAttach(t *testing.T) {
	bus := events.NewBus(events.DefaultHistorySize, 8, logger.NewNop())
	defer bus.Close()

	published := make(chan string, 2)
	ch := new(MockChannel)
	ch.On("PublishWithContext", "orders_topic", "kitchen.hall", mock.Anything).
		Run(func(args mock.Arguments) { published <- args.Get(2).(amqp.Publishing).MessageId }).
		Return(nil)

	p := NewKitchenPublisher(ch, "orders_topic", fixedTables{"T1": {ID: "T1", Zone: "hall"}}, logger.NewNop())
	stop := p.Attach(bus)
	defer stop()

	order := sampleOrder()
	bus.Publish(events.OrderCreated, order)
	bus.Publish(events.OrderUpdated, order)
	bus.Publish(events.OrderCancelled, &order)

	for i := 0; i < 2; i++ {
		select {
		case id := <-published:
			assert.Equal(t, "ORD-7", id)
		case <-time.After(2 * time.Second):
			t.Fatal("ticket not published")
		}
	}
	ch.AssertNumberOfCalls(t, "PublishWithContext", 2)
}
