// Package rabbitmq sends kitchen tickets for new orders to a topic exchange,
// routed by the zone of the table that ordered.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/utils"
)

const publishTimeout = 5 * time.Second

// Channel is the slice of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type TableLookup interface {
	GetTable(ctx context.Context, id string) (*models.Table, error)
}

type TicketItem struct {
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	Modifiers []models.Modifier `json:"modifiers,omitempty"`
	Notes     string            `json:"notes,omitempty"`
}

type KitchenTicket struct {
	OrderID     string       `json:"orderId"`
	PickupCode  string       `json:"pickupCode"`
	TableID     string       `json:"tableId"`
	TableNumber string       `json:"tableNumber"`
	Zone        string       `json:"zone"`
	Items       []TicketItem `json:"items"`
	Notes       string       `json:"notes,omitempty"`
	Cancelled   bool         `json:"cancelled,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type KitchenPublisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	tables   TableLookup
	log      *logger.Logger
}

// Dial connects to the broker and declares the durable topic exchange.
func Dial(url, exchange string, tables TableLookup, log *logger.Logger) (*KitchenPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info("RABBITMQ", fmt.Sprintf("Connected, publishing kitchen tickets to %s", exchange))
	p := NewKitchenPublisher(ch, exchange, tables, log)
	p.conn = conn
	return p, nil
}

func NewKitchenPublisher(ch Channel, exchange string, tables TableLookup, log *logger.Logger) *KitchenPublisher {
	return &KitchenPublisher{ch: ch, exchange: exchange, tables: tables, log: log}
}

func RoutingKey(zone string) string {
	zone = strings.ToLower(strings.TrimSpace(zone))
	if zone == "" {
		zone = "default"
	}
	return "kitchen." + strings.ReplaceAll(zone, " ", "_")
}

func (p *KitchenPublisher) ticketFor(ctx context.Context, order *models.Order, cancelled bool) KitchenTicket {
	t := KitchenTicket{
		OrderID:     order.ID,
		PickupCode:  utils.GenerateShortCode(),
		TableID:     order.TableID,
		TableNumber: order.TableNumber,
		Notes:       order.Notes,
		Cancelled:   cancelled,
		CreatedAt:   order.CreatedAt,
	}
	if p.tables != nil {
		if tbl, err := p.tables.GetTable(ctx, order.TableID); err == nil {
			t.Zone = tbl.Zone
		}
	}
	for _, it := range order.Items {
		t.Items = append(t.Items, TicketItem{Name: it.Name, Quantity: it.Quantity, Modifiers: it.Modifiers, Notes: it.Notes})
	}
	return t
}

// PublishTicket sends one ticket. Cancellations go out at high priority so
// the line stops cooking early.
func (p *KitchenPublisher) PublishTicket(ctx context.Context, order *models.Order, cancelled bool) error {
	ticket := p.ticketFor(ctx, order, cancelled)
	body, err := json.Marshal(ticket)
	if err != nil {
		return err
	}

	var priority uint8 = 1
	if cancelled {
		priority = 9
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := RoutingKey(ticket.Zone)
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Priority:     priority,
		ContentType:  "application/json",
		MessageId:    order.ID,
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.log.Error("RABBITMQ", fmt.Sprintf("Failed to publish ticket for order %s: %v", order.ID, err))
		return err
	}

	p.log.Debug("RABBITMQ", fmt.Sprintf("Ticket %s for order %s published with routing key %s", ticket.PickupCode, order.ID, key))
	return nil
}

func orderFrom(payload any) (*models.Order, bool) {
	switch o := payload.(type) {
	case models.Order:
		return &o, true
	case *models.Order:
		return o, o != nil
	default:
		return nil, false
	}
}

// Attach sends a ticket for every created or cancelled order on the bus.
func (p *KitchenPublisher) Attach(bus *events.Bus) func() {
	handle := func(cancelled bool) events.Handler {
		return func(env events.Envelope) {
			order, ok := orderFrom(env.Payload)
			if !ok {
				return
			}
			_ = p.PublishTicket(context.Background(), order, cancelled)
		}
	}
	stopCreated := bus.Subscribe(events.OrderCreated, handle(false))
	stopCancelled := bus.Subscribe(events.OrderCancelled, handle(true))
	return func() {
		stopCreated()
		stopCancelled()
	}
}

func (p *KitchenPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
