package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"sellerorders/config"
	"sellerorders/internal/etl"
	"sellerorders/models"
)

// Publisher announces committed orders on a durable queue so downstream DWH
// workers can pick them up.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
}

func NewPublisher(cfg config.RabbitMQConfig, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &Publisher{
		conn:    conn,
		channel: channel,
		queue:   cfg.Queue,
		logger:  logger.Named("rabbitmq"),
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) Name() string {
	return "rabbitmq"
}

// OrdersLoaded publishes one event per order. Failed publishes are collected
// and do not stop the remaining ones.
func (p *Publisher) OrdersLoaded(ctx context.Context, orders []etl.LoadedOrder) error {
	var errs []error
	now := time.Now()
	for _, lo := range orders {
		msg, err := newPublishing(EventFor(lo), now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish order %s: %w", lo.Order.ID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.logger.Debug("Published order events", zap.Int("count", len(orders)), zap.String("queue", p.queue))
	return nil
}

// EventFor builds the message payload for a committed order.
func EventFor(lo etl.LoadedOrder) models.SellerOrderEvent {
	event := models.EventUpdated
	if lo.Created {
		event = models.EventCreated
	}
	return models.SellerOrderEvent{
		Event:        event,
		OrderID:      lo.Order.ID,
		SellerID:     lo.Order.SellerID,
		Status:       lo.Order.Status,
		TotalAmount:  lo.Order.TotalAmount,
		CurrencyID:   lo.Order.CurrencyID,
		ItemCount:    len(lo.Items),
		PaymentCount: len(lo.Payments),
	}
}

func newPublishing(evt models.SellerOrderEvent, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode event for order %s: %w", evt.OrderID, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Type:         evt.Event,
		Body:         body,
	}, nil
}
