package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/AdriaanGeldenhuis/relatives-sub001/internal/alerts"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn            *Connection
	channel         *amqp.Channel
	exchange        string
	eventRoutingKey string
	alertRoutingKey string
	logger          *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher on the events exchange
func NewPublisher(conn *Connection, exchange, eventRoutingKey, alertRoutingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:            conn,
		channel:         ch,
		exchange:        exchange,
		eventRoutingKey: eventRoutingKey,
		alertRoutingKey: alertRoutingKey,
		logger:          logger,
	}, nil
}

// LocationEvent is published after a fix is accepted, for the activity
// feed and any downstream consumer.
type LocationEvent struct {
	UserID      string  `json:"user_id"`
	FamilyID    string  `json:"family_id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	MotionState string  `json:"motion_state"`
	Promoted    bool    `json:"promoted"`
	RecordedAt  string  `json:"recorded_at"`
}

// PublishLocationEvent publishes an accepted-fix event
func (p *Publisher) PublishLocationEvent(ctx context.Context, event LocationEvent) error {
	if err := p.publish(ctx, p.eventRoutingKey, event); err != nil {
		return err
	}

	p.logger.Debug("published location event",
		zap.String("routing_key", p.eventRoutingKey),
		zap.String("user_id", event.UserID),
	)

	return nil
}

// Notify publishes a fired alert for the external push pipeline. This
// satisfies the alerts.Notifier contract.
func (p *Publisher) Notify(ctx context.Context, n alerts.Notification) error {
	if err := p.publish(ctx, p.alertRoutingKey, n); err != nil {
		return err
	}

	p.logger.Debug("published alert notification",
		zap.String("routing_key", p.alertRoutingKey),
		zap.String("rule_id", n.RuleID.String()),
	)

	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
