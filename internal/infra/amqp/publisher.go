package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/logger"
	"github.com/rabbitmq/amqp091-go"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher forwards audit events to a topic exchange, routed by action.
// With no broker configured it is a no-op.
type Publisher struct {
	conn     *amqp091.Connection
	channel  channel
	exchange string
	enabled  bool
	log      *logger.Logger
}

func NewPublisher(uri, exchange string, log *logger.Logger) (*Publisher, error) {
	if uri == "" {
		log.Warn("amqp uri is empty, event publishing is disabled")
		return &Publisher{exchange: exchange, log: log}, nil
	}

	conn, err := amqp091.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info("event publisher ready", "exchange", exchange)
	return &Publisher{conn: conn, channel: ch, exchange: exchange, enabled: true, log: log}, nil
}

func (p *Publisher) Name() string { return "amqp" }

func (p *Publisher) Emit(ctx context.Context, ev audit.Event) error {
	if !p.enabled {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		ev.Action,  // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    ev.ID,
			Timestamp:    time.Now(),
			Body:         body,
			Headers: amqp091.Table{
				"event_type": ev.Action,
				"user_id":    ev.UserID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Action, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.log.Warn("closing amqp channel", "error", err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close amqp connection: %w", err)
		}
	}
	return nil
}
