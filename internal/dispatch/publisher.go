package dispatch

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/aiscore/internal/config"
	"github.com/example/aiscore/internal/usecase"
)

// RabbitPublisher emits blob notifications to a topic exchange.
type RabbitPublisher struct {
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitPublisher opens a channel and declares the exchange.
func NewRabbitPublisher(conn *amqp.Connection, cfg config.BrokerConfig) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, err
	}

	return &RabbitPublisher{
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

// Publish sends one persistent notification.
func (p *RabbitPublisher) Publish(ctx context.Context, n usecase.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    n.BlobKey,
			Body:         body,
		},
	)
}

// Close releases the channel.
func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}
