package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/example/aiscore/internal/config"
	"github.com/example/aiscore/internal/logging"
	"github.com/example/aiscore/internal/metrics"
	"github.com/example/aiscore/internal/usecase"
)

// Handler processes one notification; see usecase.ComputeUseCase.Handle.
type Handler interface {
	Handle(ctx context.Context, n usecase.Notification) error
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDrop
)

func (o outcome) String() string {
	switch o {
	case outcomeAck:
		return "ack"
	case outcomeRequeue:
		return "requeue"
	default:
		return "drop"
	}
}

// Consumer feeds broker deliveries to the compute worker with manual
// acknowledgement, so a crash mid-handle leads to redelivery.
type Consumer struct {
	channel      *amqp.Channel
	queue        string
	handler      Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	requeueDelay time.Duration
	wg           sync.WaitGroup
}

// NewConsumer declares the queue, binds it to the exchange and sets prefetch.
func NewConsumer(conn *amqp.Connection, cfg config.BrokerConfig, h Handler, m *metrics.Metrics, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := declareExchange(ch, cfg.Exchange); err != nil {
		ch.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}

	return &Consumer{
		channel:      ch,
		queue:        cfg.Queue,
		handler:      h,
		metrics:      m,
		logger:       logger.Named("dispatch_consumer"),
		requeueDelay: time.Second,
	}, nil
}

// Start consumes until ctx is cancelled or the channel closes, then waits
// for in-flight deliveries to settle.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("broker channel closed")
				return errors.New("broker channel closed")
			}

			c.wg.Add(1)
			go func(msg amqp.Delivery) {
				defer c.wg.Done()
				c.settle(ctx, msg, c.process(ctx, msg.Body))
			}(msg)
		}
	}
}

// Close releases the channel.
func (c *Consumer) Close() error {
	return c.channel.Close()
}

func (c *Consumer) settle(ctx context.Context, msg amqp.Delivery, o outcome) {
	c.metrics.EventsReceived.WithLabelValues(o.String()).Inc()

	var err error
	switch o {
	case outcomeAck:
		err = msg.Ack(false)
	case outcomeRequeue:
		// brief pause so a hot failure does not spin the queue
		select {
		case <-ctx.Done():
		case <-time.After(c.requeueDelay):
		}
		err = msg.Nack(false, true)
	default:
		err = msg.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("failed to settle delivery", zap.String("outcome", o.String()), zap.Error(err))
	}
}

// process runs the handler for every key in body and decides how the
// delivery is settled. Any retryable failure requeues the whole delivery;
// re-handling keys that already finished is a no-op.
func (c *Consumer) process(ctx context.Context, body []byte) outcome {
	notifications, err := DecodeNotifications(body)
	if err != nil {
		c.logger.Error("dropping undecodable delivery", zap.Error(err))
		return outcomeDrop
	}

	result := outcomeAck
	for _, n := range notifications {
		err := c.handler.Handle(ctx, n)
		switch {
		case err == nil:
		case errors.Is(err, usecase.ErrRetryable):
			c.logger.Warn("delivery will be retried", append(logging.ErrorFields(err), zap.String("blob_key", n.BlobKey))...)
			result = outcomeRequeue
		default:
			c.logger.Error("delivery finished with error", append(logging.ErrorFields(err), zap.String("blob_key", n.BlobKey))...)
		}
	}
	return result
}
