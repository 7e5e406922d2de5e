package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"worldvote/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	consumerTag  = "worldvote-commands"
	retryBackoff = 500 * time.Millisecond
)

// CommandConsumer reads the commands queue and hands each message to a CommandProcessor.
type CommandConsumer struct {
	conn        *amqp.Connection
	processor   *CommandProcessor
	queueName   string
	concurrency int
	stopChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	logger      *zap.Logger
}

// NewCommandConsumer creates a consumer running up to concurrency commands at once.
func NewCommandConsumer(conn *amqp.Connection, processor *CommandProcessor, queueName string, concurrency int, logger *zap.Logger) *CommandConsumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &CommandConsumer{
		conn:        conn,
		processor:   processor,
		queueName:   queueName,
		concurrency: concurrency,
		stopChannel: make(chan struct{}),
		logger:      logger.Named("CommandConsumer"),
	}
}

// StartConsuming blocks until Stop is called or the delivery channel closes.
func (c *CommandConsumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer: open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(c.queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consumer: declare queue '%s': %w", c.queueName, err)
	}
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("consumer: set QoS: %w", err)
	}
	msgs, err := ch.Consume(q.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consumer: register consumer: %w", err)
	}
	c.logger.Info("Waiting for commands", zap.String("queue", q.Name), zap.Int("concurrency", c.concurrency))

	sem := make(chan struct{}, c.concurrency)
	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				c.wg.Wait()
				return nil
			}
			sem <- struct{}{}
			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-sem
					c.wg.Done()
				}()
				c.handle(d)
			}(d)

		case <-c.stopChannel:
			c.logger.Info("Stop signal received, draining in-flight commands")
			c.wg.Wait()
			return nil
		}
	}
}

func (c *CommandConsumer) handle(d amqp.Delivery) {
	err := c.processor.Process(context.Background(), d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, models.ErrInvalidInput):
		c.logger.Error("Malformed command dropped", zap.Uint64("deliveryTag", d.DeliveryTag), zap.Error(err))
		_ = d.Nack(false, false)
	default:
		time.Sleep(retryBackoff)
		_ = d.Nack(false, true)
	}
}

// Stop stops consuming. Safe to call more than once.
func (c *CommandConsumer) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping")
		close(c.stopChannel)
	})
}
