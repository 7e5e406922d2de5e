package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"worldvote/shared/interfaces"
	"worldvote/shared/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishAttempts = 3
	publishTimeout  = 10 * time.Second
	appID           = "worldvote-engine"
)

var _ interfaces.ResultPublisher = (*ResultPublisher)(nil)

// ResultPublisher publishes resolved decisions to a durable queue.
type ResultPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewResultPublisher opens a channel on conn and declares the results queue.
func NewResultPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (*ResultPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("result publisher: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("result publisher: declare queue '%s': %w", queueName, err)
	}
	log := logger.Named("ResultPublisher")
	log.Info("Results queue declared", zap.String("queue", queueName))
	return &ResultPublisher{channel: ch, queueName: queueName, logger: log}, nil
}

// PublishVoteResult publishes one event, retrying transient channel errors.
func (p *ResultPublisher) PublishVoteResult(ctx context.Context, event models.VoteResultEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal vote result event %s: %w", event.EventID, err)
	}
	if err := p.publishMessage(ctx, body, event.EventID.String()); err != nil {
		return fmt.Errorf("publish vote result for decision %s: %w", event.Result.DecisionID, err)
	}
	p.logger.Info("Vote result published",
		zap.String("eventID", event.EventID.String()),
		zap.String("decisionID", event.Result.DecisionID),
	)
	return nil
}

func (p *ResultPublisher) publishMessage(ctx context.Context, body []byte, messageID string) error {
	if p.channel == nil {
		return errors.New("rabbitmq channel is not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",          // exchange (default)
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    messageID,
				Body:         body,
				Timestamp:    time.Now().UTC(),
				AppId:        appID,
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.Int("attempt", attempt), zap.String("queue", p.queueName), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("queue %s after %d attempts: %w", p.queueName, publishAttempts, err)
}

// Close closes the publisher channel.
func (p *ResultPublisher) Close() error {
	if p.channel == nil {
		return nil
	}
	return p.channel.Close()
}
