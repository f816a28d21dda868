// Package events carries recording outcomes from the API process to the
// ledger worker over RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const (
	QueueNameRecordings = "recording_events"
	ExchangeName        = "voicecollect"
)

// ErrMalformed marks a message that can never be processed. It is dropped
// instead of requeued.
var ErrMalformed = errors.New("malformed message")

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	mu      sync.Mutex
}

// NewRabbitMQ connects and declares the exchange and the recordings queue
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		QueueNameRecordings, // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		QueueNameRecordings, // queue name
		QueueNameRecordings, // routing key
		ExchangeName,        // exchange
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("RabbitMQ connected successfully")

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		url:     url,
	}, nil
}

// Publish sends body to the queue bound to routingKey
func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.channel.PublishWithContext(
		ctx,
		ExchangeName, // exchange
		routingKey,   // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Debug("Message published to queue",
		zap.String("queue", routingKey),
		zap.Int("size", len(body)))

	return nil
}

// PublishRecording publishes a recording outcome
func (r *RabbitMQ) PublishRecording(ctx context.Context, event *model.RecordingEvent) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}
	return r.Publish(ctx, QueueNameRecordings, body)
}

// Consume delivers messages to handler until ctx is cancelled or the channel
// closes. Failed messages are requeued unless the handler reports ErrMalformed.
func (r *RabbitMQ) Consume(ctx context.Context, queueName string, handler func(ctx context.Context, body []byte) error) error {
	err := r.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Info("Starting to consume messages", zap.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			r.handle(ctx, msg, handler)
		}
	}
}

func (r *RabbitMQ) handle(ctx context.Context, msg amqp.Delivery, handler func(ctx context.Context, body []byte) error) {
	logger.Debug("Received message", zap.Int("size", len(msg.Body)))

	err := handler(ctx, msg.Body)
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, ErrMalformed):
		logger.Error("Dropping malformed message", zap.Error(err))
		msg.Nack(false, false)
	default:
		logger.Error("Failed to handle message", zap.Error(err))
		msg.Nack(false, true)
	}
}

// Close closes the RabbitMQ connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Encode serializes an event for the wire
func Encode(event *model.RecordingEvent) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

// Decode parses an event. Undecodable or incomplete bodies wrap ErrMalformed.
func Decode(body []byte) (*model.RecordingEvent, error) {
	var event model.RecordingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if event.ID == "" || event.Key == "" {
		return nil, fmt.Errorf("%w: event without id or key", ErrMalformed)
	}
	switch event.Status {
	case model.RecordingStatusStored, model.RecordingStatusPartial:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformed, event.Status)
	}
	return &event, nil
}
