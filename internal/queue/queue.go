package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// IngestTask asks a worker to process one uploaded document. Failed tasks
// are not redelivered; stuck documents are re-dispatched by the recovery job.
type IngestTask struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

type Publisher interface {
	Publish(ctx context.Context, task IngestTask) error
}

// Connect dials the broker and checks that a channel can be opened.
func Connect(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err == nil {
			_ = ch.Close()
		}
		done <- err
	}()
	select {
	case <-checkCtx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq health check: %w", checkCtx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open rabbitmq channel: %w", err)
		}
		return conn, nil
	}
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

type amqpPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewPublisher(conn *amqp.Connection, queueName string) Publisher {
	return &amqpPublisher{conn: conn, queueName: queueName}
}

func (p *amqpPublisher) Publish(ctx context.Context, task IngestTask) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if err := declare(ch, p.queueName); err != nil {
		return err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal ingest task: %w", err)
	}
	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}); err != nil {
		return fmt.Errorf("publish ingest task: %w", err)
	}
	return nil
}
