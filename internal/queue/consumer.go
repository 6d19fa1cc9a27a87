package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, task IngestTask) error

// Consumer runs a fixed number of goroutines over one queue. Deliveries
// are acked after the handler returns; failed tasks are dropped because
// the handler records the failure on the document itself.
type Consumer struct {
	conn      *amqp.Connection
	queueName string
	workers   int
	handler   HandlerFunc

	ch     *amqp.Channel
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, queueName string, workers int, handler HandlerFunc) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{conn: conn, queueName: queueName, workers: workers, handler: handler}
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.cancel != nil {
		return nil
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := declare(ch, c.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(c.workers, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue: %w", err)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.ch = ch

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(workerCtx, d)
				}
			}
		}()
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	logger := logutil.GetLogger(ctx).With(zap.String("queue", c.queueName))
	var task IngestTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		logger.Error("decode ingest task failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := c.handler(ctx, task); err != nil {
		logger.Error("ingest task failed", zap.String("document_id", task.DocumentID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.ch != nil {
		_ = c.ch.Close()
	}
}
