package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type recordingAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	return nil
}

func delivery(t *testing.T, ack amqp.Acknowledger, body interface{}) amqp.Delivery {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw}
}

func TestConsumerHandleAcksOnSuccess(t *testing.T) {
	var got IngestTask
	c := NewConsumer(nil, "ingest", 1, func(ctx context.Context, task IngestTask) error {
		got = task
		return nil
	})
	ack := &recordingAck{}
	c.handle(context.Background(), delivery(t, ack, IngestTask{DocumentID: "d1", UserID: "u1"}))
	require.Equal(t, 1, ack.acked)
	require.Equal(t, "d1", got.DocumentID)
	require.Equal(t, "u1", got.UserID)
}

func TestConsumerHandleDropsFailures(t *testing.T) {
	c := NewConsumer(nil, "ingest", 1, func(ctx context.Context, task IngestTask) error {
		return errors.New("extract failed")
	})
	ack := &recordingAck{}
	c.handle(context.Background(), delivery(t, ack, IngestTask{DocumentID: "d1"}))
	require.Equal(t, 1, ack.nacked)
	require.False(t, ack.requeue)

	ack = &recordingAck{}
	c.handle(context.Background(), delivery(t, ack, []byte("{not json")))
	require.Equal(t, 1, ack.nacked)
	require.Zero(t, ack.acked)
}

func TestIngestTaskWireFormat(t *testing.T) {
	raw, err := json.Marshal(IngestTask{DocumentID: "d1", UserID: "u1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"document_id":"d1","user_id":"u1"}`, string(raw))

	var task IngestTask
	require.NoError(t, json.Unmarshal([]byte(`{"document_id":"d2","user_id":"u2","attempt":3}`), &task))
	require.Equal(t, IngestTask{DocumentID: "d2", UserID: "u2"}, task)
}
