package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecollect/pkg/model"
)

func TestEncodeDecode(t *testing.T) {
	msg := "queue backend unavailable"
	event := &model.RecordingEvent{
		ID:         uuid.NewString(),
		PromptID:   "a",
		Key:        "voice/a.wav",
		URL:        "https://cdn.test/voice/a.wav",
		Status:     model.RecordingStatusPartial,
		Error:      &msg,
		OccurredAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	body, err := Encode(event)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
	assert.True(t, decoded.NeedsReconciliation())
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing key", body: `{"id":"x","status":"stored"}`},
		{name: "unknown status", body: `{"id":"x","key":"k","status":"lost"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRabbitMQ_PublishConsume(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" || testing.Short() {
		t.Skip("Skipping integration test: RABBITMQ_URL not set")
	}

	mq, err := NewRabbitMQ(url)
	require.NoError(t, err)
	defer mq.Close()

	event := &model.RecordingEvent{
		ID:         uuid.NewString(),
		PromptID:   "a",
		Key:        "voice/a.wav",
		URL:        "https://cdn.test/voice/a.wav",
		Status:     model.RecordingStatusStored,
		OccurredAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, mq.PublishRecording(context.Background(), event))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan *model.RecordingEvent, 1)
	go mq.Consume(ctx, QueueNameRecordings, func(ctx context.Context, body []byte) error {
		e, err := Decode(body)
		if err != nil {
			return err
		}
		if e.ID == event.ID {
			got <- e
		}
		return nil
	})

	select {
	case e := <-got:
		assert.Equal(t, event.Key, e.Key)
	case <-ctx.Done():
		t.Fatal("event not consumed")
	}
}
