package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/common/bus"
	"github.com/Folokee/SASSI-Microservices/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testPayload struct {
	PatientID string `json:"patientId"`
	Score     int    `json:"score"`
}

func newTestRedisBus(t *testing.T) (*bus.RedisBus, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.BusConfig{
		StreamPrefix:       "ews_events",
		GroupPrefix:        "ews_queue",
		BatchSize:          10,
		ReclaimIdleSeconds: 1,
	}
	return bus.NewRedisBus(client, cfg, zap.NewNop()), mr
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	b, _ := newTestRedisBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := []bus.Envelope{}

	go func() {
		_ = b.Subscribe(ctx, bus.TopicEWSCalculated, "ews_queue_ews_calculated", "consumer-1",
			func(ctx context.Context, env bus.Envelope) error {
				mu.Lock()
				received = append(received, env)
				mu.Unlock()
				return nil
			})
	}()

	// give the subscriber a moment to create the group
	time.Sleep(100 * time.Millisecond)

	err := b.Publish(ctx, bus.TopicEWSCalculated, "event-1", testPayload{PatientID: "P1", Score: 5})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "event-1", received[0].EventID)
	assert.Equal(t, bus.TopicEWSCalculated, received[0].Topic)

	var payload testPayload
	require.NoError(t, received[0].DecodePayload(&payload))
	assert.Equal(t, "P1", payload.PatientID)
	assert.Equal(t, 5, payload.Score)
}

func TestRedisBus_FailedHandlerRedelivers(t *testing.T) {
	b, _ := newTestRedisBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := 0

	go func() {
		_ = b.Subscribe(ctx, bus.TopicEWSConsensus, "ews_queue_ews_consensus", "consumer-1",
			func(ctx context.Context, env bus.Envelope) error {
				mu.Lock()
				defer mu.Unlock()
				attempts++
				if attempts == 1 {
					return assert.AnError
				}
				return nil
			})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, bus.TopicEWSConsensus, "event-2", testPayload{PatientID: "P2"}))

	// first attempt fails (no ack); message stays pending and is reclaimed
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, 10*time.Second, 100*time.Millisecond)
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := bus.NewMemoryBus(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan bus.Envelope, 1)
	go func() {
		_ = b.Subscribe(ctx, bus.TopicEWSCalculated, "g", "c",
			func(ctx context.Context, env bus.Envelope) error {
				done <- env
				return nil
			})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Publish(ctx, bus.TopicEWSCalculated, "event-3", testPayload{PatientID: "P3"}))

	select {
	case env := <-done:
		assert.Equal(t, "event-3", env.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for memory bus delivery")
	}
}

func TestQueueName(t *testing.T) {
	assert.Equal(t, "ews_queue_ews_calculated", bus.QueueName("ews_queue", "ews.calculated"))
	assert.Equal(t, "ews_queue_ews_consensus", bus.QueueName("ews_queue", "ews.consensus"))
}
