// internal/bus/bus_test.go
package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domcore/internal/bus"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestBus(t *testing.T, bufferSize int) *bus.Bus {
	return bus.New(zaptest.NewLogger(t), bufferSize)
}

func TestBus_PublishAndReply(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBus(t, 4)
	defer b.Shutdown()

	requests, unsubscribe := b.Subscribe(bus.TopicRequest)
	defer unsubscribe()
	responses, _ := b.Subscribe(bus.TopicResponse)

	id, err := b.Publish(context.Background(), bus.TopicRequest, "ping")
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "message IDs are UUIDs")

	msg := <-requests
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, bus.TopicRequest, msg.Topic)
	assert.Equal(t, "ping", msg.Payload)
	assert.False(t, msg.Timestamp.IsZero())
	b.Acknowledge(msg)

	_, err = b.Reply(context.Background(), bus.TopicResponse, msg.ID, "pong")
	require.NoError(t, err)
	reply := <-responses
	assert.Equal(t, id, reply.CorrelationID)
	b.Acknowledge(reply)
}

func TestBus_NoSubscribers(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()
	id, err := b.Publish(context.Background(), bus.TopicGC, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestBus_PublishCancellation(t *testing.T) {
	// 1. Unbuffered with no reader, so Publish blocks.
	b := newTestBus(t, 0)
	defer b.Shutdown()
	msgs, unsubscribe := b.Subscribe(bus.TopicMutation)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		_, err := b.Publish(ctx, bus.TopicMutation, "record")
		done <- err
	}()

	// 2. Cancel and expect a prompt return.
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Publish did not return after cancellation")
	}

	select {
	case <-msgs:
		t.Error("a canceled message must not be delivered")
	default:
	}
}

func TestBus_TryPublishDropsForSlowSubscribers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := bus.New(zap.New(core), 1)
	msgs, _ := b.Subscribe(bus.TopicMutation)

	assert.True(t, b.TryPublish(bus.TopicMutation, 1))
	assert.False(t, b.TryPublish(bus.TopicMutation, 2), "buffer of one is already full")
	assert.Equal(t, uint64(1), b.Dropped())

	dropped := logs.FilterMessage("Dropped message for slow subscriber").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, string(bus.TopicMutation), dropped[0].ContextMap()["topic"])

	msg := <-msgs
	assert.Equal(t, 1, msg.Payload)
	b.Acknowledge(msg)
	b.Shutdown()

	_, ok := <-msgs
	assert.False(t, ok, "Shutdown closes subscriber channels")
	assert.False(t, b.TryPublish(bus.TopicMutation, 3))
}

func TestBus_UnsubscribedChannelIsClosedOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBus(t, 2)
	msgs, unsubscribe := b.Subscribe(bus.TopicGC)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range msgs {
			b.Acknowledge(msg)
		}
	}()

	_, err := b.Publish(context.Background(), bus.TopicGC, "before")
	require.NoError(t, err)
	unsubscribe()
	_, err = b.Publish(context.Background(), bus.TopicGC, "after")
	require.NoError(t, err)

	b.Shutdown()
	wg.Wait()
}

func TestBus_ShutdownUnderLoad(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := newTestBus(t, 5)

	// 1. Slow subscribers.
	var subscribers sync.WaitGroup
	for i := 0; i < 8; i++ {
		msgs, _ := b.Subscribe(bus.TopicMutation, bus.TopicGC)
		subscribers.Add(1)
		go func() {
			defer subscribers.Done()
			for msg := range msgs {
				time.Sleep(time.Millisecond)
				b.Acknowledge(msg)
			}
		}()
	}

	// 2. Producers flooding both topics.
	ctx, cancel := context.WithCancel(context.Background())
	var producers sync.WaitGroup
	for i := 0; i < 8; i++ {
		producers.Add(1)
		go func(id int) {
			defer producers.Done()
			for j := 0; j < 50; j++ {
				topic := bus.TopicMutation
				if j%2 == 1 {
					topic = bus.TopicGC
				}
				_, _ = b.Publish(ctx, topic, fmt.Sprintf("msg-%d-%d", id, j))
				if ctx.Err() != nil {
					return
				}
			}
		}(i)
	}

	// 3. Shut down mid-flight.
	time.Sleep(50 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		b.Shutdown()
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("bus shutdown timed out")
	}
	producers.Wait()
	subscribers.Wait()

	_, err := b.Publish(context.Background(), bus.TopicGC, "late")
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestBus_SubscribeAfterShutdown(t *testing.T) {
	b := newTestBus(t, 1)
	b.Shutdown()
	msgs, unsubscribe := b.Subscribe(bus.TopicRequest)
	unsubscribe()
	_, ok := <-msgs
	assert.False(t, ok)
	assert.Panics(t, func() { b.Subscribe() })
}
