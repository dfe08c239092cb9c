// internal/bus/bus.go
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names a stream of messages.
type Topic string

const (
	TopicRequest  Topic = "dom.request"  // protocol requests for the DOM component
	TopicResponse Topic = "dom.response" // replies, correlated to a request ID
	TopicMutation Topic = "dom.mutation" // committed mutation records
	TopicGC       Topic = "dom.gc"       // collection results
)

// ErrClosed is returned by Publish after Shutdown has started.
var ErrClosed = errors.New("bus is shut down")

// Message is the envelope carried by the bus.
type Message struct {
	ID string
	// CorrelationID links a response to the request it answers.
	CorrelationID string
	Timestamp     time.Time
	Topic         Topic
	Payload       any
}

// Bus is an in-process publish/subscribe transport. Every delivered message
// must be acknowledged by its consumer; Shutdown waits for that.
type Bus struct {
	logger *zap.Logger

	subscribers map[Topic][]chan Message
	// channels holds every channel handed out, subscribed or not, until
	// Shutdown closes it.
	channels   map[chan Message]struct{}
	mu         sync.RWMutex
	bufferSize int

	// processing counts delivered but unacknowledged messages.
	processing sync.WaitGroup
	// publishing counts Publish calls that may still send on a channel.
	publishing sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
	closed   bool
	closedMu sync.Mutex

	dropped atomic.Uint64
}

// New creates a bus whose subscriber channels hold bufferSize messages.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:      logger.Named("bus"),
		subscribers: make(map[Topic][]chan Message),
		channels:    make(map[chan Message]struct{}),
		bufferSize:  bufferSize,
		done:        make(chan struct{}),
	}
}

// Publish sends payload to every subscriber of topic, blocking while their
// buffers are full. It returns the message ID.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) (string, error) {
	return b.send(ctx, Message{Topic: topic, Payload: payload}, true)
}

// Reply publishes payload as the answer to the message correlationID.
func (b *Bus) Reply(ctx context.Context, topic Topic, correlationID string, payload any) (string, error) {
	return b.send(ctx, Message{Topic: topic, CorrelationID: correlationID, Payload: payload}, true)
}

// TryPublish delivers payload to every subscriber with buffer space and
// drops it for the rest. It never blocks and reports whether every
// subscriber received the message.
func (b *Bus) TryPublish(topic Topic, payload any) bool {
	_, err := b.send(context.Background(), Message{Topic: topic, Payload: payload}, false)
	return err == nil
}

var errDropped = errors.New("subscriber buffer full")

func (b *Bus) send(ctx context.Context, msg Message, block bool) (string, error) {
	// 1. Refuse new work once shut down.
	b.closedMu.Lock()
	if b.closed {
		b.closedMu.Unlock()
		return "", ErrClosed
	}
	b.publishing.Add(1)
	b.closedMu.Unlock()
	defer b.publishing.Done()

	// 2. Stamp the envelope.
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()

	// 3. Copy the subscriber list so no lock is held while sending.
	b.mu.RLock()
	subs := append([]chan Message(nil), b.subscribers[msg.Topic]...)
	b.mu.RUnlock()
	if len(subs) == 0 {
		return msg.ID, nil
	}

	// 4. Deliver, tracking each message until it is acknowledged.
	var dropped bool
	for _, ch := range subs {
		b.processing.Add(1)
		if !block {
			select {
			case ch <- msg:
			default:
				b.processing.Done()
				b.dropped.Add(1)
				dropped = true
			}
			continue
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.processing.Done()
			return msg.ID, ctx.Err()
		case <-b.done:
			b.processing.Done()
			return msg.ID, fmt.Errorf("publish %s: %w", msg.Topic, ErrClosed)
		}
	}
	if dropped {
		b.logger.Debug("Dropped message for slow subscriber", zap.String("topic", string(msg.Topic)), zap.String("id", msg.ID))
		return msg.ID, errDropped
	}
	return msg.ID, nil
}

// Subscribe returns a channel receiving messages of the given topics and a
// function that unsubscribes it. The channel is closed by Shutdown.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Message, func()) {
	if len(topics) == 0 {
		panic("bus: subscribe needs at least one topic")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closedMu.Lock()
	closed := b.closed
	b.closedMu.Unlock()
	if closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Message, b.bufferSize)
	b.channels[ch] = struct{}{}
	subscribed := append([]Topic(nil), topics...)
	for _, topic := range subscribed {
		b.subscribers[topic] = append(b.subscribers[topic], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, topic := range subscribed {
			subs := b.subscribers[topic]
			for i, c := range subs {
				if c != ch {
					continue
				}
				subs = append(subs[:i], subs[i+1:]...)
				if len(subs) == 0 {
					delete(b.subscribers, topic)
				} else {
					b.subscribers[topic] = subs
				}
				break
			}
		}
		// Shutdown closes the channel.
	}
	return ch, unsubscribe
}

// Acknowledge marks msg as processed by its consumer.
func (b *Bus) Acknowledge(Message) {
	b.processing.Done()
}

// Dropped returns how many deliveries TryPublish has dropped.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown stops accepting messages, closes every subscriber channel and
// waits for delivered messages to be acknowledged.
func (b *Bus) Shutdown() {
	b.stopOnce.Do(func() {
		b.logger.Debug("Shutting down bus")

		// 1. Refuse new publishers and release blocked ones.
		b.closedMu.Lock()
		b.closed = true
		b.closedMu.Unlock()
		close(b.done)

		// 2. Wait until nobody can send on a subscriber channel.
		b.publishing.Wait()

		// 3. Close the channels, then drain what was never received.
		b.mu.Lock()
		for ch := range b.channels {
			close(ch)
		}
		drained := 0
		for ch := range b.channels {
			for range ch {
				drained++
				b.processing.Done()
			}
		}
		b.subscribers = make(map[Topic][]chan Message)
		b.channels = make(map[chan Message]struct{})
		b.mu.Unlock()
		if drained > 0 {
			b.logger.Debug("Drained buffered messages", zap.Int("count", drained))
		}

		// 4. Wait for consumers still working on received messages.
		b.processing.Wait()
		b.logger.Debug("Bus shut down")
	})
}
