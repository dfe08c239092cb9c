// internal/message/component.go
package message

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xkilldash9x/domcore/internal/bus"
	"github.com/xkilldash9x/domcore/internal/dom"
	"go.uber.org/zap"
)

// Component serves protocol requests arriving on the bus. A request
// payload is a Request, a []Request or raw JSON bytes; the reply is a
// Response or []Response published on bus.TopicResponse, correlated to the
// request message. Committed mutations are republished on
// bus.TopicMutation and collection results on bus.TopicGC. Both are
// best-effort: a slow subscriber misses messages rather than stalling the
// tree.
type Component struct {
	bus     *bus.Bus
	tree    *dom.Tree
	handler *Handler
	logger  *zap.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	unhook      func()
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewComponent wires handler to b. Call Start to begin serving.
func NewComponent(b *bus.Bus, tree *dom.Tree, handler *Handler, logger *zap.Logger) *Component {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Component{
		bus:     b,
		tree:    tree,
		handler: handler,
		logger:  logger.Named("component"),
	}
}

// Start subscribes to requests and begins publishing notifications. It
// returns an error if the component is already running.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("component already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	requests, unsubscribe := c.bus.Subscribe(bus.TopicRequest)
	c.unsubscribe = unsubscribe
	c.unhook = c.tree.OnMutation(func(rec dom.MutationRecord) {
		c.bus.TryPublish(bus.TopicMutation, rec)
	})
	c.handler.onGC = func(res *GCResult) {
		c.bus.TryPublish(bus.TopicGC, *res)
	}

	c.wg.Add(1)
	go c.serve(ctx, requests)
	c.logger.Info("DOM component started")
	return nil
}

// Stop stops serving and waits for the request in flight, if any.
func (c *Component) Stop() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.unsubscribe()
	c.unhook()
	c.cancel = nil
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info("DOM component stopped")
}

func (c *Component) serve(ctx context.Context, requests <-chan bus.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-requests:
			if !ok {
				return
			}
			c.process(ctx, msg)
		}
	}
}

func (c *Component) process(ctx context.Context, msg bus.Message) {
	defer c.bus.Acknowledge(msg)

	var reply any
	switch p := msg.Payload.(type) {
	case Request:
		reply = c.handler.Handle(ctx, p)
	case *Request:
		reply = c.handler.Handle(ctx, *p)
	case []Request:
		reply = c.handler.HandleBatch(ctx, p)
	case []byte:
		reqs, err := DecodeRequests(p)
		if err != nil {
			reply = errorResponse("", err)
			break
		}
		reply = c.handler.HandleBatch(ctx, reqs)
	default:
		reply = errorResponse("", fmt.Errorf("unsupported payload %T", msg.Payload))
	}

	if _, err := c.bus.Reply(ctx, bus.TopicResponse, msg.ID, reply); err != nil {
		c.logger.Warn("Could not publish response", zap.String("request", msg.ID), zap.Error(err))
	}
}
