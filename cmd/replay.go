// cmd/replay.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domcore/internal/bus"
	"github.com/xkilldash9x/domcore/internal/config"
	"github.com/xkilldash9x/domcore/internal/message"
	"github.com/xkilldash9x/domcore/internal/observability"
)

// replayOptions holds the flags of the replay command.
type replayOptions struct {
	batch   bool
	compact bool
	timeout time.Duration
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Runs protocol requests from a JSON file through the message bus.",
		Long: `The replay command reads a request object or an array of requests, publishes
them to the DOM component over the in-process bus and prints the responses
as a JSON array. Handles are allocated deterministically in a fresh tree,
so later requests can refer to nodes created by earlier ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read requests: %w", err)
			}
			return runReplay(cmd.Context(), cfg, observability.GetLogger(), cmd.OutOrStdout(), data, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.batch, "batch", false, "send all requests as a single bus message")
	cmd.Flags().BoolVar(&opts.compact, "compact", false, "print responses without indentation")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "maximum time to wait for each response")
	return cmd
}

// runReplay contains the logic of the replay command, decoupled from cobra.
func runReplay(ctx context.Context, cfg config.Interface, logger *zap.Logger, out io.Writer, data []byte, opts replayOptions) error {
	reqs, err := message.DecodeRequests(data)
	if err != nil {
		return err
	}

	// 1. Wire the component to a fresh tree.
	e := newEngine(cfg, logger)
	b := bus.New(logger, cfg.Bus().BufferSize)
	handler := message.NewHandler(e.tree, e.events, logger)
	defer handler.Close()
	component := message.NewComponent(b, e.tree, handler, logger)

	responses, unsubscribe := b.Subscribe(bus.TopicResponse)
	defer unsubscribe()
	notifications, unsubscribeNotes := b.Subscribe(bus.TopicMutation, bus.TopicGC)
	defer unsubscribeNotes()
	notesDone := make(chan struct{})
	go func() {
		defer close(notesDone)
		logNotifications(b, notifications, logger)
	}()
	defer func() {
		b.Shutdown()
		<-notesDone
	}()

	if err := component.Start(ctx); err != nil {
		return err
	}
	defer component.Stop()

	// 2. Publish and collect the replies in order.
	var payloads []any
	if opts.batch {
		payloads = []any{reqs}
	} else {
		for _, r := range reqs {
			payloads = append(payloads, r)
		}
	}

	results := make([]message.Response, 0, len(reqs))
	for _, p := range payloads {
		id, err := b.Publish(ctx, bus.TopicRequest, p)
		if err != nil {
			return fmt.Errorf("failed to publish request: %w", err)
		}
		reply, err := awaitReply(ctx, b, responses, id, opts.timeout)
		if err != nil {
			return err
		}
		switch r := reply.(type) {
		case message.Response:
			results = append(results, r)
		case []message.Response:
			results = append(results, r...)
		default:
			return fmt.Errorf("unexpected reply payload %T", reply)
		}
	}

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}
	logger.Info("Replay finished", zap.Int("requests", len(reqs)), zap.Int("failed", failed))

	// 3. Print.
	encoded, err := message.EncodeResponses(results, !opts.compact)
	if err != nil {
		return fmt.Errorf("failed to encode responses: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", encoded)
	return err
}

func awaitReply(ctx context.Context, b *bus.Bus, responses <-chan bus.Message, id string, timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("timed out waiting for response to %s", id)
		case msg, ok := <-responses:
			if !ok {
				return nil, bus.ErrClosed
			}
			b.Acknowledge(msg)
			if msg.CorrelationID == id {
				return msg.Payload, nil
			}
		}
	}
}

// logNotifications drains mutation and collection notices until the bus
// shuts down.
func logNotifications(b *bus.Bus, notes <-chan bus.Message, logger *zap.Logger) {
	for msg := range notes {
		logger.Debug("Notification", zap.String("topic", string(msg.Topic)), zap.Any("payload", msg.Payload))
		b.Acknowledge(msg)
	}
}
