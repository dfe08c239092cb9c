// cmd/stress.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/domcore/internal/arena"
	"github.com/xkilldash9x/domcore/internal/config"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/events"
	"github.com/xkilldash9x/domcore/internal/observability"
	"github.com/xkilldash9x/domcore/internal/query"
)

func newStressCmd() *cobra.Command {
	var (
		workers, operations, collectEvery int
		ratePerSecond                     float64
		seed                              uint64
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Runs a concurrent mutation and dispatch workload against one document.",
		Long: `The stress command starts several workers that build, mutate, query and
dispatch events on disjoint subtrees of a shared document while the
collector reclaims detached nodes. When the run finishes the tree is
verified and arena statistics are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			sc := cfg.Stress()
			flags := cmd.Flags()
			if flags.Changed("workers") {
				sc.Workers = workers
			}
			if flags.Changed("operations") {
				sc.Operations = operations
			}
			if flags.Changed("rate") {
				sc.RatePerSecond = ratePerSecond
			}
			if flags.Changed("collect-every") {
				sc.CollectEvery = collectEvery
			}
			if err := sc.Validate(); err != nil {
				return fmt.Errorf("invalid stress settings: %w", err)
			}
			return runStress(cmd.Context(), cfg, sc, observability.GetLogger(), cmd.OutOrStdout(), seed)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent workers (default from config)")
	cmd.Flags().IntVarP(&operations, "operations", "n", 0, "operations per worker (default from config)")
	cmd.Flags().Float64Var(&ratePerSecond, "rate", 0, "overall operations per second, 0 for unlimited (default from config)")
	cmd.Flags().IntVar(&collectEvery, "collect-every", 0, "collect after this many operations per worker, 0 to disable (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}

// stressReport summarizes a stress run.
type stressReport struct {
	Operations  int64
	Failures    int64
	Dispatches  int64
	Listeners   int64
	Collections int64
	Collected   int64
	Elapsed     time.Duration
	Final       arena.Stats
	Metrics     map[string]float64
}

// stressOp is one workload step.
type stressOp int

const (
	opAppend stressOp = iota
	opRemove
	opSetAttribute
	opDispatch
	opQuery
	opCount
)

// stressWorker owns one subtree of the shared document.
type stressWorker struct {
	id     int
	doc    dom.Handle
	tree   *dom.Tree
	events *events.Dispatcher
	rng    *rand.Rand
	// nodes lists the worker's elements in insertion order; parents[i] is
	// the parent of nodes[i]. The last entry never has element children of
	// its own, so it can always be removed as a leaf.
	nodes   []dom.Handle
	parents []dom.Handle
	report  *stressReport
}

func runStress(ctx context.Context, cfg config.Interface, sc config.StressConfig, logger *zap.Logger, out io.Writer, seed uint64) error {
	e := newEngine(cfg, logger)
	report := &stressReport{}

	// 1. Build the shared document and one subtree per worker.
	doc, body, err := stressDocument(e.tree)
	if err != nil {
		return err
	}
	if _, err := e.events.AddEventListener(doc, "stress", events.ListenerFunc(func(context.Context, *events.Event) error {
		atomic.AddInt64(&report.Listeners, 1)
		return nil
	}), events.ListenerOptions{}); err != nil {
		return err
	}

	workers := make([]*stressWorker, sc.Workers)
	for i := range workers {
		root, err := e.tree.CreateElement(doc, "section")
		if err == nil {
			err = e.tree.SetAttribute(root, "id", fmt.Sprintf("w%d", i))
		}
		if err == nil {
			_, err = e.tree.AppendChild(body, root)
		}
		if err != nil {
			return fmt.Errorf("failed to build worker subtree: %w", err)
		}
		workers[i] = &stressWorker{
			id:      i,
			doc:     doc,
			tree:    e.tree,
			events:  e.events,
			rng:     rand.New(rand.NewPCG(seed, uint64(i))),
			nodes:   []dom.Handle{root},
			parents: []dom.Handle{body},
			report:  report,
		}
	}

	// Workers hold one unit while a node they created is still parentless.
	// A collection takes every unit so it never reclaims such a node.
	sem := semaphore.NewWeighted(int64(sc.Workers))
	var limiter *rate.Limiter
	if sc.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(sc.RatePerSecond), sc.Workers)
	}

	collect := func(ctx context.Context) error {
		if err := sem.Acquire(ctx, int64(sc.Workers)); err != nil {
			return err
		}
		defer sem.Release(int64(sc.Workers))
		stats := e.tree.CollectUnreachable()
		atomic.AddInt64(&report.Collections, 1)
		atomic.AddInt64(&report.Collected, int64(stats.Collected))
		logger.Debug("Collection pass", zap.Int("collected", stats.Collected), zap.Duration("duration", stats.Duration))
		return nil
	}

	logger.Info("Starting stress run",
		zap.Int("workers", sc.Workers),
		zap.Int("operations", sc.Operations),
		zap.Float64("rate", sc.RatePerSecond),
	)

	// 2. Run the workers.
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			for n := 1; n <= sc.Operations; n++ {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				} else if err := gctx.Err(); err != nil {
					return err
				}
				if err := w.step(gctx, sem); err != nil {
					return fmt.Errorf("worker %d: %w", w.id, err)
				}
				atomic.AddInt64(&report.Operations, 1)
				if sc.CollectEvery > 0 && n%sc.CollectEvery == 0 {
					if err := collect(gctx); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// 3. Reclaim what is left, check the structure and report.
	if err := collect(ctx); err != nil {
		return err
	}
	report.Elapsed = time.Since(start)
	if err := e.tree.Verify(); err != nil {
		return fmt.Errorf("tree failed verification after stress: %w", err)
	}
	report.Final = e.tree.Stats()
	if report.Metrics, err = e.metricTotals(); err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	logger.Info("Stress run finished",
		zap.Int64("operations", report.Operations),
		zap.Int64("failures", report.Failures),
		zap.Duration("elapsed", report.Elapsed),
	)
	return writeStressReport(out, report)
}

func stressDocument(t *dom.Tree) (doc, body dom.Handle, err error) {
	if doc, err = t.CreateDocument(dom.DocumentOptions{Type: dom.HTMLDocument}); err != nil {
		return
	}
	html, err := t.CreateElement(doc, "html")
	if err != nil {
		return
	}
	if body, err = t.CreateElement(doc, "body"); err != nil {
		return
	}
	if _, err = t.AppendChild(html, body); err != nil {
		return
	}
	_, err = t.AppendChild(doc, html)
	return
}

var stressTags = []string{"div", "span", "p", "li"}

// step performs one random operation. DOM exceptions count as failures;
// anything else aborts the run.
func (w *stressWorker) step(ctx context.Context, sem *semaphore.Weighted) error {
	op := stressOp(w.rng.IntN(int(opCount)))
	if op == opRemove && len(w.nodes) == 1 {
		op = opAppend
	}

	var err error
	switch op {
	case opAppend:
		err = w.appendNode(ctx, sem)
	case opRemove:
		last := len(w.nodes) - 1
		_, err = w.tree.RemoveChild(w.parents[last], w.nodes[last])
		w.nodes, w.parents = w.nodes[:last], w.parents[:last]
	case opSetAttribute:
		err = w.tree.SetAttribute(w.pick(), "data-n", fmt.Sprint(w.rng.IntN(100)))
	case opDispatch:
		_, err = w.events.Fire(ctx, w.pick(), "stress", events.Init{Bubbles: true, Cancelable: true})
		atomic.AddInt64(&w.report.Dispatches, 1)
	case opQuery:
		_, err = query.QuerySelectorAll(w.tree, w.nodes[0], "div > span, p[data-n]")
	}

	if err != nil {
		if _, ok := domerr.CodeOf(err); ok {
			atomic.AddInt64(&w.report.Failures, 1)
			return nil
		}
		return err
	}
	return nil
}

func (w *stressWorker) pick() dom.Handle {
	return w.nodes[w.rng.IntN(len(w.nodes))]
}

func (w *stressWorker) appendNode(ctx context.Context, sem *semaphore.Weighted) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	// Appending only to the last node keeps it the single leaf candidate.
	parent := w.nodes[len(w.nodes)-1]
	if w.rng.IntN(3) == 0 && len(w.nodes) > 1 {
		parent = w.parents[len(w.parents)-1]
	}
	el, err := w.tree.CreateElement(w.doc, stressTags[w.rng.IntN(len(stressTags))])
	if err != nil {
		return err
	}
	if _, err := w.tree.AppendChild(parent, el); err != nil {
		return errors.Join(err, w.tree.Free(el))
	}
	w.nodes = append(w.nodes, el)
	w.parents = append(w.parents, parent)
	return nil
}

func writeStressReport(out io.Writer, r *stressReport) error {
	perSecond := 0.0
	if secs := r.Elapsed.Seconds(); secs > 0 {
		perSecond = float64(r.Operations) / secs
	}
	lines := []string{
		fmt.Sprintf("operations:    %d (%.0f/s)", r.Operations, perSecond),
		fmt.Sprintf("failures:      %d", r.Failures),
		fmt.Sprintf("dispatches:    %d (%d listener calls)", r.Dispatches, r.Listeners),
		fmt.Sprintf("collections:   %d (%d nodes reclaimed)", r.Collections, r.Collected),
		fmt.Sprintf("elapsed:       %s", r.Elapsed.Round(time.Millisecond)),
		fmt.Sprintf("arena:         live=%d free=%d total=%d fragmentation=%.2f", r.Final.Live, r.Final.Free, r.Final.Total, r.Final.Fragmentation),
	}
	if len(r.Metrics) > 0 {
		names := make([]string, 0, len(r.Metrics))
		for name := range r.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("metric:        %s %g", name, r.Metrics[name]))
		}
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(out, l); err != nil {
			return err
		}
	}
	return nil
}
