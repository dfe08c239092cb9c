// internal/events/dispatcher_test.go
package events

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/domcore/internal/dom"
	"github.com/xkilldash9x/domcore/internal/domerr"
	"github.com/xkilldash9x/domcore/internal/metrics"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixture is R > M > T attached to a document.
type fixture struct {
	tree       *dom.Tree
	dispatcher *Dispatcher
	doc        dom.Handle
	r, m, t    dom.Handle
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tree := dom.New(dom.Options{Logger: logger, Limits: dom.Limits{EnableShadowDOM: true}})
	opts.Logger = logger
	f := &fixture{tree: tree, dispatcher: NewDispatcher(tree, opts)}

	var err error
	f.doc, err = tree.CreateDocument(dom.DocumentOptions{})
	require.NoError(t, err)
	f.r = f.element(t, "div")
	f.m = f.element(t, "section")
	f.t = f.element(t, "span")
	f.append(t, f.doc, f.r)
	f.append(t, f.r, f.m)
	f.append(t, f.m, f.t)
	return f
}

func (f *fixture) element(t *testing.T, name string) dom.Handle {
	t.Helper()
	h, err := f.tree.CreateElement(f.doc, name)
	require.NoError(t, err)
	return h
}

func (f *fixture) append(t *testing.T, parent, child dom.Handle) {
	t.Helper()
	_, err := f.tree.AppendChild(parent, child)
	require.NoError(t, err)
}

// recorder collects listener invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) listener(label string, fn func(ev *Event)) ListenerFunc {
	return func(_ context.Context, ev *Event) error {
		r.mu.Lock()
		r.calls = append(r.calls, label)
		r.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
		return nil
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (f *fixture) listen(t *testing.T, node dom.Handle, typ string, l Listener, opts ListenerOptions) ListenerID {
	t.Helper()
	id, err := f.dispatcher.AddEventListener(node, typ, l, opts)
	require.NoError(t, err)
	return id
}

func TestCaptureThenTargetOrder(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}
	f.listen(t, f.r, "click", rec.listener("R", nil), ListenerOptions{Capture: true})
	f.listen(t, f.m, "click", rec.listener("M", nil), ListenerOptions{Capture: true})
	f.listen(t, f.t, "click", rec.listener("T", nil), ListenerOptions{})

	notCanceled, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
	require.NoError(t, err)
	assert.True(t, notCanceled)
	assert.Equal(t, []string{"R", "M", "T"}, rec.got())
}

// phaseListener records "<label>-capture", "<label>-target" or
// "<label>-bubble" depending on the phase it runs in.
func (r *recorder) phaseListener(label string, fn func(ev *Event)) ListenerFunc {
	return func(_ context.Context, ev *Event) error {
		var suffix string
		switch ev.Phase() {
		case PhaseCapturing:
			suffix = "capture"
		case PhaseAtTarget:
			suffix = "target"
		case PhaseBubbling:
			suffix = "bubble"
		}
		r.mu.Lock()
		r.calls = append(r.calls, label+"-"+suffix)
		r.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
		return nil
	}
}

func TestCaptureAndBubbleListenersOnEveryNode(t *testing.T) {
	setup := func(t *testing.T, stopAtM bool) (*fixture, *recorder) {
		f := newFixture(t, Options{})
		rec := &recorder{}
		for _, n := range []struct {
			label string
			node  dom.Handle
		}{{"R", f.r}, {"M", f.m}, {"T", f.t}} {
			var onCapture func(*Event)
			if stopAtM && n.label == "M" {
				onCapture = func(ev *Event) { ev.StopPropagation() }
			}
			f.listen(t, n.node, "click", rec.phaseListener(n.label, onCapture), ListenerOptions{Capture: true})
			f.listen(t, n.node, "click", rec.phaseListener(n.label, nil), ListenerOptions{})
		}
		return f, rec
	}

	t.Run("full propagation", func(t *testing.T) {
		f, rec := setup(t, false)
		_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
		require.NoError(t, err)
		// Both of T's listeners run at the target.
		assert.Equal(t, []string{"R-capture", "M-capture", "T-target", "T-target", "M-bubble", "R-bubble"}, rec.got())
		assert.Equal(t, []string{"R-capture", "M-capture", "T-target", "M-bubble", "R-bubble"}, slices.Compact(rec.got()))
	})

	t.Run("stopped in M's capture listener", func(t *testing.T) {
		f, rec := setup(t, true)
		_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"R-capture", "M-capture"}, rec.got())
		for _, call := range rec.got() {
			assert.False(t, strings.HasSuffix(call, "-bubble"), call)
		}
	})
}

func TestStopPropagationDuringCapture(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}
	f.listen(t, f.r, "click", rec.listener("R", nil), ListenerOptions{Capture: true})
	f.listen(t, f.m, "click", rec.listener("M", func(ev *Event) { ev.StopPropagation() }), ListenerOptions{Capture: true})
	f.listen(t, f.m, "click", rec.listener("M2", nil), ListenerOptions{Capture: true})
	f.listen(t, f.t, "click", rec.listener("T", nil), ListenerOptions{})

	_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"R", "M", "M2"}, rec.got(), "the rest of M's batch still runs")
}

func TestStopImmediatePropagation(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}
	f.listen(t, f.t, "click", rec.listener("T1", func(ev *Event) { ev.StopImmediatePropagation() }), ListenerOptions{})
	f.listen(t, f.t, "click", rec.listener("T2", nil), ListenerOptions{})
	f.listen(t, f.m, "click", rec.listener("M", nil), ListenerOptions{})

	_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, rec.got())
}

func TestBubblingPhases(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}
	phases := map[string]Phase{}
	for label, node := range map[string]dom.Handle{"R": f.r, "M": f.m} {
		f.listen(t, node, "input", rec.listener(label, func(ev *Event) { phases[label] = ev.Phase() }), ListenerOptions{})
	}
	// Target listeners fire in registration order whatever their capture flag.
	f.listen(t, f.t, "input", rec.listener("T-bubble", func(ev *Event) { phases["T"] = ev.Phase() }), ListenerOptions{})
	f.listen(t, f.t, "input", rec.listener("T-capture", nil), ListenerOptions{Capture: true})

	_, err := f.dispatcher.Fire(context.Background(), f.t, "input", Init{Bubbles: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-bubble", "T-capture", "M", "R"}, rec.got())
	assert.Equal(t, PhaseAtTarget, phases["T"])
	assert.Equal(t, PhaseBubbling, phases["M"])

	rec.calls = nil
	_, err = f.dispatcher.Fire(context.Background(), f.t, "input", Init{})
	require.NoError(t, err)
	assert.Equal(t, []string{"T-bubble", "T-capture"}, rec.got(), "non-bubbling events stop at the target")
}

func TestCurrentTargetAndState(t *testing.T) {
	f := newFixture(t, Options{})
	ev := New("focus", Init{Bubbles: true, Detail: FocusDetail{RelatedTarget: f.r}})

	var seen []dom.Handle
	for _, node := range []dom.Handle{f.r, f.m, f.t} {
		f.listen(t, node, "focus", ListenerFunc(func(_ context.Context, ev *Event) error {
			seen = append(seen, ev.CurrentTarget())
			assert.Equal(t, f.t, ev.Target())
			assert.True(t, ev.Dispatching())
			assert.Equal(t, []dom.Handle{f.t, f.m, f.r, f.doc}, ev.ComposedPath())
			return nil
		}), ListenerOptions{})
	}

	_, err := f.dispatcher.Dispatch(context.Background(), f.t, ev)
	require.NoError(t, err)
	assert.Equal(t, []dom.Handle{f.t, f.m, f.r}, seen)

	assert.False(t, ev.Dispatching())
	assert.Equal(t, PhaseNone, ev.Phase())
	assert.True(t, ev.CurrentTarget().IsNil())
	assert.Nil(t, ev.ComposedPath())
	detail, ok := DetailAs[FocusDetail](ev)
	require.True(t, ok)
	assert.Equal(t, f.r, detail.RelatedTarget)

	// The same event can be dispatched again once idle.
	_, err = f.dispatcher.Dispatch(context.Background(), f.t, ev)
	require.NoError(t, err)
}

func TestPreventDefault(t *testing.T) {
	f := newFixture(t, Options{})
	f.listen(t, f.t, "submit", ListenerFunc(func(_ context.Context, ev *Event) error {
		ev.PreventDefault()
		return nil
	}), ListenerOptions{})

	notCanceled, err := f.dispatcher.Fire(context.Background(), f.t, "submit", Init{Cancelable: true})
	require.NoError(t, err)
	assert.False(t, notCanceled)

	notCanceled, err = f.dispatcher.Fire(context.Background(), f.t, "submit", Init{})
	require.NoError(t, err)
	assert.True(t, notCanceled, "non-cancelable events ignore preventDefault")

	f.listen(t, f.m, "wheel", ListenerFunc(func(_ context.Context, ev *Event) error {
		ev.PreventDefault()
		return nil
	}), ListenerOptions{Passive: true})
	notCanceled, err = f.dispatcher.Fire(context.Background(), f.t, "wheel", Init{Bubbles: true, Cancelable: true, Detail: WheelDetail{DeltaY: 3}})
	require.NoError(t, err)
	assert.True(t, notCanceled, "passive listeners cannot cancel")
}

func TestDispatchStateErrors(t *testing.T) {
	f := newFixture(t, Options{})

	t.Run("re-dispatch while in flight", func(t *testing.T) {
		ev := New("ping", Init{})
		var inner error
		f.listen(t, f.t, "ping", ListenerFunc(func(ctx context.Context, ev *Event) error {
			_, inner = f.dispatcher.Dispatch(ctx, f.m, ev)
			return nil
		}), ListenerOptions{})
		_, err := f.dispatcher.Dispatch(context.Background(), f.t, ev)
		require.NoError(t, err)
		require.Error(t, inner)
		assert.True(t, errors.Is(inner, domerr.ErrInvalidState))
	})

	t.Run("uninitialized", func(t *testing.T) {
		ev, err := CreateEvent("MouseEvents")
		require.NoError(t, err)
		_, err = f.dispatcher.Dispatch(context.Background(), f.t, ev)
		assert.True(t, errors.Is(err, domerr.ErrInvalidState))

		ev.InitEvent("click", true, true)
		_, err = f.dispatcher.Dispatch(context.Background(), f.t, ev)
		require.NoError(t, err)
		_, ok := DetailAs[MouseDetail](ev)
		assert.True(t, ok)
	})

	t.Run("unknown interface", func(t *testing.T) {
		_, err := CreateEvent("TouchEvent")
		assert.True(t, errors.Is(err, domerr.ErrNotSupported))
	})

	t.Run("stale target", func(t *testing.T) {
		gone := f.element(t, "p")
		require.NoError(t, f.tree.Free(gone))
		ev := New("click", Init{})
		_, err := f.dispatcher.Dispatch(context.Background(), gone, ev)
		assert.True(t, errors.Is(err, domerr.ErrNotFound))
		assert.False(t, ev.Dispatching())
	})
}

func TestListenerFailureResetsState(t *testing.T) {
	f := newFixture(t, Options{})
	boom := errors.New("boom")
	rec := &recorder{}
	f.listen(t, f.m, "click", ListenerFunc(func(context.Context, *Event) error { return boom }), ListenerOptions{Capture: true})
	f.listen(t, f.t, "click", rec.listener("T", nil), ListenerOptions{})

	ev := New("click", Init{Bubbles: true})
	_, err := f.dispatcher.Dispatch(context.Background(), f.t, ev)
	require.Error(t, err)
	var lerr *ListenerError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, f.m, lerr.Node)
	assert.Equal(t, PhaseCapturing, lerr.Phase)
	assert.False(t, lerr.Panicked)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rec.got(), "dispatch stops at the failing listener")

	assert.False(t, ev.Dispatching())
	assert.Equal(t, PhaseNone, ev.Phase())
	assert.True(t, ev.CurrentTarget().IsNil())
}

func TestListenerPanic(t *testing.T) {
	t.Run("recovered", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.listen(t, f.t, "click", ListenerFunc(func(context.Context, *Event) error { panic("kaboom") }), ListenerOptions{})
		ev := New("click", Init{})
		_, err := f.dispatcher.Dispatch(context.Background(), f.t, ev)
		var lerr *ListenerError
		require.True(t, errors.As(err, &lerr))
		assert.True(t, lerr.Panicked)
		assert.Contains(t, err.Error(), "kaboom")
		assert.False(t, ev.Dispatching())
	})

	t.Run("propagated", func(t *testing.T) {
		f := newFixture(t, Options{PropagatePanics: true})
		f.listen(t, f.t, "click", ListenerFunc(func(context.Context, *Event) error { panic("kaboom") }), ListenerOptions{})
		ev := New("click", Init{})
		assert.PanicsWithValue(t, "kaboom", func() {
			_, _ = f.dispatcher.Dispatch(context.Background(), f.t, ev)
		})
		assert.False(t, ev.Dispatching(), "the event is reset before the panic escapes")
		assert.True(t, ev.CurrentTarget().IsNil())
		assert.Equal(t, PhaseNone, ev.Phase())
	})
}

func TestOnceAndMidDispatchChanges(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}

	f.listen(t, f.t, "tap", rec.listener("once", nil), ListenerOptions{Once: true})

	var lateID ListenerID
	var victim ListenerID
	f.listen(t, f.t, "tap", rec.listener("mutator", func(*Event) {
		// Removing a later listener on this node stops it from running;
		// adding one here does not run it in this dispatch.
		f.dispatcher.RemoveEventListener(victim)
		if lateID == 0 {
			lateID, _ = f.dispatcher.AddEventListener(f.t, "tap", rec.listener("late", nil), ListenerOptions{})
		}
	}), ListenerOptions{})
	victim = f.listen(t, f.t, "tap", rec.listener("victim", nil), ListenerOptions{})

	_, err := f.dispatcher.Fire(context.Background(), f.t, "tap", Init{})
	require.NoError(t, err)
	assert.Equal(t, []string{"once", "mutator"}, rec.got())

	rec.calls = nil
	_, err = f.dispatcher.Fire(context.Background(), f.t, "tap", Init{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mutator", "late"}, rec.got())
	assert.Equal(t, 2, f.dispatcher.ListenerCount(f.t, "tap"))
}

func TestPathIsSnapshotAtStart(t *testing.T) {
	f := newFixture(t, Options{})
	rec := &recorder{}
	f.listen(t, f.t, "click", rec.listener("T", func(*Event) {
		_, err := f.tree.RemoveChild(f.m, f.t)
		require.NoError(t, err)
	}), ListenerOptions{})
	f.listen(t, f.m, "click", rec.listener("M", nil), ListenerOptions{})
	f.listen(t, f.r, "click", rec.listener("R", nil), ListenerOptions{})

	_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"T", "M", "R"}, rec.got())

	// Detached targets only see their own listeners.
	rec.calls = nil
	_, err = f.dispatcher.Fire(context.Background(), f.t, "click", Init{Bubbles: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"T"}, rec.got())
}

func TestShadowRetargeting(t *testing.T) {
	f := newFixture(t, Options{})
	root, err := f.tree.AttachShadow(f.m, dom.ShadowOpen)
	require.NoError(t, err)
	inner := f.element(t, "button")
	f.append(t, root, inner)

	targets := map[string]dom.Handle{}
	record := func(label string) ListenerFunc {
		return func(_ context.Context, ev *Event) error {
			targets[label] = ev.Target()
			return nil
		}
	}
	f.listen(t, inner, "click", record("inner"), ListenerOptions{})
	f.listen(t, root, "click", record("root"), ListenerOptions{})
	f.listen(t, f.m, "click", record("host"), ListenerOptions{})
	f.listen(t, f.r, "click", record("outer"), ListenerOptions{})

	_, err = f.dispatcher.Fire(context.Background(), inner, "click", Init{Bubbles: true, Composed: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]dom.Handle{"inner": inner, "root": inner, "host": f.m, "outer": f.m}, targets)

	clear(targets)
	_, err = f.dispatcher.Fire(context.Background(), inner, "click", Init{Bubbles: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]dom.Handle{"inner": inner, "root": inner}, targets, "non-composed events stop at the shadow root")
}

func TestListenersPinTheirNode(t *testing.T) {
	f := newFixture(t, Options{})
	detached := f.element(t, "dialog")
	id := f.listen(t, detached, "close", ListenerFunc(func(context.Context, *Event) error { return nil }), ListenerOptions{})

	f.tree.CollectUnreachable()
	assert.True(t, f.tree.Exists(detached))

	assert.True(t, f.dispatcher.RemoveEventListener(id))
	assert.False(t, f.dispatcher.RemoveEventListener(id))
	f.tree.CollectUnreachable()
	assert.False(t, f.tree.Exists(detached))

	_, err := f.dispatcher.AddEventListener(detached, "close", ListenerFunc(func(context.Context, *Event) error { return nil }), ListenerOptions{})
	assert.True(t, errors.Is(err, domerr.ErrNotFound))
}

type counter struct{ n int }

func (c *counter) HandleEvent(context.Context, *Event) error {
	c.n++
	return nil
}

func TestPointerListenersAreDeduplicated(t *testing.T) {
	f := newFixture(t, Options{})
	c := &counter{}
	id1 := f.listen(t, f.t, "click", c, ListenerOptions{})
	id2 := f.listen(t, f.t, "click", c, ListenerOptions{})
	id3 := f.listen(t, f.t, "click", c, ListenerOptions{Capture: true})
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)

	_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{})
	require.NoError(t, err)
	assert.Equal(t, 2, c.n)

	assert.True(t, f.dispatcher.RemoveListener(f.t, "click", c, true))
	assert.Equal(t, 1, f.dispatcher.RemoveAllListeners(f.t))
	assert.False(t, f.dispatcher.HasListeners("click"))
}

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	f := newFixture(t, Options{Metrics: m})
	f.listen(t, f.t, "click", ListenerFunc(func(context.Context, *Event) error { return nil }), ListenerOptions{})
	f.listen(t, f.m, "fail", ListenerFunc(func(context.Context, *Event) error { return errors.New("no") }), ListenerOptions{})

	_, err := f.dispatcher.Fire(context.Background(), f.t, "click", Init{})
	require.NoError(t, err)
	_, err = f.dispatcher.Fire(context.Background(), f.m, "fail", Init{})
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "domcore_events_dispatches_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per result")
	count, err = testutil.GatherAndCount(reg, "domcore_events_listener_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
