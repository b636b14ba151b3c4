package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medscan-go/internal/core/vision"
)

// fakeSource tracks how many streams are open at once.
type fakeSource struct {
	mu         sync.Mutex
	seq        int
	current    *vision.StreamHandle
	open       int
	maxOpen    int
	acquired   []vision.Facing
	released   int
	acquireErr error
	frameErr   error
}

func (s *fakeSource) Acquire(_ context.Context, facing vision.Facing) (*vision.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	if s.current != nil {
		s.open--
		s.current = nil
	}
	s.seq++
	s.open++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	s.acquired = append(s.acquired, facing)
	s.current = &vision.StreamHandle{
		ID:         fmt.Sprintf("h%d", s.seq),
		Facing:     facing,
		Requested:  image.Pt(640, 480),
		Actual:     image.Pt(640, 480),
		AcquiredAt: time.Now(),
	}
	return s.current, nil
}

func (s *fakeSource) CurrentFrame() (vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameErr != nil {
		return vision.Frame{}, s.frameErr
	}
	if s.current == nil {
		return vision.Frame{}, vision.ErrDevice
	}
	return vision.Frame{Width: 2, Height: 2, Pix: make([]byte, 12), Timestamp: time.Now()}, nil
}

func (s *fakeSource) Release(h *vision.StreamHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || h.ID != s.current.ID {
		return nil
	}
	s.current = nil
	s.open--
	s.released++
	return nil
}

func (s *fakeSource) setFrameErr(err error) {
	s.mu.Lock()
	s.frameErr = err
	s.mu.Unlock()
}

func (s *fakeSource) stats() (open, maxOpen, released int, acquired []vision.Facing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, s.maxOpen, s.released, append([]vision.Facing(nil), s.acquired...)
}

type fakePrep struct{}

func (fakePrep) Prepare(vision.Frame) (vision.Tensor, error) {
	return vision.NewTensor(1, vision.InputHeight, vision.InputWidth, vision.InputChannels), nil
}

// fakeModel returns probs; when gate is set each Infer blocks until gate is
// closed or the context is cancelled.
type fakeModel struct {
	mu      sync.Mutex
	probs   []float64
	err     error
	gate    chan struct{}
	entered chan struct{}

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
	closed      atomic.Bool
}

func (m *fakeModel) Infer(ctx context.Context, _ vision.Tensor) ([]float64, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	m.calls.Add(1)

	m.mu.Lock()
	gate, entered, probs, err := m.gate, m.entered, m.probs, m.err
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return probs, err
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *fakeModel) set(probs []float64, err error) {
	m.mu.Lock()
	m.probs, m.err = probs, err
	m.mu.Unlock()
}

// newTestLoop starts a loop whose timer effectively never fires; ticks are driven by Tick.
func newTestLoop(t *testing.T, n int) (*Loop, *fakeSource, *fakeModel) {
	t.Helper()
	src := &fakeSource{}
	model := &fakeModel{probs: oneHot(n, 0)}
	l := New(src, fakePrep{}, testLabels(t, n), Options{Period: time.Hour})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.SetModel(model); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, src, model
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopInitialState(t *testing.T) {
	l := New(&fakeSource{}, fakePrep{}, testLabels(t, 3), Options{})
	snap := l.Snapshot()
	if snap.Status != StatusNoModel || snap.Label != "" || snap.Phase != PhaseIdle {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
	if l.Tick() {
		t.Fatal("Tick on an idle loop must not run")
	}
}

func TestLoopPublishesClassification(t *testing.T) {
	l, _, model := newTestLoop(t, 3)

	var got []Snapshot
	var mu sync.Mutex
	l.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	model.set([]float64{0.05, 0.9, 0.05}, nil)
	if !l.Tick() {
		t.Fatal("Tick did not run")
	}

	snap := l.Snapshot()
	if snap.Status != StatusConfident || snap.Label != "med-01" || snap.Confidence != 0.9 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Phase != PhasePolling {
		t.Errorf("phase = %s, want polling", snap.Phase)
	}
	if len(snap.Top) != 3 || snap.Top[0].Label != "med-01" {
		t.Errorf("top = %+v", snap.Top)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Seq != snap.Seq {
		t.Fatalf("observer got %d snapshots", len(got))
	}

	st := l.Stats()
	if !st.Polling || st.Ticks != 1 || st.Inferences != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestLoopSingleFlight(t *testing.T) {
	l, _, model := newTestLoop(t, 3)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	model.mu.Lock()
	model.gate, model.entered = gate, entered
	model.mu.Unlock()

	done := make(chan bool)
	go func() { done <- l.Tick() }()
	<-entered

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Tick() {
				ran.Add(1)
			}
		}()
	}
	wg.Wait()

	if ran.Load() != 0 {
		t.Errorf("%d ticks ran while an inference was in flight", ran.Load())
	}
	if st := l.Stats(); st.Skipped != 20 {
		t.Errorf("skipped = %d, want 20", st.Skipped)
	}

	model.mu.Lock()
	model.gate, model.entered = nil, nil
	model.mu.Unlock()
	close(gate)

	if !<-done {
		t.Fatal("first tick reported not run")
	}
	if model.maxInFlight.Load() != 1 {
		t.Errorf("max concurrent inferences = %d, want 1", model.maxInFlight.Load())
	}
	if !l.Tick() {
		t.Error("tick after completion should run")
	}
}

func TestLoopTimerSkipsWhileBusy(t *testing.T) {
	src := &fakeSource{}
	gate := make(chan struct{})
	model := &fakeModel{probs: oneHot(3, 0), gate: gate}
	l := New(src, fakePrep{}, testLabels(t, 3), Options{Period: 5 * time.Millisecond})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.SetModel(model); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	waitFor(t, "skipped ticks", func() bool { return l.Stats().Skipped >= 3 })
	if model.maxInFlight.Load() != 1 {
		t.Errorf("max concurrent inferences = %d, want 1", model.maxInFlight.Load())
	}

	// Stop cancels the blocked inference; its result must never be published.
	l.Stop()
	close(gate)
	if snap := l.Snapshot(); snap.Status != StatusNoModel || snap.Phase != PhaseIdle {
		t.Errorf("snapshot after stop = %+v", snap)
	}
	if open, _, _, _ := src.stats(); open != 0 {
		t.Errorf("open streams after stop = %d", open)
	}
	if l.Tick() {
		t.Error("tick after stop must not run")
	}
	_ = l.Close()
	if !model.closed.Load() {
		t.Error("Close should release the model")
	}
}

func TestLoopLengthMismatchKeepsState(t *testing.T) {
	l, _, model := newTestLoop(t, 20)

	model.set(oneHot(20, 7), nil)
	l.Tick()
	before := l.Snapshot()
	if before.Label != "med-07" {
		t.Fatalf("label = %q", before.Label)
	}

	model.set(oneHot(19, 3), nil)
	if !l.Tick() {
		t.Fatal("Tick did not run")
	}

	after := l.Snapshot()
	if after.State != before.State {
		t.Errorf("state changed on invalid output: %+v -> %+v", before.State, after.State)
	}
	if after.Fault != vision.FaultInference {
		t.Errorf("fault = %s, want inference", after.Fault)
	}
	if !l.Stats().Polling {
		t.Error("inference errors must not stop polling")
	}

	model.set(oneHot(20, 2), nil)
	l.Tick()
	if snap := l.Snapshot(); snap.Label != "med-02" || snap.Fault != vision.FaultNone {
		t.Errorf("next good tick should recover: %+v", snap)
	}
}

func TestLoopInferenceErrorAndPanic(t *testing.T) {
	l, _, model := newTestLoop(t, 3)
	model.set(nil, errors.New("backend exploded"))
	l.Tick()

	snap := l.Snapshot()
	if snap.Fault != vision.FaultInference || snap.Status != StatusNoModel {
		t.Fatalf("snapshot = %+v", snap)
	}

	l2 := New(&fakeSource{}, panicPrep{}, testLabels(t, 3), Options{Period: time.Hour})
	_ = l2.Start(context.Background())
	_ = l2.SetModel(&fakeModel{probs: oneHot(3, 1)})
	defer l2.Close()

	if !l2.Tick() {
		t.Fatal("Tick did not run")
	}
	if snap := l2.Snapshot(); snap.Fault != vision.FaultInference {
		t.Errorf("panic should surface as inference fault, got %s", snap.Fault)
	}
	if !l2.Tick() {
		t.Error("loop should keep polling after a recovered panic")
	}
	if l2.Stats().InferenceErrors != 2 {
		t.Errorf("inference errors = %d, want 2", l2.Stats().InferenceErrors)
	}
}

type panicPrep struct{}

func (panicPrep) Prepare(vision.Frame) (vision.Tensor, error) {
	panic("bad frame")
}

func TestLoopObserverPanicIsContained(t *testing.T) {
	l, _, model := newTestLoop(t, 3)
	var delivered atomic.Int32
	l.Subscribe(func(Snapshot) { panic("observer boom") })
	l.Subscribe(func(Snapshot) { delivered.Add(1) })

	model.set(oneHot(3, 2), nil)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("observer panic escaped Tick: %v", rec)
			}
		}()
		if !l.Tick() {
			t.Fatal("Tick did not run")
		}
	}()

	snap := l.Snapshot()
	if snap.Label != "med-02" || snap.Fault != vision.FaultNone {
		t.Errorf("snapshot = %+v", snap)
	}
	if delivered.Load() != 1 {
		t.Errorf("second observer got %d snapshots, want 1", delivered.Load())
	}

	// same on the timer path
	timed := New(&fakeSource{}, fakePrep{}, testLabels(t, 3), Options{Period: 5 * time.Millisecond})
	timed.Subscribe(func(Snapshot) { panic("observer boom") })
	if err := timed.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := timed.SetModel(&fakeModel{probs: oneHot(3, 0)}); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	defer timed.Close()
	waitFor(t, "timer ticks", func() bool { return timed.Stats().Inferences >= 3 })
	if !timed.Stats().Polling {
		t.Error("loop stopped polling after observer panics")
	}
}

func TestLoopFrameNotReadyIsSilent(t *testing.T) {
	l, src, model := newTestLoop(t, 3)
	src.setFrameErr(vision.ErrFrameNotReady)

	if !l.Tick() {
		t.Fatal("Tick did not run")
	}
	snap := l.Snapshot()
	if snap.Fault != vision.FaultNone || snap.Seq != 0 {
		t.Errorf("not-ready frame must not publish: %+v", snap)
	}
	if model.calls.Load() != 0 {
		t.Error("classifier must not run without a frame")
	}
	if l.Stats().FramesNotReady != 1 {
		t.Errorf("frames not ready = %d", l.Stats().FramesNotReady)
	}
}

func TestLoopDeviceLossStopsPolling(t *testing.T) {
	l, src, model := newTestLoop(t, 3)
	src.setFrameErr(fmt.Errorf("%w: unplugged", vision.ErrDevice))

	l.Tick()
	waitFor(t, "camera release", func() bool {
		open, _, _, _ := src.stats()
		return !l.Stats().Polling && open == 0
	})

	snap := l.Snapshot()
	if snap.Fault != vision.FaultDevice {
		t.Fatalf("fault = %s, want device", snap.Fault)
	}
	if l.Tick() {
		t.Error("no tick may run after device loss")
	}
	if open, _, _, _ := src.stats(); open != 0 {
		t.Errorf("handle not released after device loss, open = %d", open)
	}

	src.setFrameErr(nil)
	if err := l.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if snap := l.Snapshot(); snap.Fault != vision.FaultNone {
		t.Errorf("fault after retry = %s", snap.Fault)
	}
	model.set(oneHot(3, 2), nil)
	if !l.Tick() || l.Snapshot().Label != "med-02" {
		t.Error("loop should classify again after retry")
	}
}

func TestLoopToggleFacingIsExclusive(t *testing.T) {
	l, src, model := newTestLoop(t, 3)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	model.mu.Lock()
	model.gate, model.entered = gate, entered
	model.mu.Unlock()

	go l.Tick()
	<-entered

	toggled := make(chan vision.Facing)
	go func() {
		f, err := l.ToggleFacing(context.Background())
		if err != nil {
			t.Errorf("ToggleFacing: %v", err)
		}
		toggled <- f
	}()

	// The in-flight inference is cancelled by the pause; the toggle then completes.
	var f vision.Facing
	select {
	case f = <-toggled:
	case <-time.After(2 * time.Second):
		close(gate)
		t.Fatal("toggle did not complete")
	}
	close(gate)
	model.mu.Lock()
	model.gate, model.entered = nil, nil
	model.mu.Unlock()

	if f != vision.FacingBack {
		t.Errorf("facing = %s, want back", f)
	}
	open, maxOpen, released, acquired := src.stats()
	if open != 1 || maxOpen != 1 {
		t.Errorf("open = %d max = %d, want 1/1", open, maxOpen)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	if len(acquired) != 2 || acquired[0] != vision.FacingFront || acquired[1] != vision.FacingBack {
		t.Errorf("acquired = %v", acquired)
	}
	if snap := l.Snapshot(); snap.Facing != vision.FacingBack || snap.Status != StatusNoModel {
		t.Errorf("snapshot = %+v", snap)
	}

	if f, _ = l.ToggleFacing(context.Background()); f != vision.FacingFront {
		t.Errorf("second toggle = %s", f)
	}
	if _, maxOpen, _, _ = src.stats(); maxOpen != 1 {
		t.Errorf("two streams were open at once")
	}
	if !l.Tick() {
		t.Error("loop should poll after toggling")
	}
}

func TestLoopToggleAcquireFailure(t *testing.T) {
	l, src, _ := newTestLoop(t, 3)

	src.mu.Lock()
	src.acquireErr = errors.New("permission denied")
	src.mu.Unlock()

	_, err := l.ToggleFacing(context.Background())
	if !errors.Is(err, vision.ErrDevice) {
		t.Fatalf("err = %v, want ErrDevice", err)
	}
	if l.Stats().Polling {
		t.Error("loop must stay idle when the new camera cannot be opened")
	}
	if snap := l.Snapshot(); snap.Fault != vision.FaultDevice {
		t.Errorf("fault = %s", snap.Fault)
	}
}

func TestLoopModelLoadFailure(t *testing.T) {
	src := &fakeSource{}
	l := New(src, fakePrep{}, testLabels(t, 3), Options{Period: time.Hour})
	l.ModelFailed(errors.New("model.onnx: no such file"))

	err := l.Start(context.Background())
	if !errors.Is(err, vision.ErrModelLoad) {
		t.Fatalf("Start err = %v, want ErrModelLoad", err)
	}
	snap := l.Snapshot()
	if snap.Status != StatusNoModel || snap.Fault != vision.FaultModelLoad {
		t.Errorf("snapshot = %+v", snap)
	}
	if l.Tick() {
		t.Error("no tick may run without a model")
	}
	if _, maxOpen, _, _ := src.stats(); maxOpen != 0 {
		t.Error("camera must not be opened after a model failure")
	}
	if err := l.Retry(context.Background()); !errors.Is(err, vision.ErrModelLoad) {
		t.Errorf("Retry err = %v", err)
	}
}

func TestLoopModelFailsAfterStart(t *testing.T) {
	src := &fakeSource{}
	l := New(src, fakePrep{}, testLabels(t, 3), Options{Period: time.Hour})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if open, _, _, _ := src.stats(); open != 1 {
		t.Fatalf("camera should be open while the model loads")
	}

	l.ModelFailed(errors.New("corrupt weights"))
	if open, _, _, _ := src.stats(); open != 0 {
		t.Error("camera should be released after the model failed")
	}
	if l.Stats().Polling {
		t.Error("loop must not poll without a model")
	}
}

func TestLoopContextCancelTearsDown(t *testing.T) {
	src := &fakeSource{}
	l := New(src, fakePrep{}, testLabels(t, 3), Options{Period: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = l.SetModel(&fakeModel{probs: oneHot(3, 0)})

	cancel()
	waitFor(t, "teardown", func() bool {
		open, _, _, _ := src.stats()
		return !l.Stats().Polling && open == 0
	})
	if err := l.SetModel(&fakeModel{}); err == nil {
		t.Error("second SetModel should fail")
	}
}
