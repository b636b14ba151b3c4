package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
)

// FrameSource owns the capture device. At most one handle is held at a time.
type FrameSource interface {
	Acquire(ctx context.Context, facing vision.Facing) (*vision.StreamHandle, error)
	CurrentFrame() (vision.Frame, error)
	Release(h *vision.StreamHandle) error
}

// Preprocessor turns a frame into classifier input without keeping the frame.
type Preprocessor interface {
	Prepare(frame vision.Frame) (vision.Tensor, error)
}

// Classifier owns a loaded model.
type Classifier interface {
	Infer(ctx context.Context, input vision.Tensor) ([]float64, error)
	Close() error
}

// Observer receives every published snapshot. Observers run on the publishing
// goroutine and must not block; compare Seq to discard out-of-order deliveries.
type Observer func(Snapshot)

// Options configures the loop.
type Options struct {
	Period    time.Duration
	Threshold float64
	TopK      int
	Facing    vision.Facing
}

func (o *Options) setDefaults() {
	if o.Period <= 0 {
		o.Period = time.Second
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.TopK <= 0 {
		o.TopK = 3
	}
}

// run is one armed period of the scheduler, from arming to teardown.
type run struct {
	ctx      context.Context
	cancel   context.CancelFunc
	halt     chan struct{}
	haltOnce sync.Once
	done     chan struct{}
}

func (r *run) stop() {
	r.haltOnce.Do(func() { close(r.halt) })
}

// Loop is the recognition controller. It owns the scheduling timer, the model,
// the current camera handle and the latest snapshot.
//
// Lifecycle: New -> Subscribe* -> Start -> SetModel/ModelFailed (any order
// relative to Start) -> ToggleFacing/Retry* -> Close.
type Loop struct {
	source FrameSource
	prep   Preprocessor
	labels *LabelSet
	opts   Options

	// ctrlMu serializes lifecycle commands. The scheduler goroutine never takes it.
	ctrlMu   sync.Mutex
	baseCtx  context.Context
	current  *run
	facing   vision.Facing
	modelErr error

	handleMu sync.Mutex
	handle   *vision.StreamHandle

	// sem holds one token per in-flight tick; capacity 1 makes ticks single-flight.
	sem     chan struct{}
	polling atomic.Bool
	active  atomic.Pointer[run]

	mu        sync.RWMutex
	model     Classifier
	snap      Snapshot
	observers []Observer

	ticks       atomic.Uint64
	skipped     atomic.Uint64
	notReady    atomic.Uint64
	inferences  atomic.Uint64
	inferErrs   atomic.Uint64
	lastLatency atomic.Int64
}

// New creates an idle loop in NoModel state.
func New(source FrameSource, prep Preprocessor, labels *LabelSet, opts Options) *Loop {
	opts.setDefaults()
	return &Loop{
		source: source,
		prep:   prep,
		labels: labels,
		opts:   opts,
		facing: opts.Facing,
		sem:    make(chan struct{}, 1),
		snap: Snapshot{
			State:     State{Status: StatusNoModel},
			Phase:     PhaseIdle,
			Facing:    opts.Facing,
			UpdatedAt: time.Now(),
		},
	}
}

// Labels returns the label set the loop interprets against.
func (l *Loop) Labels() *LabelSet {
	return l.labels
}

// Subscribe registers an observer for published snapshots.
func (l *Loop) Subscribe(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Snapshot returns the latest published state.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Polling:         l.polling.Load(),
		Ticks:           l.ticks.Load(),
		Skipped:         l.skipped.Load(),
		FramesNotReady:  l.notReady.Load(),
		Inferences:      l.inferences.Load(),
		InferenceErrors: l.inferErrs.Load(),
		LastLatency:     time.Duration(l.lastLatency.Load()),
	}
}

// Start acquires the camera and arms the timer as soon as a model is attached.
// The returned error is the device or model-load failure, already surfaced
// in the snapshot.
func (l *Loop) Start(ctx context.Context) error {
	l.ctrlMu.Lock()
	defer l.ctrlMu.Unlock()

	if l.modelErr != nil {
		log.Warn("Recognition loop not started: model is unavailable")
		return l.modelErr
	}
	l.baseCtx = ctx
	if err := l.acquireLocked(ctx); err != nil {
		return err
	}
	l.armLocked()
	return nil
}

// SetModel attaches the loaded classifier. It can be called once.
func (l *Loop) SetModel(c Classifier) error {
	l.ctrlMu.Lock()
	defer l.ctrlMu.Unlock()

	l.mu.Lock()
	if l.model != nil {
		l.mu.Unlock()
		return errors.New("model already attached")
	}
	l.model = c
	l.mu.Unlock()

	log.Info("Classifier attached to recognition loop")
	l.reapLocked()
	l.armLocked()
	return nil
}

// ModelFailed records a failed model load. The loop stays in NoModel for the
// rest of the process lifetime and gives the camera back.
func (l *Loop) ModelFailed(err error) {
	if !errors.Is(err, vision.ErrModelLoad) {
		err = fmt.Errorf("%w: %v", vision.ErrModelLoad, err)
	}

	l.ctrlMu.Lock()
	defer l.ctrlMu.Unlock()

	l.modelErr = err
	log.WithError(err).Error("Model could not be loaded, recognition disabled until restart")
	l.pauseLocked()
	l.releaseHandle()
	l.fail(vision.FaultModelLoad, err)
}

// ToggleFacing switches to the other camera. The timer is stopped and the old
// handle released before the new one is requested.
func (l *Loop) ToggleFacing(ctx context.Context) (vision.Facing, error) {
	l.ctrlMu.Lock()
	defer l.ctrlMu.Unlock()

	l.pauseLocked()
	l.releaseHandle()
	l.facing = l.facing.Opposite()

	facing := l.facing
	l.update(func(s *Snapshot) { s.Facing = facing })

	log.Infof("Camera facing switched to %s", l.facing)
	if l.modelErr != nil || l.baseCtx == nil {
		return l.facing, nil
	}
	if err := l.acquireLocked(ctx); err != nil {
		return l.facing, err
	}
	l.armLocked()
	return l.facing, nil
}

// Retry re-acquires the camera after a device error and re-arms the timer.
func (l *Loop) Retry(ctx context.Context) error {
	l.ctrlMu.Lock()
	defer l.ctrlMu.Unlock()

	if l.modelErr != nil {
		return l.modelErr
	}
	if l.baseCtx == nil {
		return errors.New("recognition loop not started")
	}
	l.reapLocked()
	if l.current != nil {
		return nil
	}
	if err := l.acquireLocked(ctx); err != nil {
		return err
	}
	l.armLocked()
	return nil
}

// Stop cancels the timer, waits for an in-flight tick and releases the camera.
func (l *Loop) Stop() {
	l.ctrlMu.Lock()
	defer l.ctrlMu.Unlock()

	l.pauseLocked()
	l.releaseHandle()
	l.baseCtx = nil
	l.setPhase(PhaseIdle)
}

// Close stops the loop and releases the model.
func (l *Loop) Close() error {
	l.Stop()

	l.mu.Lock()
	m := l.model
	l.model = nil
	l.mu.Unlock()

	if m != nil {
		return m.Close()
	}
	return nil
}

// Tick runs one tick synchronously, as if the timer had fired. It returns false
// when the loop is not polling or another tick is in flight.
func (l *Loop) Tick() bool {
	r := l.active.Load()
	if r == nil || !l.polling.Load() {
		return false
	}
	if !l.tryAcquire() {
		return false
	}
	defer l.releaseToken()
	if !l.polling.Load() {
		return false
	}
	l.runTick(r)
	return true
}

func (l *Loop) acquireLocked(ctx context.Context) error {
	l.releaseHandle()
	h, err := l.source.Acquire(ctx, l.facing)
	if err != nil {
		if !errors.Is(err, vision.ErrDevice) {
			err = fmt.Errorf("%w: %v", vision.ErrDevice, err)
		}
		log.WithError(err).Errorf("Could not acquire %s camera", l.facing)
		l.fail(vision.FaultDevice, err)
		return err
	}

	l.handleMu.Lock()
	l.handle = h
	l.handleMu.Unlock()

	if l.Snapshot().Fault == vision.FaultDevice {
		l.update(func(s *Snapshot) {
			s.Fault = vision.FaultNone
			s.FaultMessage = ""
		})
	}

	log.WithFields(log.Fields{
		"handle": h.ID,
		"facing": h.Facing,
		"actual": h.Actual,
	}).Info("Camera stream acquired")
	return nil
}

func (l *Loop) armLocked() {
	if l.current != nil || l.baseCtx == nil {
		return
	}
	l.mu.RLock()
	hasModel := l.model != nil
	l.mu.RUnlock()
	l.handleMu.Lock()
	hasHandle := l.handle != nil
	l.handleMu.Unlock()
	if !hasModel || !hasHandle {
		return
	}

	ctx, cancel := context.WithCancel(l.baseCtx)
	r := &run{
		ctx:    ctx,
		cancel: cancel,
		halt:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.current = r
	l.active.Store(r)
	l.polling.Store(true)
	l.setPhase(PhasePolling)

	log.Infof("Recognition loop polling every %s (threshold %.2f)", l.opts.Period, l.opts.Threshold)
	go l.schedule(r)
}

// pauseLocked stops the current run and waits until its teardown finished.
func (l *Loop) pauseLocked() {
	if l.current == nil {
		return
	}
	l.current.stop()
	<-l.current.done
	l.current = nil
}

// reapLocked forgets a run that is ending on its own (context cancelled or
// device lost), waiting for its teardown first.
func (l *Loop) reapLocked() {
	r := l.current
	if r == nil {
		return
	}
	select {
	case <-r.halt:
	case <-r.ctx.Done():
	default:
		return
	}
	<-r.done
	l.current = nil
}

func (l *Loop) schedule(r *run) {
	defer close(r.done)

	ticker := time.NewTicker(l.opts.Period)
loop:
	for {
		select {
		case <-ticker.C:
			l.dispatch(r)
		case <-r.ctx.Done():
			break loop
		case <-r.halt:
			break loop
		}
	}

	// Timer first, then the in-flight tick, then the device.
	ticker.Stop()
	l.polling.Store(false)
	r.cancel()
	l.sem <- struct{}{}
	<-l.sem
	l.active.CompareAndSwap(r, nil)
	l.releaseHandle()
	l.setPhase(PhaseIdle)
	log.Info("Recognition loop stopped")
}

func (l *Loop) dispatch(r *run) {
	if !l.tryAcquire() {
		return
	}
	if !l.polling.Load() {
		l.releaseToken()
		return
	}
	go func() {
		defer l.releaseToken()
		l.runTick(r)
	}()
}

func (l *Loop) tryAcquire() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		l.skipped.Add(1)
		log.Debug("Previous inference still running, tick skipped")
		return false
	}
}

func (l *Loop) releaseToken() {
	<-l.sem
}

func (l *Loop) runTick(r *run) {
	l.ticks.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: panic during tick: %v", vision.ErrInference, rec)
			l.abandon(r, err)
		}
	}()

	ctx := r.ctx
	model := l.classifier()
	if model == nil || ctx.Err() != nil {
		return
	}

	l.setPhase(PhaseCapturing)
	frame, err := l.source.CurrentFrame()
	if err != nil {
		l.abandon(r, err)
		return
	}

	l.setPhase(PhasePreprocessing)
	input, err := l.prep.Prepare(frame)
	if err != nil {
		l.abandon(r, err)
		return
	}

	l.setPhase(PhaseInferring)
	started := time.Now()
	probs, err := model.Infer(ctx, input)
	l.lastLatency.Store(int64(time.Since(started)))
	if ctx.Err() != nil {
		// torn down while inferring; nothing may be published
		return
	}
	if err != nil {
		l.abandon(r, err)
		return
	}
	l.inferences.Add(1)

	l.setPhase(PhaseInterpreting)
	state, idx, err := Interpret(probs, l.labels, l.opts.Threshold)
	if err != nil {
		l.abandon(r, err)
		return
	}

	log.WithFields(log.Fields{
		"index":      idx,
		"status":     state.Status,
		"confidence": fmt.Sprintf("%.3f", state.Confidence),
		"latency":    time.Since(started),
	}).Debug("Frame classified")
	l.publish(state, TopK(probs, l.labels, l.opts.TopK))
}

// abandon ends a tick early according to the error class.
func (l *Loop) abandon(r *run, err error) {
	switch vision.Classify(err) {
	case vision.FaultNone:
		l.notReady.Add(1)
		l.setPhase(PhasePolling)
		log.Debug("No frame available yet, waiting for next tick")
	case vision.FaultDevice:
		log.WithError(err).Error("Camera lost, stopping recognition loop")
		l.fail(vision.FaultDevice, err)
		r.stop()
	default:
		if !errors.Is(err, vision.ErrInference) {
			err = fmt.Errorf("%w: %v", vision.ErrInference, err)
		}
		l.inferErrs.Add(1)
		log.WithError(err).Warn("Inference tick abandoned")
		l.fail(vision.FaultInference, err)
		l.setPhase(PhasePolling)
	}
}

func (l *Loop) classifier() Classifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model
}

func (l *Loop) releaseHandle() {
	l.handleMu.Lock()
	h := l.handle
	l.handle = nil
	l.handleMu.Unlock()

	if h == nil {
		return
	}
	if err := l.source.Release(h); err != nil {
		log.WithError(err).Warnf("Failed to release camera stream %s", h.ID)
		return
	}
	log.Debugf("Camera stream %s released", h.ID)
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.snap.Phase = p
	l.mu.Unlock()
}

func (l *Loop) publish(state State, top []Score) {
	l.update(func(s *Snapshot) {
		s.State = state
		s.Top = top
		s.Fault = vision.FaultNone
		s.FaultMessage = ""
		s.Phase = PhasePolling
	})
}

// fail surfaces an error without touching the recognition state.
func (l *Loop) fail(f vision.Fault, err error) {
	l.update(func(s *Snapshot) {
		s.Fault = f
		s.FaultMessage = err.Error()
	})
}

// update applies fn under the lock, bumps Seq and notifies the observers
// after unlocking.
func (l *Loop) update(fn func(*Snapshot)) {
	l.mu.Lock()
	fn(&l.snap)
	l.snap.Seq++
	l.snap.UpdatedAt = time.Now()
	snap := l.snap
	observers := l.observers
	l.mu.Unlock()

	notify(observers, snap)
}

func notify(observers []Observer, snap Snapshot) {
	for _, o := range observers {
		notifyOne(o, snap)
	}
}

// notifyOne isolates one observer; a panic there must not reach the tick.
func notifyOne(o Observer, snap Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("seq", snap.Seq).Errorf("Snapshot observer panicked: %v", rec)
		}
	}()
	o(snap)
}
