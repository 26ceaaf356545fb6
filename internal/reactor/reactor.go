// Package reactor is a cooperative single-threaded event loop. It waits a
// bounded amount of time for I/O readiness on its registered sources and
// for external control requests, and drives one-shot alarms and periodic
// workers on the ticks where nothing else happened.
//
// All registered handlers are invoked from the goroutine calling Run (or
// Step) and run to completion. Handlers must not block.
package reactor

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
)

// DefaultTick is the wait timeout, and so the time unit of every timer.
const DefaultTick = time.Second

var (
	ErrNilHandler    = errors.New("reactor: nil handler")
	ErrNotRegistered = errors.New("reactor: handler not registered")
)

// A Readable is an input source. InputReady delivers a token whenever
// there is input to process.
type Readable interface {
	InputReady() <-chan struct{}
	OnInput() error
}

// A Writable is an output source. OutputReady delivers a token whenever
// the source can make progress writing.
type Writable interface {
	OutputReady() <-chan struct{}
	OnOutput() error
}

// An Alarm is a one-shot timer. It is removed from the reactor right
// before OnTimeout is called.
type Alarm interface {
	Timeout() bool
	OnTimeout() error
}

// A Worker is a periodic task.
type Worker interface {
	MustWork() bool
	Work() error
}

// Hooks are invoked when the matching control request is serviced.
type Hooks interface {
	Reload() error
	Pause() error
	Resume() error
}

type Option func(*Reactor)

// WithTick sets the wait timeout. It must be set before timers are
// created from Tick.
func WithTick(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.tick = d
		}
	}
}

func WithPoller(p Poller) Option {
	return func(r *Reactor) { r.poller = p }
}

func WithHooks(h Hooks) Option {
	return func(r *Reactor) { r.hooks = h }
}

type Reactor struct {
	tick   time.Duration
	poller Poller
	hooks  Hooks
	ctrl   *control
	paused bool

	readables []Readable
	writables []Writable
	alarms    []Alarm
	workers   []Worker
}

func New(opts ...Option) *Reactor {
	r := &Reactor{
		tick:   DefaultTick,
		poller: ChanPoller{},
		ctrl:   newControl(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Tick returns the wait timeout used to measure all timer durations.
func (r *Reactor) Tick() time.Duration { return r.tick }

// SetHooks replaces the control hooks. Components are usually built with
// the reactor handle, so the hooks owner can only be known afterwards.
func (r *Reactor) SetHooks(h Hooks) { r.hooks = h }

func (r *Reactor) Paused() bool { return r.paused }

func (r *Reactor) AddReadable(h Readable) error {
	if h == nil {
		return ErrNilHandler
	}
	r.readables = append(r.readables, h)
	return nil
}

func (r *Reactor) DelReadable(h Readable) error {
	var ok bool
	r.readables, ok = remove(r.readables, h)
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

func (r *Reactor) AddWritable(h Writable) error {
	if h == nil {
		return ErrNilHandler
	}
	r.writables = append(r.writables, h)
	return nil
}

func (r *Reactor) DelWritable(h Writable) error {
	var ok bool
	r.writables, ok = remove(r.writables, h)
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

func (r *Reactor) AddAlarm(h Alarm) error {
	if h == nil {
		return ErrNilHandler
	}
	r.alarms = append(r.alarms, h)
	return nil
}

// DelAlarm cancels a pending alarm.
func (r *Reactor) DelAlarm(h Alarm) error {
	var ok bool
	r.alarms, ok = remove(r.alarms, h)
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

// HasAlarm reports whether h is armed.
func (r *Reactor) HasAlarm(h Alarm) bool { return contains(r.alarms, h) }

func (r *Reactor) AddWorker(h Worker) error {
	if h == nil {
		return ErrNilHandler
	}
	r.workers = append(r.workers, h)
	return nil
}

func (r *Reactor) DelWorker(h Worker) error {
	var ok bool
	r.workers, ok = remove(r.workers, h)
	if !ok {
		return ErrNotRegistered
	}
	return nil
}

// Reload, Pause, Resume and Stop may be called from any goroutine. The
// request is serviced by the reactor at the start of its next cycle.
func (r *Reactor) Reload() { r.ctrl.raise(ReloadRequest) }
func (r *Reactor) Pause()  { r.ctrl.raise(PauseRequest) }
func (r *Reactor) Resume() { r.ctrl.raise(ResumeRequest) }
func (r *Reactor) Stop()   { r.ctrl.raise(StopRequest) }

// Run steps the reactor until Stop is requested, ctx is cancelled or a
// handler fails. Only a handler failure is returned as an error.
func (r *Reactor) Run(ctx context.Context) error {
	for {
		stop, err := r.Step(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Print("warning: reactor aborted by user request")
				return nil
			}
			log.Printf("error: reactor: %+v", err)
			return err
		}
		if stop {
			log.Print("info: reactor stopped")
			return nil
		}
	}
}

// Step executes a single cycle. It reports whether a stop was requested.
func (r *Reactor) Step(ctx context.Context) (stop bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("reactor: panic in handler: %v", p)
		}
	}()

	if r.ctrl.pending() {
		return r.service(r.ctrl.take())
	}

	ready, err := r.poller.Poll(ctx, r.readables, r.writables, r.ctrl.wake, r.tick)
	if err != nil {
		return false, err
	}
	if ready.Woken {
		return r.service(r.ctrl.take())
	}
	if ready.activity() {
		return false, r.dispatchIO(ready)
	}
	return false, r.dispatchTimers()
}

func (r *Reactor) service(req Request) (bool, error) {
	if !r.ctrl.pending() {
		// drop a stale wake token, flags are checked before every wait
		select {
		case <-r.ctrl.wake:
		default:
		}
	}
	if req == NoRequest {
		return false, nil
	}
	log.Printf("debug: reactor: servicing %s request", req)
	switch req {
	case StopRequest:
		return true, nil
	case ReloadRequest:
		if r.hooks != nil {
			return false, errors.Wrap(r.hooks.Reload(), "reload")
		}
	case PauseRequest:
		if r.paused {
			return false, nil
		}
		r.paused = true
		if r.hooks != nil {
			return false, errors.Wrap(r.hooks.Pause(), "pause")
		}
	case ResumeRequest:
		if !r.paused {
			return false, nil
		}
		r.paused = false
		if r.hooks != nil {
			return false, errors.Wrap(r.hooks.Resume(), "resume")
		}
	}
	return false, nil
}

func (r *Reactor) dispatchIO(ready Readiness) error {
	for _, h := range ready.Readable {
		// an earlier handler of this cycle may have deregistered it
		if !contains(r.readables, h) {
			continue
		}
		if err := h.OnInput(); err != nil {
			return errors.Wrap(err, "input handler")
		}
	}
	for _, h := range ready.Writable {
		if !contains(r.writables, h) {
			continue
		}
		if err := h.OnOutput(); err != nil {
			return errors.Wrap(err, "output handler")
		}
	}
	return nil
}

func (r *Reactor) dispatchTimers() error {
	for _, a := range append([]Alarm(nil), r.alarms...) {
		if !contains(r.alarms, a) {
			continue
		}
		if a.Timeout() {
			r.alarms, _ = remove(r.alarms, a)
			if err := a.OnTimeout(); err != nil {
				return errors.Wrap(err, "alarm")
			}
		}
	}
	for _, w := range append([]Worker(nil), r.workers...) {
		if !contains(r.workers, w) {
			continue
		}
		if w.MustWork() {
			if err := w.Work(); err != nil {
				return errors.Wrap(err, "worker")
			}
		}
	}
	return nil
}

func contains[T comparable](s []T, v T) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func remove[T comparable](s []T, v T) ([]T, bool) {
	for i, x := range s {
		if x == v {
			return append(s[:i:i], s[i+1:]...), true
		}
	}
	return s, false
}
