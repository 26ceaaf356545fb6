package reactor

import "sync/atomic"

// Request is an external control request serviced between cycles.
type Request int

const (
	NoRequest Request = iota
	StopRequest
	ReloadRequest
	PauseRequest
	ResumeRequest
)

func (r Request) String() string {
	switch r {
	case StopRequest:
		return "stop"
	case ReloadRequest:
		return "reload"
	case PauseRequest:
		return "pause"
	case ResumeRequest:
		return "resume"
	}
	return "none"
}

// control holds the pending request flags. Requests may be raised from any
// goroutine (signal handlers, service managers); they are only consumed by
// the reactor goroutine.
type control struct {
	stop, reload, pause, resume atomic.Bool
	wake                        chan struct{}
}

func newControl() *control {
	return &control{wake: make(chan struct{}, 1)}
}

func (c *control) raise(r Request) {
	switch r {
	case StopRequest:
		c.stop.Store(true)
	case ReloadRequest:
		c.reload.Store(true)
	case PauseRequest:
		c.pause.Store(true)
	case ResumeRequest:
		c.resume.Store(true)
	default:
		return
	}
	c.notify()
}

func (c *control) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take consumes the highest priority pending request:
// stop > reload > pause > resume.
func (c *control) take() Request {
	switch {
	case c.stop.CompareAndSwap(true, false):
		return StopRequest
	case c.reload.CompareAndSwap(true, false):
		return ReloadRequest
	case c.pause.CompareAndSwap(true, false):
		return PauseRequest
	case c.resume.CompareAndSwap(true, false):
		return ResumeRequest
	}
	return NoRequest
}

func (c *control) pending() bool {
	return c.stop.Load() || c.reload.Load() || c.pause.Load() || c.resume.Load()
}
