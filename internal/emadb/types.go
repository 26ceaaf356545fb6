package emadb

import (
	"time"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/pkg/errors"
)

// ErrBusy is wrapped by sinks reporting a transient condition (a locked
// database, a write timeout). The offending frame is dropped but
// processing continues.
var ErrBusy = errors.New("sink busy")

// A Message stores an incoming bus message.
type Message struct {
	Time    time.Time // arrival time, taken in the bus callback
	Topic   string
	Station string // wire id, second topic segment
	Kind    ema.Kind
	Payload []byte
}

// A Sink stores decoded frames. Sinks must be idempotent: submitting the
// same frame twice stores it once. accepted is the number of records
// actually stored.
type Sink interface {
	Submit(kind ema.Kind, station int, f ema.Frame) (accepted int, err error)
}

// Stations maps the wire id found in the topic to the station key.
type Stations interface {
	Resolve(wireID string) (key int, ok bool, err error)
}

// Forwarder takes a message further down the pipeline.
type Forwarder interface {
	Forward(msg Message) error
}

// ForwarderFunc adapts a function to a Forwarder.
type ForwarderFunc func(msg Message) error

func (f ForwarderFunc) Forward(msg Message) error { return f(msg) }

// MultiSink submits frames to all sinks in order. It reports the accepted
// count of the first sink. A busy sink does not prevent the others from
// being tried. The first permanent error wins over busy ones, so a busy
// sink never hides a failing one.
type MultiSink []Sink

func (m MultiSink) Submit(kind ema.Kind, station int, f ema.Frame) (int, error) {
	var (
		accepted int
		first    error
	)
	for i, s := range m {
		n, err := s.Submit(kind, station, f)
		if i == 0 {
			accepted = n
		}
		if err != nil && (first == nil || (IsBusy(first) && !IsBusy(err))) {
			first = err
		}
	}
	return accepted, first
}

// IsBusy reports whether err is a transient sink condition.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
