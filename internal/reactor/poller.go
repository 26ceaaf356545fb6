package reactor

import (
	"context"
	"reflect"
	"time"
)

// Readiness is the outcome of one Poll.
type Readiness struct {
	Readable []Readable
	Writable []Writable
	// Woken is set when the wait ended because of a control request.
	Woken bool
}

func (r Readiness) activity() bool {
	return len(r.Readable) > 0 || len(r.Writable) > 0
}

// A Poller is the multiplexing wait primitive of the reactor. It blocks
// until at least one source is ready, wake fires, ctx is done or timeout
// elapses.
type Poller interface {
	Poll(ctx context.Context, rd []Readable, wr []Writable, wake <-chan struct{}, timeout time.Duration) (Readiness, error)
}

// ChanPoller waits on the readiness channels of the registered sources.
// All sources that are ready when the wait returns are reported, the one
// that woke the wait first.
type ChanPoller struct{}

func (ChanPoller) Poll(ctx context.Context, rd []Readable, wr []Writable, wake <-chan struct{}, timeout time.Duration) (Readiness, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	const (
		caseCtx = iota
		caseWake
		caseTimer
		fixed
	)
	cases := make([]reflect.SelectCase, fixed, fixed+len(rd)+len(wr))
	cases[caseCtx] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}
	cases[caseWake] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(wake)}
	cases[caseTimer] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)}
	for _, r := range rd {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.InputReady())})
	}
	for _, w := range wr {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(w.OutputReady())})
	}

	var res Readiness
	chosen, _, _ := reflect.Select(cases)
	switch chosen {
	case caseCtx:
		return res, ctx.Err()
	case caseWake:
		res.Woken = true
		return res, nil
	case caseTimer:
		return res, nil
	}

	for i := fixed; i < len(cases); i++ {
		if i != chosen && !tryRecv(cases[i].Chan) {
			continue
		}
		if j := i - fixed; j < len(rd) {
			res.Readable = append(res.Readable, rd[j])
		} else {
			res.Writable = append(res.Writable, wr[j-len(rd)])
		}
	}
	// report the source that woke us first
	if j := chosen - fixed; j < len(rd) {
		moveFirst(res.Readable, rd[j])
	} else {
		moveFirst(res.Writable, wr[j-len(rd)])
	}
	return res, nil
}

func tryRecv(ch reflect.Value) bool {
	_, ok := ch.TryRecv()
	return ok
}

func moveFirst[T comparable](s []T, v T) {
	for i := range s {
		if s[i] == v {
			copy(s[1:i+1], s[:i])
			s[0] = v
			return
		}
	}
}
