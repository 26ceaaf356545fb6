package emadb

import (
	"testing"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/pkg/errors"
)

type countSink struct {
	n     int
	err   error
	calls int
}

func (s *countSink) Submit(kind ema.Kind, station int, f ema.Frame) (int, error) {
	s.calls++
	return s.n, s.err
}

func TestMultiSink(t *testing.T) {
	busy := errors.Wrap(ErrBusy, "database is locked")
	a := &countSink{n: 2, err: busy}
	b := &countSink{n: 1}
	n, err := MultiSink{a, b}.Submit(ema.CurrentSample, 1, ema.Frame{})
	if n != 2 {
		t.Errorf("accepted %d, want 2", n)
	}
	if !IsBusy(err) {
		t.Errorf("err %v, want busy", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls %d %d", a.calls, b.calls)
	}
}

func TestMultiSinkErrorPrecedence(t *testing.T) {
	busy := errors.Wrap(ErrBusy, "database is locked")
	down := errors.New("write rejected")
	for _, tc := range []struct {
		name  string
		sinks MultiSink
		want  error
	}{
		{"busy then permanent", MultiSink{&countSink{err: busy}, &countSink{err: down}}, down},
		{"permanent then busy", MultiSink{&countSink{err: down}, &countSink{err: busy}}, down},
		{"busy only", MultiSink{&countSink{err: busy}, &countSink{}}, busy},
		{"first permanent kept", MultiSink{&countSink{err: down}, &countSink{err: errors.New("other")}}, down},
		{"no errors", MultiSink{&countSink{}, &countSink{}}, nil},
	} {
		if _, err := tc.sinks.Submit(ema.CurrentSample, 1, ema.Frame{}); err != tc.want {
			t.Errorf("%s: err %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestIsBusy(t *testing.T) {
	for _, tc := range []struct {
		err  error
		busy bool
	}{
		{nil, false},
		{ErrBusy, true},
		{errors.Wrapf(ErrBusy, "station %d", 3), true},
		{errors.New("disk full"), false},
	} {
		if got := IsBusy(tc.err); got != tc.busy {
			t.Errorf("IsBusy(%v) = %v", tc.err, got)
		}
	}
}
