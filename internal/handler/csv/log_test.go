package csv

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
)

type recorder struct {
	msgs []emadb.Message
	err  error
}

func (r *recorder) Forward(msg emadb.Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestLoggerRoundTrip(t *testing.T) {
	at := time.Date(2020, 6, 15, 10, 30, 33, 0, time.UTC)
	in := []emadb.Message{
		{Time: at, Topic: "EMA/ema-01/current/status", Station: "ema-01", Kind: ema.CurrentSample,
			Payload: []byte("line one\n(10:30:29 15/06/2020)")},
		{Time: at.Add(time.Minute), Topic: "EMA/ema-02/history/minmax", Station: "ema-02", Kind: ema.MinMaxHistory,
			Payload: []byte(`quoted "payload", with comma`)},
	}

	var buf bytes.Buffer
	next := &recorder{}
	l := NewLogger(&buf, next)
	for _, msg := range in {
		if err := l.Forward(msg); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()
	if !reflect.DeepEqual(next.msgs, in) {
		t.Errorf("tee forwarded %v", next.msgs)
	}

	out := &recorder{}
	n, err := Replay(&buf, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("replayed %d messages", n)
	}
	for i := range in {
		if !out.msgs[i].Time.Equal(in[i].Time) {
			t.Errorf("time %v, want %v", out.msgs[i].Time, in[i].Time)
		}
		out.msgs[i].Time = in[i].Time
	}
	if !reflect.DeepEqual(out.msgs, in) {
		t.Errorf("replayed\n%v\nwant\n%v", out.msgs, in)
	}
}

type stalledWriter struct {
	release chan struct{}
	rows    int
}

func (w *stalledWriter) Write(p []byte) (int, error) {
	<-w.release
	w.rows++
	return len(p), nil
}

func TestLoggerDoesNotBlockOnSlowDisk(t *testing.T) {
	out := &stalledWriter{release: make(chan struct{})}
	next := &recorder{}
	l := NewLogger(out, next)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3*queueSize; i++ {
			l.Forward(emadb.Message{Topic: "EMA/ema-01/current/status", Payload: []byte("x")})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forward blocked on a stalled archive")
	}
	if len(next.msgs) != 3*queueSize {
		t.Errorf("forwarded %d messages, want %d", len(next.msgs), 3*queueSize)
	}
	if l.dropped < queueSize {
		t.Errorf("dropped %d rows, want at least %d", l.dropped, queueSize)
	}

	close(out.release)
	l.Close()
	if out.rows+l.dropped != 3*queueSize {
		t.Errorf("%d rows written and %d dropped, want %d in total", out.rows, l.dropped, 3*queueSize)
	}
}

func TestReplaySkipsUnknownTopics(t *testing.T) {
	archive := strings.Join([]string{
		"2020-06-15T10:30:33Z,EMA/ema-01/current/status,x",
		"2020-06-15T10:30:34Z,EMA/ema-01/log,x",
		"2020-06-15T10:30:35Z,EMA/ema-01/average/status,y",
	}, "\n")
	out := &recorder{}
	n, err := Replay(strings.NewReader(archive), out)
	if err != nil || n != 2 {
		t.Fatalf("replayed %d, %v", n, err)
	}
	if out.msgs[1].Kind != ema.AverageSample || string(out.msgs[1].Payload) != "y" {
		t.Errorf("second message %+v", out.msgs[1])
	}
}

func TestReplayErrors(t *testing.T) {
	if _, err := Replay(strings.NewReader("a,b\n"), &recorder{}); err == nil {
		t.Error("short row accepted")
	}
	boom := errors.New("boom")
	n, err := Replay(strings.NewReader("2020-06-15T10:30:33Z,EMA/ema-01/current/status,x\n"), &recorder{err: boom})
	if n != 0 || errors.Cause(err) != boom {
		t.Errorf("forward error: %d %v", n, err)
	}
}
