package mqtt

import (
	"context"
	"net"
	"reflect"
	"sort"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/pkg/errors"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/reactor"
)

type token struct {
	err  error
	done chan struct{}
}

func newToken(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 1 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	open       bool
	connects   int
	calls      []string

	onMessage mqtt.MessageHandler
	onLost    mqtt.ConnectionLostHandler
}

func (c *fakeClient) factory(o Options, onMessage mqtt.MessageHandler, onLost mqtt.ConnectionLostHandler) (Client, error) {
	c.onMessage = onMessage
	c.onLost = onLost
	return c, nil
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.open = c.connectErr == nil
	return newToken(c.connectErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	var topics []string
	for t := range filters {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	c.record("sub:" + strings.Join(topics, ","))
	return newToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.record("unsub:" + strings.Join(topics, ","))
	return newToken(nil)
}

func (c *fakeClient) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeClient) takeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := c.calls
	c.calls = nil
	return calls
}

type forwarder struct{ msgs []emadb.Message }

func (f *forwarder) Forward(msg emadb.Message) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type idlePoller struct{}

func (idlePoller) Poll(ctx context.Context, _ []reactor.Readable, _ []reactor.Writable, _ <-chan struct{}, _ time.Duration) (reactor.Readiness, error) {
	return reactor.Readiness{}, ctx.Err()
}

func options(topics ...string) Options {
	return Options{
		Broker:    "tcp://localhost:1883",
		ClientID:  "emadb@test",
		KeepAlive: 60 * time.Second,
		MaxRetry:  2 * time.Minute,
		Topics:    topics,
		QoS:       1,
	}
}

func newTestSubscriber(t *testing.T, o Options) (*Subscriber, *fakeClient, *forwarder, *reactor.Reactor) {
	t.Helper()
	r := reactor.New(reactor.WithPoller(idlePoller{}))
	c := &fakeClient{}
	fwd := &forwarder{}
	s, err := NewSubscriber(r, o, fwd, nil, c.factory)
	if err != nil {
		t.Fatal(err)
	}
	return s, c, fwd, r
}

// process waits for n events in the mailbox and handles them.
func process(t *testing.T, s *Subscriber, n int) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.box.len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d events", n)
		}
		time.Sleep(time.Millisecond)
	}
	return s.OnInput()
}

func TestBackoff(t *testing.T) {
	s, c, _, r := newTestSubscriber(t, options("EMA/+/current/status"))
	c.connectErr = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

	if s.Limit() != 30 {
		t.Fatalf("initial period %d ticks, want 30", s.Limit())
	}
	for _, want := range []time.Duration{time.Minute, 2 * time.Minute, 2 * time.Minute} {
		if err := s.Work(); err != nil {
			t.Fatal(err)
		}
		if s.State() != Connecting {
			t.Fatalf("state %s after connect", s.State())
		}
		if err := process(t, s, 1); err != nil {
			t.Fatal(err)
		}
		if s.State() != Disconnected {
			t.Fatalf("state %s after failed connect", s.State())
		}
		if s.RetryPeriod() != want || s.Period() != want {
			t.Errorf("retry period %s (%s), want %s", s.RetryPeriod(), s.Period(), want)
		}
		if err := r.DelReadable(s); err != reactor.ErrNotRegistered {
			t.Error("mailbox still registered while disconnected")
		}
	}

	c.connectErr = nil
	s.Work()
	if err := process(t, s, 1); err != nil {
		t.Fatal(err)
	}
	if s.State() != Connected {
		t.Fatalf("state %s", s.State())
	}
	if s.RetryPeriod() != 30*time.Second || s.Limit() != 30 {
		t.Errorf("period not reset: %s, %d ticks", s.RetryPeriod(), s.Limit())
	}
	if c.connects != 4 {
		t.Errorf("%d connection attempts, want 4", c.connects)
	}
}

func TestFatalConnectError(t *testing.T) {
	s, c, _, _ := newTestSubscriber(t, options("EMA/+/current/status"))
	c.connectErr = packets.ErrorRefusedBadUsernameOrPassword
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	err := process(t, s, 1)
	if errors.Cause(err) != packets.ErrorRefusedBadUsernameOrPassword {
		t.Fatalf("OnInput = %v", err)
	}
	if s.State() != Failed {
		t.Errorf("state %s, want failed", s.State())
	}
	if err := s.Work(); err != nil || c.connects != 1 {
		t.Errorf("failed subscriber reconnected (%v, %d)", err, c.connects)
	}
}

func TestIsTransient(t *testing.T) {
	for _, tc := range []struct {
		err       error
		transient bool
	}{
		{nil, false},
		{syscall.ECONNREFUSED, true},
		{errors.Wrap(syscall.ENETUNREACH, "dial"), true},
		{&net.OpError{Op: "dial", Err: syscall.ECONNRESET}, true},
		{packets.ErrorRefusedServerUnavailable, true},
		{errors.New("network Error : dial tcp 127.0.0.1:1883: connect: connection refused"), true},
		{packets.ErrorRefusedBadUsernameOrPassword, false},
		{packets.ErrorRefusedIDRejected, false},
		{packets.ErrorRefusedNotAuthorised, false},
	} {
		if got := isTransient(tc.err); got != tc.transient {
			t.Errorf("isTransient(%v) = %v", tc.err, got)
		}
	}
}

func connect(t *testing.T, s *Subscriber) {
	t.Helper()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := process(t, s, 1); err != nil {
		t.Fatal(err)
	}
	if s.State() != Connected {
		t.Fatalf("state %s", s.State())
	}
}

func TestReconcile(t *testing.T) {
	s, c, _, _ := newTestSubscriber(t, options("A", "B"))
	connect(t, s)
	if calls := c.takeCalls(); !reflect.DeepEqual(calls, []string{"sub:A,B"}) {
		t.Errorf("calls on connect %v", calls)
	}

	s.Reload(options("B", "C"))
	if calls := c.takeCalls(); !reflect.DeepEqual(calls, []string{"unsub:A", "sub:C"}) {
		t.Errorf("calls on reload %v", calls)
	}
	if active := s.Active(); !reflect.DeepEqual(active, map[string]byte{"B": 1, "C": 1}) {
		t.Errorf("active %v", active)
	}

	s.Reload(options("B", "C"))
	if calls := c.takeCalls(); len(calls) != 0 {
		t.Errorf("idempotent reload made calls %v", calls)
	}
}

func TestReloadKeepsBroker(t *testing.T) {
	s, _, _, _ := newTestSubscriber(t, options("A"))
	o := options("A")
	o.Broker = "tcp://elsewhere:1883"
	o.KeepAlive = 20 * time.Second
	s.Reload(o)
	if s.opts.Broker != "tcp://localhost:1883" {
		t.Errorf("broker changed to %s", s.opts.Broker)
	}
	if s.Limit() != 10 {
		t.Errorf("period %d ticks, want 10", s.Limit())
	}
}

func TestDiff(t *testing.T) {
	for _, tc := range []struct {
		active, desired map[string]byte
		unsub           []string
		sub             map[string]byte
	}{
		{nil, map[string]byte{"A": 1}, nil, map[string]byte{"A": 1}},
		{map[string]byte{"A": 1, "B": 1}, map[string]byte{"B": 1, "C": 1}, []string{"A"}, map[string]byte{"C": 1}},
		{map[string]byte{"A": 1}, map[string]byte{"A": 1}, nil, nil},
		{map[string]byte{"A": 0}, map[string]byte{"A": 1}, []string{"A"}, map[string]byte{"A": 1}},
		{map[string]byte{"B": 1, "A": 1}, nil, []string{"A", "B"}, nil},
	} {
		unsub, sub := Diff(tc.active, tc.desired)
		if !reflect.DeepEqual(unsub, tc.unsub) || !reflect.DeepEqual(sub, tc.sub) {
			t.Errorf("Diff(%v, %v) = %v, %v; want %v, %v", tc.active, tc.desired, unsub, sub, tc.unsub, tc.sub)
		}
	}
}

func TestConnectionLost(t *testing.T) {
	s, c, _, _ := newTestSubscriber(t, options("A"))
	connect(t, s)

	lost := errors.New("EOF")
	c.onLost(nil, lost)
	c.onLost(nil, lost)
	if err := process(t, s, 2); err != nil {
		t.Fatal(err)
	}
	if s.State() != Disconnected {
		t.Errorf("state %s", s.State())
	}
	if len(s.Active()) != 0 {
		t.Errorf("active subscriptions survived: %v", s.Active())
	}

	// a new connection subscribes again from scratch
	c.takeCalls()
	s.Work()
	if err := process(t, s, 1); err != nil {
		t.Fatal(err)
	}
	if calls := c.takeCalls(); !reflect.DeepEqual(calls, []string{"sub:A"}) {
		t.Errorf("calls on reconnect %v", calls)
	}
}

func TestHousekeepingNoticesClosedConnection(t *testing.T) {
	s, c, _, _ := newTestSubscriber(t, options("A"))
	connect(t, s)
	c.Disconnect(0)
	if err := s.Work(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Disconnected {
		t.Errorf("state %s", s.State())
	}
}

func TestMessageDispatch(t *testing.T) {
	s, c, fwd, _ := newTestSubscriber(t, options("EMA/#"))
	connect(t, s)

	c.onMessage(nil, message{topic: "EMA/ema-01/current/status", payload: []byte("x")})
	c.onMessage(nil, message{topic: "EMA/ema-01/weird/topic", payload: []byte("y")})
	c.onMessage(nil, message{topic: "EMA/ema-02/history/minmax", payload: []byte("z")})
	if err := process(t, s, 3); err != nil {
		t.Fatal(err)
	}
	if len(fwd.msgs) != 2 {
		t.Fatalf("forwarded %d messages, want 2", len(fwd.msgs))
	}
	m := fwd.msgs[0]
	if m.Station != "ema-01" || m.Kind != ema.CurrentSample || string(m.Payload) != "x" || m.Time.IsZero() {
		t.Errorf("message %+v", m)
	}
	if m := fwd.msgs[1]; m.Station != "ema-02" || m.Kind != ema.MinMaxHistory {
		t.Errorf("message %+v", m)
	}
}

func TestMessageOutsideSubscriptions(t *testing.T) {
	s, c, fwd, _ := newTestSubscriber(t, options("EMA/+/current/status", "EMA/+/history/minmax"))
	connect(t, s)
	s.Reload(options("EMA/+/current/status"))

	c.onMessage(nil, message{topic: "EMA/ema-01/history/minmax", payload: []byte("late")})
	c.onMessage(nil, message{topic: "EMA/ema-01/current/status", payload: []byte("x")})
	if err := process(t, s, 2); err != nil {
		t.Fatal(err)
	}
	if len(fwd.msgs) != 1 || string(fwd.msgs[0].Payload) != "x" {
		t.Errorf("forwarded %+v", fwd.msgs)
	}
}

func TestSilenceWatchdog(t *testing.T) {
	o := options("A")
	o.Silence = 3 * time.Second
	s, c, _, r := newTestSubscriber(t, o)
	connect(t, s)
	if !r.HasAlarm(s.silence) {
		t.Fatal("watchdog not armed")
	}

	ctx := context.Background()
	r.Step(ctx)
	r.Step(ctx)
	c.onMessage(nil, message{topic: "EMA/ema-01/current/status"})
	if err := process(t, s, 1); err != nil {
		t.Fatal(err)
	}
	r.Step(ctx)
	r.Step(ctx)
	if s.State() != Connected {
		t.Fatal("watchdog fired although messages arrived")
	}
	r.Step(ctx)
	if s.State() != Disconnected {
		t.Errorf("state %s after silence", s.State())
	}
	if r.HasAlarm(s.silence) {
		t.Error("watchdog still armed")
	}
}
