// Package mqtt keeps a subscription to the EMA topics of an MQTT broker
// alive and hands every received message to the ingest chain.
//
// The paho client runs its own goroutines. Everything it reports (connect
// outcome, lost connections, messages, subscription acks) is posted to a
// mailbox which the reactor drains on its own goroutine, so the Subscriber
// state is only ever touched by the reactor.
package mqtt

import (
	"log"
	"sort"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/metrics"
	"github.com/astrorafael/emadb/internal/reactor"
	"github.com/astrorafael/emadb/internal/router"
	"github.com/astrorafael/emadb/internal/timer"
)

// DefaultMaxRetry caps the reconnection backoff.
const DefaultMaxRetry = 2 * time.Hour

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Subscriber is a reactor Worker (connection housekeeping) and, while
// connecting or connected, a reactor Readable (its mailbox).
type Subscriber struct {
	*timer.Periodic

	r         *reactor.Reactor
	newClient NewClientFunc
	opts      Options
	fwd       emadb.Forwarder
	metrics   *metrics.Metrics

	client  Client
	gen     int
	state   State
	initial time.Duration
	period  time.Duration
	active  map[string]byte
	desired map[string]byte
	routes  *router.Router

	box     *mailbox
	silence *watchdog
}

var (
	_ reactor.Worker   = (*Subscriber)(nil)
	_ reactor.Readable = (*Subscriber)(nil)
)

// NewSubscriber registers a Subscriber with r. It does not connect until
// Start is called or its first period elapses.
func NewSubscriber(r *reactor.Reactor, o Options, fwd emadb.Forwarder, m *metrics.Metrics, newClient NewClientFunc) (*Subscriber, error) {
	if fwd == nil {
		return nil, reactor.ErrNilHandler
	}
	if newClient == nil {
		newClient = NewPahoClient
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = DefaultMaxRetry
	}
	s := &Subscriber{
		r:         r,
		newClient: newClient,
		opts:      o,
		fwd:       fwd,
		metrics:   m,
		initial:   o.KeepAlive / 2,
		desired:   o.subscriptions(),
		routes:    router.New(o.Topics...),
		box:       newMailbox(),
	}
	s.period = s.initial
	s.Periodic = timer.NewPeriodic(s.initial, r.Tick())
	s.silence = &watchdog{OneShot: timer.NewOneShot(o.Silence, r.Tick()), s: s}
	s.metrics.State(int(Disconnected))
	if err := r.AddWorker(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Subscriber) State() State { return s.state }

// RetryPeriod is the current housekeeping period.
func (s *Subscriber) RetryPeriod() time.Duration { return s.period }

// Active returns the topics currently subscribed.
func (s *Subscriber) Active() map[string]byte { return copySubs(s.active) }

// Start attempts the first connection right away.
func (s *Subscriber) Start() error {
	if s.state != Disconnected {
		return nil
	}
	return s.connect()
}

// Close disconnects from the broker. It must not be called while the
// reactor is running.
func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnectionOpen() {
		s.client.Disconnect(250)
	}
}

// Reload applies new options. Only the keepalive, topics, QoS and the
// silence timeout are taken into account; changing the broker or the
// client id requires a restart.
func (s *Subscriber) Reload(o Options) {
	if o.Broker != s.opts.Broker || o.ClientID != s.opts.ClientID {
		log.Print("warning: mqtt: broker or client id changed, restart to apply")
		o.Broker, o.ClientID = s.opts.Broker, s.opts.ClientID
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = DefaultMaxRetry
	}
	s.opts = o
	s.initial = o.KeepAlive / 2
	s.period = s.initial
	s.SetPeriod(s.initial)
	s.desired = o.subscriptions()

	s.silence.SetTimeout(o.Silence)
	if o.Silence <= 0 {
		s.silence.disarm()
	} else if s.state == Connected {
		s.silence.arm()
	}

	if s.state == Connected {
		s.reconcile()
	}
	log.Print("debug: mqtt: reload complete")
}

// Work is the periodic housekeeping task.
func (s *Subscriber) Work() error {
	log.Printf("debug: mqtt: housekeeping, %s", s.state)
	switch s.state {
	case Disconnected:
		return s.connect()
	case Connected:
		if !s.client.IsConnectionOpen() {
			s.lost(s.gen, errors.New("connection closed"))
		}
	}
	return nil
}

func (s *Subscriber) InputReady() <-chan struct{} { return s.box.ready }

// OnInput processes everything posted to the mailbox.
func (s *Subscriber) OnInput() error {
	for _, ev := range s.box.drain() {
		var err error
		switch ev.kind {
		case evConnect:
			err = s.connected(ev)
		case evLost:
			s.lost(ev.gen, ev.err)
		case evMessage:
			err = s.message(ev)
		case evSubscribe:
			if ev.err != nil {
				log.Printf("error: mqtt: subscribe: %s", ev.err)
			} else {
				log.Print("info: mqtt: subscriptions ok")
			}
		case evUnsubscribe:
			if ev.err != nil {
				log.Printf("error: mqtt: unsubscribe: %s", ev.err)
			} else {
				log.Print("info: mqtt: unsubscribe ok")
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) setState(st State) {
	s.state = st
	s.metrics.State(int(st))
}

func (s *Subscriber) connect() error {
	if s.client != nil && s.client.IsConnectionOpen() {
		s.client.Disconnect(0)
	}
	s.gen++
	gen := s.gen
	c, err := s.newClient(s.opts,
		func(_ mqtt.Client, m mqtt.Message) {
			s.box.post(event{kind: evMessage, gen: gen, topic: m.Topic(), payload: m.Payload(), time: time.Now().UTC()})
		},
		func(_ mqtt.Client, err error) {
			s.box.post(event{kind: evLost, gen: gen, err: err})
		})
	if err != nil {
		s.setState(Failed)
		return errors.Wrap(err, "mqtt: creating client")
	}
	s.client = c

	log.Printf("info: mqtt: connecting to %s as %s", s.opts.Broker, s.opts.ClientID)
	s.setState(Connecting)
	if err := s.r.AddReadable(s); err != nil {
		return err
	}
	s.metrics.ConnectAttempt()
	s.await(c.Connect(), evConnect, gen)
	return nil
}

func (s *Subscriber) await(tok mqtt.Token, kind eventKind, gen int) {
	go func() {
		tok.Wait()
		s.box.post(event{kind: kind, gen: gen, err: tok.Error()})
	}()
}

func (s *Subscriber) connected(ev event) error {
	if ev.gen != s.gen || s.state != Connecting {
		log.Printf("debug: mqtt: ignoring stale connect result (%v)", ev.err)
		return nil
	}
	if ev.err == nil {
		s.setState(Connected)
		s.period = s.initial
		s.SetPeriod(s.initial)
		log.Print("info: mqtt: connected successfully")
		s.reconcile()
		s.silence.arm()
		return nil
	}

	s.deregister()
	if !isTransient(ev.err) {
		s.setState(Failed)
		return errors.Wrap(ev.err, "mqtt: connect")
	}
	s.setState(Disconnected)
	s.period *= 2
	if s.period > s.opts.MaxRetry {
		s.period = s.opts.MaxRetry
	}
	s.SetPeriod(s.period)
	log.Printf("info: mqtt: connection failed (%s), next try in %s", ev.err, s.Period())
	return nil
}

func (s *Subscriber) lost(gen int, err error) {
	if gen != s.gen {
		return
	}
	log.Printf("warning: mqtt: unexpected disconnection: %v", err)
	s.setState(Disconnected)
	s.active = nil
	s.silence.disarm()
	s.deregister()
}

// deregister removes the mailbox from the reactor. paho may report the
// same disconnection more than once; the second removal is harmless.
func (s *Subscriber) deregister() {
	if err := s.r.DelReadable(s); err != nil {
		log.Print("warning: mqtt: recovered from double disconnection")
	}
}

func (s *Subscriber) message(ev event) error {
	s.silence.Reset()
	if !s.routes.Match(ev.topic) {
		// left over from a subscription dropped by a reload
		log.Printf("warning: mqtt: ignoring message on unsubscribed topic %s", ev.topic)
		s.metrics.DroppedTopic()
		return nil
	}
	kind, station, ok := ema.ParseTopic(ev.topic)
	if !ok {
		log.Printf("warning: mqtt: ignoring message on unexpected topic %s", ev.topic)
		s.metrics.DroppedTopic()
		return nil
	}
	s.metrics.Received(kind)
	return s.fwd.Forward(emadb.Message{
		Time:    ev.time,
		Topic:   ev.topic,
		Station: station,
		Kind:    kind,
		Payload: ev.payload,
	})
}

// reconcile brings the broker subscriptions in line with the desired set.
// Topics are unsubscribed before new ones are subscribed.
func (s *Subscriber) reconcile() {
	unsub, sub := Diff(s.active, s.desired)
	if len(unsub) > 0 {
		log.Printf("info: mqtt: unsubscribing from %v", unsub)
		s.await(s.client.Unsubscribe(unsub...), evUnsubscribe, s.gen)
	} else {
		log.Print("debug: mqtt: no need to unsubscribe")
	}
	if len(sub) > 0 {
		log.Printf("info: mqtt: subscribing to %v", sub)
		s.await(s.client.SubscribeMultiple(sub, nil), evSubscribe, s.gen)
	} else {
		log.Print("debug: mqtt: no need to subscribe")
	}
	s.active = copySubs(s.desired)
	s.routes.Set(s.opts.Topics...)
	log.Printf("debug: mqtt: accepting messages on %v", s.routes.Filters())
}

// Diff returns the topics to unsubscribe from and the subscriptions to
// make to go from active to desired. A topic whose QoS changed appears in
// both.
func Diff(active, desired map[string]byte) (unsubscribe []string, subscribe map[string]byte) {
	for t, q := range active {
		if dq, ok := desired[t]; !ok || dq != q {
			unsubscribe = append(unsubscribe, t)
		}
	}
	sort.Strings(unsubscribe)
	for t, q := range desired {
		if aq, ok := active[t]; !ok || aq != q {
			if subscribe == nil {
				subscribe = make(map[string]byte)
			}
			subscribe[t] = q
		}
	}
	return unsubscribe, subscribe
}

func copySubs(m map[string]byte) map[string]byte {
	if m == nil {
		return nil
	}
	c := make(map[string]byte, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
