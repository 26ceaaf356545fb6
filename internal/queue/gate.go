// Package queue holds inbound messages while the agent is paused or
// reconfiguring and replays them afterwards.
package queue

import (
	"log"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/metrics"
	"github.com/pkg/errors"
)

// Gate forwards messages to the next stage unless it is held. Held
// messages are kept in one FIFO per kind. The gate lives in memory only;
// whatever it holds is lost on exit.
//
// A Gate is not safe for concurrent use. It is driven by the reactor.
type Gate struct {
	next    emadb.Forwarder
	metrics *metrics.Metrics
	held    bool
	pending [ema.NumKinds][]emadb.Message
}

var _ emadb.Forwarder = (*Gate)(nil)

func NewGate(next emadb.Forwarder, m *metrics.Metrics) *Gate {
	return &Gate{next: next, metrics: m}
}

// Forward passes msg on, or enqueues it while the gate is held.
func (g *Gate) Forward(msg emadb.Message) error {
	if !g.held {
		return g.next.Forward(msg)
	}
	k := msg.Kind
	if k < 0 || int(k) >= ema.NumKinds {
		return errors.Errorf("queue: invalid kind %d", k)
	}
	g.pending[k] = append(g.pending[k], msg)
	log.Printf("debug: queue: %s holds %d messages", k, len(g.pending[k]))
	g.metrics.QueueDepth(k, len(g.pending[k]))
	return nil
}

// Hold starts enqueuing messages.
func (g *Gate) Hold() {
	if !g.held {
		log.Print("info: queue: holding incoming messages")
	}
	g.held = true
}

// Held reports whether messages are being enqueued.
func (g *Gate) Held() bool { return g.held }

// Release replays the held messages, one kind after the other in FIFO
// order, and reopens the gate. A message is only removed once it was
// forwarded; if forwarding fails the rest is kept and the gate stays held.
func (g *Gate) Release() error {
	for _, k := range ema.Kinds {
		q := g.pending[k]
		if len(q) > 0 {
			log.Printf("info: queue: replaying %d %s messages", len(q), k)
		}
		for len(q) > 0 {
			if err := g.next.Forward(q[0]); err != nil {
				g.pending[k] = q
				g.metrics.QueueDepth(k, len(q))
				return errors.Wrapf(err, "queue: replaying %s", k)
			}
			q[0] = emadb.Message{}
			q = q[1:]
		}
		g.pending[k] = nil
		g.metrics.QueueDepth(k, 0)
	}
	g.held = false
	return nil
}

// Len returns the number of held messages of kind k.
func (g *Gate) Len(k ema.Kind) int {
	if k < 0 || int(k) >= ema.NumKinds {
		return 0
	}
	return len(g.pending[k])
}
