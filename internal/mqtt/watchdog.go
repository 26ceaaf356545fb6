package mqtt

import (
	"log"

	"github.com/astrorafael/emadb/internal/timer"
)

// watchdog drops the broker connection after a period without messages,
// so that a half-open TCP connection does not go unnoticed.
type watchdog struct {
	*timer.OneShot
	s *Subscriber
}

func (w *watchdog) arm() {
	if w.s.opts.Silence <= 0 || w.s.r.HasAlarm(w) {
		return
	}
	w.Reset()
	w.s.r.AddAlarm(w)
}

func (w *watchdog) disarm() {
	if w.s.r.HasAlarm(w) {
		w.s.r.DelAlarm(w)
	}
}

func (w *watchdog) OnTimeout() error {
	s := w.s
	if s.state != Connected {
		return nil
	}
	log.Printf("warning: mqtt: no messages for %s, dropping connection", w.Duration())
	go s.client.Disconnect(0)
	s.lost(s.gen, ErrSilence)
	return nil
}
