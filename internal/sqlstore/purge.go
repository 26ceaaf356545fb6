package sqlstore

import (
	"log"
	"time"

	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/reactor"
	"github.com/astrorafael/emadb/internal/timer"
)

// Purger is a reactor worker deleting the realtime samples of previous
// days. It only acts during the first two periods after midnight (UTC),
// which is enough for a daily purge while keeping the table small.
type Purger struct {
	*timer.Periodic
	store  *Store
	period time.Duration
	now    func() time.Time
}

var _ reactor.Worker = (*Purger)(nil)

func NewPurger(s *Store, period, tick time.Duration) *Purger {
	return &Purger{
		Periodic: timer.NewPeriodic(period, tick),
		store:    s,
		period:   period,
		now:      time.Now,
	}
}

// SetPeriod changes how often the purge window is checked.
func (p *Purger) SetPeriod(period time.Duration) {
	p.period = period
	p.Periodic.SetPeriod(period)
}

func (p *Purger) Work() error {
	now := p.now().UTC()
	midnight := now.Truncate(24 * time.Hour)
	if now.Sub(midnight) >= 2*p.period {
		return nil
	}
	today := now.Year()*10000 + int(now.Month())*100 + now.Day()
	n, err := p.store.DeleteRealTimeBefore(today)
	if err != nil {
		if emadb.IsBusy(err) {
			log.Printf("warning: sqlstore: %s", err)
			return nil
		}
		return err
	}
	log.Printf("debug: sqlstore: deleted %d realtime samples before %d", n, today)
	return nil
}
