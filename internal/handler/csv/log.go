// Package csv archives bus messages as CSV rows (RFC3339 arrival time,
// topic, payload) and replays such archives.
package csv

import (
	"encoding/csv"
	"io"
	"log"
	"time"

	"github.com/astrorafael/emadb/internal/emadb"
)

// Logger is a Forwarder that writes every message to an archive before
// passing it on. Rows are written by a separate goroutine so a slow disk
// does not stall the reactor. A Logger is driven by a single goroutine.
type Logger struct {
	csvWriter *csv.Writer
	records   chan emadb.Message
	next      emadb.Forwarder
	done      chan struct{}
	dropped   int
}

const queueSize = 64

var _ emadb.Forwarder = (*Logger)(nil)

func NewLogger(out io.Writer, next emadb.Forwarder) *Logger {
	logger := &Logger{
		csvWriter: csv.NewWriter(out),
		records:   make(chan emadb.Message, queueSize),
		next:      next,
		done:      make(chan struct{}),
	}
	go logger.run()
	return logger
}

// Forward queues msg for the archive and passes it on. When the writer
// falls behind by more than the queue size, rows are dropped from the
// archive; the message itself is always forwarded.
func (w *Logger) Forward(msg emadb.Message) error {
	select {
	case w.records <- msg:
	default:
		w.dropped++
		if w.dropped%queueSize == 1 {
			log.Printf("warning: csv archive is falling behind, %d rows dropped", w.dropped)
		}
	}
	return w.next.Forward(msg)
}

// Close flushes pending rows. Forward must not be called afterwards.
func (w *Logger) Close() {
	close(w.records)
	<-w.done
}

func (w *Logger) run() {
	defer close(w.done)
	for r := range w.records {
		err := w.csvWriter.Write([]string{
			r.Time.Format(time.RFC3339),
			r.Topic,
			string(r.Payload),
		})

		if err != nil {
			log.Println("error: unable to write CSV", err)
		}
		w.csvWriter.Flush()
	}
}
