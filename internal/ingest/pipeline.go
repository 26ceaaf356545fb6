// Package ingest turns bus messages into stored records.
package ingest

import (
	"log"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/metrics"
	"github.com/pkg/errors"
)

// Pipeline resolves the station of a message, decodes its payload and
// submits the frame to the sink. Only permanent sink errors are returned;
// bad input and busy sinks are logged and the message is dropped.
type Pipeline struct {
	stations emadb.Stations
	sink     emadb.Sink
	metrics  *metrics.Metrics
}

var _ emadb.Forwarder = (*Pipeline)(nil)

func New(stations emadb.Stations, sink emadb.Sink, m *metrics.Metrics) *Pipeline {
	return &Pipeline{stations: stations, sink: sink, metrics: m}
}

func (p *Pipeline) Forward(msg emadb.Message) error {
	key, ok, err := p.stations.Resolve(msg.Station)
	if err != nil {
		if emadb.IsBusy(err) {
			log.Printf("warning: %s: station lookup: %s", msg.Topic, err)
			p.metrics.Dropped(msg.Kind, metrics.Busy)
			return nil
		}
		return errors.Wrapf(err, "resolving station %q", msg.Station)
	}
	if !ok {
		log.Printf("warning: ignoring message from unknown station %q (%s)", msg.Station, msg.Topic)
		p.metrics.Dropped(msg.Kind, metrics.UnknownStation)
		return nil
	}

	// decoding is deferred until the station is known
	frame, err := ema.Decode(msg.Kind, msg.Payload, msg.Time)
	if err != nil {
		log.Printf("error: %s: %s", msg.Topic, err)
		p.metrics.Dropped(msg.Kind, metrics.Malformed)
		return nil
	}
	p.metrics.Decoded(msg.Kind)

	n, err := p.sink.Submit(msg.Kind, key, frame)
	p.metrics.Stored(msg.Kind, n)
	if err != nil {
		if emadb.IsBusy(err) {
			log.Printf("warning: %s: %d/%d records stored: %s", msg.Topic, n, len(frame.Records), err)
			p.metrics.Dropped(msg.Kind, metrics.Busy)
			return nil
		}
		return errors.Wrapf(err, "storing %s frame of %s", msg.Kind, msg.Station)
	}
	log.Printf("debug: %s: %d/%d records stored", msg.Topic, n, len(frame.Records))
	return nil
}
