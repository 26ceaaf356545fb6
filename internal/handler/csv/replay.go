package csv

import (
	"encoding/csv"
	"io"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
)

// ReplayFile replays the archive in filename, "-" for stdin.
func ReplayFile(filename string, fwd emadb.Forwarder) (int, error) {
	var r io.Reader
	if filename == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}
	return Replay(r, fwd)
}

// Replay forwards the archived messages in order and returns how many were
// forwarded. Rows with an unknown topic are skipped. The first forwarding
// error stops the replay.
func Replay(r io.Reader, fwd emadb.Forwarder) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	n := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		msg := emadb.Message{
			Topic:   record[1],
			Payload: []byte(record[2]),
		}
		msg.Time, err = time.Parse(time.RFC3339, record[0])
		if err != nil {
			log.Println("error: found invalid timestamp in CSV", err)
		}
		kind, station, ok := ema.ParseTopic(msg.Topic)
		if !ok {
			log.Printf("warning: replay: skipping message on unknown topic %s", msg.Topic)
			continue
		}
		msg.Kind, msg.Station = kind, station

		if err := fwd.Forward(msg); err != nil {
			return n, errors.Wrapf(err, "replaying line %d", n+1)
		}
		n++
	}
}
