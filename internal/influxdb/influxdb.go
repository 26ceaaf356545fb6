// Package influxdb mirrors decoded frames into an InfluxDB 1.x database.
package influxdb

import (
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	client "github.com/influxdata/influxdb1-client"
	"github.com/pkg/errors"

	"github.com/astrorafael/emadb/internal/ema"
	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/transform"
)

type Config struct {
	URL             string
	Username        string
	Password        string
	Database        string
	RetentionPolicy string
	Timeout         time.Duration
	Scripts         map[string]string
}

type writer interface {
	Write(bp client.BatchPoints) (*client.Response, error)
}

// Sink writes one point per record. The measurement is the frame kind;
// station and measurement type are tags. Points are keyed by the station
// timestamp, so writing a frame twice overwrites the same points.
type Sink struct {
	client          writer
	database        string
	retentionPolicy string

	mu      sync.Mutex
	scripts [ema.NumKinds]*transform.Transformer
}

var _ emadb.Sink = (*Sink)(nil)

func New(conf Config) (*Sink, error) {
	clientCfg := client.NewConfig()
	u, err := url.Parse(conf.URL)
	if err != nil {
		return nil, err
	}
	clientCfg.URL = *u
	clientCfg.Username = conf.Username
	clientCfg.Password = conf.Password
	clientCfg.Timeout = conf.Timeout

	c, err := client.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}
	s := newSink(c, conf.Database, conf.RetentionPolicy)
	if err := s.SetScripts(conf.Scripts); err != nil {
		return nil, err
	}
	return s, nil
}

func newSink(w writer, database, rp string) *Sink {
	return &Sink{client: w, database: database, retentionPolicy: rp}
}

// SetScripts compiles the per kind scripts and replaces the current ones.
// On error the current scripts are kept.
func (s *Sink) SetScripts(scripts map[string]string) error {
	var compiled [ema.NumKinds]*transform.Transformer
	for name, js := range scripts {
		kind := kindByName(name)
		if kind < 0 {
			return errors.Errorf("influxdb: script for unknown kind %q", name)
		}
		t, err := transform.New(js)
		if err != nil {
			return errors.Wrapf(err, "influxdb: %s script", name)
		}
		compiled[kind] = t
	}
	s.mu.Lock()
	s.scripts = compiled
	s.mu.Unlock()
	return nil
}

func kindByName(name string) ema.Kind {
	for _, k := range ema.Kinds {
		if k.String() == name {
			return k
		}
	}
	return -1
}

// Submit writes the records of f. Unreachable or failing servers are
// reported as busy; only requests the server rejects are permanent errors.
func (s *Sink) Submit(kind ema.Kind, station int, f ema.Frame) (int, error) {
	if len(f.Records) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	script := s.scripts[kind]
	s.mu.Unlock()

	pts := make([]client.Point, 0, len(f.Records))
	for _, rec := range f.Records {
		pts = append(pts, point(kind, station, rec, script))
	}
	if err := s.writePoints(pts); err != nil {
		return 0, err
	}
	return len(pts), nil
}

func point(kind ema.Kind, station int, rec ema.Record, script *transform.Transformer) client.Point {
	fields := transform.Fields(rec)
	delete(fields, "type")
	delete(fields, "timestamp")
	if kind != ema.CurrentSample {
		delete(fields, "lag")
	}
	tags := map[string]string{
		"station": strconv.Itoa(station),
		"type":    rec.Type.String(),
	}
	if script != nil {
		extra, err := script.Apply(rec)
		if err != nil {
			log.Printf("warning: influxdb: %s script: %v", kind, err)
		} else {
			for k, v := range extra.Fields {
				fields[k] = v
			}
			for k, v := range extra.Tags {
				tags[k] = v
			}
		}
	}
	return client.Point{
		Measurement: kind.String(),
		Tags:        tags,
		Fields:      fields,
		Time:        rec.Timestamp,
		Precision:   "s",
	}
}

func (s *Sink) writePoints(pts []client.Point) error {
	bps := client.BatchPoints{
		Points:          pts,
		Database:        s.database,
		RetentionPolicy: s.retentionPolicy,
	}

	resp, err := s.client.Write(bps)
	if resp != nil && resp.Err != nil {
		// the server answered with an error status
		if rejected(resp.Err.Error()) {
			return errors.Wrap(resp.Err, "influxdb: write rejected")
		}
		return errors.Wrapf(emadb.ErrBusy, "influxdb: %v", resp.Err)
	}
	if err != nil {
		if isTransport(err) {
			return errors.Wrapf(emadb.ErrBusy, "influxdb: %v", err)
		}
		return errors.Wrap(err, "influxdb")
	}
	return nil
}

// isTransport reports whether err happened while talking to the server
// (dial, DNS, reset, timeout) rather than while building the request.
func isTransport(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Markers of the 4xx answers of the InfluxDB write endpoint. These
// requests will fail again unchanged. The client does not expose the
// status code, only the body.
var rejections = []string{
	"database not found",
	"retention policy not found",
	"authorization failed",
	"unable to parse",
	"partial write",
	"field type conflict",
	"Request Entity Too Large",
}

func rejected(body string) bool {
	for _, r := range rejections {
		if strings.Contains(body, r) {
			return true
		}
	}
	return false
}
