// Package server wires the agent together: configuration, the reactor,
// the MQTT subscriber and the ingest chain down to the sinks.
//
// Messages flow subscriber -> archive (optional) -> gate -> pipeline ->
// SQLite store and InfluxDB (optional).
package server

import (
	"context"
	"io"
	"log"

	"github.com/comail/colog"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/astrorafael/emadb/internal/config"
	"github.com/astrorafael/emadb/internal/emadb"
	"github.com/astrorafael/emadb/internal/handler/csv"
	"github.com/astrorafael/emadb/internal/influxdb"
	"github.com/astrorafael/emadb/internal/ingest"
	"github.com/astrorafael/emadb/internal/metrics"
	"github.com/astrorafael/emadb/internal/mqtt"
	"github.com/astrorafael/emadb/internal/queue"
	"github.com/astrorafael/emadb/internal/reactor"
	"github.com/astrorafael/emadb/internal/sqlstore"
)

type Option func(*Server)

// WithClientFactory replaces the paho client factory.
func WithClientFactory(f mqtt.NewClientFunc) Option {
	return func(s *Server) { s.newClient = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

type Server struct {
	path      string
	cfg       *config.Config
	clientID  string
	newClient mqtt.NewClientFunc
	metrics   *metrics.Metrics

	r        *reactor.Reactor
	store    *sqlstore.Store
	purger   *sqlstore.Purger
	influx   *influxdb.Sink
	pipeline *ingest.Pipeline
	gate     *queue.Gate
	archive  *csv.Logger
	head     emadb.Forwarder
	sub      *mqtt.Subscriber

	closers []io.Closer
}

// New loads the configuration file at path and builds every component.
// Nothing touches the network until Run.
func New(path string, opts ...Option) (*Server, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	s := &Server{path: path, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if err := s.build(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	cfg := s.cfg
	s.r = reactor.New(reactor.WithTick(cfg.Server.Tick.Duration))
	s.r.SetHooks(hooks{s})

	db, err := sqlstore.Open(cfg.DBase.File)
	if err != nil {
		return err
	}
	s.store = sqlstore.New(db)
	s.closers = append(s.closers, s.store)
	seed, err := sqlstore.LoadSeed(cfg.DBase.Stations)
	if err != nil {
		return err
	}
	if err := s.store.Init(seed); err != nil {
		return err
	}
	s.purger = sqlstore.NewPurger(s.store, cfg.DBase.PurgePeriod.Duration, s.r.Tick())
	if err := s.r.AddWorker(s.purger); err != nil {
		return err
	}

	sinks := emadb.MultiSink{s.store}
	if cfg.InfluxDB.URL != "" {
		s.influx, err = influxdb.New(influxConfig(cfg))
		if err != nil {
			return errors.Wrap(err, "influxdb")
		}
		sinks = append(sinks, s.influx)
	}

	s.pipeline = ingest.New(s.store, sinks, s.metrics)
	s.gate = queue.NewGate(s.pipeline, s.metrics)
	s.head = s.gate
	if cfg.MQTT.CSVLog != "" {
		out := &lumberjack.Logger{
			Filename:   cfg.MQTT.CSVLog,
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		}
		s.closers = append(s.closers, out)
		s.archive = csv.NewLogger(out, s.gate)
		s.head = s.archive
	}

	s.clientID = mqtt.ClientID(cfg.MQTT.ClientID)
	s.sub, err = mqtt.NewSubscriber(s.r, s.mqttOptions(cfg), s.head, s.metrics, s.newClient)
	return err
}

func (s *Server) mqttOptions(cfg *config.Config) mqtt.Options {
	return mqtt.Options{
		Broker:            cfg.MQTT.Broker,
		ClientID:          s.clientID,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		TLSServerCert:     cfg.MQTT.TLSServerCert,
		TLSServerInsecure: cfg.MQTT.TLSServerInsecure,
		KeepAlive:         cfg.MQTT.KeepAlive.Duration,
		ConnectTimeout:    cfg.MQTT.ConnectTimeout.Duration,
		MaxRetry:          cfg.MQTT.MaxRetry.Duration,
		Silence:           cfg.MQTT.Silence.Duration,
		Topics:            cfg.MQTT.Topics,
		QoS:               byte(cfg.MQTT.QoS),
	}
}

func influxConfig(cfg *config.Config) influxdb.Config {
	return influxdb.Config{
		URL:             cfg.InfluxDB.URL,
		Username:        cfg.InfluxDB.Username,
		Password:        cfg.InfluxDB.Password,
		Database:        cfg.InfluxDB.Database,
		RetentionPolicy: cfg.InfluxDB.RetentionPolicy,
		Timeout:         cfg.InfluxDB.Timeout.Duration,
		Scripts:         cfg.InfluxDB.Scripts,
	}
}

func (s *Server) Config() *config.Config { return s.cfg }

// Reactor returns the event loop. Its Reload, Pause, Resume and Stop
// methods are the way to control a running server.
func (s *Server) Reactor() *reactor.Reactor { return s.r }

// Forwarder returns the head of the ingest chain.
func (s *Server) Forwarder() emadb.Forwarder { return s.head }

// Run connects to the broker and runs the reactor until it stops.
func (s *Server) Run(ctx context.Context) error {
	log.Printf("info: connecting to %s as %s", s.cfg.MQTT.Broker, s.clientID)
	if err := s.sub.Start(); err != nil {
		return err
	}
	return s.r.Run(ctx)
}

// Replay feeds an archive straight into the pipeline, bypassing the
// broker.
func (s *Server) Replay(filename string) error {
	n, err := csv.ReplayFile(filename, s.pipeline)
	log.Printf("info: replayed %d messages from %s", n, filename)
	return err
}

// Close disconnects from the broker and releases files and databases.
// Closing twice is a no-op.
func (s *Server) Close() error {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.archive != nil {
		s.archive.Close()
		s.archive = nil
	}
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// hooks services the reactor control requests.
type hooks struct {
	s *Server
}

// Reload re-reads the configuration file. A file that no longer loads is
// reported and the running configuration is kept.
func (h hooks) Reload() error {
	s := h.s
	log.Printf("info: reloading %s", s.path)
	cfg, err := config.Load(s.path)
	if err != nil {
		log.Printf("error: reload: %s", err)
		return nil
	}
	if cfg.Server.Tick != s.cfg.Server.Tick || cfg.DBase.File != s.cfg.DBase.File ||
		cfg.InfluxDB.URL != s.cfg.InfluxDB.URL || cfg.MQTT.CSVLog != s.cfg.MQTT.CSVLog {
		log.Print("warning: reload: tick, database file, influxdb url and csv log need a restart")
	}
	if lvl, err := cfg.Server.Level(); err == nil {
		colog.SetMinLevel(lvl)
	}
	if cfg.MQTT.ClientID != s.cfg.MQTT.ClientID {
		s.clientID = mqtt.ClientID(cfg.MQTT.ClientID)
	}
	s.sub.Reload(s.mqttOptions(cfg))

	seed, err := sqlstore.LoadSeed(cfg.DBase.Stations)
	if err != nil {
		log.Printf("error: reload: %s", err)
	} else if err := s.store.Reload(seed); err != nil {
		if !emadb.IsBusy(err) {
			return err
		}
		log.Printf("warning: reload: %s", err)
	}
	s.purger.SetPeriod(cfg.DBase.PurgePeriod.Duration)
	if s.influx != nil {
		if err := s.influx.SetScripts(cfg.InfluxDB.Scripts); err != nil {
			log.Printf("error: reload: %s", err)
		}
	}

	cfg.Server.Tick = s.cfg.Server.Tick
	cfg.DBase.File = s.cfg.DBase.File
	cfg.InfluxDB.URL = s.cfg.InfluxDB.URL
	cfg.MQTT.CSVLog = s.cfg.MQTT.CSVLog
	s.cfg = cfg
	return nil
}

func (h hooks) Pause() error {
	h.s.gate.Hold()
	return nil
}

// Resume replays everything held while paused. A sink failure during the
// replay stops the reactor; the remaining messages stay held.
func (h hooks) Resume() error {
	return h.s.gate.Release()
}
