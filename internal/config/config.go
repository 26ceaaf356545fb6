// Package config loads the agent configuration from a TOML file.
package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/comail/colog"
	"github.com/pkg/errors"
)

type Config struct {
	Server   Server
	MQTT     MQTT
	DBase    DBase `toml:"dbase"`
	InfluxDB InfluxDB
}

type Server struct {
	Tick        Duration
	Log         string
	MetricsAddr string `toml:"metrics_addr"`
}

type MQTT struct {
	Broker            string
	ClientID          string `toml:"client_id"`
	Username          string
	Password          string
	TLSServerCert     string `toml:"tls_server_cert"`
	TLSServerInsecure bool   `toml:"tls_server_insecure"`
	KeepAlive         Duration
	ConnectTimeout    Duration `toml:"connect_timeout"`
	MaxRetry          Duration `toml:"max_retry"`
	Topics            []string
	QoS               int
	Silence           Duration
	CSVLog            string `toml:"csv_log"`
}

type DBase struct {
	File        string
	Stations    string
	PurgePeriod Duration `toml:"purge_period"`
}

type InfluxDB struct {
	URL             string
	Username        string
	Password        string
	Database        string
	RetentionPolicy string `toml:"retention_policy"`
	Timeout         Duration
	// Scripts maps a frame kind (current, average, minmax, samples) to a
	// JavaScript function returning extra fields for each record.
	Scripts map[string]string
}

// Duration is a time.Duration written as a string ("90s", "2h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads path, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(raw))
}

func Parse(data string) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	for _, key := range md.Undecoded() {
		log.Printf("warning: config: unknown key %s", key)
	}
	if !md.IsDefined("mqtt", "qos") {
		cfg.MQTT.QoS = 1
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Tick.Duration == 0 {
		c.Server.Tick.Duration = time.Second
	}
	if c.Server.Log == "" {
		c.Server.Log = "info"
	}
	if c.MQTT.KeepAlive.Duration == 0 {
		c.MQTT.KeepAlive.Duration = 60 * time.Second
	}
	if c.MQTT.ConnectTimeout.Duration == 0 {
		c.MQTT.ConnectTimeout.Duration = 10 * time.Second
	}
	if c.MQTT.MaxRetry.Duration == 0 {
		c.MQTT.MaxRetry.Duration = 2 * time.Hour
	}
	if c.DBase.PurgePeriod.Duration == 0 {
		c.DBase.PurgePeriod.Duration = time.Minute
	}
	if c.InfluxDB.Database == "" {
		c.InfluxDB.Database = "ema"
	}
	if c.InfluxDB.Timeout.Duration == 0 {
		c.InfluxDB.Timeout.Duration = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if _, err := c.Server.Level(); err != nil {
		return err
	}
	if c.Server.Tick.Duration < 10*time.Millisecond {
		return errors.Errorf("server.tick %s is too short", c.Server.Tick)
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required")
	}
	if len(c.MQTT.Topics) == 0 {
		return errors.New("mqtt.topics is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.Errorf("mqtt.qos %d out of range", c.MQTT.QoS)
	}
	if c.MQTT.KeepAlive.Duration < 2*c.Server.Tick.Duration {
		return errors.Errorf("mqtt.keepalive %s must be at least two ticks", c.MQTT.KeepAlive)
	}
	if c.MQTT.Silence.Duration < 0 {
		return errors.New("mqtt.silence must not be negative")
	}
	if c.DBase.File == "" {
		return errors.New("dbase.file is required")
	}
	for kind := range c.InfluxDB.Scripts {
		switch kind {
		case "current", "average", "minmax", "samples":
		default:
			return errors.Errorf("influxdb.scripts: unknown kind %q", kind)
		}
	}
	return nil
}

// Level returns the minimum colog level for the configured log level.
func (s Server) Level() (colog.Level, error) {
	switch strings.ToLower(s.Log) {
	case "trace":
		return colog.LTrace, nil
	case "debug":
		return colog.LDebug, nil
	case "info":
		return colog.LInfo, nil
	case "warning", "warn":
		return colog.LWarning, nil
	case "error":
		return colog.LError, nil
	}
	return 0, errors.Errorf("server.log: unknown level %q", s.Log)
}
