// Command emadb subscribes to the EMA weather station topics of an MQTT
// broker and stores every reading in a SQLite database, optionally
// mirroring it to InfluxDB.
//
// Signals: SIGHUP reloads the configuration, SIGUSR1 pauses storing,
// SIGUSR2 resumes it, SIGTERM and SIGINT stop the agent.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/comail/colog"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/astrorafael/emadb/internal/metrics"
	"github.com/astrorafael/emadb/internal/server"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Printf("error: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("emadb", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "/etc/emadb/emadb.toml", "configuration file")
	console := flags.BoolP("console", "k", false, "log to the console instead of the log file")
	logFile := flags.StringP("log-file", "l", "/var/log/emadb.log", "log file")
	maxSize := flags.IntP("max-size", "m", 10, "log file size in megabytes before rotation")
	replay := flags.String("replay", "", "store the messages of a CSV archive (- for stdin) and exit")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println("emadb", version)
		return nil
	}

	colog.Register()
	colog.ParseFields(true)
	colog.SetMinLevel(colog.LInfo)
	if !*console {
		colog.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    *maxSize,
			MaxBackups: 5,
		})
	}
	log.Printf("info: emadb %s starting", version)

	m := metrics.New()
	srv, err := server.New(*configFile, server.WithMetrics(m))
	if err != nil {
		return err
	}
	defer srv.Close()
	cfg := srv.Config()
	if lvl, err := cfg.Server.Level(); err == nil {
		colog.SetMinLevel(lvl)
	}

	if *replay != "" {
		return srv.Replay(*replay)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stop()
	handleSignals(ctx, srv.Reactor())

	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Server.MetricsAddr); err != nil {
				log.Printf("error: %s", err)
			}
		}()
	}
	return srv.Run(ctx)
}
