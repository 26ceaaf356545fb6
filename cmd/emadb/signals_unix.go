//go:build unix

package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/astrorafael/emadb/internal/reactor"
)

// handleSignals turns process signals into reactor control requests until
// ctx is done.
func handleSignals(ctx context.Context, r *reactor.Reactor) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, unix.SIGHUP, unix.SIGUSR1, unix.SIGUSR2, unix.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				log.Printf("debug: received %s", sig)
				switch sig {
				case unix.SIGHUP:
					r.Reload()
				case unix.SIGUSR1:
					r.Pause()
				case unix.SIGUSR2:
					r.Resume()
				case unix.SIGTERM:
					r.Stop()
				}
			}
		}
	}()
}
