//go:build !unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/astrorafael/emadb/internal/reactor"
)

// handleSignals stops the reactor on SIGTERM; reload, pause and resume
// have no signal on this platform.
func handleSignals(ctx context.Context, r *reactor.Reactor) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case <-ctx.Done():
		case <-ch:
			r.Stop()
		}
	}()
}
