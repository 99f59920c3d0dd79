package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// handleSignals runs until ctx is done. SIGINT and SIGTERM cancel the run.
// SIGUSR1 refreshes every module and the upstream generator. The header's
// stop and cont signals pause and resume output and are passed on to the
// upstream child.
func (a *App) handleSignals(ctx context.Context, cancel context.CancelFunc, h protocol.Header) {
	stopSig, contSig := catchable(h.StopSignal), catchable(h.ContSignal)

	sigs := a.sigs
	if sigs == nil {
		ch := make(chan os.Signal, 4)
		watch := []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGUSR1}
		if stopSig != 0 {
			watch = append(watch, stopSig)
		}
		if contSig != 0 {
			watch = append(watch, contSig)
		}
		signal.Notify(ch, watch...)
		defer signal.Stop(ch)
		sigs = ch
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch {
			case sig == unix.SIGINT || sig == unix.SIGTERM:
				a.logger.Info("received shutdown signal", "signal", sig)
				cancel()
				return
			case sig == unix.SIGUSR1:
				a.logger.Debug("refresh requested by signal")
				a.refreshAll()
			case stopSig != 0 && sig == stopSig:
				a.logger.Debug("bar hidden, pausing output")
				a.pipe.SetPaused(true)
				a.forward(stopSig)
			case contSig != 0 && sig == contSig:
				a.logger.Debug("bar visible, resuming output")
				a.forward(contSig)
				a.pipe.SetPaused(false)
			}
		}
	}
}

// catchable converts a header signal number, returning 0 for absent values
// and for signals a process cannot handle.
func catchable(n *int) syscall.Signal {
	if n == nil || *n <= 0 {
		return 0
	}
	sig := syscall.Signal(*n)
	if sig == unix.SIGKILL || sig == unix.SIGSTOP {
		return 0
	}
	return sig
}

func (a *App) forward(sig syscall.Signal) {
	if a.upstream == nil {
		return
	}
	if err := a.upstream.Signal(sig); err != nil {
		a.logger.Debug("signal not forwarded", "signal", sig, "error", err)
	}
}

// refreshAll reruns every module now and asks upstream for a fresh frame.
func (a *App) refreshAll() {
	if a.sched != nil {
		a.sched.RefreshAll()
	}
	if a.upstream != nil {
		if err := a.upstream.Refresh(); err != nil {
			a.logger.Debug("upstream refresh failed", "error", err)
		}
	}
}
