package daemon

import (
	"context"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
)

// signalHandler processes incoming OS signals and drives the Daemon's
// shutdown path.
type signalHandler struct {
	logger *slog.Logger
	daemon *Daemon
	signal chan os.Signal
}

// newSignalHandler returns a signalHandler wired to d. logger must not be
// nil.
func newSignalHandler(logger *slog.Logger, d *Daemon) (h *signalHandler) {
	h = &signalHandler{
		logger: logger,
		daemon: d,
		signal: make(chan os.Signal, 1),
	}

	notifier := osutil.DefaultSignalNotifier{}
	osutil.NotifyShutdownSignal(notifier, h.signal)

	return h
}

// handle blocks, processing signals as they arrive: a reconfiguration
// signal (SIGHUP) triggers a blocklist reload and nothing else, while any
// other shutdown signal runs the Daemon's shutdown sequence and returns
// the resulting exit code. It is intended to be called from main's
// goroutine, not spawned as one.
func (h *signalHandler) handle(ctx context.Context) (code osutil.ExitCode) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	for sig := range h.signal {
		h.logger.InfoContext(ctx, "received signal", "signal", sig)

		if osutil.IsReconfigureSignal(sig) {
			h.daemon.ReloadBlocklist(ctx)

			continue
		}

		return h.daemon.Shutdown(ctx)
	}

	return osutil.ExitCodeSuccess
}
