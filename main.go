// Command netshieldd is a system-wide DNS content blocker: a local proxy
// that sinkholes queries for blocklisted domains and forwards everything
// else upstream, plus the system DNS reconfiguration that points the host
// at it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/kardianos/service"
	"github.com/netshield/netshieldd/internal/control"
	"github.com/netshield/netshieldd/internal/daemon"
	"github.com/netshield/netshieldd/internal/sysdns"
)

func main() {
	ctx := context.Background()

	exec := os.Args[0]
	opts, eff, err := daemon.ParseArgs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if eff != nil {
		if err = eff(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		return
	}

	logger, err := daemon.NewLogger("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if opts.ServiceAction != "" {
		os.Exit(int(runServiceAction(ctx, logger, opts)))

		return
	}

	if opts.StatusAction || opts.EnableAction || opts.DisableAction {
		os.Exit(int(runOneShotAction(ctx, logger, opts)))

		return
	}

	if opts.TestDNSResolutionAction {
		os.Exit(int(runTestDNSResolution(ctx, logger)))

		return
	}

	d, err := daemon.New(daemon.Options{
		BlocklistPath: opts.BlocklistPath,
		DryRun:        opts.DryRun,
	}, logger)
	if err != nil {
		logger.ErrorContext(ctx, "constructing daemon", slogutil.KeyError, err)
		os.Exit(int(osutil.ExitCodeFailure))
	}

	if opts.ForceRestoreDNSAction {
		if err = d.ForceRestoreDNS(ctx); err != nil {
			logger.ErrorContext(ctx, "force-restoring system dns", slogutil.KeyError, err)
			os.Exit(int(osutil.ExitCodeFailure))
		}

		return
	}

	if !service.Interactive() {
		if err = daemon.RunAsService(logger, d); err != nil {
			logger.ErrorContext(ctx, "running under service manager", slogutil.KeyError, err)
			os.Exit(int(osutil.ExitCodeFailure))
		}

		return
	}

	runForeground(ctx, logger, d, exec)
}

// runForeground runs the daemon's full startup sequence and blocks until a
// termination signal arrives.
func runForeground(ctx context.Context, logger *slog.Logger, d *daemon.Daemon, exec string) {
	err := d.Start(ctx)
	if err != nil {
		if daemon.IsAnotherInstance(err) {
			logger.ErrorContext(ctx, "another instance is already running", slogutil.KeyError, err)
			os.Exit(2)
		}

		if daemon.IsIntegrityFailure(err) {
			logger.ErrorContext(ctx, "dns integrity check failed, refusing to start", slogutil.KeyError, err)
			os.Exit(3)
		}

		logger.ErrorContext(ctx, "starting daemon", slogutil.KeyError, err)

		code := d.Shutdown(ctx)
		os.Exit(int(code))
	}

	logger.InfoContext(ctx, "netshieldd running", "exec", exec, "pid", os.Getpid())

	code := daemon.Serve(ctx, logger, d)
	os.Exit(int(code))
}

// runOneShotAction implements the --status/--enable/--disable CLI
// actions, each of which talks to an already-running daemon over the
// control server instead of starting one.
func runOneShotAction(ctx context.Context, logger *slog.Logger, opts daemon.CLIOptions) (code osutil.ExitCode) {
	client := control.NewClient(opts.ControlAddr())

	switch {
	case opts.StatusAction:
		status, err := client.Status(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "querying status", slogutil.KeyError, err)

			return osutil.ExitCodeFailure
		}

		fmt.Printf("running=%t blocking=%t domains=%d seen=%d blocked=%d allowed=%d uptime=%s\n",
			status.IsRunning, status.IsBlocking, status.DomainsInList,
			status.QueriesSeen, status.QueriesBlocked, status.QueriesAllowed, status.Uptime)

		return osutil.ExitCodeSuccess
	case opts.EnableAction, opts.DisableAction:
		status, err := client.Status(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "querying status before toggle", slogutil.KeyError, err)

			return osutil.ExitCodeFailure
		}

		wantBlocking := opts.EnableAction
		if status.IsBlocking == wantBlocking {
			fmt.Printf("blocking=%t (unchanged)\n", status.IsBlocking)

			return osutil.ExitCodeSuccess
		}

		result, err := client.Toggle(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "toggling", slogutil.KeyError, err)

			return osutil.ExitCodeFailure
		}

		fmt.Printf("blocking=%t\n", result.IsBlocking)

		return osutil.ExitCodeSuccess
	default:
		return osutil.ExitCodeSuccess
	}
}

// runServiceAction implements the --service install|uninstall|start|stop|
// restart|status CLI action: it registers (or queries) this binary as a
// native OS service instead of running the daemon in the foreground.
func runServiceAction(ctx context.Context, logger *slog.Logger, opts daemon.CLIOptions) (code osutil.ExitCode) {
	d, err := daemon.New(daemon.Options{
		BlocklistPath: opts.BlocklistPath,
		DryRun:        opts.DryRun,
	}, logger)
	if err != nil {
		logger.ErrorContext(ctx, "constructing daemon", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	if err = daemon.ControlService(ctx, logger, d, opts.ServiceAction); err != nil {
		logger.ErrorContext(ctx, "service action failed", "action", opts.ServiceAction, slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}

// runTestDNSResolution implements the --test-dns-resolution CLI action.
func runTestDNSResolution(ctx context.Context, logger *slog.Logger) (code osutil.ExitCode) {
	if err := sysdns.ProbeExternalResolution(ctx); err != nil {
		logger.ErrorContext(ctx, "external dns resolution test failed", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	fmt.Println("external dns resolution: ok")

	return osutil.ExitCodeSuccess
}
