package daemon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AdguardTeam/golibs/osutil"
	"github.com/netshield/netshieldd/internal/sysdns"
)

// CLIOptions is the exported form of the parsed command-line arguments,
// for use by package main.
type CLIOptions struct {
	BlocklistPath           string
	DryRun                  bool
	StatusAction            bool
	EnableAction            bool
	DisableAction           bool
	ForceRestoreDNSAction   bool
	TestDNSResolutionAction bool
	ServiceAction           string

	controlAddr string
}

// ControlAddr returns the Control Interface address a one-shot action
// should talk to.
func (o CLIOptions) ControlAddr() (addr string) {
	if o.controlAddr != "" {
		return o.controlAddr
	}

	return defaultConfig().Control.Addr
}

// Effect is a function run for its side effects (such as printing help)
// instead of starting the daemon.
type Effect = effect

// ParseArgs parses os.Args and returns the exported CLIOptions form.
func ParseArgs() (o CLIOptions, eff Effect, err error) {
	parsed, eff, err := parseArgs()
	if err != nil {
		return o, nil, err
	}

	o = CLIOptions{
		BlocklistPath:           parsed.blocklistPath,
		DryRun:                  parsed.dryRun,
		StatusAction:            parsed.statusAction,
		EnableAction:            parsed.enableAction,
		DisableAction:           parsed.disableAction,
		ForceRestoreDNSAction:   parsed.forceRestoreDNSAction,
		TestDNSResolutionAction: parsed.testDNSResolutionAction,
		ServiceAction:           parsed.serviceAction,
	}

	return o, eff, nil
}

// RunAsService runs d under the OS service manager's control.
func RunAsService(logger *slog.Logger, d *Daemon) (err error) {
	return runAsService(logger, d)
}

// ControlService performs a service-manager action (install, uninstall,
// start, stop, restart, status) against d.
func ControlService(ctx context.Context, logger *slog.Logger, d *Daemon, action string) (err error) {
	return controlService(ctx, logger, d, action)
}

// Serve blocks until a termination signal is received, then runs d's
// shutdown sequence and returns the resulting exit code.
func Serve(ctx context.Context, logger *slog.Logger, d *Daemon) (code osutil.ExitCode) {
	h := newSignalHandler(logger, d)

	return h.handle(ctx)
}

// IsAnotherInstance reports whether err indicates that another instance
// was already running at startup (exit code 2).
func IsAnotherInstance(err error) (ok bool) {
	return errors.Is(err, ErrAnotherInstance)
}

// IsIntegrityFailure reports whether err indicates the startup DNS
// integrity check failed (exit code 3).
func IsIntegrityFailure(err error) (ok bool) {
	return errors.Is(err, sysdns.ErrDNSIntegrityFailed)
}
