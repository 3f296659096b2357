package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/kardianos/service"
)

// serviceName identifies the installed OS service.
const (
	serviceName        = "netshieldd"
	serviceDisplayName = "NetShield DNS Blocker"
	serviceDescription = "System-wide DNS content blocker and sinkhole proxy"
)

// program adapts a *Daemon to the [service.Interface] kardianos/service
// expects.
type program struct {
	daemon *Daemon
	logger *slog.Logger
}

var _ service.Interface = (*program)(nil)

// Start implements the service.Interface interface for *program. The
// Daemon's own startup sequence (blocklist load, proxy bind, DNS
// reconfigure) is fast enough to run synchronously here; everything it
// leaves running (the proxy listener, the control server) continues in
// its own goroutines, so Start itself returns promptly either way.
func (p *program) Start(_ service.Service) (err error) {
	ctx := context.Background()

	if startErr := p.daemon.Start(ctx); startErr != nil {
		p.logger.ErrorContext(ctx, "starting daemon under service manager", slogutil.KeyError, startErr)

		return startErr
	}

	return nil
}

// Stop implements the service.Interface interface for *program.
func (p *program) Stop(_ service.Service) (err error) {
	ctx := context.Background()

	p.logger.InfoContext(ctx, "service stopping")

	code := p.daemon.Shutdown(ctx)
	if code != osutil.ExitCodeSuccess {
		return fmt.Errorf("shutdown returned exit code %d", code)
	}

	return nil
}

// newServiceConfig returns the kardianos/service configuration for this
// daemon.
func newServiceConfig() (c *service.Config) {
	return &service.Config{
		Name:        serviceName,
		DisplayName: serviceDisplayName,
		Description: serviceDescription,
		Option: service.KeyValue{
			"RunAtLoad": true,
			"Restart":   "always",
		},
	}
}

// controlService performs action (one of install, uninstall, start, stop,
// restart, status) against the OS service manager.
func controlService(ctx context.Context, logger *slog.Logger, d *Daemon, action string) (err error) {
	prg := &program{daemon: d, logger: logger}

	svc, err := service.New(prg, newServiceConfig())
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}

	if action == "status" {
		status, statusErr := svc.Status()
		if statusErr != nil {
			return fmt.Errorf("querying service status: %w", statusErr)
		}

		logger.InfoContext(ctx, "service status", "status", statusLabel(status))

		return nil
	}

	if err = service.Control(svc, action); err != nil {
		return fmt.Errorf("executing service action %q: %w", action, err)
	}

	return nil
}

// statusLabel renders st as a short human-readable string.
func statusLabel(st service.Status) (label string) {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// runAsService runs the daemon under the OS service manager's control,
// used when main is invoked via the service manager itself (action
// "run"/no explicit service action).
func runAsService(logger *slog.Logger, d *Daemon) (err error) {
	prg := &program{daemon: d, logger: logger}

	svc, err := service.New(prg, newServiceConfig())
	if err != nil {
		return fmt.Errorf("initializing service: %w", err)
	}

	return svc.Run()
}
