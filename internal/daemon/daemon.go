// Package daemon implements the process lifecycle manager: it owns
// process-wide state, enforces single-instance operation, coordinates the
// ordered startup and shutdown of the blocklist store, DNS proxy, system
// DNS configurator, and control server, and persists the last
// intentional blocking choice across restarts.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/google/uuid"
	"github.com/netshield/netshieldd/internal/blocklist"
	"github.com/netshield/netshieldd/internal/control"
	"github.com/netshield/netshieldd/internal/dnsproxy"
	"github.com/netshield/netshieldd/internal/stats"
	"github.com/netshield/netshieldd/internal/sysdns"
)

// shutdownTimeout bounds the entire shutdown sequence.
const shutdownTimeout = 15 * time.Second

// Options are the runtime overrides accepted from the command line,
// layered on top of the on-disk configuration.
type Options struct {
	// ConfigPath is the YAML configuration file to load. Empty means use
	// defaults only.
	ConfigPath string

	// BlocklistPath, if non-empty, overrides the configured blocklist
	// path.
	BlocklistPath string

	// DryRun, if true, forces dry-run mode regardless of the config file.
	DryRun bool
}

// Daemon is the Lifecycle Manager: the single owner of DaemonState,
// PidRecord, and the Blocklist snapshot pointer.
type Daemon struct {
	conf   configuration
	logger *slog.Logger

	bl       *blocklist.Blocklist
	watcher  *blocklist.Watcher
	proxy    *dnsproxy.Proxy
	sysdns   *sysdns.Configurator
	st       *stats.Stats
	ctrl     *control.Server
	exporter *stats.Exporter

	// toggleMu serializes concurrent calls to Toggle so overlapping
	// enable/disable requests queue instead of racing.
	toggleMu sync.Mutex

	// bootID distinguishes this process incarnation from any other that
	// has ever held the same PID, surfaced via the health endpoint.
	bootID uuid.UUID

	isBlocking   atomic.Bool
	shuttingDown atomic.Bool
	startedAt    time.Time

	healthCtx    context.Context
	healthCancel context.CancelFunc
}

// New constructs a Daemon from opts. It does not start anything; call
// Start to run the startup sequence.
func New(opts Options, logger *slog.Logger) (d *Daemon, err error) {
	conf, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.BlocklistPath != "" {
		conf.DNS.BlocklistPath = opts.BlocklistPath
	}

	if opts.DryRun {
		conf.DryRun = true
	}

	cfg, err := sysdns.New(sysdns.Config{
		BackupPath:      conf.SysDNS.BackupPath,
		Logger:          logger.With(slogutil.KeyPrefix, "sysdns"),
		DryRun:          conf.DryRun,
		Verify:          conf.SysDNS.Verify,
		ManualInterface: conf.SysDNS.Interface,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing system dns configurator: %w", err)
	}

	d = &Daemon{
		conf:   conf,
		logger: logger,
		bl:     blocklist.New(),
		sysdns: cfg,
		st:     stats.New(),
		bootID: uuid.New(),
	}

	d.proxy = dnsproxy.New(dnsproxy.Config{
		Blocklist: d.bl,
		Stats:     d.st,
		Upstreams: conf.DNS.Upstreams,
		Logger:    logger.With(slogutil.KeyPrefix, "dnsproxy"),
	})

	d.ctrl = control.New(control.Config{
		Addr:    conf.Control.Addr,
		Backend: d,
		Logger:  logger.With(slogutil.KeyPrefix, "control"),
	})

	if conf.Metrics.Addr != "" {
		d.exporter = stats.NewExporter(d.st, logger.With(slogutil.KeyPrefix, "metrics"))
	}

	return d, nil
}

// Start runs the daemon's startup sequence:
//
//  1. Acquire single-instance.
//  2. Write own PID file.
//  3. Initialize Configurator.
//  4. Run the DNS integrity check.
//  5. Load Blocklist.
//  6. Read persisted DaemonState and restore intent.
//  7. Start Control Interface.
//
// The Proxy is always started (this daemon's resolved Open Question, see
// DESIGN.md) so toggling on is instant and health checks always have
// something to probe; Configure is only invoked when persisted intent says
// blocking is on.
func (d *Daemon) Start(ctx context.Context) (err error) {
	d.startedAt = time.Now()

	if err = acquireSingleInstance(d.conf.PidFile); err != nil {
		return err
	}

	if !d.conf.DryRun {
		if err = writePIDFile(d.conf.PidFile); err != nil {
			return fmt.Errorf("writing pid file: %w", err)
		}
	}

	if _, err = d.sysdns.Interface(ctx); err != nil {
		return fmt.Errorf("detecting network interface: %w", err)
	}

	if err = d.sysdns.IntegrityCheck(ctx); err != nil {
		return err
	}

	if err = d.loadBlocklist(ctx); err != nil {
		return fmt.Errorf("loading blocklist: %w", err)
	}

	if err = d.startWatcher(ctx); err != nil {
		d.logger.WarnContext(ctx, "starting blocklist watcher", slogutil.KeyError, err)
	}

	port, err := d.proxy.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting dns proxy: %w", err)
	}

	d.healthCtx, d.healthCancel = context.WithCancel(context.Background())
	go d.proxy.RunHealthChecks(d.healthCtx, func(healthErr error) {
		d.logger.ErrorContext(ctx, "dns proxy health check failed", slogutil.KeyError, healthErr)
	})

	wantBlocking := d.readIntentOrDefault(ctx)
	if wantBlocking {
		if err = d.sysdns.Configure(ctx, port); err != nil {
			d.logger.ErrorContext(ctx, "applying persisted blocking intent at startup", slogutil.KeyError, err)
		} else {
			d.isBlocking.Store(true)
		}
	}

	if err = d.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting control interface: %w", err)
	}

	if d.exporter != nil {
		if err = d.exporter.Start(ctx, d.conf.Metrics.Addr); err != nil {
			d.logger.WarnContext(ctx, "starting metrics exporter", slogutil.KeyError, err)
			d.exporter = nil
		}
	}

	d.logger.InfoContext(ctx, "daemon started",
		"port", port,
		"blocking", d.isBlocking.Load(),
		"domains", d.bl.Len(),
	)

	return nil
}

// ReloadBlocklist reloads the configured blocklist file and installs it,
// the same atomic Load+Swap path the file watcher and SIGHUP both trigger.
// Errors are logged rather than returned: a signal handler has nothing to
// do with a returned error, and a failed reload must never take down an
// otherwise-healthy daemon.
func (d *Daemon) ReloadBlocklist(ctx context.Context) {
	if err := d.loadBlocklist(ctx); err != nil {
		d.logger.ErrorContext(ctx, "reloading blocklist on signal", slogutil.KeyError, err)
	}
}

// loadBlocklist loads the configured blocklist file and installs it.
func (d *Daemon) loadBlocklist(ctx context.Context) (err error) {
	loaded, ls, err := blocklist.Load(ctx, d.logger, d.conf.DNS.BlocklistPath)
	if err != nil {
		return err
	}

	d.bl.Swap(loaded)

	d.logger.InfoContext(ctx, "blocklist loaded",
		"accepted", ls.Accepted,
		"rejected", ls.Rejected,
		"emergency", ls.Emergency,
	)

	return nil
}

// startWatcher wires the blocklist file watcher's reload callback to
// loadBlocklist's own Load+Swap path.
func (d *Daemon) startWatcher(ctx context.Context) (err error) {
	reload := func(reloadCtx context.Context, path string) (stats blocklist.LoadStats, reloadErr error) {
		loaded, ls, loadErr := blocklist.Load(reloadCtx, d.logger, path)
		if loadErr != nil {
			return ls, loadErr
		}

		d.bl.Swap(loaded)

		return ls, nil
	}

	w, err := blocklist.NewWatcher(d.conf.DNS.BlocklistPath, reload, d.logger.With(slogutil.KeyPrefix, "blocklist"))
	if err != nil {
		return err
	}

	d.watcher = w
	go w.Run(ctx)

	return nil
}

// readIntentOrDefault reads the persisted DaemonState and returns its
// IsBlocking field, defaulting to false (never block by surprise on a
// brand-new install) when no state file exists.
func (d *Daemon) readIntentOrDefault(ctx context.Context) (isBlocking bool) {
	s, err := readState(d.conf.StateFile)
	if err != nil {
		d.logger.DebugContext(ctx, "no persisted daemon state, defaulting to disabled", slogutil.KeyError, err)

		return false
	}

	return s.IsBlocking
}

// persistState writes the current blocking intent to the state file.
func (d *Daemon) persistState() (err error) {
	return writeState(d.conf.StateFile, daemonState{
		IsBlocking: d.isBlocking.Load(),
		Timestamp:  time.Now(),
		Version:    Version(),
	})
}

// Shutdown runs the daemon's shutdown sequence:
//
//  1. Mark shutting-down (idempotent guard).
//  2. Persist DaemonState.
//  3. Stop Control Interface.
//  4. Stop DNS Proxy.
//  5. Restore system DNS via Configurator.
//  6. Remove PID file.
//
// It returns osutil.ExitCodeSuccess on a clean shutdown within
// shutdownTimeout, or osutil.ExitCodeFailure if the deadline is exceeded
// or any step fails — in both cases, best-effort DNS restoration has
// already been attempted before returning.
func (d *Daemon) Shutdown(ctx context.Context) (code osutil.ExitCode) {
	if !d.shuttingDown.CompareAndSwap(false, true) {
		return osutil.ExitCodeSuccess
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	done := make(chan osutil.ExitCode, 1)
	go func() { done <- d.shutdownSequence(ctx) }()

	select {
	case code = <-done:
		return code
	case <-ctx.Done():
		d.logger.ErrorContext(ctx, "shutdown sequence exceeded deadline, forcing exit")

		restoreCtx, restoreCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer restoreCancel()

		if err := d.sysdns.Restore(restoreCtx); err != nil {
			d.logger.ErrorContext(restoreCtx, "best-effort dns restore after deadline", slogutil.KeyError, err)
		}

		return osutil.ExitCodeFailure
	}
}

// shutdownSequence performs the ordered shutdown steps and returns the
// resulting exit code.
func (d *Daemon) shutdownSequence(ctx context.Context) (code osutil.ExitCode) {
	code = osutil.ExitCodeSuccess

	if err := d.persistState(); err != nil {
		d.logger.ErrorContext(ctx, "persisting daemon state", slogutil.KeyError, err)
		code = osutil.ExitCodeFailure
	}

	if d.healthCancel != nil {
		d.healthCancel()
	}

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.WarnContext(ctx, "closing blocklist watcher", slogutil.KeyError, err)
		}
	}

	if err := d.ctrl.Stop(ctx); err != nil {
		d.logger.ErrorContext(ctx, "stopping control interface", slogutil.KeyError, err)
		code = osutil.ExitCodeFailure
	}

	if d.exporter != nil {
		if err := d.exporter.Stop(ctx); err != nil {
			d.logger.WarnContext(ctx, "stopping metrics exporter", slogutil.KeyError, err)
		}
	}

	if err := d.proxy.Stop(ctx); err != nil {
		d.logger.ErrorContext(ctx, "stopping dns proxy", slogutil.KeyError, err)
		code = osutil.ExitCodeFailure
	}

	if err := d.sysdns.Restore(ctx); err != nil {
		d.logger.ErrorContext(ctx, "restoring system dns", slogutil.KeyError, err)
		code = osutil.ExitCodeFailure
	}

	if !d.conf.DryRun {
		if err := removePIDFile(d.conf.PidFile); err != nil {
			d.logger.ErrorContext(ctx, "removing pid file", slogutil.KeyError, err)
			code = osutil.ExitCodeFailure
		}
	}

	d.logger.InfoContext(ctx, "daemon stopped", "exit_code", code)

	return code
}

// Toggle flips the blocking state via the serialized toggle path. On
// enable, it runs Configure; on disable, it runs Restore. The proxy
// itself is never stopped by Toggle — only whether traffic is routed to
// it at the OS level changes.
func (d *Daemon) Toggle(ctx context.Context) (isBlocking bool, err error) {
	d.toggleMu.Lock()
	defer d.toggleMu.Unlock()

	if d.isBlocking.Load() {
		err = d.sysdns.Restore(ctx)
		if err != nil {
			return d.isBlocking.Load(), fmt.Errorf("disabling: %w", err)
		}

		d.isBlocking.Store(false)
	} else {
		err = d.sysdns.Configure(ctx, d.proxy.Port())
		if err != nil {
			return d.isBlocking.Load(), fmt.Errorf("enabling: %w", err)
		}

		d.isBlocking.Store(true)
	}

	if err = d.persistState(); err != nil {
		d.logger.ErrorContext(ctx, "persisting daemon state after toggle", slogutil.KeyError, err)
	}

	return d.isBlocking.Load(), nil
}

// ForceRestoreDNS restores system DNS unconditionally, bypassing any
// running daemon, for the --force-restore-dns CLI action.
func (d *Daemon) ForceRestoreDNS(ctx context.Context) (err error) {
	if _, err = d.sysdns.Interface(ctx); err != nil {
		return fmt.Errorf("detecting network interface: %w", err)
	}

	return d.sysdns.Restore(ctx)
}
