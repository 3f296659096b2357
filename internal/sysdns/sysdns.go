package sysdns

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"time"

	aghliberrors "github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Error kinds surfaced by this package.
const (
	// ErrPermissionDenied means a privileged subprocess call failed for
	// lack of elevation.  The caller should surface operator guidance.
	ErrPermissionDenied aghliberrors.Error = "permission denied reconfiguring system DNS"

	// ErrConfigureFailed means Configure could not install the loopback
	// proxy as the active resolver.  If the resolvers had already been
	// changed when the failure was detected, the Configurator has attempted
	// a Restore before returning this.
	ErrConfigureFailed aghliberrors.Error = "configuring system DNS failed"

	// ErrRestoreFailed means neither the stored backup nor automatic mode
	// could be restored. This should not normally happen; it means the
	// platform backend itself is failing.
	ErrRestoreFailed aghliberrors.Error = "restoring system DNS failed"

	// ErrDNSIntegrityFailed means the startup integrity check found
	// loopback-pointing resolvers that could not be repaired. The daemon
	// must refuse to start.
	ErrDNSIntegrityFailed aghliberrors.Error = "dns integrity check failed"

	// ErrProxyNotAnswering means Configure's pre-flight probe of the local
	// proxy did not get a reply; Configure refuses to proceed rather than
	// break host DNS for a resolver that is not listening.
	ErrProxyNotAnswering aghliberrors.Error = "local proxy is not answering"

	// ErrNoBackup means Restore was called with neither an on-disk nor an
	// in-memory backup available.
	ErrNoBackup aghliberrors.Error = "no dns backup available"
)

// settleDelay is how long Configure waits for resolver-change propagation
// before re-reading and verifying it stuck.
const settleDelay = 2 * time.Second

// subprocessTimeout bounds every privileged subprocess invocation a
// platform backend makes.
const subprocessTimeout = 10 * time.Second

// publicFallback is installed as the secondary resolver whenever the
// loopback proxy is installed as primary: a proxy crash must still leave
// the host with partial connectivity.
var publicFallback = netip.MustParseAddr("8.8.8.8")

// loopbackAddr is the Configurator's own resolver address.
var loopbackAddr = netip.MustParseAddr("127.0.0.1")

// backend is the platform-specific half of the Configurator. Exactly one
// implementation is compiled in, selected by build tag (linux.go, darwin.go,
// windows.go).
type backend interface {
	// platformName identifies the backend for the persisted Backup record.
	platformName() (name string)

	// detectInterface auto-detects the interface or service to manage.
	detectInterface(ctx context.Context) (iface string, err error)

	// readResolvers reads the resolvers currently configured on iface.
	readResolvers(ctx context.Context, iface string) (r OriginalResolvers, err error)

	// setResolvers installs resolvers, in order, on iface.
	setResolvers(ctx context.Context, iface string, resolvers []netip.Addr) (err error)

	// restoreAutomatic reverts iface to automatic (DHCP-assigned) DNS.
	restoreAutomatic(ctx context.Context, iface string) (err error)

	// probePoisonedReplacement is invoked when Backup observes a
	// loopback-pointing resolver. On platforms that can cheaply recover
	// the true DHCP-assigned resolver (Windows), it returns that value;
	// elsewhere it returns the "dhcp" sentinel.
	probePoisonedReplacement(ctx context.Context, iface string) (r OriginalResolvers, err error)
}

// Config configures a Configurator.
type Config struct {
	// BackupPath is where the DnsBackup record is persisted.
	BackupPath string

	// Logger receives diagnostic events. Must not be nil.
	Logger *slog.Logger

	// DryRun, if true, logs intended actions instead of performing any
	// system changes. Read-only subprocesses (interface detection, reading
	// the current resolvers) still run; no resolver change is applied and
	// the backup file at BackupPath is not written.
	DryRun bool

	// Verify, if true, makes Configure re-read and confirm resolvers after
	// settleDelay.
	Verify bool

	// ManualInterface, if non-empty, overrides auto-detection of the
	// managed network interface or service.
	ManualInterface string
}

// Configurator is the platform-abstracted system DNS configurator. It is
// the single most dangerous component in the daemon: every write path
// ends in a Restore attempt on failure, and the interface is never left
// pointing only at loopback.
type Configurator struct {
	backend backend
	conf    Config

	// mu serializes Configure and Restore: at most one may be in flight.
	mu sync.Mutex

	iface      string
	lastBackup *Backup
}

// New constructs a Configurator bound to the current platform's backend.
func New(conf Config) (c *Configurator, err error) {
	if conf.Logger == nil {
		conf.Logger = slogutil.NewDiscardLogger()
	}

	b, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("selecting dns backend for %s: %w", runtime.GOOS, err)
	}

	c = &Configurator{backend: b, conf: conf}

	if conf.ManualInterface != "" {
		if err = validateInterfaceName(conf.ManualInterface); err != nil {
			return nil, fmt.Errorf("manual interface override: %w", err)
		}

		c.iface = conf.ManualInterface
	}

	return c, nil
}

// Interface returns the detected interface or service name, detecting it
// first if this is the first call.
func (c *Configurator) Interface(ctx context.Context) (iface string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.interfaceLocked(ctx)
}

// interfaceLocked returns c.iface, detecting it if empty. c.mu must be held.
func (c *Configurator) interfaceLocked(ctx context.Context) (iface string, err error) {
	if c.iface != "" {
		return c.iface, nil
	}

	iface, err = c.backend.detectInterface(ctx)
	if err != nil {
		return "", fmt.Errorf("detecting interface: %w", err)
	}

	if err = validateInterfaceName(iface); err != nil {
		return "", err
	}

	c.iface = iface

	return iface, nil
}

// Backup reads the current resolvers and persists them. It detects
// poisoning (a loopback-pointing observed value, left over from a
// crashed prior run) and substitutes a safe
// replacement rather than ever persisting a loopback value as "the backup
// to restore to".
func (c *Configurator) Backup(ctx context.Context) (b *Backup, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.backupLocked(ctx)
}

// backupLocked implements Backup. c.mu must be held.
func (c *Configurator) backupLocked(ctx context.Context) (b *Backup, err error) {
	iface, err := c.interfaceLocked(ctx)
	if err != nil {
		return nil, err
	}

	observed, err := c.backend.readResolvers(ctx, iface)
	if err != nil {
		return nil, fmt.Errorf("reading current resolvers: %w", err)
	}

	resolved := observed
	if observed.IsLoopbackPointing() {
		c.conf.Logger.WarnContext(ctx, "observed resolver backup is poisoned, substituting safe value",
			"interface", iface)

		resolved, err = c.backend.probePoisonedReplacement(ctx, iface)
		if err != nil {
			return nil, fmt.Errorf("recovering from poisoned backup: %w", err)
		}
	}

	b = &Backup{
		Timestamp:   timeNow(),
		Platform:    c.backend.platformName(),
		Interface:   iface,
		OriginalDNS: resolved,
	}

	if c.conf.DryRun {
		c.conf.Logger.InfoContext(ctx, "dry run: would persist dns backup", "interface", iface)
		c.lastBackup = b

		return b, nil
	}

	if err = saveBackup(c.conf.BackupPath, b); err != nil {
		return nil, fmt.Errorf("persisting dns backup: %w", err)
	}

	c.lastBackup = b

	return b, nil
}

// Configure installs the loopback proxy listening on proxyPort as the
// primary resolver, with publicFallback installed second. It refuses to
// proceed, leaving the host's prior DNS configuration untouched, if the
// proxy does not answer a real query within probeTimeout.
func (c *Configurator) Configure(ctx context.Context, proxyPort int) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.backupLocked(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}

	if err = probeLoopback(ctx, proxyPort); err != nil {
		return fmt.Errorf("%w: %w", ErrProxyNotAnswering, err)
	}

	iface, err := c.interfaceLocked(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}

	resolvers := []netip.Addr{loopbackAddr, publicFallback}

	if c.conf.DryRun {
		c.conf.Logger.InfoContext(ctx, "dry run: would set resolvers",
			"interface", iface, "resolvers", resolvers)

		return nil
	}

	err = c.backend.setResolvers(ctx, iface, resolvers)
	if err != nil {
		c.conf.Logger.ErrorContext(ctx, "configure failed, rolling back",
			slogutil.KeyError, err)

		if restoreErr := c.restoreLocked(ctx); restoreErr != nil {
			return fmt.Errorf("%w: %w (restore also failed: %w)", ErrConfigureFailed, err, restoreErr)
		}

		return fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}

	if !c.conf.Verify {
		return nil
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	current, err := c.backend.readResolvers(ctx, iface)
	if err != nil {
		return fmt.Errorf("verifying configure: %w", err)
	}

	if len(current.List()) == 0 || current.List()[0] != loopbackAddr {
		if restoreErr := c.restoreLocked(ctx); restoreErr != nil {
			return fmt.Errorf(
				"%w: resolver list after settling does not start with loopback (restore also failed: %w)",
				ErrConfigureFailed,
				restoreErr,
			)
		}

		return fmt.Errorf("%w: resolver list after settling does not start with loopback", ErrConfigureFailed)
	}

	return nil
}

// Restore reverts the interface to its pre-Configure resolvers. It never
// leaves the interface with loopback as its only resolver: any failure
// along the primary path falls back to automatic (DHCP) mode.
func (c *Configurator) Restore(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.restoreLocked(ctx)
}

// restoreLocked implements Restore. c.mu must be held.
func (c *Configurator) restoreLocked(ctx context.Context) (err error) {
	iface, err := c.interfaceLocked(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}

	b := c.lastBackup
	if b == nil {
		if loaded, loadErr := loadBackup(c.conf.BackupPath); loadErr == nil {
			b = loaded
		}
	}

	if c.conf.DryRun {
		c.conf.Logger.InfoContext(ctx, "dry run: would restore resolvers", "interface", iface)

		return nil
	}

	if b == nil {
		c.conf.Logger.WarnContext(ctx, "no dns backup available, restoring automatic mode", "interface", iface)

		return c.restoreAutomaticFallback(ctx, iface, ErrNoBackup)
	}

	switch {
	case b.OriginalDNS.IsDHCP():
		err = c.backend.restoreAutomatic(ctx, iface)
	case b.OriginalDNS.IsRaw():
		// The raw-config fallback path restores by simply re-applying the
		// DHCP-managed default; the literal file contents are retained in
		// the backup for operator forensics only.
		err = c.backend.restoreAutomatic(ctx, iface)
	default:
		err = c.backend.setResolvers(ctx, iface, b.OriginalDNS.List())
	}

	if err != nil {
		return c.restoreAutomaticFallback(ctx, iface, err)
	}

	// The persisted DnsBackup is never deleted implicitly — per spec.md
	// §3, it is only overwritten the next time Backup observes a fresh,
	// non-poisoned resolver state. Restore is idempotent precisely
	// because a second call finds the same backup still on disk and
	// reapplies the same resolvers rather than falling through to
	// automatic mode.

	return nil
}

// restoreAutomaticFallback is the last-resort path: when the primary
// restore path fails for cause (or no backup is available at all), fall
// back to automatic mode so the interface is never left with only
// loopback as a resolver. A successful fallback is a successful Restore —
// cause is logged for context, not returned as an error — so an ordinary
// shutdown with no backup to restore, or --force-restore-dns run with no
// prior Configure, reports success rather than ErrRestoreFailed.
func (c *Configurator) restoreAutomaticFallback(ctx context.Context, iface string, cause error) (err error) {
	if fallbackErr := c.backend.restoreAutomatic(ctx, iface); fallbackErr != nil {
		return fmt.Errorf("%w: %w (automatic fallback also failed: %w)", ErrRestoreFailed, cause, fallbackErr)
	}

	c.conf.Logger.WarnContext(ctx, "restored automatic dns as fallback",
		"interface", iface, slogutil.KeyError, cause)

	return nil
}

// IntegrityCheck runs the startup integrity check: before any
// reconfiguration, confirm the interface is not already stuck pointing
// at loopback from a crashed previous run. If it is, it restores automatic
// mode and verifies external resolution actually works before allowing
// startup to proceed.
func (c *Configurator) IntegrityCheck(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	iface, err := c.interfaceLocked(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDNSIntegrityFailed, err)
	}

	current, err := c.backend.readResolvers(ctx, iface)
	if err != nil {
		return fmt.Errorf("%w: reading current resolvers: %w", ErrDNSIntegrityFailed, err)
	}

	if !current.IsLoopbackPointing() {
		return nil
	}

	c.conf.Logger.WarnContext(ctx, "startup integrity check found loopback resolver, restoring automatic",
		"interface", iface)

	if c.conf.DryRun {
		return nil
	}

	if err = c.backend.restoreAutomatic(ctx, iface); err != nil {
		return fmt.Errorf("%w: restoring automatic mode: %w", ErrDNSIntegrityFailed, err)
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err = probeExternalResolution(ctx); err != nil {
		return fmt.Errorf("%w: external resolution still failing after restore: %w", ErrDNSIntegrityFailed, err)
	}

	return nil
}

// timeNow is a seam so tests can, in principle, stub the clock; production
// code always calls the real time.Now.
var timeNow = time.Now
