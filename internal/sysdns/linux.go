//go:build linux

package sysdns

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/AdguardTeam/golibs/osutil/executil"
)

// linuxBackend manages DNS via systemd-resolved when available, falling
// back to direct /etc/resolv.conf editing between well-known markers
// otherwise.
type linuxBackend struct {
	cmdCons executil.CommandConstructor
}

func newBackend() (b backend, err error) {
	return &linuxBackend{cmdCons: executil.SystemCommandConstructor{}}, nil
}

// resolvedDropInPath is the systemd-resolved drop-in this backend installs.
const resolvedDropInPath = "/etc/systemd/resolved.conf.d/netshieldd.conf"

// resolvConfPath is the resolver configuration file the file-editing
// fallback reads and edits.
const resolvConfPath = "/etc/resolv.conf"

const (
	markerBegin = "# BEGIN NETSHIELDD MANAGED BLOCK"
	markerEnd   = "# END NETSHIELDD MANAGED BLOCK"
)

func (b *linuxBackend) platformName() (name string) { return "linux" }

// detectInterface extracts the interface associated with the default
// route interface-detection rule for Linux.
func (b *linuxBackend) detectInterface(ctx context.Context) (iface string, err error) {
	_, out, err := runCommand(ctx, b.cmdCons, "ip", "route", "show", "default")
	if err != nil {
		return "", fmt.Errorf("running ip route: %w", err)
	}

	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}

	return "", fmt.Errorf("no default route found in %q", out)
}

// readResolvers prefers systemd-resolved's status output and falls back to
// parsing /etc/resolv.conf directly.
func (b *linuxBackend) readResolvers(ctx context.Context, iface string) (r OriginalResolvers, err error) {
	if addrs, ok := b.readResolvedStatus(ctx, iface); ok {
		return NewResolverList(addrs), nil
	}

	return b.readResolvConf()
}

// readResolvedStatus parses `resolvectl dns <iface>` output, returning
// ok=false if systemd-resolved is unavailable or the call fails.
func (b *linuxBackend) readResolvedStatus(ctx context.Context, iface string) (addrs []netip.Addr, ok bool) {
	code, out, err := runCommand(ctx, b.cmdCons, "resolvectl", "dns", iface)
	if err != nil || code != 0 {
		return nil, false
	}

	idx := bytes.IndexByte(out, ':')
	if idx < 0 {
		return nil, false
	}

	for _, f := range strings.Fields(string(out[idx+1:])) {
		a, pErr := netip.ParseAddr(f)
		if pErr == nil {
			addrs = append(addrs, a)
		}
	}

	return addrs, len(addrs) > 0
}

// readResolvConf parses nameserver lines out of /etc/resolv.conf.
func (b *linuxBackend) readResolvConf() (r OriginalResolvers, err error) {
	f, err := os.Open(resolvConfPath)
	if err != nil {
		return r, fmt.Errorf("opening %s: %w", resolvConfPath, err)
	}
	defer f.Close()

	var addrs []netip.Addr

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "nameserver") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		a, pErr := netip.ParseAddr(fields[1])
		if pErr == nil {
			addrs = append(addrs, a)
		}
	}

	if err = sc.Err(); err != nil {
		return r, fmt.Errorf("reading %s: %w", resolvConfPath, err)
	}

	if len(addrs) == 0 {
		return r, fmt.Errorf("no nameserver entries found in %s", resolvConfPath)
	}

	return NewResolverList(addrs), nil
}

// setResolvers writes a systemd-resolved drop-in pointing at resolvers and
// restarts the service; if that is unavailable, it falls back to editing
// resolvConfPath between markerBegin and markerEnd.
func (b *linuxBackend) setResolvers(ctx context.Context, iface string, resolvers []netip.Addr) (err error) {
	if b.hasResolved(ctx) {
		return b.setViaResolved(ctx, resolvers)
	}

	return b.setViaResolvConf(resolvers)
}

func (b *linuxBackend) hasResolved(ctx context.Context) (ok bool) {
	code, _, err := runCommand(ctx, b.cmdCons, "systemctl", "is-active", "systemd-resolved")

	return err == nil && code == 0
}

func (b *linuxBackend) setViaResolved(ctx context.Context, resolvers []netip.Addr) (err error) {
	dir := "/etc/systemd/resolved.conf.d"
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	var sb strings.Builder
	sb.WriteString("[Resolve]\nDNS=")

	for i, a := range resolvers {
		if i > 0 {
			sb.WriteByte(' ')
		}

		sb.WriteString(a.String())
	}

	sb.WriteString("\n")

	if err = os.WriteFile(resolvedDropInPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", resolvedDropInPath, err)
	}

	code, _, err := runCommand(ctx, b.cmdCons, "systemctl", "reload-or-restart", "systemd-resolved")
	if err != nil {
		return fmt.Errorf("restarting systemd-resolved: %w", err)
	}

	if code != 0 {
		return fmt.Errorf("systemctl reload-or-restart systemd-resolved exited %d", code)
	}

	return nil
}

func (b *linuxBackend) setViaResolvConf(resolvers []netip.Addr) (err error) {
	var block strings.Builder
	block.WriteString(markerBegin + "\n")

	for _, a := range resolvers {
		block.WriteString("nameserver " + a.String() + "\n")
	}

	block.WriteString(markerEnd + "\n")

	return replaceManagedBlock(resolvConfPath, block.String())
}

// restoreAutomatic removes the managed drop-in/block and restarts
// systemd-resolved so the system reasserts whatever DHCP provides.
func (b *linuxBackend) restoreAutomatic(ctx context.Context, iface string) (err error) {
	_ = os.Remove(resolvedDropInPath)

	if rmErr := removeManagedBlock(resolvConfPath); rmErr != nil {
		return fmt.Errorf("removing managed block: %w", rmErr)
	}

	if b.hasResolved(ctx) {
		_, _, _ = runCommand(ctx, b.cmdCons, "systemctl", "reload-or-restart", "systemd-resolved")
	}

	return nil
}

// probePoisonedReplacement always returns the "dhcp" sentinel on Linux:
// there is no cheap native way to recover the DHCP-supplied resolver once
// the configured value has been overwritten.
func (b *linuxBackend) probePoisonedReplacement(
	ctx context.Context,
	iface string,
) (r OriginalResolvers, err error) {
	return NewDHCPSentinel(), nil
}

// replaceManagedBlock rewrites path, replacing any existing
// markerBegin/markerEnd block with content, or appending content if no such
// block exists.
func replaceManagedBlock(path string, content string) (err error) {
	existing, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	updated := spliceManagedBlock(string(existing), content)

	return os.WriteFile(path, []byte(updated), 0o644)
}

// removeManagedBlock rewrites path with its managed block, if any, deleted.
func removeManagedBlock(path string) (err error) {
	return replaceManagedBlock(path, "")
}

// spliceManagedBlock returns existing with its markerBegin..markerEnd
// section, if present, replaced by content (or removed, if content is
// empty); otherwise content is appended.
func spliceManagedBlock(existing string, content string) (result string) {
	begin := strings.Index(existing, markerBegin)
	end := strings.Index(existing, markerEnd)

	if begin < 0 || end < 0 || end < begin {
		if content == "" {
			return existing
		}

		if existing != "" && !strings.HasSuffix(existing, "\n") {
			existing += "\n"
		}

		return existing + content
	}

	end += len(markerEnd)
	if end < len(existing) && existing[end] == '\n' {
		end++
	}

	return existing[:begin] + content + existing[end:]
}
