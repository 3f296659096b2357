//go:build windows

package sysdns

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/osutil/executil"
)

// windowsBackend manages DNS via the `netsh interface ip` command family:
// set a static primary/secondary pair for the detected connected
// interface.
type windowsBackend struct {
	cmdCons executil.CommandConstructor
}

func newBackend() (b backend, err error) {
	return &windowsBackend{cmdCons: executil.SystemCommandConstructor{}}, nil
}

func (b *windowsBackend) platformName() (name string) { return "win32" }

var interfaceLineRe = regexp.MustCompile(`(?m)^\s*\d+\s+\d+\s+(Connected|Enabled)\s+\S+\s+(.+?)\s*$`)

// detectInterface picks the first interface `netsh interface show
// interface` reports as connected.
func (b *windowsBackend) detectInterface(ctx context.Context) (name string, err error) {
	_, out, err := runCommand(ctx, b.cmdCons, "netsh", "interface", "show", "interface")
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}

	m := interfaceLineRe.FindStringSubmatch(string(out))
	if m == nil {
		return "", fmt.Errorf("no connected interface found")
	}

	return m[2], nil
}

var dnsServerLineRe = regexp.MustCompile(`(?m)^\s*(?:\d+\.\d+\.\d+\.\d+|[0-9a-fA-F:]+)\s*$`)

// readResolvers parses `netsh interface ip show dns name="<iface>"` output.
func (b *windowsBackend) readResolvers(ctx context.Context, iface string) (r OriginalResolvers, err error) {
	_, out, err := runCommand(ctx, b.cmdCons, "netsh", "interface", "ip", "show", "dns", "name="+iface)
	if err != nil {
		return r, fmt.Errorf("reading dns config for %q: %w", iface, err)
	}

	text := string(out)
	if strings.Contains(strings.ToLower(text), "dhcp") {
		return NewDHCPSentinel(), nil
	}

	var addrs []netip.Addr
	for _, line := range dnsServerLineRe.FindAllString(text, -1) {
		a, pErr := netip.ParseAddr(strings.TrimSpace(line))
		if pErr == nil {
			addrs = append(addrs, a)
		}
	}

	if len(addrs) == 0 {
		return NewDHCPSentinel(), nil
	}

	return NewResolverList(addrs), nil
}

// setResolvers installs resolvers, in order, on iface: the first as a
// static primary, the rest added as secondaries.
func (b *windowsBackend) setResolvers(ctx context.Context, iface string, resolvers []netip.Addr) (err error) {
	if len(resolvers) == 0 {
		return fmt.Errorf("setResolvers: no resolvers given")
	}

	code, _, err := runCommand(ctx, b.cmdCons,
		"netsh", "interface", "ip", "set", "dns", "name="+iface, "static", resolvers[0].String(), "primary",
	)
	if err != nil {
		return fmt.Errorf("setting primary dns on %q: %w", iface, err)
	}

	if code != 0 {
		return fmt.Errorf("netsh set dns exited %d", code)
	}

	for i, a := range resolvers[1:] {
		index := i + 2

		code, _, err = runCommand(ctx, b.cmdCons,
			"netsh", "interface", "ip", "add", "dns", "name="+iface, a.String(), fmt.Sprintf("index=%d", index),
		)
		if err != nil {
			return fmt.Errorf("adding secondary dns %s on %q: %w", a, iface, err)
		}

		if code != 0 {
			return fmt.Errorf("netsh add dns exited %d", code)
		}
	}

	return nil
}

// restoreAutomatic reverts iface to DHCP-assigned DNS.
func (b *windowsBackend) restoreAutomatic(ctx context.Context, iface string) (err error) {
	code, _, err := runCommand(ctx, b.cmdCons, "netsh", "interface", "ip", "set", "dns", "name="+iface, "dhcp")
	if err != nil {
		return fmt.Errorf("restoring automatic dns on %q: %w", iface, err)
	}

	if code != 0 {
		return fmt.Errorf("netsh set dns dhcp exited %d", code)
	}

	return nil
}

// dhcpLeaseDNSRe extracts the first "DNS Servers" block from `ipconfig /all`
// output.  The match is not tied to any particular adapter.
var dhcpLeaseDNSRe = regexp.MustCompile(`DNS Servers[ .]*:\s*([0-9a-fA-F.:,\s]+)`)

// probePoisonedReplacement reads the DNS servers listed in the first
// "DNS Servers" block of `ipconfig /all`, the Windows-specific
// poisoned-backup recovery path.  It keeps every non-loopback address in
// that block; it does not check that the block belongs to iface or that the
// servers were assigned by DHCP.  It returns the "dhcp" sentinel when the
// command fails or no usable address is found.
func (b *windowsBackend) probePoisonedReplacement(
	ctx context.Context,
	iface string,
) (r OriginalResolvers, err error) {
	_, out, err := runCommand(ctx, b.cmdCons, "ipconfig", "/all")
	if err != nil {
		return NewDHCPSentinel(), nil
	}

	m := dhcpLeaseDNSRe.FindStringSubmatch(string(out))
	if m == nil {
		return NewDHCPSentinel(), nil
	}

	var addrs []netip.Addr
	for _, f := range strings.Fields(strings.ReplaceAll(m[1], ",", " ")) {
		a, pErr := netip.ParseAddr(strings.TrimSpace(f))
		if pErr == nil && !a.IsLoopback() {
			addrs = append(addrs, a)
		}
	}

	if len(addrs) == 0 {
		return NewDHCPSentinel(), nil
	}

	return NewResolverList(addrs), nil
}
