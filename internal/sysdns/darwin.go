//go:build darwin

package sysdns

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/osutil/executil"
)

// darwinBackend manages DNS via the `networksetup` command-line utility:
// query per-service resolvers for the preferred service
// (Wi-Fi > Ethernet > first).
type darwinBackend struct {
	cmdCons executil.CommandConstructor
}

func newBackend() (b backend, err error) {
	return &darwinBackend{cmdCons: executil.SystemCommandConstructor{}}, nil
}

func (b *darwinBackend) platformName() (name string) { return "darwin" }

var hardwarePortRe = regexp.MustCompile(`Hardware Port: (.*?)\nDevice: (.*?)\n`)

// detectInterface picks the first network service matching "wi-fi", then
// "ethernet", then the first service listed at all.
func (b *darwinBackend) detectInterface(ctx context.Context) (service string, err error) {
	_, out, err := runCommand(ctx, b.cmdCons, "networksetup", "-listallhardwareports")
	if err != nil {
		return "", fmt.Errorf("listing hardware ports: %w", err)
	}

	matches := hardwarePortRe.FindAllStringSubmatch(string(out)+"\n", -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no hardware ports found")
	}

	var first, wifi, ethernet string
	for _, m := range matches {
		port := m[1]
		lower := strings.ToLower(port)

		if first == "" {
			first = port
		}

		if wifi == "" && strings.Contains(lower, "wi-fi") {
			wifi = port
		}

		if ethernet == "" && strings.Contains(lower, "ethernet") {
			ethernet = port
		}
	}

	switch {
	case wifi != "":
		return wifi, nil
	case ethernet != "":
		return ethernet, nil
	default:
		return first, nil
	}
}

// readResolvers queries the resolvers currently set on the named network
// service via `networksetup -getdnsservers`.
func (b *darwinBackend) readResolvers(ctx context.Context, service string) (r OriginalResolvers, err error) {
	_, out, err := runCommand(ctx, b.cmdCons, "networksetup", "-getdnsservers", service)
	if err != nil {
		return r, fmt.Errorf("reading dns servers for %q: %w", service, err)
	}

	text := strings.TrimSpace(string(out))
	if strings.Contains(strings.ToLower(text), "any dns servers") {
		// "There aren't any DNS Servers set on ..." — service is in
		// automatic mode.
		return NewDHCPSentinel(), nil
	}

	var addrs []netip.Addr
	for _, line := range strings.Split(text, "\n") {
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

// setResolvers installs resolvers, in order, on the named network service.
func (b *darwinBackend) setResolvers(ctx context.Context, service string, resolvers []netip.Addr) (err error) {
	args := make([]string, 0, len(resolvers)+2)
	args = append(args, "-setdnsservers", service)

	for _, a := range resolvers {
		args = append(args, a.String())
	}

	code, _, err := runCommand(ctx, b.cmdCons, "networksetup", args...)
	if err != nil {
		return fmt.Errorf("setting dns servers for %q: %w", service, err)
	}

	if code != 0 {
		return fmt.Errorf("networksetup -setdnsservers exited %d", code)
	}

	return nil
}

// restoreAutomatic sets the "empty" sentinel value networksetup uses to
// mean "use DHCP-assigned DNS".
func (b *darwinBackend) restoreAutomatic(ctx context.Context, service string) (err error) {
	code, _, err := runCommand(ctx, b.cmdCons, "networksetup", "-setdnsservers", service, "Empty")
	if err != nil {
		return fmt.Errorf("restoring automatic dns for %q: %w", service, err)
	}

	if code != 0 {
		return fmt.Errorf("networksetup -setdnsservers Empty exited %d", code)
	}

	return nil
}

// probePoisonedReplacement always returns the "dhcp" sentinel on macOS.
func (b *darwinBackend) probePoisonedReplacement(
	ctx context.Context,
	service string,
) (r OriginalResolvers, err error) {
	return NewDHCPSentinel(), nil
}
