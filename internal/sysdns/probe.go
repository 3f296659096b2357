package sysdns

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// probeTimeout is the hard deadline on a single DNS resolution probe,
// Configure and Integrity-check algorithms.
const probeTimeout = 5 * time.Second

// probeDomain is the name used for all resolution probes.  It is a stable,
// well-known, always-resolvable name, matching the Configure algorithm's "a
// real DNS query (A google.com)" requirement.
const probeDomain = "google.com."

// probeLoopback sends a real A query for probeDomain to 127.0.0.1:port and
// requires a well-formed reply within probeTimeout.  It is used to confirm
// the local proxy is actually answering before the Configurator points the
// host's resolvers at it: never break the host's DNS for a proxy that is
// not up.
func probeLoopback(ctx context.Context, port int) (err error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req := new(dns.Msg)
	req.SetQuestion(probeDomain, dns.TypeA)

	raddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("dialing proxy: %w", err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err = conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}

	raw, err := req.Pack()
	if err != nil {
		return fmt.Errorf("packing probe query: %w", err)
	}

	if _, err = conn.Write(raw); err != nil {
		return fmt.Errorf("sending probe query: %w", err)
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading probe reply: %w", err)
	}

	resp := new(dns.Msg)
	if err = resp.Unpack(buf[:n]); err != nil {
		return fmt.Errorf("unpacking probe reply: %w", err)
	}

	if resp.Id != req.Id {
		return fmt.Errorf("probe reply id mismatch: got %d, want %d", resp.Id, req.Id)
	}

	return nil
}

// ProbeExternalResolution exposes probeExternalResolution for the daemon's
// --test-dns-resolution CLI action.
func ProbeExternalResolution(ctx context.Context) (err error) {
	return probeExternalResolution(ctx)
}

// probeExternalResolution confirms that name resolution actually works end
// to end through whatever resolver the host currently has configured.  It
// is used by the startup integrity check after an automatic restore, and
// may be invoked directly via the daemon's --test-dns-resolution flag.
func probeExternalResolution(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, "google.com")
	if err != nil {
		return fmt.Errorf("resolving google.com: %w", err)
	}

	if len(addrs) == 0 {
		return fmt.Errorf("resolving google.com: no addresses returned")
	}

	return nil
}
