// Package dnsproxy implements the loopback UDP DNS proxy: it parses
// incoming queries, consults a blocklist, synthesizes sinkhole answers for
// blocked A/AAAA queries, and forwards everything else to an upstream
// resolver.
package dnsproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshield/netshieldd/internal/blocklist"
	"github.com/netshield/netshieldd/internal/stats"
)

// PrimaryPort is the preferred bind port.
const PrimaryPort = 53

// FallbackPort is used when PrimaryPort cannot be bound.
const FallbackPort = 5353

// bindTimeout bounds how long binding the listener may take before it is
// treated as fatal.
const bindTimeout = 5 * time.Second

// healthCheckInterval is how often the self-check in Health runs when
// started via RunHealthChecks.
const healthCheckInterval = 30 * time.Second

// maxPacketSize is the largest UDP datagram this proxy will attempt to
// read.  DNS-over-UDP messages without EDNS0 are capped at 512 bytes; we
// allow generous headroom for EDNS0 OPT records.
const maxPacketSize = 4096

// udpBuffer is a reusable zero-initialized buffer pool to avoid a fresh
// allocation per packet on a high-QPS host.
var udpBuffer = sync.Pool{
	New: func() any { return make([]byte, maxPacketSize) },
}

// Config configures a Proxy.
type Config struct {
	// Blocklist is consulted for every A/AAAA query.  Must not be nil.
	Blocklist *blocklist.Blocklist

	// Stats receives query counters.  Must not be nil.
	Stats *stats.Stats

	// Upstreams is the list of upstream resolver addresses (host:port, or
	// bare IP defaulting to port 53) tried at random per forwarded query.
	// Defaults to [8.8.8.8, 8.8.4.4] if empty.
	Upstreams []string

	// ForwardTimeout bounds how long a forwarded query waits for an
	// upstream reply.  Defaults to 5s.
	ForwardTimeout time.Duration

	// Logger receives proxy diagnostics.  Must not be nil.
	Logger *slog.Logger
}

// Proxy is a UDP DNS proxy bound to the loopback interface.
type Proxy struct {
	conf Config

	conn   *net.UDPConn
	port   int
	wg     sync.WaitGroup
	cancel context.CancelFunc

	stopOnce sync.Once
	stopped  chan struct{}
}

// ErrNoListener is returned by Health when the proxy has no bound socket.
var ErrNoListener = errors.New("dnsproxy: no listener bound")

// New returns an unstarted Proxy for conf.
func New(conf Config) (p *Proxy) {
	if conf.ForwardTimeout <= 0 {
		conf.ForwardTimeout = defaultForwardTimeout
	}

	if len(conf.Upstreams) == 0 {
		conf.Upstreams = defaultUpstreams
	}

	return &Proxy{conf: conf, stopped: make(chan struct{})}
}

// Start binds the UDP listener (preferring PrimaryPort, falling back to
// FallbackPort) and begins serving queries in the background.  It returns
// the port actually bound, so the caller can report it to the System DNS
// Configurator.  Start must complete within bindTimeout.
func (p *Proxy) Start(ctx context.Context) (port int, err error) {
	ctx, cancel := context.WithTimeout(ctx, bindTimeout)
	defer cancel()

	conn, port, err := bindListener(ctx)
	if err != nil {
		return 0, fmt.Errorf("binding dns proxy listener: %w", err)
	}

	p.conn = conn
	p.port = port

	runCtx, runCancel := context.WithCancel(context.Background())
	p.cancel = runCancel

	p.wg.Add(1)
	go p.serve(runCtx)

	p.conf.Logger.InfoContext(ctx, "dns proxy listening", "port", port)

	return port, nil
}

// bindListener attempts PrimaryPort, falling back to FallbackPort on
// failure (permission denied or in-use).
func bindListener(ctx context.Context) (conn *net.UDPConn, port int, err error) {
	for _, candidate := range []int{PrimaryPort, FallbackPort} {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}

		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: candidate}

		conn, err = net.ListenUDP("udp4", addr)
		if err == nil {
			return conn, candidate, nil
		}
	}

	return nil, 0, fmt.Errorf("no candidate port could be bound, last error: %w", err)
}

// Port returns the port the proxy is bound to.  Only valid after a
// successful Start.
func (p *Proxy) Port() (port int) { return p.port }

// serve is the main packet-receive loop.  Each datagram is handled in its
// own goroutine so that upstream I/O for one query never blocks receipt of
// the next.
func (p *Proxy) serve(ctx context.Context) {
	defer p.wg.Done()

	for {
		buf := udpBuffer.Get().([]byte)

		n, clientAddr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			udpBuffer.Put(buf)
			if ctx.Err() != nil {
				return
			}

			// A transient read error (e.g. ICMP port-unreachable from a
			// prior forward landing on this socket) must not kill the
			// listener.
			p.conf.Logger.DebugContext(ctx, "reading udp packet", slogutil.KeyError, err)

			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		udpBuffer.Put(buf)

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handlePacket(ctx, pkt, clientAddr)
		}()
	}
}

// Stop closes the listener, cancels all outstanding forwards, and waits for
// in-flight goroutines to finish.  Stop is idempotent.
func (p *Proxy) Stop(ctx context.Context) (err error) {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}

		if p.conn != nil {
			_ = p.conn.Close()
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
		}

		close(p.stopped)
	})

	return nil
}

// Health reports whether the proxy's listening socket is still bound, for
// use by the daemon's periodic self-check.
func (p *Proxy) Health() (err error) {
	select {
	case <-p.stopped:
		return ErrNoListener
	default:
	}

	if p.conn == nil {
		return ErrNoListener
	}

	// SyscallConn lets us probe the underlying fd without consuming any
	// data off the socket, so the health check never races real traffic.
	sc, err := p.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoListener, err)
	}

	var ctrlErr error
	err = sc.Control(func(uintptr) {})
	if err != nil {
		ctrlErr = fmt.Errorf("%w: %w", ErrNoListener, err)
	}

	return ctrlErr
}

// RunHealthChecks runs Health every healthCheckInterval until ctx is
// canceled, invoking onUnhealthy whenever it returns an error.
func (p *Proxy) RunHealthChecks(ctx context.Context, onUnhealthy func(error)) {
	t := time.NewTicker(healthCheckInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Health(); err != nil {
				onUnhealthy(err)
			}
		}
	}
}
