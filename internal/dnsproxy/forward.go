package dnsproxy

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// defaultForwardTimeout is the hard deadline on an upstream forward.
const defaultForwardTimeout = 5 * time.Second

// defaultUpstreams are the default upstream resolvers.
var defaultUpstreams = []string{"8.8.8.8", "8.8.4.4"}

// forwardAndReply opens a fresh ephemeral UDP socket, sends pkt verbatim
// to a randomly chosen upstream, and relays the first
// reply back to clientAddr verbatim.  On timeout or I/O error, it drops
// silently and counts a forwarding error — the client will retry per
// normal resolver behavior.
func (p *Proxy) forwardAndReply(ctx context.Context, pkt []byte, clientAddr *net.UDPAddr) {
	reply, err := p.forward(ctx, pkt)
	if err != nil {
		p.conf.Stats.IncForwardError()
		p.conf.Logger.DebugContext(ctx, "forwarding query", slogutil.KeyError, err)

		return
	}

	p.conf.Stats.IncAllowed()

	_, err = p.conn.WriteToUDP(reply, clientAddr)
	if err != nil {
		p.conf.Stats.IncForwardError()
		p.conf.Logger.DebugContext(ctx, "relaying upstream reply to client", slogutil.KeyError, err)
	}
}

// forward performs a single upstream exchange: it opens its own socket
// (eliminating any possibility of transaction-id collision across
// concurrent clients, since no other query can ever read from this
// socket), sends pkt, and returns the first reply received before
// ForwardTimeout elapses.
func (p *Proxy) forward(ctx context.Context, pkt []byte) (reply []byte, err error) {
	upstream := pickUpstream(p.conf.Upstreams)

	raddr, err := net.ResolveUDPAddr("udp4", withDefaultPort(upstream, 53))
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Closing conn when ctx is canceled, as Proxy.Stop does, unblocks the
	// pending Read below so the forward ends at once.
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	deadline := time.Now().Add(p.conf.ForwardTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err = conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	_, err = conn.Write(pkt)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, maxPacketSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

// pickUpstream chooses a random upstream from upstreams.
func pickUpstream(upstreams []string) (addr string) {
	return upstreams[rand.Intn(len(upstreams))]
}

// withDefaultPort appends ":53" to addr if it has no port of its own.
func withDefaultPort(addr string, port int) (full string) {
	_, _, err := net.SplitHostPort(addr)
	if err == nil {
		return addr
	}

	return net.JoinHostPort(addr, strconv.Itoa(port))
}
