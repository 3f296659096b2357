package dnsproxy

import (
	"context"
	"net"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/miekg/dns"
)

// sinkholeTTL is the TTL, in seconds, on synthesized sinkhole A answers.
const sinkholeTTL = 300

// sinkholeIPv4 is the RDATA of a synthesized blocked-A-query answer.
var sinkholeIPv4 = net.IPv4(127, 0, 0, 1)

// AAAABlockMode selects how blocked AAAA queries are answered.  This
// daemon's default is emptyNOERROR, avoiding the type-mismatched-answer
// ambiguity of returning an A-type sinkhole record for an AAAA query.  It
// is a named, single place to flip to synthesizing an actual "::" AAAA
// record instead, should an operational deployment need that.
type aaaaBlockMode int

const (
	// emptyNOERROR answers blocked AAAA queries with NOERROR, ANCOUNT=0.
	emptyNOERROR aaaaBlockMode = iota
	// syntheticAAAA answers blocked AAAA queries with an AAAA record
	// carrying "::".  Not the default; see AAAABlockMode.
	syntheticAAAA
)

// AAAABlockMode is the active mode for blocked AAAA queries.
var AAAABlockMode = emptyNOERROR

// minPacketSize is the smallest buffer miekg/dns can plausibly unpack a DNS
// header from; anything shorter is rejected before even attempting to
// unpack.
const minPacketSize = 12

// handlePacket parses pkt, classifies it, and either synthesizes a
// sinkhole reply or forwards it upstream.  Malformed packets are counted
// and dropped silently.
func (p *Proxy) handlePacket(ctx context.Context, pkt []byte, clientAddr *net.UDPAddr) {
	p.conf.Stats.IncSeen()

	if len(pkt) < minPacketSize {
		p.conf.Stats.IncForwardError()

		return
	}

	req := new(dns.Msg)
	if err := req.Unpack(pkt); err != nil {
		p.conf.Stats.IncForwardError()
		p.conf.Logger.DebugContext(ctx, "dropping malformed packet", slogutil.KeyError, err)

		return
	}

	if len(req.Question) == 0 {
		p.conf.Stats.IncForwardError()

		return
	}

	q := req.Question[0]

	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
		p.forwardAndReply(ctx, pkt, clientAddr)

		return
	}

	if !p.conf.Blocklist.Contains(q.Name) {
		p.forwardAndReply(ctx, pkt, clientAddr)

		return
	}

	p.conf.Stats.IncBlocked()

	resp := sinkholeResponse(req, q)
	p.writeResponse(ctx, resp, clientAddr)
}

// sinkholeResponse builds the synthesized answer for a blocked query.
func sinkholeResponse(req *dns.Msg, q dns.Question) (resp *dns.Msg) {
	resp = new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = false
	resp.RecursionAvailable = true
	resp.Rcode = dns.RcodeSuccess
	resp.Compress = false

	if q.Qtype == dns.TypeAAAA {
		if AAAABlockMode == syntheticAAAA {
			resp.Answer = append(resp.Answer, &dns.AAAA{
				Hdr: dns.RR_Header{
					Name:   q.Name,
					Rrtype: dns.TypeAAAA,
					Class:  dns.ClassINET,
					Ttl:    sinkholeTTL,
				},
				AAAA: net.IPv6zero,
			})
		}
		// Else: empty NOERROR, ANCOUNT=0 — nothing to append.

		return resp
	}

	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{
			Name:   q.Name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    sinkholeTTL,
		},
		A: sinkholeIPv4,
	})

	return resp
}

// writeResponse packs resp and sends it to clientAddr.  Pack errors are
// treated as forwarding errors, as there is no well-formed reply to send.
func (p *Proxy) writeResponse(ctx context.Context, resp *dns.Msg, clientAddr *net.UDPAddr) {
	out, err := resp.Pack()
	if err != nil {
		p.conf.Stats.IncForwardError()
		p.conf.Logger.ErrorContext(ctx, "packing sinkhole response", slogutil.KeyError, err)

		return
	}

	_, err = p.conn.WriteToUDP(out, clientAddr)
	if err != nil {
		p.conf.Stats.IncForwardError()
		p.conf.Logger.DebugContext(ctx, "writing response to client", slogutil.KeyError, err)
	}
}
