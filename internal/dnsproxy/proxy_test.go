package dnsproxy

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/miekg/dns"
	"github.com/netshield/netshieldd/internal/blocklist"
	"github.com/netshield/netshieldd/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is a minimal UDP DNS server used to test forwarding without
// reaching the real network.
type fakeUpstream struct {
	conn *net.UDPConn
	addr string
}

// newFakeUpstream starts a fake upstream that replies to every query with
// respond(req).
func newFakeUpstream(t *testing.T, respond func(req *dns.Msg) *dns.Msg) (fu *fakeUpstream) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	fu = &fakeUpstream{conn: conn, addr: conn.LocalAddr().String()}

	go func() {
		buf := make([]byte, maxPacketSize)
		for {
			n, raddr, rErr := conn.ReadFromUDP(buf)
			if rErr != nil {
				return
			}

			req := new(dns.Msg)
			if uErr := req.Unpack(buf[:n]); uErr != nil {
				continue
			}

			resp := respond(req)
			out, pErr := resp.Pack()
			if pErr != nil {
				continue
			}

			_, _ = conn.WriteToUDP(out, raddr)
		}
	}()

	t.Cleanup(func() { _ = conn.Close() })

	return fu
}

func testProxy(t *testing.T, entries []string, upstreamAddr string) (p *Proxy, st *stats.Stats) {
	t.Helper()

	bl := blocklist.New()
	if entries != nil {
		path := writeBlocklistFileFor(t, entries)
		loaded, _, err := blocklist.Load(context.Background(), slogutil.NewDiscardLogger(), path)
		require.NoError(t, err)
		bl.Swap(loaded)
	}

	st = stats.New()

	conf := Config{
		Blocklist:      bl,
		Stats:          st,
		Upstreams:      []string{upstreamAddr},
		ForwardTimeout: 2 * time.Second,
		Logger:         slogutil.NewDiscardLogger(),
	}

	p = New(conf)

	_, err := p.Start(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})

	return p, st
}

func writeBlocklistFileFor(t *testing.T, entries []string) (path string) {
	t.Helper()

	dir := t.TempDir()
	path = dir + "/blocklist.json"

	data, err := json.Marshal(entries)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func queryClient(t *testing.T, p *Proxy) (conn *net.UDPConn) {
	t.Helper()

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: p.Port()})
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	return conn
}

func TestProxy_BlockedA(t *testing.T) {
	p, st := testProxy(t, []string{"example.com"}, "")

	req := new(dns.Msg)
	req.Id = 0x1234
	req.RecursionDesired = true
	req.SetQuestion("www.example.com.", dns.TypeA)
	raw, err := req.Pack()
	require.NoError(t, err)

	conn := queryClient(t, p)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	buf := make([]byte, maxPacketSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))

	assert.Equal(t, req.Id, resp.Id)
	assert.True(t, resp.Response)
	require.Len(t, resp.Answer, 1)
	a := resp.Answer[0].(*dns.A)
	assert.Equal(t, "127.0.0.1", a.A.String())

	snap := st.Snapshot()
	assert.EqualValues(t, 1, snap.QueriesSeen)
	assert.EqualValues(t, 1, snap.QueriesBlocked)
}

func TestProxy_AllowedForwarded(t *testing.T) {
	fu := newFakeUpstream(t, func(req *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(req)
		resp.Answer = append(resp.Answer, &dns.MX{
			Hdr:        dns.RR_Header{Name: req.Question[0].Name, Rrtype: dns.TypeMX, Class: dns.ClassINET, Ttl: 300},
			Preference: 10,
			Mx:         "mail.example.com.",
		})
		return resp
	})

	p, st := testProxy(t, []string{"example.com"}, fu.addr)

	req := new(dns.Msg)
	req.Id = 0x55aa
	req.SetQuestion("example.com.", dns.TypeMX)
	raw, err := req.Pack()
	require.NoError(t, err)

	conn := queryClient(t, p)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	buf := make([]byte, maxPacketSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))

	assert.Equal(t, req.Id, resp.Id)
	require.Len(t, resp.Answer, 1)
	mx := resp.Answer[0].(*dns.MX)
	assert.Equal(t, "mail.example.com.", mx.Mx)

	snap := st.Snapshot()
	assert.EqualValues(t, 1, snap.QueriesAllowed)
}

func TestProxy_MalformedPacket_noCrashNoReply(t *testing.T) {
	p, st := testProxy(t, nil, "")

	conn := queryClient(t, p)
	_, err := conn.Write([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	require.NoError(t, err)

	buf := make([]byte, maxPacketSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err = conn.Read(buf)
	assert.Error(t, err) // no reply should ever arrive

	snap := st.Snapshot()
	assert.EqualValues(t, 1, snap.QueriesSeen)
	assert.EqualValues(t, 1, snap.ForwardErrors)
}
