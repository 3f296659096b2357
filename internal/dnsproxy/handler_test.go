package dnsproxy

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkholeResponse_A(t *testing.T) {
	req := new(dns.Msg)
	req.Id = 0xabcd
	req.RecursionDesired = true
	req.SetQuestion("example.com.", dns.TypeA)

	resp := sinkholeResponse(req, req.Question[0])

	assert.Equal(t, req.Id, resp.Id)
	assert.True(t, resp.Response)
	assert.True(t, resp.RecursionAvailable)
	assert.False(t, resp.Authoritative)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "example.com.", a.Hdr.Name)
	assert.Equal(t, uint32(sinkholeTTL), a.Hdr.Ttl)
	assert.Equal(t, "127.0.0.1", a.A.String())

	// Packet must actually pack, i.e. be well-formed.
	_, err := resp.Pack()
	require.NoError(t, err)
}

func TestSinkholeResponse_AAAA_emptyNOERROR(t *testing.T) {
	prev := AAAABlockMode
	AAAABlockMode = emptyNOERROR
	defer func() { AAAABlockMode = prev }()

	req := new(dns.Msg)
	req.Id = 42
	req.SetQuestion("example.com.", dns.TypeAAAA)

	resp := sinkholeResponse(req, req.Question[0])

	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func TestSinkholeResponse_AAAA_synthetic(t *testing.T) {
	prev := AAAABlockMode
	AAAABlockMode = syntheticAAAA
	defer func() { AAAABlockMode = prev }()

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAAAA)

	resp := sinkholeResponse(req, req.Question[0])

	require.Len(t, resp.Answer, 1)
	aaaa, ok := resp.Answer[0].(*dns.AAAA)
	require.True(t, ok)
	assert.Equal(t, "::", aaaa.AAAA.String())
}
