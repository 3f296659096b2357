package sysdns

import (
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginalResolvers_JSONRoundTrip(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		want := NewResolverList([]netip.Addr{
			netip.MustParseAddr("192.168.1.1"),
			netip.MustParseAddr("8.8.8.8"),
		})

		b, err := json.Marshal(want)
		require.NoError(t, err)
		assert.JSONEq(t, `["192.168.1.1","8.8.8.8"]`, string(b))

		var got OriginalResolvers
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, want.List(), got.List())
	})

	t.Run("dhcp", func(t *testing.T) {
		want := NewDHCPSentinel()

		b, err := json.Marshal(want)
		require.NoError(t, err)
		assert.JSONEq(t, `"dhcp"`, string(b))

		var got OriginalResolvers
		require.NoError(t, json.Unmarshal(b, &got))
		assert.True(t, got.IsDHCP())
	})

	t.Run("raw", func(t *testing.T) {
		want := NewRawConfig("nameserver 1.1.1.1\n")

		b, err := json.Marshal(want)
		require.NoError(t, err)

		var got OriginalResolvers
		require.NoError(t, json.Unmarshal(b, &got))
		assert.True(t, got.IsRaw())
		assert.Equal(t, "nameserver 1.1.1.1\n", got.Raw())
	})
}

func TestOriginalResolvers_IsLoopbackPointing(t *testing.T) {
	poisoned := NewResolverList([]netip.Addr{netip.MustParseAddr("127.0.0.1")})
	assert.True(t, poisoned.IsLoopbackPointing())

	clean := NewResolverList([]netip.Addr{netip.MustParseAddr("1.1.1.1")})
	assert.False(t, clean.IsLoopbackPointing())

	assert.False(t, NewDHCPSentinel().IsLoopbackPointing())
}

func TestBackup_JSONShape(t *testing.T) {
	b := Backup{
		Platform:    "linux",
		Interface:   "eth0",
		OriginalDNS: NewResolverList([]netip.Addr{netip.MustParseAddr("192.168.1.1")}),
	}

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "linux", raw["platform"])
	assert.Equal(t, "eth0", raw["interface"])
	assert.Contains(t, raw, "originalDNS")
}
