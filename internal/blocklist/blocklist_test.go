package blocklist

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() (l *slog.Logger) {
	return slogutil.NewDiscardLogger()
}

func writeBlocklistFile(t *testing.T, entries []string) (path string) {
	t.Helper()

	dir := t.TempDir()
	path = filepath.Join(dir, "blocklist.json")

	data, err := json.Marshal(entries)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func TestLoad(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		path := writeBlocklistFile(t, []string{"Example.COM", "not a domain", "blocked.net"})

		bl, stats, err := Load(context.Background(), testLogger(), path)
		require.NoError(t, err)

		assert.Equal(t, 2, stats.Accepted)
		assert.Equal(t, 1, stats.Rejected)
		assert.False(t, stats.Emergency)

		assert.True(t, bl.Contains("example.com"))
		assert.True(t, bl.Contains("blocked.net"))
		assert.False(t, bl.Contains("other.com"))
	})

	t.Run("empty_array_uses_emergency_list", func(t *testing.T) {
		path := writeBlocklistFile(t, []string{})

		bl, stats, err := Load(context.Background(), testLogger(), path)
		require.NoError(t, err)

		assert.True(t, stats.Emergency)
		assert.Positive(t, bl.Len())
	})

	t.Run("not_an_array", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "blocklist.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array"}`), 0o644))

		_, _, err := Load(context.Background(), testLogger(), path)
		assert.ErrorIs(t, err, ErrNotArray)
	})

	t.Run("too_large", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "blocklist.json")

		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(maxFileSize+1))
		require.NoError(t, f.Close())

		_, _, err = Load(context.Background(), testLogger(), path)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})
}

func TestBlocklist_Contains_suffixMatch(t *testing.T) {
	path := writeBlocklistFile(t, []string{"example.com"})
	bl, _, err := Load(context.Background(), testLogger(), path)
	require.NoError(t, err)

	assert.True(t, bl.Contains("example.com"))
	assert.True(t, bl.Contains("a.b.example.com."))
	assert.True(t, bl.Contains("WWW.EXAMPLE.COM"))
	assert.False(t, bl.Contains("notexample.com"))
	assert.False(t, bl.Contains("com"))
}

func TestBlocklist_Contains_strictSuffixOnly(t *testing.T) {
	// Listing only a subdomain must not block its ancestor.
	path := writeBlocklistFile(t, []string{"a.b.example.com"})
	bl, _, err := Load(context.Background(), testLogger(), path)
	require.NoError(t, err)

	assert.True(t, bl.Contains("a.b.example.com"))
	assert.True(t, bl.Contains("c.a.b.example.com"))
	assert.False(t, bl.Contains("example.com"))
	assert.False(t, bl.Contains("b.example.com"))
}

func TestBlocklist_Swap(t *testing.T) {
	bl := New()
	assert.Positive(t, bl.Len()) // emergency seeds

	path := writeBlocklistFile(t, []string{"example.com"})
	loaded, _, err := Load(context.Background(), testLogger(), path)
	require.NoError(t, err)

	gen := bl.Generation()
	bl.Swap(loaded)

	assert.Equal(t, gen+1, bl.Generation())
	assert.True(t, bl.Contains("example.com"))
	assert.False(t, bl.Contains("pornhub.com"))
}
