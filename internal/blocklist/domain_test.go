package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDomain(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		testCases := []struct {
			in   string
			want string
		}{{
			in:   "Example.COM",
			want: "example.com",
		}, {
			in:   "example.com.",
			want: "example.com",
		}, {
			in:   "  example.com  ",
			want: "example.com",
		}, {
			in:   "www.example.com",
			want: "www.example.com",
		}, {
			in:   "a-b.example.co.uk",
			want: "a-b.example.co.uk",
		}}

		for _, tc := range testCases {
			t.Run(tc.in, func(t *testing.T) {
				got, err := validateDomain(tc.in)
				assert.NoError(t, err)
				assert.Equal(t, tc.want, got)
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		testCases := []struct {
			in      string
			wantErr error
		}{{
			in:      "",
			wantErr: ErrEmpty,
		}, {
			in:      "   ",
			wantErr: ErrEmpty,
		}, {
			in:      "example",
			wantErr: ErrNoDot,
		}, {
			in:      "example..com",
			wantErr: ErrDoubleDot,
		}, {
			in:      "-example.com",
			wantErr: ErrBadLabel,
		}, {
			in:      "exa_mple.com",
			wantErr: ErrBadLabel,
		}}

		for _, tc := range testCases {
			t.Run(tc.in, func(t *testing.T) {
				_, err := validateDomain(tc.in)
				assert.ErrorIs(t, err, tc.wantErr)
			})
		}
	})

	t.Run("too_long", func(t *testing.T) {
		label := make([]byte, maxLabelLength)
		for i := range label {
			label[i] = 'a'
		}

		long := string(label)
		name := long
		for len(name) < maxDomainLength+10 {
			name += "." + long
		}

		_, err := validateDomain(name)
		assert.ErrorIs(t, err, ErrTooLong)
	})
}

func TestSuffixes(t *testing.T) {
	testCases := []struct {
		name string
		want []string
	}{{
		name: "a.b.example.com",
		want: []string{"a.b.example.com", "b.example.com", "example.com", "com"},
	}, {
		name: "example.com",
		want: []string{"example.com", "com"},
	}, {
		name: "com",
		want: []string{"com"},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, suffixes(tc.name))
		})
	}
}
