// Package blocklist implements the in-memory blocklist store: an
// immutable, hot-swappable set of fully-qualified domain names supporting
// exact and suffix matching.
package blocklist

import (
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// maxDomainLength is the maximum length, in octets, of a stored domain name.
const maxDomainLength = 253

// maxLabelLength is the maximum length, in octets, of a single domain label.
const maxLabelLength = 63

// labelRe matches a single valid DNS label: lowercase letters, digits, and
// hyphens, neither leading nor trailing with a hyphen.
var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Domain validation errors.
const (
	// ErrEmpty is returned for a domain that is empty after normalization.
	ErrEmpty errors.Error = "domain is empty"

	// ErrTooLong is returned for a domain exceeding maxDomainLength octets.
	ErrTooLong errors.Error = "domain exceeds maximum length"

	// ErrNoDot is returned for a domain with no label separator.
	ErrNoDot errors.Error = "domain has no dot"

	// ErrDoubleDot is returned for a domain containing an empty label.
	ErrDoubleDot errors.Error = "domain contains an empty label"

	// ErrBadLabel is returned for a domain containing a label that fails the
	// DNS label grammar or exceeds maxLabelLength.
	ErrBadLabel errors.Error = "domain contains an invalid label"
)

// normalizeDomain lowercases name and strips at most one trailing dot.  It
// does not strip a leading "www." — per the data model, a "www." form and
// its bare counterpart are distinct entries unless both were independently
// present in the source list; this function never merges them.
func normalizeDomain(name string) (norm string) {
	norm = strings.ToLower(strings.TrimSpace(name))
	norm = strings.TrimSuffix(norm, ".")

	return norm
}

// validateDomain normalizes and validates name against the domain grammar.
// It returns the normalized domain, or an error describing why the domain
// was rejected.
func validateDomain(name string) (norm string, err error) {
	norm = normalizeDomain(name)

	if norm == "" {
		return "", ErrEmpty
	}

	if len(norm) > maxDomainLength {
		return "", ErrTooLong
	}

	if !strings.Contains(norm, ".") {
		return "", ErrNoDot
	}

	if strings.Contains(norm, "..") {
		return "", ErrDoubleDot
	}

	labels := strings.Split(norm, ".")
	for _, l := range labels {
		if l == "" {
			return "", ErrDoubleDot
		}

		if len(l) > maxLabelLength {
			return "", ErrBadLabel
		}

		if !labelRe.MatchString(l) {
			return "", ErrBadLabel
		}
	}

	return norm, nil
}

// suffixes returns every proper suffix of name obtained by iteratively
// dropping the leftmost label, plus name itself, from most to least
// specific.  name must already be normalized (lowercased, no trailing dot).
//
// For example, suffixes("a.b.example.com") returns:
//
//	["a.b.example.com", "b.example.com", "example.com", "com"]
func suffixes(name string) (out []string) {
	rest := name
	for {
		out = append(out, rest)

		i := strings.IndexByte(rest, '.')
		if i < 0 {
			break
		}

		rest = rest[i+1:]
	}

	return out
}
