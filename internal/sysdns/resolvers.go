// Package sysdns implements the platform-abstracted System DNS
// Configurator: it detects the active network interface, backs up the
// host's current resolvers, installs the loopback proxy as primary
// resolver, and restores the backup on demand.
package sysdns

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"
)

// dhcpSentinel is the JSON string stored in place of a resolver list when
// the true prior state is "let the OS manage it automatically".
const dhcpSentinel = "dhcp"

// kind discriminates the three shapes OriginalResolvers.UnmarshalJSON
// accepts: `originalDNS: string[] | "dhcp" | string`.
type kind int

const (
	kindList kind = iota
	kindDHCP
	kindRaw
)

// OriginalResolvers holds the pre-reconfiguration resolver state for one
// interface.  It is either an ordered list of IP literals, the sentinel
// "dhcp", or a literal copy of a resolver configuration file.  No platform
// backend records the raw form; it only arises from decoding a backup whose
// originalDNS is a plain string other than "dhcp".
type OriginalResolvers struct {
	kind kind
	list []netip.Addr
	raw  string
}

// NewResolverList returns an OriginalResolvers holding an ordered list of
// resolver addresses.
func NewResolverList(addrs []netip.Addr) (r OriginalResolvers) {
	return OriginalResolvers{kind: kindList, list: addrs}
}

// NewDHCPSentinel returns an OriginalResolvers representing "let DHCP
// manage it", used whenever a backup is taken from a poisoned
// (loopback-pointing) observed state.
func NewDHCPSentinel() (r OriginalResolvers) {
	return OriginalResolvers{kind: kindDHCP}
}

// NewRawConfig returns an OriginalResolvers holding a literal copy of a
// resolver configuration file's contents.  The platform backends do not
// call it; Restore treats a raw backup like the "dhcp" sentinel.
func NewRawConfig(contents string) (r OriginalResolvers) {
	return OriginalResolvers{kind: kindRaw, raw: contents}
}

// IsDHCP reports whether r is the "dhcp" sentinel.
func (r OriginalResolvers) IsDHCP() (ok bool) { return r.kind == kindDHCP }

// IsRaw reports whether r holds a literal configuration file copy.
func (r OriginalResolvers) IsRaw() (ok bool) { return r.kind == kindRaw }

// List returns the resolver addresses, if r holds a list.
func (r OriginalResolvers) List() (addrs []netip.Addr) { return r.list }

// Raw returns the literal configuration file contents, if r holds one.
func (r OriginalResolvers) Raw() (contents string) { return r.raw }

// IsLoopbackPointing reports whether r's observed resolvers point at the
// loopback address in any position, which marks a backup as poisoned: the
// prior run crashed mid-configuration and this is not a value safe to
// restore to.
func (r OriginalResolvers) IsLoopbackPointing() (poisoned bool) {
	switch r.kind {
	case kindList:
		for _, a := range r.list {
			if a.IsLoopback() {
				return true
			}
		}

		return false
	case kindRaw:
		return false // raw file contents are not introspected at this level
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (r OriginalResolvers) MarshalJSON() (b []byte, err error) {
	switch r.kind {
	case kindDHCP:
		return json.Marshal(dhcpSentinel)
	case kindRaw:
		return json.Marshal(r.raw)
	default:
		strs := make([]string, len(r.list))
		for i, a := range r.list {
			strs[i] = a.String()
		}

		return json.Marshal(strs)
	}
}

// UnmarshalJSON implements json.Unmarshaler, accepting any of the three
// shapes.
func (r *OriginalResolvers) UnmarshalJSON(b []byte) (err error) {
	var list []string
	if err = json.Unmarshal(b, &list); err == nil {
		addrs := make([]netip.Addr, 0, len(list))
		for _, s := range list {
			a, pErr := validateResolverAddr(s)
			if pErr != nil {
				// Not an IP list after all; fall through to the string
				// decode below, which rejects an array with an error.
				break
			}

			addrs = append(addrs, a)
		}

		if len(addrs) == len(list) {
			*r = OriginalResolvers{kind: kindList, list: addrs}

			return nil
		}
	}

	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("originalDNS must be a string array, %q, or a raw string: %w", dhcpSentinel, err)
	}

	if s == dhcpSentinel {
		*r = OriginalResolvers{kind: kindDHCP}
	} else {
		*r = OriginalResolvers{kind: kindRaw, raw: s}
	}

	return nil
}

// Backup is the persisted pre-modification resolver state for one
// interface.
type Backup struct {
	Timestamp   time.Time         `json:"timestamp"`
	Platform    string            `json:"platform"`
	Interface   string            `json:"interface"`
	OriginalDNS OriginalResolvers `json:"originalDNS"`
}
