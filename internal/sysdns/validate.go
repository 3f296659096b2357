package sysdns

import (
	"fmt"
	"net/netip"
	"regexp"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrBadInterfaceName is returned by validateInterfaceName for a string that
// does not match the strict allow-list this package requires before
// interpolating an interface name into a subprocess argument list.
const ErrBadInterfaceName errors.Error = "invalid interface name"

// interfaceNameRe is deliberately strict: it allows the character classes
// that actually appear in real interface names across Linux, macOS, and
// Windows network-adapter GUIDs/friendly names (letters, digits, and a small
// set of punctuation), and nothing else.  It exists specifically to keep a
// hostile or corrupted interface name from being interpreted as a shell
// metacharacter or an extra command-line flag by a subprocess.
var interfaceNameRe = regexp.MustCompile(`^[A-Za-z0-9_.:{}-]{1,64}$`)

// validateInterfaceName checks name against a strict allow-list character
// class before it is ever passed as a subprocess argument.  A name that
// fails this check is rejected outright; this package does not attempt to
// sanitize or escape it.
func validateInterfaceName(name string) (err error) {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrBadInterfaceName)
	}

	if !interfaceNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadInterfaceName, name)
	}

	return nil
}

// validateResolverAddr checks that addr is a syntactically valid IP literal,
// as required before it is written into a resolver configuration file or
// passed as a subprocess argument.
func validateResolverAddr(addr string) (a netip.Addr, err error) {
	a, err = netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid resolver address %q: %w", addr, err)
	}

	return a, nil
}
