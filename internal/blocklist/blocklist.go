package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// maxFileSize is the maximum size, in bytes, of a blocklist file.
const maxFileSize = 100 * 1024 * 1024

// Blocklist-wide errors.
const (
	// ErrFileTooLarge is returned by Load when the source file exceeds
	// maxFileSize.
	ErrFileTooLarge errors.Error = "blocklist file exceeds maximum size"

	// ErrFileEmpty describes a blocklist file whose parsed array is empty.
	// Load does not return it: an empty result installs the emergency
	// fallback list instead.
	ErrFileEmpty errors.Error = "blocklist file contains no entries"

	// ErrNotArray is returned by Load when the top-level JSON value is not
	// an array of strings.
	ErrNotArray errors.Error = "blocklist file is not a JSON array of strings"
)

// emergencySeeds is the small hardcoded fallback list installed when a
// freshly parsed blocklist is empty, so the proxy never starts with zero
// protection. The seeds are a minimal set of adult-content domains.
var emergencySeeds = []string{
	"pornhub.com",
	"xvideos.com",
	"xnxx.com",
	"xhamster.com",
	"redtube.com",
}

// LoadStats reports how many entries a Load call accepted and rejected.
type LoadStats struct {
	// Accepted is the number of entries that passed validation.
	Accepted int

	// Rejected is the number of entries that failed validation.
	Rejected int

	// Emergency is true if the emergency fallback list was installed
	// because the parsed file contained zero valid entries.
	Emergency bool
}

// snapshot is the immutable data behind a Blocklist at a point in time.
type snapshot struct {
	domains    map[string]struct{}
	generation uint64
}

// Blocklist is a hot-swappable, concurrency-safe set of blocked domain
// names supporting O(1) exact match and O(depth) suffix match.  The zero
// value is not usable; construct one with New.
type Blocklist struct {
	current atomic.Pointer[snapshot]
}

// New returns a Blocklist seeded with the emergency fallback list, suitable
// for use before the first Load completes.
func New() (bl *Blocklist) {
	bl = &Blocklist{}
	bl.current.Store(snapshotFrom(emergencySeeds, 0))

	return bl
}

// snapshotFrom builds a snapshot from a set of pre-validated, normalized
// domains.
func snapshotFrom(domains []string, generation uint64) (s *snapshot) {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}

	return &snapshot{domains: set, generation: generation}
}

// Load parses path as a JSON array of domain strings and returns a new,
// independent Blocklist.  It does not mutate bl; call bl.Swap with the
// result to install it.  l must not be nil.
func Load(ctx context.Context, l *slog.Logger, path string) (loaded *Blocklist, stats LoadStats, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, stats, fmt.Errorf("statting blocklist file: %w", err)
	}

	if fi.Size() > maxFileSize {
		return nil, stats, ErrFileTooLarge
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, fmt.Errorf("opening blocklist file: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	raw, err := readRawEntries(f)
	if err != nil {
		return nil, stats, err
	}

	domains := make([]string, 0, len(raw))
	for _, r := range raw {
		norm, vErr := validateDomain(r)
		if vErr != nil {
			stats.Rejected++
			l.DebugContext(ctx, "rejecting blocklist entry", "entry", r, slogutil.KeyError, vErr)

			continue
		}

		domains = append(domains, norm)
		stats.Accepted++
	}

	if len(domains) == 0 {
		l.WarnContext(ctx, "blocklist parsed to zero entries, installing emergency fallback list")
		domains = append(domains, emergencySeeds...)
		stats.Emergency = true
	}

	loaded = &Blocklist{}
	loaded.current.Store(snapshotFrom(domains, 0))

	l.InfoContext(ctx, "loaded blocklist",
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"emergency", stats.Emergency,
	)

	return loaded, stats, nil
}

// readRawEntries decodes r as a JSON array of strings.  A non-array
// top-level value, or an array containing a non-string element, is
// reported as ErrNotArray.
func readRawEntries(r io.Reader) (entries []string, err error) {
	dec := json.NewDecoder(r)

	err = dec.Decode(&entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotArray, err)
	}

	return entries, nil
}

// Contains reports whether name, or any proper suffix of name, is present
// in bl.  name is lowercased and a single trailing dot is stripped before
// matching.  Contains is safe for concurrent use and reflects whichever
// snapshot was current at the moment it was called.
func (bl *Blocklist) Contains(name string) (blocked bool) {
	s := bl.current.Load()
	norm := normalizeDomain(name)

	for _, candidate := range suffixes(norm) {
		if _, ok := s.domains[candidate]; ok {
			return true
		}
	}

	return false
}

// Len returns the number of domains in the currently active snapshot.
func (bl *Blocklist) Len() (n int) {
	return len(bl.current.Load().domains)
}

// Generation returns the generation counter of the currently active
// snapshot.
func (bl *Blocklist) Generation() (gen uint64) {
	return bl.current.Load().generation
}

// Swap atomically replaces bl's active snapshot with other's, bumping the
// generation counter.  In-flight callers of Contains that already loaded
// the previous snapshot are unaffected; the previous snapshot is freed by
// the garbage collector once they return.
func (bl *Blocklist) Swap(other *Blocklist) {
	next := other.current.Load()
	next = &snapshot{domains: next.domains, generation: bl.Generation() + 1}
	bl.current.Store(next)
}
