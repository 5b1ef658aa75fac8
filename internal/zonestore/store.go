// Package zonestore holds the set of zones a server is authoritative for,
// supporting longest-suffix-match lookup and atomic parse-then-swap
// reloads keyed on file modification time.
package zonestore

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dnsauth/dnsauthd/internal/dnsmsg"
	"github.com/dnsauth/dnsauthd/internal/zone"
	"github.com/dnsauth/dnsauthd/internal/zonefile"
)

// entry pairs a loaded zone with the file it was loaded from, for reload
// freshness tracking.
type entry struct {
	z       *zone.Zone
	path    string
	format  string
	modTime time.Time
}

// Store is safe for concurrent use: many goroutines may call FindZone
// concurrently with a single goroutine calling ReloadChanged or LoadFile.
type Store struct {
	mu      sync.RWMutex
	byName  map[string]*entry
	cfg     zonefile.Config
}

// New creates an empty Store.
func New(cfg zonefile.Config) *Store {
	return &Store{byName: make(map[string]*entry), cfg: cfg}
}

// LoadFile loads a zone from path ("bind"/"rfc1035" format, or "yaml") for
// origin and adds it to the store, replacing any existing zone with the
// same origin.
func (s *Store) LoadFile(path, origin, format string) error {
	z, modTime, err := s.parseFile(path, origin, format)
	if err != nil {
		return err
	}
	if err := z.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[key(origin)] = &entry{z: z, path: path, format: format, modTime: modTime}
	return nil
}

func (s *Store) parseFile(path, origin, format string) (*zone.Zone, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}

	var z *zone.Zone
	switch format {
	case "yaml", "dnszone":
		z, err = zone.ParseYAMLFile(path, origin)
	case "bind", "rfc1035", "":
		z, err = zonefile.ParseFile(path, origin, s.cfg)
	default:
		return nil, time.Time{}, fmt.Errorf("zonestore: unknown zone format %q", format)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return z, info.ModTime(), nil
}

func key(origin string) string {
	return strings.ToLower(strings.TrimSuffix(origin, "."))
}

// FindZone returns the zone whose origin is the longest suffix match of
// name, i.e. the most specific zone this server is authoritative for that
// covers name.
func (s *Store) FindZone(name dnsmsg.Name) (*zone.Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *zone.Zone
	bestLabels := -1
	for _, e := range s.byName {
		if !name.IsSubdomainOf(e.z.Origin) {
			continue
		}
		if n := e.z.Origin.LabelCount(); n > bestLabels {
			bestLabels = n
			best = e.z
		}
	}
	return best, best != nil
}

// Zones returns a snapshot slice of every loaded zone.
func (s *Store) Zones() []*zone.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*zone.Zone, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, e.z)
	}
	return out
}

// ReloadChanged re-parses any zone whose backing file's mtime has advanced
// since it was last loaded, swapping it in atomically. A parse or
// validation failure for one zone leaves that zone's previous, still-valid
// copy in place (all-or-nothing per zone) and is reported in the returned
// error without aborting the scan of the remaining zones. It returns the
// origins that were actually reloaded.
func (s *Store) ReloadChanged() (reloaded []string, err error) {
	s.mu.RLock()
	type candidate struct {
		originKey string
		path      string
		format    string
		prevMod   time.Time
	}
	var candidates []candidate
	for k, e := range s.byName {
		candidates = append(candidates, candidate{k, e.path, e.format, e.modTime})
	}
	s.mu.RUnlock()

	var errs []error
	for _, c := range candidates {
		info, statErr := os.Stat(c.path)
		if statErr != nil {
			errs = append(errs, fmt.Errorf("zonestore: stat %s: %w", c.path, statErr))
			continue
		}
		if !info.ModTime().After(c.prevMod) {
			continue
		}

		s.mu.RLock()
		e := s.byName[c.originKey]
		s.mu.RUnlock()
		if e == nil {
			continue
		}

		newZone, modTime, parseErr := s.parseFile(e.path, e.z.Origin.String(), e.format)
		if parseErr != nil {
			errs = append(errs, fmt.Errorf("zonestore: reload %s: %w", e.path, parseErr))
			continue
		}
		if validateErr := newZone.Validate(); validateErr != nil {
			errs = append(errs, fmt.Errorf("zonestore: reload %s: %w", e.path, validateErr))
			continue
		}

		s.mu.Lock()
		s.byName[c.originKey] = &entry{z: newZone, path: e.path, format: e.format, modTime: modTime}
		s.mu.Unlock()

		reloaded = append(reloaded, e.z.Origin.String())
	}

	if len(errs) > 0 {
		return reloaded, joinErrors(errs)
	}
	return reloaded, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("zonestore: %d reload errors: %s", len(errs), strings.Join(msgs, "; "))
}
