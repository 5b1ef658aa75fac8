package zonefile

import (
	"os"

	"github.com/dnsauth/dnsauthd/internal/zone"
)

// ParseFile opens path and parses it as a master file for origin.
func ParseFile(path, origin string, cfg Config) (*zone.Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, origin, cfg)
}
