package timezone

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo for hosts without one

	"github.com/maypok86/otter/v2"
)

var offsetName = regexp.MustCompile(`^(?:UTC|GMT)([+-])(\d{1,2})(?::?(\d{2}))?$`)

// Locations resolves timezone names to *time.Location. It understands IANA
// names, "UTC" and fixed-offset labels such as "UTC-04:00". Results are
// cached; it is safe for concurrent use.
type Locations struct {
	cache *otter.Cache[string, *time.Location]
}

func NewLocations() *Locations {
	return &Locations{
		cache: otter.Must(&otter.Options[string, *time.Location]{
			MaximumSize:     1_000,
			InitialCapacity: 64,
		}),
	}
}

func (l *Locations) Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if loc, ok := l.cache.GetIfPresent(name); ok {
		return loc, nil
	}
	loc, err := parseLocation(name)
	if err != nil {
		return nil, err
	}
	l.cache.Set(name, loc)
	return loc, nil
}

func parseLocation(name string) (*time.Location, error) {
	switch strings.ToUpper(name) {
	case "", "UTC", "GMT", "Z":
		return time.UTC, nil
	}
	if m := offsetName.FindStringSubmatch(name); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("offset out of range in timezone %q", name)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(name, secs), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
