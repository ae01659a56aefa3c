package httpapi

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Wall-clock layouts accepted without an offset. They are read in the
// post's timezone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// resolveZone loads name, falling back to the server default for empty or
// unknown zones.
func (s *Server) resolveZone(name string) *time.Location {
	if name = strings.TrimSpace(name); name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return s.DefaultTZ
}

// parseScheduled returns the UTC instant for raw. Values with an offset keep
// it; naive values are wall-clock time in loc.
func parseScheduled(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", raw)
}
