package cli

import (
	"time"

	"github.com/breatheroute/aqimap/internal/airquality/moenv"
)

// Dependencies wires runtime collaborators. Zero values select production
// defaults.
type Dependencies struct {
	Version   string
	BuildTime string

	// HTTPClient replaces the per-endpoint resilient clients when set.
	HTTPClient moenv.HTTPDoer

	// Now stamps default artifact names and the map document.
	Now func() time.Time
}

func (d Dependencies) now() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}
