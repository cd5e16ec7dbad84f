// README: Driver position snapshots for persistence and replay.
package location

import (
	"time"

	"speedyfood/internal/types"
)

type Snapshot struct {
	ID         int64
	DriverCode types.ID
	Position   types.Point
	RecordedAt time.Time
}

// Nearby is a GEO index hit with its distance from the query point.
type Nearby struct {
	DriverCode types.ID
	Position   types.Point
	DistanceKm float64
}
