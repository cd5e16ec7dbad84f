// README: Driver record and ranked candidate views.
package driver

import (
	"time"

	"speedyfood/internal/types"
)

type Driver struct {
	Code           types.ID
	Name           string
	Plate          string
	VehicleType    string
	Vehicle        string
	Phone          string
	Position       *types.Point
	Available      bool
	LastLocationAt *time.Time
}

// Ranked is a driver with its distance to a reference point.
type Ranked struct {
	Driver     Driver
	DistanceKm float64
	ETAMinutes int
}

// ReleaseResult is the outcome of freeing a driver for dispatch.
type ReleaseResult struct {
	Success bool
	Message string
}
