// README: Dispatch outcomes, attempt bookkeeping and retry tick reports.
package matching

import (
	"time"

	"speedyfood/internal/modules/driver"
	"speedyfood/internal/types"
)

// Reason is the business outcome of a dispatch attempt.
type Reason string

const (
	ReasonAssigned           Reason = "ASSIGNED"
	ReasonOrderNotFound      Reason = "ORDER_NOT_FOUND"
	ReasonWrongState         Reason = "WRONG_STATE"
	ReasonAlreadyHasDriver   Reason = "ALREADY_HAS_DRIVER"
	ReasonNoDriversAvailable Reason = "NO_DRIVERS_AVAILABLE"
	ReasonDriverNotFound     Reason = "DRIVER_NOT_FOUND"
	ReasonDriverUnavailable  Reason = "DRIVER_UNAVAILABLE"
)

type Result struct {
	Success    bool
	Reason     Reason
	OrderCode  types.ID
	Driver     *driver.Driver
	DistanceKm float64
	ETAMinutes int
	Message    string
}

// Attempts is the dispatch history of one order.
type Attempts struct {
	OrderCode  types.ID
	Count      int64
	LastReason Reason
	LastAt     time.Time
}

// TickReport summarises one retry pass over the pending queue.
type TickReport struct {
	Processed int
	Assigned  int
	Skipped   int
	Failed    int
}

const (
	// attemptTTL bounds how long per-order attempt counters live in Redis.
	attemptTTL = 7 * 24 * time.Hour
	// candidatesLimit caps the admin candidate listing.
	candidatesLimit = 20
)
