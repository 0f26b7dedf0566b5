package model

import "time"

// AdvisoryCapacityExceeded flags a view whose reserved total is above capacity
// after an administrative capacity reduction. It is not an error.
const AdvisoryCapacityExceeded = "CAPACITY_EXCEEDED_ON_READ"

type CapacityView struct {
	SessionID  string     `json:"session_id"`
	Capacity   int        `json:"capacity"`
	Reserved   int        `json:"reserved"`
	Remaining  int        `json:"remaining"`
	Overbooked bool       `json:"overbooked"`
	Advisory   string     `json:"advisory,omitempty"`
	AsOf       *time.Time `json:"as_of,omitempty"`
}

// Fits reports whether numSpots more active spots keep the session within capacity.
func (v *CapacityView) Fits(numSpots int) bool {
	return v.Reserved+numSpots <= v.Capacity
}
