package api

import "time"

// StatusProvider is implemented by the engine: it reports the currently
// running market window and its coordinator's latest decision state, or
// Running=false between rotations (resolving the next window).
type StatusProvider interface {
	Status() Status
}

// Status is the /status response body.
type Status struct {
	Running     bool      `json:"running"`
	Slug        string    `json:"slug,omitempty"`
	ConditionID string    `json:"condition_id,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
	State       string    `json:"state,omitempty"`
	NetDiff     float64   `json:"net_diff"`
	CanOpen     bool      `json:"can_open"`
}
