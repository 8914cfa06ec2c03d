package alerts

import "errors"

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alert: not found")

// ErrMisconfigured indicates a unit with no baseline limits and no
// applicable rule at any level. Evaluation is skipped, never defaulted.
var ErrMisconfigured = errors.New("alert: unit thresholds misconfigured")
