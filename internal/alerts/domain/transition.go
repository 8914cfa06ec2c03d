package alerts

import (
	"time"

	units "coldchain-cloud/internal/units/domain"
)

// DefaultHysteresis is the recovery margin inside the threshold band,
// in tenths of a degree (0.5 degrees).
const DefaultHysteresis units.Temperature = 5

// Action is the alert mutation a transition requests.
type Action string

const (
	ActionNone     Action = "none"
	ActionCreate   Action = "create"
	ActionEscalate Action = "escalate"
	ActionResolve  Action = "resolve"
)

// Transition reasons.
const (
	ReasonOutOfRange         = "out_of_range"
	ReasonExcursionConfirmed = "excursion_confirmed"
	ReasonRecovered          = "recovered_within_hysteresis"
)

// Transition describes one status change.
type Transition struct {
	From   units.Status `json:"from"`
	To     units.Status `json:"to"`
	Reason string       `json:"reason"`
}

// EvalContext is the full input of one state machine evaluation.
type EvalContext struct {
	Status             units.Status
	DoorOpen           bool
	LastStatusChangeAt time.Time
	Limits             Thresholds
	Temperature        units.Temperature
	At                 time.Time
}

// Decision is the pure outcome of one evaluation: the status transition, if
// any, and the alert mutation it requires. Persisting the decision is the
// coordinator's job.
type Decision struct {
	Transition *Transition
	Action     Action
	Violated   Violation
	Severity   string
}

// Decide evaluates one reading against the unit's current status and
// resolved thresholds. Exactly one transition fires per reading, chosen in
// priority order; every other combination holds the current state. Statuses
// owned by external collaborators (monitoring_interrupted, manual_required,
// offline, restoring) are never disturbed.
func Decide(ec EvalContext) Decision {
	if !ec.Status.EngineDriven() {
		return Decision{Action: ActionNone}
	}

	t := ec.Temperature
	outOfRange := t > ec.Limits.TempMax || t < ec.Limits.TempMin

	// Asymmetric dead-band: a reading in [tempMin, tempMin+H) or
	// (tempMax-H, tempMax] is neither out of range nor recovered. No
	// transition fires there, which keeps the boundary from chattering.
	h := ec.Limits.Hysteresis
	if h < 0 {
		h = 0
	}
	inRangeWithHysteresis := t <= ec.Limits.TempMax-h && t >= ec.Limits.TempMin+h

	violated := ViolationNone
	if t > ec.Limits.TempMax {
		violated = ViolationMax
	} else if t < ec.Limits.TempMin {
		violated = ViolationMin
	}

	switch ec.Status {
	case units.StatusOK:
		if outOfRange {
			return Decision{
				Transition: &Transition{From: units.StatusOK, To: units.StatusExcursion, Reason: ReasonOutOfRange},
				Action:     ActionCreate,
				Violated:   violated,
				Severity:   SeverityWarning,
			}
		}
	case units.StatusExcursion:
		if outOfRange {
			confirm := ec.Limits.ConfirmTime(ec.DoorOpen)
			if confirm > 0 && !ec.LastStatusChangeAt.IsZero() && ec.At.Sub(ec.LastStatusChangeAt) >= confirm {
				return Decision{
					Transition: &Transition{From: units.StatusExcursion, To: units.StatusAlarmActive, Reason: ReasonExcursionConfirmed},
					Action:     ActionEscalate,
					Violated:   violated,
					Severity:   SeverityCritical,
				}
			}
			return Decision{Action: ActionNone}
		}
		if inRangeWithHysteresis {
			return Decision{
				Transition: &Transition{From: units.StatusExcursion, To: units.StatusRestoring, Reason: ReasonRecovered},
				Action:     ActionResolve,
			}
		}
	case units.StatusAlarmActive:
		if inRangeWithHysteresis {
			return Decision{
				Transition: &Transition{From: units.StatusAlarmActive, To: units.StatusRestoring, Reason: ReasonRecovered},
				Action:     ActionResolve,
			}
		}
	}

	return Decision{Action: ActionNone}
}
