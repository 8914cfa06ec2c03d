package alerts

import (
	"testing"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

var testLimits = Thresholds{
	TempMin:           320,
	TempMax:           400,
	Hysteresis:        DefaultHysteresis,
	ConfirmTimeOpen:   1200 * time.Second,
	ConfirmTimeClosed: 600 * time.Second,
	Source:            SourceBaseline,
}

func TestDecideOKToExcursionOnMaxViolation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	decision := Decide(EvalContext{
		Status:      units.StatusOK,
		Limits:      testLimits,
		Temperature: 420,
		At:          now,
	})

	if decision.Transition == nil {
		t.Fatal("expected a transition")
	}
	if decision.Transition.From != units.StatusOK || decision.Transition.To != units.StatusExcursion {
		t.Fatalf("expected ok->excursion, got %s->%s", decision.Transition.From, decision.Transition.To)
	}
	if decision.Action != ActionCreate {
		t.Fatalf("expected create action, got %s", decision.Action)
	}
	if decision.Violated != ViolationMax {
		t.Fatalf("expected max violation, got %q", decision.Violated)
	}
	if decision.Severity != SeverityWarning {
		t.Fatalf("expected warning severity, got %s", decision.Severity)
	}
}

func TestDecideOKToExcursionOnMinViolation(t *testing.T) {
	decision := Decide(EvalContext{
		Status:      units.StatusOK,
		Limits:      testLimits,
		Temperature: 310,
		At:          time.Now().UTC(),
	})
	if decision.Transition == nil || decision.Transition.To != units.StatusExcursion {
		t.Fatal("expected ok->excursion")
	}
	if decision.Violated != ViolationMin {
		t.Fatalf("expected min violation, got %q", decision.Violated)
	}
}

func TestDecideExcursionEscalatesAfterConfirmDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	decision := Decide(EvalContext{
		Status:             units.StatusExcursion,
		LastStatusChangeAt: now.Add(-601 * time.Second),
		Limits:             testLimits,
		Temperature:        430,
		At:                 now,
	})

	if decision.Transition == nil {
		t.Fatal("expected a transition")
	}
	if decision.Transition.To != units.StatusAlarmActive {
		t.Fatalf("expected alarm_active, got %s", decision.Transition.To)
	}
	if decision.Action != ActionEscalate {
		t.Fatalf("expected escalate action, got %s", decision.Action)
	}
	if decision.Severity != SeverityCritical {
		t.Fatalf("expected critical severity, got %s", decision.Severity)
	}
}

func TestDecideExcursionHoldsBeforeConfirmDelay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	decision := Decide(EvalContext{
		Status:             units.StatusExcursion,
		LastStatusChangeAt: now.Add(-599 * time.Second),
		Limits:             testLimits,
		Temperature:        430,
		At:                 now,
	})

	if decision.Transition != nil {
		t.Fatalf("expected no transition before confirm delay, got %s->%s", decision.Transition.From, decision.Transition.To)
	}
	if decision.Action != ActionNone {
		t.Fatalf("expected no action, got %s", decision.Action)
	}
}

func TestDecideConfirmDelaySelectedByDoorState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 700s out of range: past the closed-door delay, within the open-door one.
	ec := EvalContext{
		Status:             units.StatusExcursion,
		LastStatusChangeAt: now.Add(-700 * time.Second),
		Limits:             testLimits,
		Temperature:        430,
		At:                 now,
	}

	if decision := Decide(ec); decision.Action != ActionEscalate {
		t.Fatalf("expected escalation with door closed, got %s", decision.Action)
	}

	ec.DoorOpen = true
	if decision := Decide(ec); decision.Action != ActionNone {
		t.Fatalf("expected hold with door open, got %s", decision.Action)
	}
}

func TestDecideAlarmActiveResolvesInsideHysteresisBand(t *testing.T) {
	decision := Decide(EvalContext{
		Status:      units.StatusAlarmActive,
		Limits:      testLimits,
		Temperature: 350,
		At:          time.Now().UTC(),
	})

	if decision.Transition == nil {
		t.Fatal("expected a transition")
	}
	if decision.Transition.From != units.StatusAlarmActive || decision.Transition.To != units.StatusRestoring {
		t.Fatalf("expected alarm_active->restoring, got %s->%s", decision.Transition.From, decision.Transition.To)
	}
	if decision.Action != ActionResolve {
		t.Fatalf("expected resolve action, got %s", decision.Action)
	}
}

func TestDecideDeadBandHoldsBothDirections(t *testing.T) {
	// 398 sits in (tempMax-H, tempMax]: not out of range, not recovered.
	for _, status := range []units.Status{units.StatusOK, units.StatusExcursion} {
		decision := Decide(EvalContext{
			Status:      status,
			Limits:      testLimits,
			Temperature: 398,
			At:          time.Now().UTC(),
		})
		if decision.Transition != nil {
			t.Fatalf("expected no transition from %s in dead band, got ->%s", status, decision.Transition.To)
		}
		if decision.Action != ActionNone {
			t.Fatalf("expected no action from %s in dead band, got %s", status, decision.Action)
		}
	}

	// Same for the lower band [tempMin, tempMin+H).
	decision := Decide(EvalContext{
		Status:      units.StatusExcursion,
		Limits:      testLimits,
		Temperature: 322,
		At:          time.Now().UTC(),
	})
	if decision.Transition != nil || decision.Action != ActionNone {
		t.Fatal("expected hold in lower dead band")
	}
}

func TestDecideBoundaryValuesAreInRange(t *testing.T) {
	// Exactly tempMax is not out of range while ok.
	decision := Decide(EvalContext{
		Status:      units.StatusOK,
		Limits:      testLimits,
		Temperature: 400,
		At:          time.Now().UTC(),
	})
	if decision.Transition != nil {
		t.Fatal("expected no transition at exact max")
	}
}

func TestDecideNormalReadingIsNoOp(t *testing.T) {
	decision := Decide(EvalContext{
		Status:      units.StatusOK,
		Limits:      testLimits,
		Temperature: 360,
		At:          time.Now().UTC(),
	})
	if decision.Transition != nil || decision.Action != ActionNone {
		t.Fatal("expected no-op for in-range reading")
	}
}

func TestDecideLeavesExternallyOwnedStatusesAlone(t *testing.T) {
	statuses := []units.Status{
		units.StatusRestoring,
		units.StatusMonitoringInterrupted,
		units.StatusManualRequired,
		units.StatusOffline,
	}
	for _, status := range statuses {
		decision := Decide(EvalContext{
			Status:      status,
			Limits:      testLimits,
			Temperature: 430,
			At:          time.Now().UTC(),
		})
		if decision.Transition != nil || decision.Action != ActionNone {
			t.Fatalf("expected engine to hold status %s", status)
		}
	}
}
