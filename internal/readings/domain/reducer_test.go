package readings

import (
	"testing"
	"time"

	units "coldchain-cloud/internal/units/domain"
)

func TestLatestPerUnitPicksFreshest(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []Reading{
		{UnitID: "unit-1", Temperature: 350, RecordedAt: base.Add(2 * time.Minute)},
		{UnitID: "unit-1", Temperature: 420, RecordedAt: base.Add(5 * time.Minute)},
		{UnitID: "unit-1", Temperature: 360, RecordedAt: base},
		{UnitID: "unit-2", Temperature: 300, RecordedAt: base.Add(time.Minute)},
	}

	latest := LatestPerUnit(batch)
	if len(latest) != 2 {
		t.Fatalf("expected 2 units, got %d", len(latest))
	}
	if got := latest["unit-1"].Temperature; got != 420 {
		t.Fatalf("expected freshest reading 420 for unit-1, got %v", got)
	}
	if got := latest["unit-2"].Temperature; got != 300 {
		t.Fatalf("expected reading 300 for unit-2, got %v", got)
	}
}

func TestLatestPerUnitTieBreaksToLastInInputOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []Reading{
		{UnitID: "unit-1", Temperature: 410, RecordedAt: at, Source: "gateway-a"},
		{UnitID: "unit-1", Temperature: 420, RecordedAt: at, Source: "gateway-b"},
	}

	latest := LatestPerUnit(batch)
	reading, ok := latest["unit-1"]
	if !ok {
		t.Fatal("expected unit-1 in result")
	}
	if reading.Source != "gateway-b" {
		t.Fatalf("expected last reading in input order to win, got %s", reading.Source)
	}
}

func TestLatestPerUnitCollapsesDuplicateDelivery(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	duplicate := Reading{UnitID: "unit-1", Temperature: 420, RecordedAt: at, Source: "sensor"}

	latest := LatestPerUnit([]Reading{duplicate, duplicate})
	if len(latest) != 1 {
		t.Fatalf("expected duplicates to collapse to one reading, got %d", len(latest))
	}
	if got := latest["unit-1"].Temperature; got != units.Temperature(420) {
		t.Fatalf("unexpected temperature %v", got)
	}
}

func TestLatestPerUnitSkipsEmptyUnitID(t *testing.T) {
	latest := LatestPerUnit([]Reading{{Temperature: 100, RecordedAt: time.Now()}})
	if len(latest) != 0 {
		t.Fatalf("expected readings without unit id to be dropped, got %d", len(latest))
	}
}
