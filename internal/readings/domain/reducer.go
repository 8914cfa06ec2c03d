package readings

// LatestPerUnit collapses an unordered batch to the single freshest reading
// per unit, so the state machine is evaluated once per unit instead of once
// per reading. Equal timestamps resolve to the last reading in input order;
// the tie-break is deterministic but arbitrary.
func LatestPerUnit(batch []Reading) map[string]Reading {
	latest := make(map[string]Reading, len(batch))
	for _, reading := range batch {
		if reading.UnitID == "" {
			continue
		}
		existing, ok := latest[reading.UnitID]
		if !ok || !reading.RecordedAt.Before(existing.RecordedAt) {
			latest[reading.UnitID] = reading
		}
	}
	return latest
}
