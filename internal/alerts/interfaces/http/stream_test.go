package http

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/alerts/notify"
)

func streamEvent(eventType string) notify.AlertEvent {
	return notify.AlertEvent{
		Type: eventType,
		Alert: alerts.Alert{
			ID:       "alert-1",
			TenantID: "tenant-1",
			UnitID:   "unit-1",
			Severity: alerts.SeverityWarning,
			Status:   alerts.StatusActive,
		},
	}
}

func TestBrokerDeliversToSubscriber(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	broker.Notify(context.Background(), streamEvent("raised"))

	select {
	case payload := <-ch:
		var got notify.AlertEvent
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if got.Type != "raised" || got.Alert.ID != "alert-1" {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}
}

func TestBrokerUnsubscribeIsIdempotent(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	broker.Unsubscribe(ch)
	broker.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// A broadcast after the client is gone must not reach the closed channel.
	broker.Notify(context.Background(), streamEvent("resolved"))
}

// Clients connect and disconnect while broadcasts are in flight. Run with the
// race detector; any send on a channel closed by Unsubscribe fails this test.
func TestBrokerBroadcastRacesClientChurn(t *testing.T) {
	broker := NewSSEBroker()
	done := make(chan struct{})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					broker.Notify(context.Background(), streamEvent("raised"))
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		ch := broker.Subscribe()
		broker.Unsubscribe(ch)
	}
	close(done)
	wg.Wait()
}
