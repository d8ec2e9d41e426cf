package events

import (
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeByType(t *testing.T) {
	bus := NewEventBus()
	activation := make(chan Event, 4)
	bus.Subscribe(EventActivationChanged, func(e Event) { activation <- e })

	bus.PublishConfigChanged("plans_enabled", false)
	bus.PublishActivationChanged("u1", true, 12, 30)

	e := waitEvent(t, activation)
	if e.Type != EventActivationChanged {
		t.Errorf("Expected ACTIVATION_CHANGED, got %s", e.Type)
	}
	if e.UserID != "u1" {
		t.Errorf("Expected user u1, got %s", e.UserID)
	}
	if e.Data["days_remaining"] != 12 {
		t.Errorf("Expected 12 days remaining, got %v", e.Data["days_remaining"])
	}
	if e.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	select {
	case extra := <-activation:
		t.Errorf("Expected no other events, got %s", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	all := make(chan Event, 4)
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.PublishUserReviewed("u2", false, "missing documents")

	e := waitEvent(t, all)
	if e.Type != EventUserRejected {
		t.Errorf("Expected USER_REJECTED, got %s", e.Type)
	}
	if e.Data["reason"] != "missing documents" {
		t.Errorf("Expected reason, got %v", e.Data["reason"])
	}
}

func TestBroadcastEventsHaveNoUser(t *testing.T) {
	bus := NewEventBus()
	all := make(chan Event, 4)
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.PublishAnnouncementsUpdated(3)

	if e := waitEvent(t, all); e.UserID != "" {
		t.Errorf("Expected broadcast event, got user %s", e.UserID)
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *EventBus
	bus.PublishUserLogout("u1")
	bus.PublishError("test", "boom", nil)
}
