package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventActivationChanged    EventType = "ACTIVATION_CHANGED"
	EventUserApproved         EventType = "USER_APPROVED"
	EventUserRejected         EventType = "USER_REJECTED"
	EventDepositProcessed     EventType = "DEPOSIT_PROCESSED"
	EventWithdrawalProcessed  EventType = "WITHDRAWAL_PROCESSED"
	EventCapitalChanged       EventType = "CAPITAL_CHANGED"
	EventEarningRecorded      EventType = "EARNING_RECORDED"
	EventPlanChangeProcessed  EventType = "PLAN_CHANGE_PROCESSED"
	EventConfigChanged        EventType = "CONFIG_CHANGED"
	EventAnnouncementsUpdated EventType = "ANNOUNCEMENTS_UPDATED"
	EventUserLogout           EventType = "USER_LOGOUT"
	EventError                EventType = "ERROR"
)

// Event represents a system event. Events scoped to a single user carry
// the target in UserID; an empty UserID means every connected client.
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishActivationChanged publishes a bot activation change for a user
func (eb *EventBus) PublishActivationChanged(userID string, isActive bool, daysRemaining, totalDays int) {
	eb.Publish(Event{
		Type:   EventActivationChanged,
		UserID: userID,
		Data: map[string]interface{}{
			"user_id":             userID,
			"is_active":           isActive,
			"days_remaining":      daysRemaining,
			"total_duration_days": totalDays,
		},
	})
}

// PublishUserReviewed publishes the outcome of an account review
func (eb *EventBus) PublishUserReviewed(userID string, approved bool, reason string) {
	eventType := EventUserApproved
	if !approved {
		eventType = EventUserRejected
	}
	data := map[string]interface{}{
		"user_id": userID,
	}
	if reason != "" {
		data["reason"] = reason
	}
	eb.Publish(Event{Type: eventType, UserID: userID, Data: data})
}

// PublishTransactionProcessed publishes a deposit or withdrawal review
func (eb *EventBus) PublishTransactionProcessed(eventType EventType, userID string, id int64, status string, amount float64) {
	eb.Publish(Event{
		Type:   eventType,
		UserID: userID,
		Data: map[string]interface{}{
			"id":     id,
			"status": status,
			"amount": amount,
		},
	})
}

// PublishCapitalChanged publishes an invest or capital withdrawal
func (eb *EventBus) PublishCapitalChanged(userID, exchange string, amount float64) {
	eb.Publish(Event{
		Type:   EventCapitalChanged,
		UserID: userID,
		Data: map[string]interface{}{
			"exchange": exchange,
			"amount":   amount,
		},
	})
}

// PublishEarningRecorded publishes a new earning entry for a user
func (eb *EventBus) PublishEarningRecorded(userID string, amount float64) {
	eb.Publish(Event{
		Type:   EventEarningRecorded,
		UserID: userID,
		Data: map[string]interface{}{
			"amount": amount,
		},
	})
}

// PublishPlanChangeProcessed publishes the outcome of a plan change request
func (eb *EventBus) PublishPlanChangeProcessed(userID string, requestID int64, status string) {
	eb.Publish(Event{
		Type:   EventPlanChangeProcessed,
		UserID: userID,
		Data: map[string]interface{}{
			"request_id": requestID,
			"status":     status,
		},
	})
}

// PublishConfigChanged publishes a feature flag change to everyone
func (eb *EventBus) PublishConfigChanged(key string, value bool) {
	eb.Publish(Event{
		Type: EventConfigChanged,
		Data: map[string]interface{}{
			"key":   key,
			"value": value,
		},
	})
}

// PublishAnnouncementsUpdated tells clients to refetch announcements
func (eb *EventBus) PublishAnnouncementsUpdated(count int) {
	eb.Publish(Event{
		Type: EventAnnouncementsUpdated,
		Data: map[string]interface{}{
			"count": count,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}

// PublishUserLogout publishes a user logout event
func (eb *EventBus) PublishUserLogout(userID string) {
	eb.Publish(Event{
		Type:   EventUserLogout,
		UserID: userID,
		Data: map[string]interface{}{
			"user_id": userID,
		},
	})
}
