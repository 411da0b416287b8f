package bus

// Event is a lifecycle event broadcast to observers (CLI printer,
// file logger, WebSocket clients). Name is one of the protocol.Event*
// constants; Payload is event-specific and must be JSON-serializable.
type Event struct {
	Name    string      `json:"name"`
	RunID   int64       `json:"run_id,omitempty"`
	Step    int         `json:"step,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event. Handlers run on the
// subscriber's own goroutine; they must never block the publisher.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// The crawl loop publishes through this interface and never learns
// who is listening.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
