package domain

// EventStatus is the lifecycle state of an event as kept by the directory.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "borrador"
	EventStatusActive    EventStatus = "activo"
	EventStatusFinished  EventStatus = "finalizado"
	EventStatusCancelled EventStatus = "cancelado"
)

// IsTerminal reports whether the event has ended, which gates settlement.
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusFinished || s == EventStatusCancelled
}

// Event is the directory's view of an event.
type Event struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status EventStatus `json:"status"`
}

// Business is a merchant operating within an event.
type Business struct {
	ID      string `json:"id"`
	EventID string `json:"event_id"`
	Name    string `json:"name"`
}
