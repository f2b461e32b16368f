package camera

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies manager events
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventModeSwitchBegin    EventType = "mode_switch_begin"
	EventModeSwitchDone     EventType = "mode_switch_done"
	EventModeSwitchDegraded EventType = "mode_switch_degraded"
	EventCalibUpdated       EventType = "calib_updated"
	EventResultFailed       EventType = "result_failed"
	EventLumaResultFailed   EventType = "luma_result_failed"
)

// Event is a lifecycle notification published to every EventSink
type Event struct {
	ID     string    `json:"id"`
	Type   EventType `json:"type"`
	State  string    `json:"state"`
	Mode   string    `json:"mode"`
	Time   time.Time `json:"time"`
	Detail string    `json:"detail,omitempty"`
}

// EventSink consumes manager events. Notify is called from whichever
// goroutine caused the event and must not block.
type EventSink interface {
	Notify(ev Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ev Event)

// Notify calls f(ev)
func (f EventSinkFunc) Notify(ev Event) { f(ev) }

// emit stamps an event with the current state and mode and fans it out to the sinks
func (m *Manager) emit(typ EventType, detail string) {
	m.sinksMu.RLock()
	sinks := m.sinks
	m.sinksMu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	ev := Event{
		ID:     uuid.New().String(),
		Type:   typ,
		State:  m.State().String(),
		Mode:   m.WorkingMode().String(),
		Time:   time.Now(),
		Detail: detail,
	}
	for _, s := range sinks {
		s.Notify(ev)
	}
}
