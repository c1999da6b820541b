package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// EmitTyped emits an event with typed data to the bus and logs it.
func (m *Manager) EmitTyped(module string, data EventData) {
	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	m.bus.Emit(event)

	m.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", module).
		Msg("Event emitted")
}
