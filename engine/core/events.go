package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	EVENT_CODE_RESIZED SystemEventCode = 0x02

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// ResizeEvent is the Data payload of EVENT_CODE_RESIZED.
type ResizeEvent struct {
	Width  uint32
	Height uint32
}

type EventContext struct {
	Type SystemEventCode
	Data interface{}
}

// FnOnEvent receives a fired event on the goroutine of the caller of
// EventFire.
type FnOnEvent func(context EventContext)

// State structure.
type eventSystemState struct {
	mu sync.RWMutex
	// Lookup table for event codes.
	registered map[SystemEventCode][]FnOnEvent
}

/**
 * Event system internal state.
 */
var onceEvent sync.Once
var eventState *eventSystemState = nil

func EventSystemInitialize() bool {
	onceEvent.Do(func() {
		eventState = &eventSystemState{
			registered: make(map[SystemEventCode][]FnOnEvent),
		}
	})
	return true
}

/**
 * Register to listen for when events are sent with the provided code.
 * @param code The event code to listen for.
 * @param onEvent The callback function to be invoked when the event code is fired.
 * @returns TRUE if the event is successfully registered; otherwise false.
 */
func EventRegister(code SystemEventCode, onEvent FnOnEvent) bool {
	if eventState == nil || onEvent == nil {
		return false
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()
	eventState.registered[code] = append(eventState.registered[code], onEvent)
	return true
}

/**
 * Fires an event to listeners of its code, in registration order.
 * @param context The event, carrying its code in Type.
 * @returns TRUE if at least one listener received it, otherwise FALSE.
 */
func EventFire(context EventContext) bool {
	if eventState == nil {
		return false
	}
	eventState.mu.RLock()
	listeners := eventState.registered[context.Type]
	eventState.mu.RUnlock()

	// If nothing is registered for the code, boot out.
	if len(listeners) == 0 {
		return false
	}
	for _, fn := range listeners {
		fn(context)
	}
	return true
}

func EventSystemShutdown() error {
	if eventState == nil {
		return nil
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()
	// Free the listener lists. Objects pointed to are destroyed on their own.
	eventState.registered = make(map[SystemEventCode][]FnOnEvent)
	return nil
}
