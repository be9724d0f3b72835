package core

import "sync"

type EventContext struct {
	Data struct {
		U64 [2]uint64
		U32 [4]uint32
		I32 [4]int32
	}
	// Payload carries the object the event refers to, e.g. the native state
	// handle being destroyed.
	Payload interface{}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// A pooled render state is being destroyed.
	/* Context usage:
	 * Payload = native state handle
	 */
	EVENT_CODE_STATE_RELEASED SystemEventCode = 0x02

	// A GPU resource has been destroyed after its last submission retired.
	/* Context usage:
	 * U32[0] = resource id
	 */
	EVENT_CODE_RESOURCE_DESTROYED SystemEventCode = 0x03

	// A pipeline cache file changed on disk.
	/* Context usage:
	 * Payload = file path
	 */
	EVENT_CODE_PIPELINE_CACHE_INVALIDATED SystemEventCode = 0x04

	// Render targets resized.
	/* Context usage:
	 * U32[0] = width
	 * U32[1] = height
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x05

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

const MAX_MESSAGE_CODES = 16384

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to listeners registered per code. Each render
// system owns one so several can run side by side.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		registered: make(map[SystemEventCode][]*registeredEvent),
	}
}

/**
 * Register to listen for when events are sent with the provided code. Duplicate
 * listeners for the same code are rejected.
 * @returns true if the event is successfully registered; otherwise false.
 */
func (eb *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code >= MAX_MESSAGE_CODES || onEvent == nil {
		return false
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, e := range eb.registered[code] {
		if e.listener == listener {
			LogWarn("event code %d: listener already registered", code)
			return false
		}
	}
	eb.registered[code] = append(eb.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister a listener from the provided code.
 * @returns true if the listener was found and removed.
 */
func (eb *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	events := eb.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eb.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of the given code. If a handler returns true the
 * event is considered handled and is not passed on to any more listeners.
 */
func (eb *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	eb.mu.RLock()
	events := append([]*registeredEvent(nil), eb.registered[code]...)
	eb.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}

func (eb *EventBus) Shutdown() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.registered = make(map[SystemEventCode][]*registeredEvent)
}
