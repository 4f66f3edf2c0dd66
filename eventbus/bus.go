package eventbus

import (
	"fmt"
	"sync"

	"github.com/mit-dci/dlcd/logging"
)

// An EventBus takes events and forwards them to event handlers matched by name.
type EventBus struct {
	handlers     map[string][]*eventhandler
	eventMutexes map[string]*sync.Mutex
	mutex        sync.Mutex
	nextID       uint64
}

// NewEventBus creates a new event bus without any event handlers.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers:     map[string][]*eventhandler{},
		eventMutexes: map[string]*sync.Mutex{},
	}
}

const (
	// EHANDLE_OK means that the event should not be cancelled.
	EHANDLE_OK = 0

	// EHANDLE_CANCEL means that the event should be cancelled.
	EHANDLE_CANCEL = 1
)

// EventHandleResult is a flag field to represent certain things.
type EventHandleResult uint8

// HandlerID identifies a registration for UnregisterHandler.
type HandlerID uint64

type eventhandler struct {
	id         HandlerID
	handleFunc func(Event) EventHandleResult
	mutex      sync.Mutex // Make sure we don't race a handler against itself.
}

// RegisterHandler registers an event handler function by name.
func (b *EventBus) RegisterHandler(eventName string, hFunc func(Event) EventHandleResult) HandlerID {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.nextID++
	h := &eventhandler{id: HandlerID(b.nextID), handleFunc: hFunc}

	if _, ok := b.eventMutexes[eventName]; !ok {
		b.eventMutexes[eventName] = &sync.Mutex{}
	}
	b.handlers[eventName] = append(b.handlers[eventName], h)
	logging.Debugf("eventbus: registered handler %d for %s", h.id, eventName)
	return h.id
}

// UnregisterHandler removes a handler. It reports whether one was removed.
func (b *EventBus) UnregisterHandler(eventName string, id HandlerID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	hs := b.handlers[eventName]
	for i, h := range hs {
		if h.id == id {
			b.handlers[eventName] = append(hs[:i:i], hs[i+1:]...)
			return true
		}
	}
	return false
}

// CountHandlers is a convenience function.
func (b *EventBus) CountHandlers(name string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.handlers[name])
}

// Publish sends an event to the relevant event handlers. Sync handlers run
// on the caller's goroutine in registration order. The result is false if
// a handler cancelled a cancellable event.
func (b *EventBus) Publish(event Event) (bool, error) {
	if err := checkFlags(event); err != nil {
		return true, err
	}
	name := event.Name()

	// Copy the handler list so registration isn't blocked while handlers run.
	b.mutex.Lock()
	eventMutex, present := b.eventMutexes[name]
	if !present {
		b.mutex.Unlock()
		return true, nil
	}
	eventMutex.Lock()
	hs := make([]*eventhandler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mutex.Unlock()
	defer eventMutex.Unlock()

	async, uncan := isAsync(event), isUncancellable(event)

	ok := true
	for _, h := range hs {
		if async {
			go callEventHandler(h, event)
			continue
		}
		res, err := callEventHandler(h, event)
		if err != nil {
			logging.Warnf("eventbus: handler for %s: %s", name, err.Error())
		}
		if res == EHANDLE_CANCEL && !uncan {
			ok = false
		}
	}
	return ok, nil
}

// PublishNonblocking sends async events off to the relevant handlers without blocking.
func (b *EventBus) PublishNonblocking(event Event) error {
	if !isAsync(event) {
		return fmt.Errorf("event %s not async but called on function that needs async", event.Name())
	}
	go b.Publish(event)
	return nil
}

// callEventHandler turns a panicking handler into an error so one bad
// subscriber cannot take down the publisher.
func callEventHandler(handler *eventhandler, event Event) (res EventHandleResult, err error) {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	defer func() {
		if r := recover(); r != nil {
			res, err = EHANDLE_OK, fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.handleFunc(event), nil
}
