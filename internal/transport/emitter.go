package transport

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Event names the closed set of transport events.
type Event string

const (
	// EventConversations delivers a full conversation list push.
	EventConversations Event = "conversations"
	// EventMessages delivers a full message array push for one conversation.
	EventMessages Event = "messages"
	// EventTyping delivers a typing start/stop signal.
	EventTyping Event = "typing"
	// EventOnlineStatus delivers a presence change.
	EventOnlineStatus Event = "onlineStatus"
	// EventConnected fires after the broker connection is (re)established.
	EventConnected Event = "connected"
	// EventDisconnected fires when the connection drops or gives up.
	EventDisconnected Event = "disconnected"
)

// Handler receives a decoded event payload. Handlers run synchronously on
// the transport's read goroutine, in registration order.
type Handler func(payload any)

// emitter is a minimal in-process event registry. Listener panics are
// contained so one faulty listener cannot break delivery to the rest.
type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Event]map[int]Handler
	order    map[Event][]int
}

func newEmitter() *emitter {
	return &emitter{
		handlers: make(map[Event]map[int]Handler),
		order:    make(map[Event][]int),
	}
}

// on registers a handler and returns its removal function.
func (e *emitter) on(event Event, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]Handler)
	}
	id := e.nextID
	e.nextID++
	e.handlers[event][id] = handler
	e.order[event] = append(e.order[event], id)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[event], id)
	}
}

// emit invokes every registered handler for event.
func (e *emitter) emit(event Event, payload any) {
	e.mu.RLock()
	ids := e.order[event]
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := e.handlers[event][id]; ok {
			handlers = append(handlers, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		safeInvoke(event, h, payload)
	}
}

func safeInvoke(event Event, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(event)).Msg("event listener panicked")
		}
	}()
	h(payload)
}
