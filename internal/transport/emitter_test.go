package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitter_DeliversInRegistrationOrder(t *testing.T) {
	t.Parallel()

	e := newEmitter()
	var got []string
	e.on(EventTyping, func(any) { got = append(got, "first") })
	e.on(EventTyping, func(any) { got = append(got, "second") })

	e.emit(EventTyping, nil)
	require.Equal(t, []string{"first", "second"}, got)
}

func TestEmitter_PanickingListenerDoesNotBreakDelivery(t *testing.T) {
	t.Parallel()

	e := newEmitter()
	var delivered []any
	e.on(EventMessages, func(any) { panic("boom") })
	e.on(EventMessages, func(payload any) { delivered = append(delivered, payload) })

	e.emit(EventMessages, "payload")
	require.Equal(t, []any{"payload"}, delivered)
}

func TestEmitter_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	e := newEmitter()
	var calls int
	off := e.on(EventConnected, func(any) { calls++ })

	e.emit(EventConnected, nil)
	off()
	e.emit(EventConnected, nil)
	require.Equal(t, 1, calls)
}

func TestEmitter_EventsAreIsolated(t *testing.T) {
	t.Parallel()

	e := newEmitter()
	var typing, presence int
	e.on(EventTyping, func(any) { typing++ })
	e.on(EventOnlineStatus, func(any) { presence++ })

	e.emit(EventTyping, nil)
	require.Equal(t, 1, typing)
	require.Equal(t, 0, presence)
}
