package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifier_EmitOrderAndUnsubscribe(t *testing.T) {
	n := newNotifier()

	var got []string
	unsubA := n.subscribe(func(e Event, _ *Session) { got = append(got, "a:"+string(e)) })
	n.subscribe(func(e Event, _ *Session) { got = append(got, "b:"+string(e)) })

	n.emit(EventSignedIn, &Session{})
	assert.Equal(t, []string{"a:SIGNED_IN", "b:SIGNED_IN"}, got)

	unsubA()
	unsubA()
	assert.Equal(t, 1, n.len())

	got = nil
	n.emit(EventSignedOut, nil)
	assert.Equal(t, []string{"b:SIGNED_OUT"}, got)
}

func TestNotifier_ListenerMayUnsubscribeDuringEmit(t *testing.T) {
	n := newNotifier()

	calls := 0
	var unsub func()
	unsub = n.subscribe(func(Event, *Session) {
		calls++
		unsub()
	})

	n.emit(EventSignedIn, nil)
	n.emit(EventSignedIn, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, n.len())
}
