package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Topic: TopicSent, Data: "x"})

	ea := <-a
	ec := <-c
	assert.Equal(t, TopicSent, ea.Topic)
	assert.Equal(t, TopicSent, ec.Topic)
	assert.False(t, ea.Time.IsZero())
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Topic: TopicQueued})
	b.Publish(Event{Topic: TopicQueued})

	require.Len(t, ch, 1)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Topic: TopicFailed})
}
