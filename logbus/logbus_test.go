package logbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbital-run/jobctl/domain"
)

func TestBus_PublishLogDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("r1")
	defer sub.Close()

	assert.Equal(t, 1, b.SubscriberCount("r1"))

	entry := &domain.LogEntry{RunID: "r1", Seq: 1, Text: "hello"}
	b.PublishLog(entry)

	select {
	case ev := <-sub.C:
		require.NotNil(t, ev.Log)
		assert.Equal(t, "hello", ev.Log.Text)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestBus_PublishIgnoresOtherRuns(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("r1")
	defer sub.Close()

	b.PublishLog(&domain.LogEntry{RunID: "r2", Seq: 1, Text: "other"})

	select {
	case <-sub.C:
		t.Fatal("subscriber for r1 must not receive events published for r2")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CloseRemovesSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("r1")
	sub.Close()

	assert.Equal(t, 0, b.SubscriberCount("r1"))

	_, ok := <-sub.C
	assert.False(t, ok, "the subscription channel must be closed")
}

func TestBus_OverflowDisconnectsSlowSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("r1")

	for i := 0; i < backlog+10; i++ {
		b.PublishLog(&domain.LogEntry{RunID: "r1", Seq: int64(i), Text: "x"})
	}

	assert.Equal(t, 0, b.SubscriberCount("r1"), "a subscriber that never drains must be dropped once its buffer fills")
}

func TestBus_PublishStep(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("r1")
	defer sub.Close()

	b.PublishStep(&domain.RunStep{RunID: "r1", Idx: 0, Name: "build"})

	select {
	case ev := <-sub.C:
		require.NotNil(t, ev.Step)
		assert.Equal(t, "build", ev.Step.Name)
	case <-time.After(time.Second):
		t.Fatal("expected step event was not delivered")
	}
}
