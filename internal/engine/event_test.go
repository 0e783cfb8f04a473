package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventQueue_TimeOrdering(t *testing.T) {
	q := NewEventQueue()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	q.Push(&Event{Time: t0.Add(2 * time.Hour), Kind: KindMarketData})
	q.Push(&Event{Time: t0, Kind: KindMarketData})
	q.Push(&Event{Time: t0.Add(time.Hour), Kind: KindMarketData})

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, t0, q.Pop().Time)
	assert.Equal(t, t0.Add(time.Hour), q.Pop().Time)
	assert.Equal(t, t0.Add(2*time.Hour), q.Pop().Time)
	assert.Nil(t, q.Pop())
}

func TestEventQueue_KindPriorityBreaksTies(t *testing.T) {
	q := NewEventQueue()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	q.Push(&Event{Time: ts, Kind: KindFill})
	q.Push(&Event{Time: ts, Kind: KindOrder})
	q.Push(&Event{Time: ts, Kind: KindSignal})
	q.Push(&Event{Time: ts, Kind: KindMarketData})

	assert.Equal(t, KindMarketData, q.Pop().Kind)
	assert.Equal(t, KindSignal, q.Pop().Kind)
	assert.Equal(t, KindOrder, q.Pop().Kind)
	assert.Equal(t, KindFill, q.Pop().Kind)
}

func TestEventQueue_SeqBreaksFullTies(t *testing.T) {
	q := NewEventQueue()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &Event{Time: ts, Kind: KindSignal, Symbol: "A"}
	second := &Event{Time: ts, Kind: KindSignal, Symbol: "B"}
	q.Push(first)
	q.Push(second)

	assert.Same(t, first, q.Pop())
	assert.Same(t, second, q.Pop())
}

func TestEventQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewEventQueue()
	assert.Nil(t, q.Peek())

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Push(&Event{Time: ts, Kind: KindMarketData})
	assert.NotNil(t, q.Peek())
	assert.Equal(t, 1, q.Len())
}

func TestEventQueue_ChronologyViolation(t *testing.T) {
	q := NewEventQueue()
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	q.Push(&Event{Time: ts, Kind: KindMarketData})
	assert.NotNil(t, q.Pop())
	assert.NoError(t, q.ValidateChronology())

	// push an event earlier than what was already processed
	q.Push(&Event{Time: ts.Add(-time.Hour), Kind: KindMarketData})
	assert.NotNil(t, q.Pop())
	assert.Error(t, q.ValidateChronology())

	// first violation is retained even after valid pops
	q.Push(&Event{Time: ts.Add(time.Hour), Kind: KindMarketData})
	assert.NotNil(t, q.Pop())
	assert.Error(t, q.ValidateChronology())
}
