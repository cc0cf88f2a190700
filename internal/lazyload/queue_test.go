package lazyload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queued(id string, p Priority) *item {
	return &item{
		ticket:   newTicket(id, "u-"+id),
		element:  img(id),
		url:      "u-" + id,
		priority: p,
		state:    StatePending,
	}
}

func popIDs(q *queue) []string {
	var ids []string
	for {
		it, ok := q.pop()
		if !ok {
			return ids
		}
		ids = append(ids, it.elementID())
	}
}

func TestQueue_OrdersObservedThenPriorityThenFIFO(t *testing.T) {
	q := newQueue()
	q.push(queued("a", PriorityLow))
	q.push(queued("b", PriorityNormal))
	q.push(queued("c", PriorityNormal))
	q.push(queued("d", PriorityHighest))
	q.push(queued("e", PriorityLowest))

	_, ok := q.promote("e")
	require.True(t, ok)

	assert.Equal(t, []string{"e", "d", "b", "c", "a"}, popIDs(q))
}

func TestQueue_PromotedItemsStayFIFO(t *testing.T) {
	q := newQueue()
	for _, id := range []string{"a", "b", "c", "d"} {
		q.push(queued(id, PriorityNormal))
	}

	q.promote("d")
	q.promote("b")

	// both now observed at priority 1; enqueue order breaks the tie
	assert.Equal(t, []string{"b", "d", "a", "c"}, popIDs(q))
}

func TestQueue_PushReplacesSameElement(t *testing.T) {
	q := newQueue()
	first := queued("a", PriorityHighest)
	q.push(first)
	q.push(queued("b", PriorityNormal))

	second := queued("a", PriorityLow)
	replaced := q.push(second)

	assert.Same(t, first, replaced)
	assert.Equal(t, 2, q.Len())
	got, ok := q.get("a")
	require.True(t, ok)
	assert.Same(t, second, got)
	// the replacement takes a new place in line
	assert.Equal(t, []string{"b", "a"}, popIDs(q))
}

func TestQueue_PromoteIsIdempotent(t *testing.T) {
	q := newQueue()
	q.push(queued("a", PriorityLow))

	it, ok := q.promote("a")
	require.True(t, ok)
	assert.Equal(t, StateObserved, it.state)
	assert.Equal(t, PriorityHighest, it.priority)

	_, ok = q.promote("a")
	assert.False(t, ok)
	_, ok = q.promote("missing")
	assert.False(t, ok)
}

func TestQueue_RemoveAndDrain(t *testing.T) {
	q := newQueue()
	q.push(queued("a", PriorityNormal))
	q.push(queued("b", PriorityHigh))
	q.push(queued("c", PriorityNormal))

	removed, ok := q.remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.elementID())
	_, ok = q.remove("a")
	assert.False(t, ok)

	drained := q.drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "b", drained[0].elementID())
	assert.Equal(t, "c", drained[1].elementID())
	assert.Equal(t, 0, q.Len())
	_, ok = q.get("b")
	assert.False(t, ok)
}

func TestPriority_Clamp(t *testing.T) {
	assert.Equal(t, PriorityNormal, Priority(0).Clamp())
	assert.Equal(t, PriorityHighest, Priority(-4).Clamp())
	assert.Equal(t, PriorityLowest, Priority(11).Clamp())
	assert.Equal(t, PriorityHigh, PriorityHigh.Clamp())
}
