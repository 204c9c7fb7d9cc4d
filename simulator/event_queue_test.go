package simulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventQueue_OrdersByTimestamp(t *testing.T) {
	eq := NewEventQueue()

	eq.Push(NewEventBatch(NewEvent(EventWrite, 0, 3.0)))
	eq.Push(NewEventBatch(NewEvent(EventWrite, 1, 1.0)))
	eq.Push(NewEventBatch(NewEvent(EventWrite, 2, 2.0)))

	require.Equal(t, 1.0, eq.Pop().Timestamp())
	require.Equal(t, 2.0, eq.Pop().Timestamp())
	require.Equal(t, 3.0, eq.Pop().Timestamp())
	require.True(t, eq.IsEmpty())
}

func TestEventQueue_TieBreaksBySubmissionOrder(t *testing.T) {
	eq := NewEventQueue()

	for i := 0; i < 10; i++ {
		eq.Push(NewEventBatch(NewEvent(EventWrite, i, 5.0)))
	}
	for i := 0; i < 10; i++ {
		require.Equal(t, i, eq.Pop().Current().LogicalAddress)
	}
}

func TestEventQueue_PeekDoesNotRemove(t *testing.T) {
	eq := NewEventQueue()
	require.Nil(t, eq.Peek())
	require.Nil(t, eq.Pop())

	eq.Push(NewEventBatch(NewEvent(EventRead, 7, 1.5)))
	require.Equal(t, 1.5, eq.Peek().Timestamp())
	require.Equal(t, 1, eq.Len())
	require.Equal(t, 1.5, eq.Pop().Timestamp())
	require.Equal(t, 0, eq.Len())
}

func TestEventQueue_Clear(t *testing.T) {
	eq := NewEventQueue()
	eq.Push(NewEventBatch(NewEvent(EventWrite, 0, 1.0)))
	eq.Push(NewEventBatch(NewEvent(EventWrite, 1, 2.0)))
	eq.Clear()
	require.True(t, eq.IsEmpty())
}

func TestEventBatch_AdvanceWalksChain(t *testing.T) {
	read := NewEvent(EventReadCommand, 0, 1.0)
	write := NewEvent(EventWrite, 0, 1.0)
	b := NewEventBatch(read, write)

	require.Same(t, read, b.Current())
	require.True(t, b.Advance())
	require.Same(t, write, b.Current())
	require.False(t, b.Advance())
}
