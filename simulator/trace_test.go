package simulator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceWorkload_ParsesOps(t *testing.T) {
	trace := `# time,op,logical
0.0,write,5
0.1,read,5
0.2,trim,5
`
	w := NewTraceWorkload(strings.NewReader(trace))

	op, ok := w.Next()
	require.True(t, ok)
	require.Equal(t, Op{StartTime: 0.0, Kind: EventWrite, LogicalAddress: 5}, op)

	op, ok = w.Next()
	require.True(t, ok)
	require.Equal(t, EventRead, op.Kind)

	op, ok = w.Next()
	require.True(t, ok)
	require.Equal(t, EventTrim, op.Kind)

	_, ok = w.Next()
	require.False(t, ok)
	require.NoError(t, w.Err())
}

func TestTraceWorkload_RejectsUnknownOp(t *testing.T) {
	w := NewTraceWorkload(strings.NewReader("0.0,scrub,1\n"))
	_, ok := w.Next()
	require.False(t, ok)
	require.Error(t, w.Err())
}

func TestTraceWorkload_RejectsBadFields(t *testing.T) {
	w := NewTraceWorkload(strings.NewReader("zero,write,1\n"))
	_, ok := w.Next()
	require.False(t, ok)
	require.Error(t, w.Err())

	w = NewTraceWorkload(strings.NewReader("0.0,write,one\n"))
	_, ok = w.Next()
	require.False(t, ok)
	require.Error(t, w.Err())
}

func TestSequentialFillWorkload_CoversEveryPage(t *testing.T) {
	w := NewSequentialFillWorkload(8, 0.5)
	for i := 0; i < 8; i++ {
		op, ok := w.Next()
		require.True(t, ok)
		require.Equal(t, i, op.LogicalAddress)
		require.Equal(t, float64(i)*0.5, op.StartTime)
		require.Equal(t, EventWrite, op.Kind)
	}
	_, ok := w.Next()
	require.False(t, ok)
}

func TestUniformRandomWorkload_BoundedAndSeeded(t *testing.T) {
	a := NewUniformRandomWorkload(16, 100, 0.1, 7)
	b := NewUniformRandomWorkload(16, 100, 0.1, 7)
	for i := 0; i < 100; i++ {
		opA, okA := a.Next()
		opB, okB := b.Next()
		require.True(t, okA)
		require.True(t, okB)
		require.Equal(t, opA, opB, "same seed must replay the same stream")
		require.GreaterOrEqual(t, opA.LogicalAddress, 0)
		require.Less(t, opA.LogicalAddress, 16)
	}
	_, ok := a.Next()
	require.False(t, ok)
}
