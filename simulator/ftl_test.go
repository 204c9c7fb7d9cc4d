package simulator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	sim, err := NewSimulator(DefaultConfig())
	require.NoError(t, err)
	return sim
}

func requireInvariants(t *testing.T, sim *Simulator) {
	t.Helper()
	require.NoError(t, sim.CheckInvariants())
}

// Filling one logical block in order and starting the next stream must
// promote the log block in place: a switch, with zero copy traffic.
func TestFTL_SwitchSequential(t *testing.T) {
	sim := newTestSimulator(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, sim.WriteNow(i, []byte(fmt.Sprintf("a%d", i))))
	}
	seqAddr := sim.ftl.seqAddress
	require.NotEqual(t, -1, seqAddr)
	require.Equal(t, 4, sim.ftl.seqOffset)

	// next off=0 write promotes the full sequential log block
	require.NoError(t, sim.WriteNow(0, []byte("a0x")))

	require.Equal(t, 1, sim.metrics.SwitchMerges)
	require.Zero(t, sim.metrics.GCReads, "switch must not copy pages")
	require.Zero(t, sim.metrics.GCWrites, "switch must not copy pages")
	require.Equal(t, seqAddr, sim.ftl.dataList[0],
		"old sequential block must become the data block")

	for i, want := range []string{"a0x", "a1", "a2", "a3"} {
		got, err := sim.ReadBack(i)
		require.NoError(t, err)
		require.Equal(t, []byte(want), got)
	}
	requireInvariants(t, sim)
}

// Restarting a stream before the log block fills forces a sequential
// merge: the valid log pages are copied into a fresh data block.
func TestFTL_MergeSequential(t *testing.T) {
	sim := newTestSimulator(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, sim.WriteNow(i, []byte(fmt.Sprintf("a%d", i))))
	}
	require.NoError(t, sim.WriteNow(0, []byte("a0x")))

	require.Equal(t, 1, sim.metrics.SequentialMerges)
	require.Zero(t, sim.metrics.SwitchMerges)
	require.Equal(t, 3, sim.metrics.GCReads, "merge copies the three log pages")
	require.Equal(t, 3, sim.metrics.GCWrites)

	for i, want := range []string{"a0x", "a1", "a2"} {
		got, err := sim.ReadBack(i)
		require.NoError(t, err)
		require.Equal(t, []byte(want), got)
	}
	_, err := sim.ReadBack(3)
	require.Error(t, err, "page 3 was never written")
	requireInvariants(t, sim)
}

// An out-of-order write inside the stream merges and restarts the log at
// the write's own offset; the restarted block is no longer contiguous,
// so the next stream start merges again instead of switching.
func TestFTL_BrokenSequenceRestartsAtOffset(t *testing.T) {
	sim := newTestSimulator(t)

	require.NoError(t, sim.WriteNow(0, []byte("a0")))
	require.NoError(t, sim.WriteNow(1, []byte("a1")))
	require.NoError(t, sim.WriteNow(3, []byte("a3"))) // skips page 2

	require.Equal(t, 1, sim.metrics.SequentialMerges)
	require.Equal(t, 3, sim.ftl.seqStart)
	require.Equal(t, 4, sim.ftl.seqOffset)

	for i, want := range map[int]string{0: "a0", 1: "a1", 3: "a3"} {
		got, err := sim.ReadBack(i)
		require.NoError(t, err)
		require.Equal(t, []byte(want), got)
	}
	_, err := sim.ReadBack(2)
	require.Error(t, err)

	// full but not contiguous: the next stream start must merge
	require.NoError(t, sim.WriteNow(0, []byte("a0x")))
	require.Equal(t, 2, sim.metrics.SequentialMerges)
	require.Zero(t, sim.metrics.SwitchMerges)

	got, err := sim.ReadBack(3)
	require.NoError(t, err)
	require.Equal(t, []byte("a3"), got)
	requireInvariants(t, sim)
}

// A third scattered stream exceeds the two-entry random log pool; the
// oldest-inserted log block is merged away before the new one is
// admitted.
func TestFTL_RandomLogEviction(t *testing.T) {
	sim := newTestSimulator(t)

	require.NoError(t, sim.WriteNow(1, []byte("b1"))) // log block for LBA 0
	require.NoError(t, sim.WriteNow(5, []byte("b5"))) // log block for LBA 1
	require.Equal(t, 2, sim.ftl.LogBlockCount())

	require.NoError(t, sim.WriteNow(9, []byte("b9"))) // LBA 2 evicts LBA 0

	require.Equal(t, 1, sim.metrics.RandomMerges)
	require.Equal(t, 2, sim.ftl.LogBlockCount())
	require.NotContains(t, sim.ftl.logMap, 0, "oldest insertion must be evicted")
	require.Contains(t, sim.ftl.logMap, 1)
	require.Contains(t, sim.ftl.logMap, 2)
	require.NotEqual(t, -1, sim.ftl.dataList[0], "evicted log block merges into a data block")

	for logical, want := range map[int]string{1: "b1", 5: "b5", 9: "b9"} {
		got, err := sim.ReadBack(logical)
		require.NoError(t, err)
		require.Equal(t, []byte(want), got)
	}
	requireInvariants(t, sim)
}

// An overwrite within the log block must resolve reads through the newer
// log slot, not the older copy.
func TestFTL_ReadAfterOverwrite(t *testing.T) {
	sim := newTestSimulator(t)

	require.NoError(t, sim.WriteNow(5, []byte("A")))
	require.NoError(t, sim.WriteNow(5, []byte("B")))

	lb := sim.ftl.logMap[1]
	require.NotNil(t, lb)
	require.Equal(t, 1, lb.Pages[1], "second write lands in slot 1")

	got, err := sim.ReadBack(5)
	require.NoError(t, err)
	require.Equal(t, []byte("B"), got)
	requireInvariants(t, sim)
}

// A full random log block is merged before the next update is admitted.
func TestFTL_FullLogBlockMergesBeforeAppend(t *testing.T) {
	sim := newTestSimulator(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, sim.WriteNow(5, []byte(fmt.Sprintf("v%d", i))))
	}
	require.Equal(t, 4, sim.ftl.logMap[1].Fill)

	require.NoError(t, sim.WriteNow(5, []byte("v4")))
	require.Equal(t, 1, sim.metrics.RandomMerges)
	require.Equal(t, 1, sim.ftl.logMap[1].Fill)

	got, err := sim.ReadBack(5)
	require.NoError(t, err)
	require.Equal(t, []byte("v4"), got)
	requireInvariants(t, sim)
}

func TestFTL_ReadUnwrittenFails(t *testing.T) {
	sim := newTestSimulator(t)

	_, err := sim.ReadBack(0)
	require.Error(t, err)
	require.Equal(t, 1, sim.metrics.FailedReads)

	require.NoError(t, sim.WriteNow(4, []byte("x")))
	_, err = sim.ReadBack(5)
	require.Error(t, err, "neighbouring page in the same logical block is still unwritten")
}

func TestFTL_TrimMakesReadsFail(t *testing.T) {
	sim := newTestSimulator(t)

	// data in the sequential log block
	require.NoError(t, sim.WriteNow(0, []byte("s")))
	require.NoError(t, sim.TrimNow(0))
	_, err := sim.ReadBack(0)
	require.Error(t, err)

	// data in a random log block
	require.NoError(t, sim.WriteNow(5, []byte("r")))
	require.NoError(t, sim.TrimNow(5))
	_, err = sim.ReadBack(5)
	require.Error(t, err)
	require.Equal(t, -1, sim.ftl.logMap[1].Pages[1], "trim clears the log slot")

	// data in a data block after a merge
	require.NoError(t, sim.WriteNow(9, []byte("d")))
	require.NoError(t, sim.WriteNow(13, []byte("e"))) // second log block
	require.NoError(t, sim.WriteNow(1, []byte("f")))  // evicts LBA 2's log block
	require.NotEqual(t, -1, sim.ftl.dataList[2])
	require.NoError(t, sim.TrimNow(9))
	_, err = sim.ReadBack(9)
	require.Error(t, err)

	require.Equal(t, 3, sim.metrics.Trims)
	requireInvariants(t, sim)
}

func TestFTL_RoundTripLaws(t *testing.T) {
	sim := newTestSimulator(t)

	require.NoError(t, sim.WriteNow(6, []byte("v1")))
	got, err := sim.ReadBack(6)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	require.NoError(t, sim.WriteNow(6, []byte("v2")))
	got, err = sim.ReadBack(6)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)

	require.NoError(t, sim.TrimNow(6))
	_, err = sim.ReadBack(6)
	require.Error(t, err)
}

func TestFTL_ReverseMapping(t *testing.T) {
	sim := newTestSimulator(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, sim.WriteNow(i, []byte(fmt.Sprintf("a%d", i))))
	}
	seqAddr := sim.ftl.seqAddress
	logical, ok := sim.ftl.LogicalAddress(seqAddr + 2)
	require.True(t, ok)
	require.Equal(t, 2, logical)

	// after the switch the block answers as a data block
	require.NoError(t, sim.WriteNow(4, []byte("b0")))
	logical, ok = sim.ftl.LogicalAddress(seqAddr + 3)
	require.True(t, ok)
	require.Equal(t, 3, logical)

	// a superseded log slot is no longer referenced
	require.NoError(t, sim.WriteNow(9, []byte("c1")))
	require.NoError(t, sim.WriteNow(9, []byte("c2")))
	lb := sim.ftl.logMap[2]
	_, ok = sim.ftl.LogicalAddress(lb.Address + 0)
	require.False(t, ok, "slot 0 was superseded by slot 1")
	logical, ok = sim.ftl.LogicalAddress(lb.Address + 1)
	require.True(t, ok)
	require.Equal(t, 9, logical)
}

// Filling the whole logical space with sequential writes leaves every
// logical block as a clean data block and the random log pool empty.
func TestFTL_SequentialFillLeavesCleanDataBlocks(t *testing.T) {
	sim := newTestSimulator(t)

	for i := 0; i < 28; i++ { // logical blocks 0..6
		require.NoError(t, sim.WriteNow(i, []byte(fmt.Sprintf("p%d", i))))
	}
	// one more stream start promotes the last full log block
	require.NoError(t, sim.WriteNow(28, []byte("p28")))

	require.Equal(t, 7, sim.metrics.SwitchMerges)
	require.Zero(t, sim.metrics.SequentialMerges)
	require.Zero(t, sim.metrics.RandomMerges)
	require.Zero(t, sim.ftl.LogBlockCount())
	for lba := 0; lba < 7; lba++ {
		require.NotEqual(t, -1, sim.ftl.dataList[lba], "logical block %d unmapped", lba)
	}

	for i := 0; i < 28; i++ {
		got, err := sim.ReadBack(i)
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("p%d", i)), got)
	}
	requireInvariants(t, sim)
}
