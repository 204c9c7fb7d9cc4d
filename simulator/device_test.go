package simulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) (*Device, *AddressCodec, Config) {
	t.Helper()
	config := DefaultConfig()
	codec := NewAddressCodec(config)
	return NewDevice(config, codec), codec, config
}

func TestDevice_StartsFullyFree(t *testing.T) {
	d, _, config := newTestDevice(t)

	free, valid, invalid := d.PageCounts()
	require.Equal(t, config.TotalPages(), free)
	require.Zero(t, valid)
	require.Zero(t, invalid)

	for _, b := range d.Blocks() {
		require.Equal(t, BlockFree, b.State())
		require.Equal(t, config.BlockErases, b.ErasesRemaining)
	}
}

func TestDevice_PageLifecycle(t *testing.T) {
	d, codec, config := newTestDevice(t)
	a := codec.Decode(0)

	require.Equal(t, PageFree, d.PageState(a))
	d.WritePage(a, []byte("x"))
	require.Equal(t, PageValid, d.PageState(a))
	require.Equal(t, []byte("x"), d.PageData(a))
	require.Equal(t, BlockPartiallyFree, d.BlockState(a))

	d.InvalidatePage(a)
	require.Equal(t, PageInvalid, d.PageState(a))

	free, valid, invalid := d.PageCounts()
	require.Equal(t, config.TotalPages()-1, free)
	require.Zero(t, valid)
	require.Equal(t, 1, invalid)
}

func TestDevice_DoubleProgramPanics(t *testing.T) {
	d, codec, _ := newTestDevice(t)
	a := codec.Decode(0)
	d.WritePage(a, nil)
	require.Panics(t, func() { d.WritePage(a, nil) })
}

func TestDevice_EraseResetsBlockAndBurnsCycle(t *testing.T) {
	d, codec, config := newTestDevice(t)

	for i := 0; i < config.BlockSize; i++ {
		a := codec.Decode(i)
		d.WritePage(a, nil)
		d.InvalidatePage(a)
	}
	a := codec.Decode(0)
	require.Equal(t, BlockInactive, d.BlockState(a))

	d.EraseBlock(a)
	require.Equal(t, BlockFree, d.BlockState(a))
	require.Equal(t, config.BlockErases-1, d.Block(a).ErasesRemaining)
	require.Equal(t, 1, d.Block(a).Age(config.BlockErases))

	free, _, _ := d.PageCounts()
	require.Equal(t, config.TotalPages(), free)
}

func TestDevice_BlockStateDerivation(t *testing.T) {
	d, codec, config := newTestDevice(t)
	a := codec.Decode(0)

	for i := 0; i < config.BlockSize; i++ {
		pa := a
		pa.Page = i
		d.WritePage(pa, nil)
	}
	require.Equal(t, BlockActive, d.BlockState(a))

	for i := 0; i < config.BlockSize; i++ {
		pa := a
		pa.Page = i
		d.InvalidatePage(pa)
	}
	require.Equal(t, BlockInactive, d.BlockState(a))
}

func TestDevice_OccupyIsMonotonic(t *testing.T) {
	d, _, _ := newTestDevice(t)

	d.Occupy(0, 0, 5.0)
	require.Equal(t, 5.0, d.ChannelBusyUntil(0))
	require.Equal(t, 5.0, d.DieBusyUntil(0, 0))

	d.Occupy(0, 0, 3.0)
	require.Equal(t, 5.0, d.ChannelBusyUntil(0), "occupancy must not move backwards")
}
