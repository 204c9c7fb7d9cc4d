package simulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// stubHandler satisfies the completion callbacks without block-manager
// bookkeeping, isolating scheduler timing behaviour.
type stubHandler struct {
	writeArrivals int
	writeOutcomes int
	readOutcomes  int
	eraseOutcomes int
	wearLevels    int
}

func (h *stubHandler) RegisterWriteArrival(e *Event) { h.writeArrivals++ }
func (h *stubHandler) RegisterWriteOutcome(e *Event) { h.writeOutcomes++ }
func (h *stubHandler) RegisterReadOutcome(e *Event)  { h.readOutcomes++ }
func (h *stubHandler) RegisterEraseOutcome(e *Event) { h.eraseOutcomes++ }
func (h *stubHandler) WearLevel(e *Event)            { h.wearLevels++ }

func newTestScheduler(t *testing.T) (*IOScheduler, *Device, *AddressCodec, *stubHandler, Config) {
	t.Helper()
	config := DefaultConfig()
	codec := NewAddressCodec(config)
	device := NewDevice(config, codec)
	sched := NewIOScheduler(config, device, NewMetrics())
	h := &stubHandler{}
	sched.Bind(h)
	return sched, device, codec, h, config
}

func TestScheduler_SerializesSameDie(t *testing.T) {
	sched, _, codec, h, config := newTestScheduler(t)

	w1 := NewEvent(EventWrite, 0, 0)
	w1.Address = codec.Decode(0)
	w2 := NewEvent(EventWrite, 1, 0)
	w2.Address = codec.Decode(1)
	sched.Schedule(w1)
	sched.Schedule(w2)
	sched.Drain()

	require.Equal(t, 2, h.writeOutcomes)
	require.Equal(t, 2, h.writeArrivals)
	require.GreaterOrEqual(t, w2.StartTime, w1.FinishTime(),
		"second write on the same die must wait for the first")
	require.InDelta(t, config.PageWriteTime+config.BusTransferTime, w1.TimeTaken, 1e-12)
}

func TestScheduler_BatchRunsInOrder(t *testing.T) {
	sched, device, codec, _, _ := newTestScheduler(t)

	src := codec.Decode(0)
	device.WritePage(src, []byte("payload"))

	read := NewEvent(EventReadCommand, 0, 0)
	read.Address = src
	write := NewEvent(EventWrite, 0, 0)
	write.Address = codec.Decode(5)
	write.Payload = []byte("payload")

	sched.ScheduleBatch(NewEventBatch(read, write))
	sched.Drain()

	require.GreaterOrEqual(t, write.StartTime, read.FinishTime(),
		"chained write must not start before its read completes")
	require.Equal(t, []byte("payload"), device.PageData(write.Address))
}

func TestScheduler_ReadCapturesPayload(t *testing.T) {
	sched, device, codec, h, _ := newTestScheduler(t)

	a := codec.Decode(3)
	device.WritePage(a, []byte("hello"))

	read := NewEvent(EventRead, 3, 0)
	read.Address = a
	sched.Schedule(read)
	sched.Drain()

	require.Equal(t, []byte("hello"), read.Payload)
	require.Equal(t, 1, h.readOutcomes)
}

func TestScheduler_EraseInvokesWearLevel(t *testing.T) {
	sched, device, codec, h, config := newTestScheduler(t)

	a := codec.Decode(0)
	for i := 0; i < config.BlockSize; i++ {
		pa := a
		pa.Page = i
		device.WritePage(pa, nil)
		device.InvalidatePage(pa)
	}

	erase := NewEvent(EventErase, 0, 0)
	a.Valid = GranularityBlock
	erase.Address = a
	sched.Schedule(erase)
	sched.Drain()

	require.Equal(t, 1, h.eraseOutcomes)
	require.Equal(t, 1, h.wearLevels)
	require.Equal(t, config.BlockErases-1, device.Block(a).ErasesRemaining)
}

func TestScheduler_ProcessUpToLeavesFutureEvents(t *testing.T) {
	sched, _, codec, h, _ := newTestScheduler(t)

	early := NewEvent(EventWrite, 0, 1.0)
	early.Address = codec.Decode(0)
	late := NewEvent(EventWrite, 1, 10.0)
	late.Address = codec.Decode(1)
	sched.Schedule(early)
	sched.Schedule(late)

	sched.ProcessUpTo(5.0)
	require.Equal(t, 1, h.writeOutcomes)
	require.Equal(t, 1, sched.Pending())
	require.Equal(t, 5.0, sched.CurrentTime())

	sched.ProcessUpTo(10.0)
	require.Equal(t, 2, h.writeOutcomes)
	require.Zero(t, sched.Pending())
}

func TestScheduler_TimeIsMonotonic(t *testing.T) {
	sched, _, codec, _, _ := newTestScheduler(t)

	for i := 0; i < 8; i++ {
		e := NewEvent(EventWrite, i, float64(i)*0.1)
		e.Address = codec.Decode(i)
		sched.Schedule(e)
	}

	last := 0.0
	for sched.Pending() > 0 {
		sched.ProcessUpTo(sched.CurrentTime() + 0.05)
		require.GreaterOrEqual(t, sched.CurrentTime(), last)
		last = sched.CurrentTime()
	}
}
