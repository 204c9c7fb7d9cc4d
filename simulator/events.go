package simulator

import "fmt"

// EventKind represents the type of flash operation an event carries.
type EventKind int

const (
	EventRead EventKind = iota
	EventWrite
	EventTrim
	EventReadCommand
	EventErase
)

func (k EventKind) String() string {
	switch k {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventTrim:
		return "trim"
	case EventReadCommand:
		return "read_command"
	case EventErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Event is one unit of work against the device. Logical events are
// submitted by the workload driver; the FTL fills in the physical Address
// (and ReplaceAddress for overwrites) before the scheduler executes them.
type Event struct {
	ID             string
	Kind           EventKind
	LogicalAddress int
	Address        Address
	ReplaceAddress Address
	StartTime      float64
	TimeTaken      float64
	GCOp           bool
	Payload        []byte
}

// NewEvent creates an event for a logical address at a start time.
func NewEvent(kind EventKind, logical int, start float64) *Event {
	return &Event{
		ID:             newEventID(),
		Kind:           kind,
		LogicalAddress: logical,
		StartTime:      start,
	}
}

// Timestamp returns the virtual time the event is due to start.
func (e *Event) Timestamp() float64 { return e.StartTime }

// FinishTime returns the virtual time the event completed. Only meaningful
// after the scheduler has executed the event.
func (e *Event) FinishTime() float64 { return e.StartTime + e.TimeTaken }

func (e *Event) String() string {
	return fmt.Sprintf("%s(t=%.6f, lba=%d, addr=%s, gc=%v)", e.Kind, e.StartTime, e.LogicalAddress, e.Address, e.GCOp)
}

// EventBatch is an ordered sequence of events that must execute in order:
// a merge's read/write pairs, or a GC migration's (READ, WRITE) pair. The
// scheduler never reorders within a batch; each element starts no earlier
// than its predecessor's completion.
type EventBatch struct {
	Events []*Event
	next   int
}

// NewEventBatch wraps events into a dependent batch.
func NewEventBatch(events ...*Event) *EventBatch {
	return &EventBatch{Events: events}
}

// Timestamp returns the due time of the batch's next unexecuted event.
func (b *EventBatch) Timestamp() float64 { return b.Events[b.next].StartTime }

// Current returns the next unexecuted event of the batch.
func (b *EventBatch) Current() *Event { return b.Events[b.next] }

// Advance moves past the current event, returning false once the batch is
// exhausted.
func (b *EventBatch) Advance() bool {
	b.next++
	return b.next < len(b.Events)
}

func (b *EventBatch) String() string {
	return fmt.Sprintf("batch[%d/%d] %s", b.next, len(b.Events), b.Events[b.next])
}
