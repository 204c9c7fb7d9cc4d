package simulator

// completionHandler receives scheduler callbacks as physical events execute.
// The block manager implements it; tests substitute lighter fakes.
type completionHandler interface {
	RegisterWriteArrival(e *Event)
	RegisterWriteOutcome(e *Event)
	RegisterReadOutcome(e *Event)
	RegisterEraseOutcome(e *Event)
	WearLevel(e *Event)
}

// IOScheduler orders and dispatches physical events in virtual time,
// respecting channel and die occupancy. Events chained in a batch execute
// strictly in order; independent batches execute by scheduled start time,
// ties broken by submission order.
type IOScheduler struct {
	config   Config
	device   *Device
	handler  completionHandler
	metrics  *Metrics
	recorder *Recorder

	queue *EventQueue
	now   float64

	logf func(format string, args ...interface{})
}

// NewIOScheduler creates a scheduler over the device. The completion
// handler is attached afterwards with Bind, since the block manager needs
// the scheduler at construction too.
func NewIOScheduler(config Config, device *Device, metrics *Metrics) *IOScheduler {
	return &IOScheduler{
		config:  config,
		device:  device,
		metrics: metrics,
		queue:   NewEventQueue(),
		logf:    func(string, ...interface{}) {},
	}
}

// Bind attaches the completion handler.
func (s *IOScheduler) Bind(handler completionHandler) {
	s.handler = handler
}

// SetRecorder attaches an optional op recorder.
func (s *IOScheduler) SetRecorder(r *Recorder) {
	s.recorder = r
}

// SetLogger attaches a printf-style logger for verbose event tracing.
func (s *IOScheduler) SetLogger(logf func(format string, args ...interface{})) {
	if logf != nil {
		s.logf = logf
	}
}

// CurrentTime returns the scheduler's virtual time.
func (s *IOScheduler) CurrentTime() float64 {
	return s.now
}

// Pending returns the number of queued batches.
func (s *IOScheduler) Pending() int {
	return s.queue.Len()
}

// Schedule submits a single independent event.
func (s *IOScheduler) Schedule(e *Event) {
	s.queue.Push(NewEventBatch(e))
}

// ScheduleBatch submits a dependent chain of events.
func (s *IOScheduler) ScheduleBatch(b *EventBatch) {
	if len(b.Events) == 0 {
		return
	}
	s.queue.Push(b)
}

// ProcessUpTo executes every event due at or before target. Events pushed
// past target by channel or die occupancy are carried over to later calls.
// Virtual time is monotonic: it never moves backwards even when a later
// pop carries an earlier due time.
func (s *IOScheduler) ProcessUpTo(target float64) {
	for !s.queue.IsEmpty() && s.queue.Peek().Timestamp() <= target {
		batch := s.queue.Pop()
		e := batch.Current()
		s.execute(e)
		if e.StartTime > s.now {
			s.now = e.StartTime
		}
		if batch.Advance() {
			next := batch.Current()
			if next.StartTime < e.FinishTime() {
				next.StartTime = e.FinishTime()
			}
			s.queue.Push(batch)
		}
	}
	if target > s.now {
		s.now = target
	}
}

// Drain runs the queue dry regardless of time, returning the finish time.
func (s *IOScheduler) Drain() float64 {
	for !s.queue.IsEmpty() {
		s.ProcessUpTo(s.queue.Peek().Timestamp())
	}
	return s.now
}

func (s *IOScheduler) execute(e *Event) {
	channel := e.Address.Package
	die := e.Address.Die

	start := e.StartTime
	if t := s.device.ChannelBusyUntil(channel); t > start {
		start = t
	}
	if t := s.device.DieBusyUntil(channel, die); t > start {
		start = t
	}
	e.StartTime = start
	e.TimeTaken = s.duration(e.Kind)
	s.device.Occupy(channel, die, e.FinishTime())

	switch e.Kind {
	case EventRead, EventReadCommand:
		if s.device.PageState(e.Address) == PageValid {
			e.Payload = s.device.PageData(e.Address)
		}
		s.handler.RegisterReadOutcome(e)
		s.metrics.RecordRead(e)
	case EventWrite:
		s.handler.RegisterWriteArrival(e)
		s.device.WritePage(e.Address, e.Payload)
		s.handler.RegisterWriteOutcome(e)
		s.metrics.RecordWrite(e)
	case EventErase:
		s.device.EraseBlock(e.Address)
		s.handler.RegisterEraseOutcome(e)
		s.handler.WearLevel(e)
		s.metrics.RecordErase(e)
	default:
		panic("invariant violation: unschedulable event kind " + e.Kind.String())
	}

	s.logf("exec %s", e)
	if s.recorder != nil {
		s.recorder.RecordOp(e)
	}
}

func (s *IOScheduler) duration(kind EventKind) float64 {
	switch kind {
	case EventRead, EventReadCommand:
		return s.config.PageReadTime + s.config.BusTransferTime
	case EventWrite:
		return s.config.PageWriteTime + s.config.BusTransferTime
	case EventErase:
		return s.config.BlockEraseTime
	default:
		return 0
	}
}
