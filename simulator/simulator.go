package simulator

import (
	"fmt"
)

// Simulator is a PURE discrete event simulator with NO concurrency
// primitives. All state is accessed single-threaded via Step() and the
// submission helpers; the caller manages pacing and threading.
//
// A workload's logical operations are translated by the FTL into
// physical events and executed by the I/O scheduler in virtual time.
// Every operation is submitted after the queue has drained up to its
// start time, so the mapping tables always describe applied state when
// routing decisions (merges in particular) consult the device.
type Simulator struct {
	config     Config
	codec      *AddressCodec
	device     *Device
	metrics    *Metrics
	sched      *IOScheduler
	manager    *BlockManager
	controller *Controller
	ftl        *FastFTL
	recorder   *Recorder

	workload     Workload
	pendingOp    *Op
	workloadDone bool

	virtualTime float64

	// Event logging callback (optional, for UI/debugging)
	LogEvent func(msg string)
}

// NewSimulator creates and wires a simulator from a validated config.
func NewSimulator(config Config) (*Simulator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	codec := NewAddressCodec(config)
	device := NewDevice(config, codec)
	metrics := NewMetrics()
	sched := NewIOScheduler(config, device, metrics)
	manager := NewBlockManager(config, codec, device, sched, metrics)
	sched.Bind(manager)
	controller := NewController(sched, device, manager)
	ftl := NewFastFTL(config, codec, controller, manager, metrics)
	manager.BindFTL(ftl)

	s := &Simulator{
		config:     config,
		codec:      codec,
		device:     device,
		metrics:    metrics,
		sched:      sched,
		manager:    manager,
		controller: controller,
		ftl:        ftl,
	}
	sched.SetLogger(s.logf)

	if config.RecordPath != "" {
		recorder, err := NewRecorder(config.RecordPath)
		if err != nil {
			return nil, err
		}
		s.recorder = recorder
		sched.SetRecorder(recorder)
	}
	return s, nil
}

func (s *Simulator) logf(format string, args ...interface{}) {
	if s.LogEvent != nil {
		s.LogEvent(fmt.Sprintf(format, args...))
	}
}

// SetWorkload attaches the operation stream Step will drive.
func (s *Simulator) SetWorkload(w Workload) {
	s.workload = w
	s.pendingOp = nil
	s.workloadDone = false
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() Config {
	return s.config
}

// VirtualTime returns the driver's virtual time.
func (s *Simulator) VirtualTime() float64 {
	return s.virtualTime
}

// WorkloadDone reports whether the attached workload is exhausted.
func (s *Simulator) WorkloadDone() bool {
	return s.workload == nil || s.workloadDone
}

// Submit translates one logical operation and schedules its physical
// events. The scheduler first drains everything due before the
// operation's start time. Read failures surface as errors; the event
// was not issued.
func (s *Simulator) Submit(op Op) error {
	s.sched.ProcessUpTo(op.StartTime)
	if op.StartTime > s.virtualTime {
		s.virtualTime = op.StartTime
	}

	e := NewEvent(op.Kind, op.LogicalAddress, op.StartTime)
	e.Payload = op.Payload

	switch op.Kind {
	case EventRead:
		return s.ftl.Read(e)
	case EventWrite:
		return s.ftl.Write(e)
	case EventTrim:
		return s.ftl.Trim(e)
	default:
		return SimError{Message: fmt.Sprintf("unsubmittable op kind %s", op.Kind)}
	}
}

// Step advances the simulation by SimulationSpeedMultiplier virtual
// seconds, feeding due workload operations and executing due events.
func (s *Simulator) Step() {
	mult := s.config.SimulationSpeedMultiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < mult; i++ {
		target := s.virtualTime + 1.0
		s.feedWorkload(target)
		s.sched.ProcessUpTo(target)
		s.virtualTime = target
	}
	s.metrics.Snapshot(s.virtualTime, s.manager, s.ftl)
}

func (s *Simulator) feedWorkload(target float64) {
	if s.workload == nil || s.workloadDone {
		return
	}
	for {
		if s.pendingOp == nil {
			op, ok := s.workload.Next()
			if !ok {
				s.workloadDone = true
				return
			}
			s.pendingOp = &op
		}
		if s.pendingOp.StartTime > target {
			return
		}
		op := *s.pendingOp
		s.pendingOp = nil
		if err := s.Submit(op); err != nil {
			s.logf("op rejected: %v", err)
		}
	}
}

// Run steps until the target virtual time or workload exhaustion.
func (s *Simulator) Run(durationSec float64) {
	for s.virtualTime < durationSec {
		if s.WorkloadDone() && s.sched.Pending() == 0 {
			break
		}
		s.Step()
	}
}

// Quiesce feeds any remaining workload and runs the event queue dry.
func (s *Simulator) Quiesce() {
	for !s.WorkloadDone() {
		s.Step()
	}
	finish := s.sched.Drain()
	if finish > s.virtualTime {
		s.virtualTime = finish
	}
	s.metrics.Snapshot(s.virtualTime, s.manager, s.ftl)
}

// WriteNow writes a payload at the current virtual time and applies it.
func (s *Simulator) WriteNow(logical int, payload []byte) error {
	err := s.Submit(Op{
		StartTime:      s.virtualTime,
		Kind:           EventWrite,
		LogicalAddress: logical,
		Payload:        payload,
	})
	if err != nil {
		return err
	}
	s.sched.Drain()
	return nil
}

// ReadBack resolves and executes a read at the current virtual time,
// returning the page payload.
func (s *Simulator) ReadBack(logical int) ([]byte, error) {
	e := NewEvent(EventRead, logical, s.virtualTime)
	if err := s.ftl.Read(e); err != nil {
		return nil, err
	}
	s.sched.Drain()
	return e.Payload, nil
}

// TrimNow trims a logical page at the current virtual time.
func (s *Simulator) TrimNow(logical int) error {
	err := s.Submit(Op{StartTime: s.virtualTime, Kind: EventTrim, LogicalAddress: logical})
	if err != nil {
		return err
	}
	s.sched.Drain()
	return nil
}

// Metrics snapshots and returns the metrics.
func (s *Simulator) Metrics() *Metrics {
	s.metrics.Snapshot(s.virtualTime, s.manager, s.ftl)
	return s.metrics
}

// Close releases the recorder, if any.
func (s *Simulator) Close() error {
	if s.recorder != nil {
		return s.recorder.Close()
	}
	return nil
}

// State summarizes the device for the UI and result dumps.
func (s *Simulator) State() map[string]interface{} {
	free, valid, invalid := s.device.PageCounts()
	blockStates := map[string]int{}
	for _, b := range s.device.Blocks() {
		blockStates[b.State().String()]++
	}
	minAge, maxAge := s.manager.AgeSpread()
	return map[string]interface{}{
		"virtualTime":    s.virtualTime,
		"pagesFree":      free,
		"pagesValid":     valid,
		"pagesInvalid":   invalid,
		"blockStates":    blockStates,
		"logBlocksInUse": s.ftl.LogBlockCount(),
		"minAge":         minAge,
		"maxAge":         maxAge,
		"pendingEvents":  s.sched.Pending(),
	}
}

// CheckInvariants validates the structural invariants. Tests call it
// after every scenario; it returns the first violation found.
func (s *Simulator) CheckInvariants() error {
	free, valid, invalid := s.device.PageCounts()
	if free+valid+invalid != s.config.TotalPages() {
		return SimError{Message: fmt.Sprintf(
			"page states do not partition the device: %d+%d+%d != %d",
			free, valid, invalid, s.config.TotalPages())}
	}
	if s.manager.NumFreePages() != free {
		return SimError{Message: fmt.Sprintf(
			"free page accounting drifted: manager %d, device %d",
			s.manager.NumFreePages(), free)}
	}
	if s.manager.NumAvailablePages() < 0 || s.manager.NumAvailablePages() > s.manager.NumFreePages() {
		return SimError{Message: fmt.Sprintf(
			"available pages %d outside [0, %d]",
			s.manager.NumAvailablePages(), s.manager.NumFreePages())}
	}
	if s.ftl.LogBlockCount() > s.config.MaxLogBlocks {
		return SimError{Message: fmt.Sprintf(
			"log block pool overflow: %d > %d", s.ftl.LogBlockCount(), s.config.MaxLogBlocks)}
	}
	minAge, maxAge := s.manager.AgeSpread()
	for _, b := range s.device.Blocks() {
		if b.ErasesRemaining < 0 {
			return SimError{Message: fmt.Sprintf("block %d exceeded its erase budget", b.Index)}
		}
		age := b.Age(s.config.BlockErases)
		if age < minAge || age > maxAge {
			return SimError{Message: fmt.Sprintf(
				"block %d age %d outside observed [%d, %d]", b.Index, age, minAge, maxAge)}
		}
	}
	return nil
}
