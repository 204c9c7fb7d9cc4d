package simulator

import (
	"fmt"
	"math"
	"sort"
)

// translator is the view of the FTL the block manager needs: the reverse
// mapping for GC migration, log-block ownership (merge-managed blocks are
// not GC victims), and write routing for relocated pages.
type translator interface {
	LogicalAddress(linear int) (int, bool)
	OwnsLogBlock(bi int) bool
	Relocate(e *Event) error
	ReleaseBlock(bi int)
}

// BlockManager owns the physical space: per-die free-block pools bucketed
// by age class, the per-die handout frontier, GC candidate triage and
// victim selection, migration, and wear levelling. It receives scheduler
// callbacks as physical events execute.
type BlockManager struct {
	config  Config
	codec   *AddressCodec
	device  *Device
	sched   *IOScheduler
	metrics *Metrics
	ftl     translator

	// freeBlockPointers[channel][die] is the block designated to satisfy
	// the die's next allocation; Valid == GranularityNone while starved.
	freeBlockPointers [][]Address
	// freeBlocks[channel][die][class] are stacks of fully-free block
	// indices.
	freeBlocks [][][][]int
	// gcCandidates[channel][die][class] are sets of ACTIVE blocks with
	// enough invalid pages to be worth collecting.
	gcCandidates [][][]map[int]struct{}

	greedyGC         bool
	minAge           int
	maxAge           int
	blocksWithMinAge map[int]struct{}

	numFreePages                  int
	numAvailablePagesForNewWrites int

	// invalid-page count of a block frozen at erase-schedule time; the
	// erase outcome restores exactly that many pages to the counters
	pendingEraseReclaim map[int]int

	wlQueue []int
}

// NewBlockManager builds the manager over a fresh device: every block
// starts in class 0 of its die's free pool, minus one frontier per die.
func NewBlockManager(config Config, codec *AddressCodec, device *Device, sched *IOScheduler, metrics *Metrics) *BlockManager {
	m := &BlockManager{
		config:                        config,
		codec:                         codec,
		device:                        device,
		sched:                         sched,
		metrics:                       metrics,
		greedyGC:                      config.GreedyGC,
		blocksWithMinAge:              make(map[int]struct{}),
		numFreePages:                  config.TotalPages(),
		numAvailablePagesForNewWrites: config.TotalPages(),
		pendingEraseReclaim:           make(map[int]int),
	}

	m.freeBlockPointers = make([][]Address, config.SSDSize)
	m.freeBlocks = make([][][][]int, config.SSDSize)
	m.gcCandidates = make([][][]map[int]struct{}, config.SSDSize)
	for c := 0; c < config.SSDSize; c++ {
		m.freeBlockPointers[c] = make([]Address, config.PackageSize)
		m.freeBlocks[c] = make([][][]int, config.PackageSize)
		m.gcCandidates[c] = make([][]map[int]struct{}, config.PackageSize)
		for d := 0; d < config.PackageSize; d++ {
			m.freeBlocks[c][d] = make([][]int, config.NumAgeClasses)
			m.gcCandidates[c][d] = make([]map[int]struct{}, config.NumAgeClasses)
			for k := 0; k < config.NumAgeClasses; k++ {
				m.freeBlocks[c][d][k] = make([]int, 0)
				m.gcCandidates[c][d][k] = make(map[int]struct{})
			}
		}
	}

	for bi := 0; bi < config.TotalBlocks(); bi++ {
		a := codec.Decode(codec.BlockLinear(bi))
		m.freeBlocks[a.Package][a.Die][0] = append(m.freeBlocks[a.Package][a.Die][0], bi)
		m.blocksWithMinAge[bi] = struct{}{}
	}
	for c := 0; c < config.SSDSize; c++ {
		for d := 0; d < config.PackageSize; d++ {
			m.replenishFrontier(c, d, 0)
		}
	}
	return m
}

// BindFTL attaches the translator. Required before any GC can run.
func (m *BlockManager) BindFTL(ftl translator) {
	m.ftl = ftl
}

// NumFreePages returns the count of FREE pages in the device.
func (m *BlockManager) NumFreePages() int {
	return m.numFreePages
}

// NumAvailablePages returns the free pages not yet promised to in-flight
// GC migrations.
func (m *BlockManager) NumAvailablePages() int {
	return m.numAvailablePagesForNewWrites
}

// AgeSpread returns the observed (minAge, maxAge) erase-count extremes.
func (m *BlockManager) AgeSpread() (int, int) {
	return m.minAge, m.maxAge
}

// CanWrite reports whether the event may be admitted: GC ops always may,
// ordinary writes need unreserved free capacity.
func (m *BlockManager) CanWrite(e *Event) bool {
	return m.numAvailablePagesForNewWrites > 0 || e.GCOp
}

// ReservePages deducts free capacity promised to an in-flight merge
// before its writes execute. GC-flagged writes do not decrement the
// available count on completion; the reservation is their payment.
func (m *BlockManager) ReservePages(n int) {
	m.numAvailablePagesForNewWrites -= n
}

// GetFreeBlock hands out a whole free block for the FTL to own as a log,
// data or merge-destination block, choosing the die whose channel and die
// both come free earliest. The die's frontier is replenished from its
// free pools, lowest age class first; a pool dropping below two blocks
// triggers greedy GC for that (die, class).
func (m *BlockManager) GetFreeBlock(now float64, gcOp bool) (Address, error) {
	bestC, bestD := -1, -1
	bestTime := math.MaxFloat64
	for c := range m.freeBlockPointers {
		for d := range m.freeBlockPointers[c] {
			if m.freeBlockPointers[c][d].Valid == GranularityNone {
				m.replenishFrontier(c, d, now)
			}
			if m.freeBlockPointers[c][d].Valid == GranularityNone {
				continue
			}
			finish := m.device.ChannelBusyUntil(c)
			if t := m.device.DieBusyUntil(c, d); t > finish {
				finish = t
			}
			if finish < bestTime {
				bestTime = finish
				bestC, bestD = c, d
			}
		}
	}
	if bestC == -1 {
		return Address{}, SimError{Message: "no free block available"}
	}

	addr := m.freeBlockPointers[bestC][bestD]
	m.freeBlockPointers[bestC][bestD] = Address{Valid: GranularityNone}
	m.replenishFrontier(bestC, bestD, now)
	return addr, nil
}

func (m *BlockManager) replenishFrontier(c, d int, now float64) {
	for class := 0; class < m.config.NumAgeClasses; class++ {
		pool := m.freeBlocks[c][d][class]
		if len(pool) == 0 {
			continue
		}
		bi := pool[len(pool)-1]
		m.freeBlocks[c][d][class] = pool[:len(pool)-1]
		m.freeBlockPointers[c][d] = m.blockAddress(bi)
		if m.greedyGC && len(m.freeBlocks[c][d][class]) < 2 {
			m.PerformGCScoped(c, d, class, now)
		}
		return
	}
	m.freeBlockPointers[c][d] = Address{Valid: GranularityNone}
}

// Invalidate marks the addressed page INVALID and triages the block: a
// block left with no valid pages is erased immediately; a block crossing
// the invalid threshold (a quarter of its pages, or any invalids while
// its candidate set is empty) becomes a GC candidate.
func (m *BlockManager) Invalidate(a Address, now float64) {
	if m.device.PageState(a) != PageValid {
		return
	}
	m.device.InvalidatePage(a)

	b := m.device.Block(a)
	bi := b.Index
	class := m.ageClass(b.Age(m.config.BlockErases))

	if b.PagesValid == 0 && b.PagesInvalid > 0 {
		m.removeCandidate(bi)
		m.scheduleErase(bi, now)
		return
	}
	if b.PagesInvalid >= m.config.BlockSize/4 || len(m.gcCandidates[a.Package][a.Die][class]) == 0 {
		if b.State() == BlockActive && !m.isFrontier(bi) && !m.ftl.OwnsLogBlock(bi) {
			m.gcCandidates[a.Package][a.Die][class][bi] = struct{}{}
		}
	}
}

// InvalidateBlock invalidates every valid page of a block. The erase is
// scheduled by the page-level path once the last valid page goes.
func (m *BlockManager) InvalidateBlock(a Address, now float64) {
	bi := m.device.Block(a).Index
	for i := 0; i < m.config.BlockSize; i++ {
		pa := m.pageAddress(bi, i)
		if m.device.PageState(pa) == PageValid {
			m.Invalidate(pa, now)
		}
	}
}

// RegisterWriteArrival runs before a physical write begins: it
// invalidates the old location of the datum being overwritten. This is
// the only place replace addresses are invalidated, so each overwrite
// invalidates exactly once. A replaced page in the very block this write
// programs is marked invalid without erase triage: the block is about to
// hold the new copy.
func (m *BlockManager) RegisterWriteArrival(e *Event) {
	if e.Kind != EventWrite {
		panic(fmt.Sprintf("invariant violation: write arrival for %s event", e.Kind))
	}
	if e.ReplaceAddress.IsPage() && m.device.PageState(e.ReplaceAddress) == PageValid {
		if m.device.Block(e.ReplaceAddress) == m.device.Block(e.Address) {
			m.device.InvalidatePage(e.ReplaceAddress)
			return
		}
		m.Invalidate(e.ReplaceAddress, e.StartTime)
	}
}

// RegisterWriteOutcome runs after a physical write completes: free-page
// accounting plus the emergency-GC check.
func (m *BlockManager) RegisterWriteOutcome(e *Event) {
	if m.numFreePages <= 0 {
		panic("invariant violation: write completed with no free pages accounted")
	}
	m.numFreePages--
	if !e.GCOp {
		if m.numAvailablePagesForNewWrites <= 0 {
			panic("invariant violation: non-GC write completed with no available pages")
		}
		m.numAvailablePagesForNewWrites--
	}
	// a write whose mapping already moved on while it was in flight
	// (superseded by a merge or a faster overwrite) lands dead; reclaim
	// the page immediately or nothing ever will
	if _, ok := m.ftl.LogicalAddress(m.codec.Linear(e.Address)); !ok {
		m.Invalidate(e.Address, e.FinishTime())
	}

	if m.numFreePages <= m.config.BlockSize {
		m.PerformGC(e.FinishTime())
	}
}

// RegisterReadOutcome runs after a read completes.
func (m *BlockManager) RegisterReadOutcome(e *Event) {
}

// RegisterEraseOutcome returns the freed block to its die's free pool,
// bucketed by the age class of its new erase count, and restores the
// reclaimed pages to both counters. A starved die adopts the block as
// its frontier instead.
func (m *BlockManager) RegisterEraseOutcome(e *Event) {
	b := m.device.Block(e.Address)
	bi := b.Index

	age := b.Age(m.config.BlockErases)
	if age > m.maxAge {
		m.maxAge = age
	}
	class := m.ageClass(age)

	reclaim, ok := m.pendingEraseReclaim[bi]
	if !ok {
		reclaim = m.config.BlockSize
	}
	delete(m.pendingEraseReclaim, bi)
	m.numFreePages += reclaim
	m.numAvailablePagesForNewWrites += reclaim

	m.removeCandidate(bi)

	c, d := e.Address.Package, e.Address.Die
	if m.freeBlockPointers[c][d].Valid == GranularityNone {
		m.freeBlockPointers[c][d] = m.blockAddress(bi)
	} else {
		m.freeBlocks[c][d][class] = append(m.freeBlocks[c][d][class], bi)
	}
}

// WearLevel runs on every erase completion. When the age spread exceeds
// the threshold, every block tied for the minimum age is queued for
// forced migration; the queue drains as reserved capacity allows.
func (m *BlockManager) WearLevel(e *Event) {
	b := m.device.Block(e.Address)
	bi := b.Index

	if _, ok := m.blocksWithMinAge[bi]; ok {
		delete(m.blocksWithMinAge, bi)
		if len(m.blocksWithMinAge) == 0 {
			m.recomputeMinAge()
		}
	}

	if m.maxAge-m.minAge > m.config.WearLevelThreshold && len(m.wlQueue) == 0 {
		for candidate := range m.blocksWithMinAge {
			m.wlQueue = append(m.wlQueue, candidate)
		}
		sort.Ints(m.wlQueue)
		m.metrics.WearLevelTriggers++
	}

	m.drainWearLevelQueue(e.FinishTime())
}

func (m *BlockManager) drainWearLevelQueue(now float64) {
	for len(m.wlQueue) > 0 {
		bi := m.wlQueue[0]
		b := m.device.BlockByIndex(bi)
		if b.PagesValid == 0 || m.ftl.OwnsLogBlock(bi) || m.isFrontier(bi) {
			m.wlQueue = m.wlQueue[1:]
			continue
		}
		if b.PagesValid > m.numAvailablePagesForNewWrites {
			return
		}
		m.wlQueue = m.wlQueue[1:]
		m.removeCandidate(bi)
		m.migrate(bi, now)
		m.metrics.WearLevelMigrations++
	}
}

// recomputeMinAge rescans every block for the new minimum erase count and
// rebuilds the tied set.
func (m *BlockManager) recomputeMinAge() {
	min := math.MaxInt
	for _, b := range m.device.Blocks() {
		if age := b.Age(m.config.BlockErases); age < min {
			min = age
		}
	}
	m.minAge = min
	m.blocksWithMinAge = make(map[int]struct{})
	for _, b := range m.device.Blocks() {
		if b.Age(m.config.BlockErases) == m.minAge {
			m.blocksWithMinAge[b.Index] = struct{}{}
		}
	}
}

// PerformGC scans every candidate set in the device for a victim.
func (m *BlockManager) PerformGC(now float64) {
	sets := make([]map[int]struct{}, 0)
	for c := 0; c < m.config.SSDSize; c++ {
		for d := 0; d < m.config.PackageSize; d++ {
			sets = append(sets, m.gcCandidates[c][d]...)
		}
	}
	m.chooseGCVictim(sets, now)
}

// PerformGCForDie scans one die's candidate sets.
func (m *BlockManager) PerformGCForDie(c, d int, now float64) {
	m.chooseGCVictim(m.gcCandidates[c][d], now)
}

// PerformGCForClass scans one age class across the device.
func (m *BlockManager) PerformGCForClass(class int, now float64) {
	sets := make([]map[int]struct{}, 0)
	for c := 0; c < m.config.SSDSize; c++ {
		for d := 0; d < m.config.PackageSize; d++ {
			sets = append(sets, m.gcCandidates[c][d][class])
		}
	}
	m.chooseGCVictim(sets, now)
}

// PerformGCScoped scans a single (die, class) candidate set.
func (m *BlockManager) PerformGCScoped(c, d, class int, now float64) {
	m.chooseGCVictim([]map[int]struct{}{m.gcCandidates[c][d][class]}, now)
}

// chooseGCVictim picks the candidate with the fewest valid pages, ties
// broken by set order and then by lowest block index within a set, and
// migrates it. A no-op when no candidate qualifies.
func (m *BlockManager) chooseGCVictim(sets []map[int]struct{}, now float64) {
	minValid := m.config.BlockSize + 1
	victim := -1
	for _, set := range sets {
		members := make([]int, 0, len(set))
		for bi := range set {
			members = append(members, bi)
		}
		sort.Ints(members)
		for _, bi := range members {
			if m.ftl.OwnsLogBlock(bi) || m.isFrontier(bi) {
				continue
			}
			if v := m.device.BlockByIndex(bi).PagesValid; v < minValid {
				minValid = v
				victim = bi
			}
		}
	}
	if victim == -1 {
		return
	}
	m.removeCandidate(victim)
	m.migrate(victim, now)
}

// migrate rewrites every live page of a block elsewhere via the FTL, as
// dependent (READ, WRITE) pairs. Pages are reserved before migration
// begins; the block's eventual erase is issued by the invalidation path
// once the last migration invalidates the last page.
func (m *BlockManager) migrate(bi int, now float64) {
	b := m.device.BlockByIndex(bi)
	reserved := b.PagesValid
	if reserved > m.numAvailablePagesForNewWrites {
		return
	}
	m.numAvailablePagesForNewWrites -= reserved

	issued := 0
	for i := 0; i < m.config.BlockSize; i++ {
		addr := m.pageAddress(bi, i)
		if m.device.PageState(addr) != PageValid {
			continue
		}
		linear := m.codec.BlockLinear(bi) + i
		logical, ok := m.ftl.LogicalAddress(linear)
		if !ok {
			// a superseded copy nothing references; plain garbage
			m.Invalidate(addr, now)
			continue
		}

		read := NewEvent(EventReadCommand, logical, now)
		read.Address = addr
		read.GCOp = true

		write := NewEvent(EventWrite, logical, now)
		write.GCOp = true
		write.Payload = m.device.PageData(addr)
		if err := m.ftl.Relocate(write); err != nil {
			continue
		}

		m.sched.ScheduleBatch(NewEventBatch(read, write))
		m.metrics.GCMigrations++
		issued++
	}

	m.numAvailablePagesForNewWrites += reserved - issued
}

func (m *BlockManager) scheduleErase(bi int, now float64) {
	b := m.device.BlockByIndex(bi)
	m.pendingEraseReclaim[bi] = b.PagesValid + b.PagesInvalid

	// nothing live remains; any mapping still naming this block must go
	// before the block is recycled under it
	m.ftl.ReleaseBlock(bi)

	erase := NewEvent(EventErase, 0, now)
	a := m.blockAddress(bi)
	a.Valid = GranularityBlock
	erase.Address = a
	erase.GCOp = true
	m.sched.Schedule(erase)
}

// ageClass buckets an erase count into [0, NumAgeClasses). The factor
// keeps a block at exactly maxAge strictly below the class count.
func (m *BlockManager) ageClass(age int) int {
	if m.maxAge == m.minAge {
		return 0
	}
	normalized := float64(age-m.minAge) / float64(m.maxAge-m.minAge)
	class := int(normalized * float64(m.config.NumAgeClasses) * 0.99999)
	if class < 0 {
		class = 0
	}
	if class >= m.config.NumAgeClasses {
		class = m.config.NumAgeClasses - 1
	}
	return class
}

func (m *BlockManager) removeCandidate(bi int) {
	a := m.codec.Decode(m.codec.BlockLinear(bi))
	for k := 0; k < m.config.NumAgeClasses; k++ {
		delete(m.gcCandidates[a.Package][a.Die][k], bi)
	}
}

func (m *BlockManager) isFrontier(bi int) bool {
	for c := range m.freeBlockPointers {
		for d := range m.freeBlockPointers[c] {
			fp := m.freeBlockPointers[c][d]
			if fp.Valid != GranularityNone && m.codec.BlockIndex(m.codec.Linear(fp)) == bi {
				return true
			}
		}
	}
	return false
}

func (m *BlockManager) blockAddress(bi int) Address {
	return m.codec.Decode(m.codec.BlockLinear(bi))
}

func (m *BlockManager) pageAddress(bi, page int) Address {
	return m.codec.Decode(m.codec.BlockLinear(bi) + page)
}
