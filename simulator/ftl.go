package simulator

// LogPageBlock is the mapping state of one random log block: the physical
// block it occupies, a per-logical-page-offset slot table (-1 = no copy),
// and the fill watermark (next slot to program).
type LogPageBlock struct {
	Address int   // linear address of the block's page 0
	Pages   []int // logical page offset -> slot index within the block
	Fill    int
}

// FastFTL is a FAST-style log-buffer FTL. It keeps a block-level mapping
// from logical block addresses to data blocks, one sequential log block
// absorbing in-order streams, and a bounded pool of random log blocks
// absorbing scattered updates. Log blocks are reclaimed by the switch,
// sequential-merge and random-merge operations.
type FastFTL struct {
	config     Config
	codec      *AddressCodec
	controller *Controller
	manager    *BlockManager
	metrics    *Metrics

	// dataList maps each logical block address to the linear address of
	// its data block, -1 when unmapped. dataOwner is the inverse, keyed
	// by dense block index.
	dataList  []int
	dataOwner map[int]int

	// logMap holds the random log blocks, at most MaxLogBlocks entries.
	// logFIFO records insertion order; eviction takes the front.
	logMap  map[int]*LogPageBlock
	logFIFO []int

	// Sequential log block. Slots [seqStart, seqOffset) are programmed;
	// slot i always holds the owner's page i. seqStart is non-zero only
	// after a broken-sequence restart, and a switch requires seqStart == 0.
	seqAddress int // linear address of page 0, -1 when none
	seqLogical int // owning logical block address, -1 when none
	seqOffset  int // next-append page offset
	seqStart   int // first programmed page offset
}

// NewFastFTL creates the FTL over a fresh device.
func NewFastFTL(config Config, codec *AddressCodec, controller *Controller, manager *BlockManager, metrics *Metrics) *FastFTL {
	numBlocks := config.TotalBlocks()
	f := &FastFTL{
		config:     config,
		codec:      codec,
		controller: controller,
		manager:    manager,
		metrics:    metrics,
		dataList:   make([]int, numBlocks),
		dataOwner:  make(map[int]int),
		logMap:     make(map[int]*LogPageBlock),
		seqAddress: -1,
		seqLogical: -1,
	}
	for i := range f.dataList {
		f.dataList[i] = -1
	}
	return f
}

// Read resolves a logical page and issues the read. The sequential log
// block is consulted first when the target belongs to its owner, then the
// random log block, then the data block. A log copy always wins over the
// data-block copy. Fails iff the page has never been written or was
// trimmed.
func (f *FastFTL) Read(e *Event) error {
	lba := f.codec.LogicalBlock(e.LogicalAddress)
	off := f.codec.PageOffset(e.LogicalAddress)

	if lba == f.seqLogical && off >= f.seqStart && off < f.seqOffset {
		a := f.codec.Decode(f.seqAddress + off)
		if f.controller.PageState(a) == PageValid {
			e.Address = a
			return f.controller.Issue(e)
		}
		// trimmed in place; a newer copy may have landed in the random
		// log block since, so keep resolving
	}

	if lb := f.logMap[lba]; lb != nil && lb.Pages[off] != -1 {
		a := f.codec.Decode(lb.Address + lb.Pages[off])
		e.Address = a
		return f.controller.Issue(e)
	}

	if f.dataList[lba] != -1 {
		a := f.codec.Decode(f.dataList[lba] + off)
		if f.controller.PageState(a) == PageValid {
			e.Address = a
			return f.controller.Issue(e)
		}
	}

	f.metrics.FailedReads++
	return ErrUnmappedRead(e.LogicalAddress)
}

// Write routes the event into the sequential log block, a random log
// block, or a fresh sequential stream, merging as needed, and issues it.
func (f *FastFTL) Write(e *Event) error {
	if !f.controller.CanWrite(e) {
		return ErrNoFreeCapacity(e.LogicalAddress)
	}
	if err := f.route(e); err != nil {
		return err
	}
	return f.controller.Issue(e)
}

// Relocate routes a GC migration write without issuing it; the block
// manager schedules it as part of a dependent (READ, WRITE) pair.
func (f *FastFTL) Relocate(e *Event) error {
	return f.route(e)
}

// route assigns the physical and replace addresses for a write, updating
// the mapping tables and performing any merge the routing requires. The
// replace address is resolved after any merge, so it always names the
// copy the write actually supersedes.
func (f *FastFTL) route(e *Event) error {
	lba := f.codec.LogicalBlock(e.LogicalAddress)
	off := f.codec.PageOffset(e.LogicalAddress)
	now := e.StartTime

	switch {
	case off == 0 && !e.GCOp:
		// Case A: start of a logical block. Recycle the previous
		// sequential log block first: switch if it filled contiguously,
		// merge otherwise. GC relocations are not stream starts and take
		// the random log path instead.
		if f.seqLogical != -1 {
			if f.seqOffset == f.config.BlockSize && f.seqStart == 0 {
				f.switchSequential(now)
			} else if err := f.mergeSequential(now); err != nil {
				return err
			}
		}
		if old, ok := f.currentLocation(lba, off); ok {
			e.ReplaceAddress = old
		}
		fresh, err := f.controller.GetFreeBlock(now, e.GCOp)
		if err != nil {
			return err
		}
		if err := f.controller.GetFreePage(&fresh); err != nil {
			return err
		}
		f.seqAddress = f.codec.BlockLinear(f.codec.BlockIndex(f.codec.Linear(fresh)))
		f.seqLogical = lba
		f.seqStart = 0
		f.seqOffset = 1
		e.Address = fresh

	case lba == f.seqLogical && off == f.seqOffset && off > 0:
		// Case B: in-order append. The replace address must resolve
		// before the offset advances, or the sequential block would
		// claim the slot this very write is about to program.
		if old, ok := f.currentLocation(lba, off); ok {
			e.ReplaceAddress = old
		}
		e.Address = f.codec.Decode(f.seqAddress + off)
		f.seqOffset++

	case lba == f.seqLogical && off > 0:
		// Case C: broken sequence. Fold the stream into the data block,
		// then restart the sequential log for this owner at the write's
		// own offset.
		if err := f.mergeSequential(now); err != nil {
			return err
		}
		if old, ok := f.currentLocation(lba, off); ok {
			e.ReplaceAddress = old
		}
		fresh, err := f.controller.GetFreeBlock(now, e.GCOp)
		if err != nil {
			return err
		}
		f.seqAddress = f.codec.BlockLinear(f.codec.BlockIndex(f.codec.Linear(fresh)))
		f.seqLogical = lba
		f.seqStart = off
		f.seqOffset = off + 1
		e.Address = f.codec.Decode(f.seqAddress + off)

	default:
		// Case D: scattered update, append to the random log block.
		lb, err := f.ensureLogBlock(lba, now, e.GCOp)
		if err != nil {
			return err
		}
		if old, ok := f.currentLocation(lba, off); ok {
			e.ReplaceAddress = old
		}
		slot := lb.Fill
		lb.Pages[off] = slot
		lb.Fill++
		e.Address = f.codec.Decode(lb.Address + slot)
	}

	return nil
}

// Trim invalidates the logical page and every log-block copy of it.
func (f *FastFTL) Trim(e *Event) error {
	lba := f.codec.LogicalBlock(e.LogicalAddress)
	off := f.codec.PageOffset(e.LogicalAddress)
	now := e.StartTime

	if lb := f.logMap[lba]; lb != nil && lb.Pages[off] != -1 {
		a := f.codec.Decode(lb.Address + lb.Pages[off])
		if f.controller.PageState(a) == PageValid {
			f.manager.Invalidate(a, now)
		}
		lb.Pages[off] = -1
	}
	if lba == f.seqLogical && off >= f.seqStart && off < f.seqOffset {
		a := f.codec.Decode(f.seqAddress + off)
		if f.controller.PageState(a) == PageValid {
			f.manager.Invalidate(a, now)
		}
	}
	if f.dataList[lba] != -1 {
		a := f.codec.Decode(f.dataList[lba] + off)
		if f.controller.PageState(a) == PageValid {
			f.manager.Invalidate(a, now)
		}
	}
	f.metrics.Trims++
	return nil
}

// LogicalAddress recovers the logical address currently stored at a
// physical page. Used by GC migration as the reverse mapping. Returns
// false for pages no mapping references any more: superseded log slots,
// and data-block pages shadowed by a newer log copy. Migrating those
// would resurrect stale data.
func (f *FastFTL) LogicalAddress(linear int) (int, bool) {
	bi := f.codec.BlockIndex(linear)
	page := linear % f.config.BlockSize

	lba, off := -1, -1
	if owner, ok := f.dataOwner[bi]; ok {
		lba, off = owner, page
	} else if f.seqAddress != -1 && f.codec.BlockIndex(f.seqAddress) == bi {
		lba, off = f.seqLogical, page
	} else {
	outer:
		for owner, lb := range f.logMap {
			if f.codec.BlockIndex(lb.Address) != bi {
				continue
			}
			for o, slot := range lb.Pages {
				if slot == page {
					lba, off = owner, o
					break outer
				}
			}
			break
		}
	}
	if lba == -1 {
		return 0, false
	}

	current, ok := f.currentLocation(lba, off)
	if !ok || f.codec.Linear(current) != linear {
		return 0, false
	}
	return lba*f.config.BlockSize + off, true
}

// ReleaseBlock drops every mapping that still names a block with no live
// pages left, just before its erase is scheduled. Without this a fully
// superseded data block could be recycled while dataList still pointed
// at it, and a later merge would read foreign data through the stale
// mapping.
func (f *FastFTL) ReleaseBlock(bi int) {
	if lba, ok := f.dataOwner[bi]; ok {
		delete(f.dataOwner, bi)
		f.dataList[lba] = -1
	}
	if f.seqAddress != -1 && f.codec.BlockIndex(f.seqAddress) == bi {
		f.seqAddress = -1
		f.seqLogical = -1
		f.seqOffset = 0
		f.seqStart = 0
	}
	for lba, lb := range f.logMap {
		if f.codec.BlockIndex(lb.Address) == bi {
			f.disposeLogBlock(lba)
			break
		}
	}
}

// OwnsLogBlock reports whether the FTL is using the block as its
// sequential or a random log block. Such blocks are reclaimed by merges,
// not by GC migration.
func (f *FastFTL) OwnsLogBlock(bi int) bool {
	if f.seqAddress != -1 && f.codec.BlockIndex(f.seqAddress) == bi {
		return true
	}
	for _, lb := range f.logMap {
		if f.codec.BlockIndex(lb.Address) == bi {
			return true
		}
	}
	return false
}

// currentLocation resolves the mapped physical location of a logical page,
// log copies first. Resolution follows the mapping tables, not page state:
// the caller invalidates through the replace address, which skips pages
// that are not valid.
func (f *FastFTL) currentLocation(lba, off int) (Address, bool) {
	if lba == f.seqLogical && off >= f.seqStart && off < f.seqOffset {
		return f.codec.Decode(f.seqAddress + off), true
	}
	if lb := f.logMap[lba]; lb != nil && lb.Pages[off] != -1 {
		return f.codec.Decode(lb.Address + lb.Pages[off]), true
	}
	if f.dataList[lba] != -1 {
		return f.codec.Decode(f.dataList[lba] + off), true
	}
	return Address{}, false
}

// switchSequential promotes the fully and contiguously written sequential
// log block to be its owner's data block. No data moves; the old data
// block is invalidated and reclaimed lazily.
func (f *FastFTL) switchSequential(now float64) {
	lba := f.seqLogical
	if f.dataList[lba] != -1 {
		f.releaseDataBlock(lba, now)
	}
	f.dataList[lba] = f.seqAddress
	f.dataOwner[f.codec.BlockIndex(f.seqAddress)] = lba

	f.seqAddress = -1
	f.seqLogical = -1
	f.seqOffset = 0
	f.seqStart = 0

	f.metrics.SwitchMerges++
}

// mergeSequential folds the sequential log block and the owner's data
// block into a fresh data block: for each page offset the log copy wins,
// the data-block copy backs it up, empty slots are skipped. Costs up to
// BlockSize reads and writes plus two deferred erases.
func (f *FastFTL) mergeSequential(now float64) error {
	lba := f.seqLogical
	if lba == -1 {
		return nil
	}

	dest, err := f.controller.GetFreeBlock(now, true)
	if err != nil {
		return err
	}
	destLinear := f.codec.BlockLinear(f.codec.BlockIndex(f.codec.Linear(dest)))

	events := make([]*Event, 0, 2*f.config.BlockSize)
	for i := 0; i < f.config.BlockSize; i++ {
		var src Address
		found := false

		seqPage := f.codec.Decode(f.seqAddress + i)
		if f.controller.PageState(seqPage) == PageValid {
			src = seqPage
			found = true
		} else if f.dataList[lba] != -1 {
			dataPage := f.codec.Decode(f.dataList[lba] + i)
			if f.controller.PageState(dataPage) == PageValid {
				src = dataPage
				found = true
			}
		}
		if !found {
			continue
		}

		logical := lba*f.config.BlockSize + i
		read := NewEvent(EventReadCommand, logical, now)
		read.Address = src
		read.GCOp = true

		write := NewEvent(EventWrite, logical, now)
		write.Address = f.codec.Decode(destLinear + i)
		write.Payload = f.controller.PageData(src)
		write.GCOp = true

		events = append(events, read, write)
	}
	if len(events) > 0 {
		f.manager.ReservePages(len(events) / 2)
		f.controller.IssueBatch(NewEventBatch(events...))
	}

	// the old copies are dead once the batch is built; reclaim both blocks
	f.manager.InvalidateBlock(f.codec.Decode(f.seqAddress), now)
	if f.dataList[lba] != -1 {
		f.releaseDataBlock(lba, now)
	}
	f.dataList[lba] = destLinear
	f.dataOwner[f.codec.BlockIndex(destLinear)] = lba

	f.seqAddress = -1
	f.seqLogical = -1
	f.seqOffset = 0
	f.seqStart = 0

	f.metrics.SequentialMerges++
	return nil
}

// randomMerge folds a random log block and its owner's data block into a
// fresh data block, then disposes the log block. Each page offset is
// resolved independently: log slot first, data-block copy second.
func (f *FastFTL) randomMerge(lb *LogPageBlock, lba int, now float64) error {
	dest, err := f.controller.GetFreeBlock(now, true)
	if err != nil {
		return err
	}
	destLinear := f.codec.BlockLinear(f.codec.BlockIndex(f.codec.Linear(dest)))

	events := make([]*Event, 0, 2*f.config.BlockSize)
	for i := 0; i < f.config.BlockSize; i++ {
		var src Address
		found := false

		if lb.Pages[i] != -1 {
			logPage := f.codec.Decode(lb.Address + lb.Pages[i])
			if f.controller.PageState(logPage) == PageValid {
				src = logPage
				found = true
			}
		}
		if !found && f.dataList[lba] != -1 {
			dataPage := f.codec.Decode(f.dataList[lba] + i)
			if f.controller.PageState(dataPage) == PageValid {
				src = dataPage
				found = true
			}
		}
		if !found {
			continue
		}

		logical := lba*f.config.BlockSize + i
		read := NewEvent(EventReadCommand, logical, now)
		read.Address = src
		read.GCOp = true

		write := NewEvent(EventWrite, logical, now)
		write.Address = f.codec.Decode(destLinear + i)
		write.Payload = f.controller.PageData(src)
		write.GCOp = true

		events = append(events, read, write)
	}
	if len(events) > 0 {
		f.manager.ReservePages(len(events) / 2)
		f.controller.IssueBatch(NewEventBatch(events...))
	}

	f.manager.InvalidateBlock(f.codec.Decode(lb.Address), now)
	if f.dataList[lba] != -1 {
		f.releaseDataBlock(lba, now)
	}
	f.dataList[lba] = destLinear
	f.dataOwner[f.codec.BlockIndex(destLinear)] = lba

	f.disposeLogBlock(lba)

	f.metrics.RandomMerges++
	return nil
}

// ensureLogBlock returns the random log block for a logical block
// address with at least one free slot, allocating or merging as needed.
func (f *FastFTL) ensureLogBlock(lba int, now float64, gcOp bool) (*LogPageBlock, error) {
	lb := f.logMap[lba]
	if lb != nil && f.controller.BlockState(f.codec.Decode(lb.Address)) == BlockInactive {
		panic("invariant violation: random log block is fully invalid but still indexed")
	}
	if lb != nil && lb.Fill >= f.config.BlockSize {
		// no free slot left; fold it into the data block first
		if err := f.randomMerge(lb, lba, now); err != nil {
			return nil, err
		}
		lb = nil
	}
	if lb == nil {
		var err error
		lb, err = f.allocateLogBlock(lba, now, gcOp)
		if err != nil {
			return nil, err
		}
	}
	return lb, nil
}

// allocateLogBlock admits a new random log block for a logical block
// address, evicting the oldest-inserted log block by random merge when
// the pool is at capacity. Returns the new log block directly.
func (f *FastFTL) allocateLogBlock(lba int, now float64, gcOp bool) (*LogPageBlock, error) {
	if len(f.logMap) >= f.config.MaxLogBlocks {
		victim := f.logFIFO[0]
		if err := f.randomMerge(f.logMap[victim], victim, now); err != nil {
			return nil, err
		}
	}

	fresh, err := f.controller.GetFreeBlock(now, gcOp)
	if err != nil {
		return nil, err
	}
	lb := &LogPageBlock{
		Address: f.codec.BlockLinear(f.codec.BlockIndex(f.codec.Linear(fresh))),
		Pages:   make([]int, f.config.BlockSize),
	}
	for i := range lb.Pages {
		lb.Pages[i] = -1
	}
	f.logMap[lba] = lb
	f.logFIFO = append(f.logFIFO, lba)
	return lb, nil
}

// disposeLogBlock drops a random log block from the index after a merge.
func (f *FastFTL) disposeLogBlock(lba int) {
	delete(f.logMap, lba)
	for i, v := range f.logFIFO {
		if v == lba {
			f.logFIFO = append(f.logFIFO[:i], f.logFIFO[i+1:]...)
			break
		}
	}
}

// releaseDataBlock invalidates a logical block's data block and drops the
// owner mapping.
func (f *FastFTL) releaseDataBlock(lba int, now float64) {
	bi := f.codec.BlockIndex(f.dataList[lba])
	delete(f.dataOwner, bi)
	f.manager.InvalidateBlock(f.codec.Decode(f.dataList[lba]), now)
	f.dataList[lba] = -1
}

// LogBlockCount returns the number of random log blocks in use.
func (f *FastFTL) LogBlockCount() int {
	return len(f.logMap)
}
