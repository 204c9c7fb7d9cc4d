package simulator

import "fmt"

// PageState is the state of one physical page.
type PageState int

const (
	PageFree PageState = iota
	PageValid
	PageInvalid
)

func (s PageState) String() string {
	switch s {
	case PageFree:
		return "free"
	case PageValid:
		return "valid"
	default:
		return "invalid"
	}
}

// BlockState is derived from the page states of a block.
type BlockState int

const (
	BlockFree BlockState = iota
	BlockPartiallyFree
	BlockActive
	BlockInactive
)

func (s BlockState) String() string {
	switch s {
	case BlockFree:
		return "free"
	case BlockPartiallyFree:
		return "partially_free"
	case BlockActive:
		return "active"
	default:
		return "inactive"
	}
}

// Page is one physical flash page.
type Page struct {
	State PageState
	Data  []byte
}

// Block is one physical flash block.
type Block struct {
	Index           int // dense block index, also linear address / BlockSize
	Pages           []Page
	ErasesRemaining int
	PagesValid      int
	PagesInvalid    int
}

// State derives the block state from its page counts.
func (b *Block) State() BlockState {
	size := len(b.Pages)
	switch {
	case b.PagesInvalid == size:
		return BlockInactive
	case b.PagesValid == 0 && b.PagesInvalid == 0:
		return BlockFree
	case b.PagesValid+b.PagesInvalid < size:
		return BlockPartiallyFree
	default:
		return BlockActive
	}
}

// PagesFree returns the number of unwritten pages in the block.
func (b *Block) PagesFree() int {
	return len(b.Pages) - b.PagesValid - b.PagesInvalid
}

// Age returns the number of erase cycles the block has been through.
func (b *Block) Age(blockErases int) int {
	return blockErases - b.ErasesRemaining
}

// Device models the physical SSD: the block/page hierarchy plus per-channel
// and per-die occupancy in virtual time. WritePage, EraseBlock and Occupy
// are called by the I/O scheduler as events execute. InvalidatePage is
// called by the block manager, also outside event execution (trims and
// merges invalidate pages when they are routed); the FTL only queries.
type Device struct {
	config Config
	codec  *AddressCodec

	blocks []*Block

	channelBusyUntil []float64   // per package
	dieBusyUntil     [][]float64 // per package, die

	numFreePages    int
	numValidPages   int
	numInvalidPages int
}

// NewDevice builds a fully-free device from the configured geometry.
func NewDevice(config Config, codec *AddressCodec) *Device {
	d := &Device{
		config:           config,
		codec:            codec,
		blocks:           make([]*Block, config.TotalBlocks()),
		channelBusyUntil: make([]float64, config.SSDSize),
		dieBusyUntil:     make([][]float64, config.SSDSize),
		numFreePages:     config.TotalPages(),
	}
	for i := range d.blocks {
		d.blocks[i] = &Block{
			Index:           i,
			Pages:           make([]Page, config.BlockSize),
			ErasesRemaining: config.BlockErases,
		}
	}
	for c := range d.dieBusyUntil {
		d.dieBusyUntil[c] = make([]float64, config.PackageSize)
	}
	return d
}

// Block returns the block containing the given page-granular address.
func (d *Device) Block(a Address) *Block {
	return d.blocks[d.codec.BlockIndex(d.codec.Linear(a))]
}

// BlockByIndex returns the block with the given dense index.
func (d *Device) BlockByIndex(bi int) *Block {
	return d.blocks[bi]
}

// Blocks returns all blocks in dense-index order.
func (d *Device) Blocks() []*Block {
	return d.blocks
}

// PageState returns the state of the addressed page.
func (d *Device) PageState(a Address) PageState {
	return d.Block(a).Pages[a.Page].State
}

// PageData returns the payload of the addressed page.
func (d *Device) PageData(a Address) []byte {
	return d.Block(a).Pages[a.Page].Data
}

// BlockState returns the derived state of the addressed block.
func (d *Device) BlockState(a Address) BlockState {
	return d.Block(a).State()
}

// ErasesRemaining returns the erase budget left on the addressed block.
func (d *Device) ErasesRemaining(a Address) int {
	return d.Block(a).ErasesRemaining
}

// ChannelBusyUntil returns the finish time of the operation currently
// occupying the package's bus channel.
func (d *Device) ChannelBusyUntil(channel int) float64 {
	return d.channelBusyUntil[channel]
}

// DieBusyUntil returns the finish time of the operation currently executing
// on the die.
func (d *Device) DieBusyUntil(channel, die int) float64 {
	return d.dieBusyUntil[channel][die]
}

// Occupy reserves the channel and die until the given time.
func (d *Device) Occupy(channel, die int, until float64) {
	if d.channelBusyUntil[channel] < until {
		d.channelBusyUntil[channel] = until
	}
	if d.dieBusyUntil[channel][die] < until {
		d.dieBusyUntil[channel][die] = until
	}
}

// WritePage programs a free page. Programming a non-free page violates the
// erase-before-write constraint and panics: it is an implementation bug.
func (d *Device) WritePage(a Address, data []byte) {
	b := d.Block(a)
	p := &b.Pages[a.Page]
	if p.State != PageFree {
		panic(fmt.Sprintf("invariant violation: programming non-free page %s (state %s)", a, p.State))
	}
	p.State = PageValid
	p.Data = data
	b.PagesValid++
	d.numFreePages--
	d.numValidPages++
}

// InvalidatePage marks a valid page invalid.
func (d *Device) InvalidatePage(a Address) {
	b := d.Block(a)
	p := &b.Pages[a.Page]
	if p.State != PageValid {
		panic(fmt.Sprintf("invariant violation: invalidating non-valid page %s (state %s)", a, p.State))
	}
	p.State = PageInvalid
	p.Data = nil
	b.PagesValid--
	b.PagesInvalid++
	d.numValidPages--
	d.numInvalidPages++
}

// EraseBlock wipes the addressed block and burns one erase cycle.
func (d *Device) EraseBlock(a Address) {
	b := d.Block(a)
	if b.ErasesRemaining <= 0 {
		panic(fmt.Sprintf("invariant violation: erase budget exhausted on block %d", b.Index))
	}
	d.numFreePages += b.PagesValid + b.PagesInvalid
	d.numValidPages -= b.PagesValid
	d.numInvalidPages -= b.PagesInvalid
	for i := range b.Pages {
		b.Pages[i] = Page{}
	}
	b.PagesValid = 0
	b.PagesInvalid = 0
	b.ErasesRemaining--
}

// PageCounts returns the device-wide (free, valid, invalid) page totals.
func (d *Device) PageCounts() (free, valid, invalid int) {
	return d.numFreePages, d.numValidPages, d.numInvalidPages
}
