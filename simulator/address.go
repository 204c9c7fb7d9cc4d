package simulator

import "fmt"

// Granularity tags which fields of an Address are meaningful.
type Granularity int

const (
	GranularityNone Granularity = iota
	GranularitySSD
	GranularityPackage
	GranularityDie
	GranularityPlane
	GranularityBlock
	GranularityPage
)

func (g Granularity) String() string {
	switch g {
	case GranularitySSD:
		return "ssd"
	case GranularityPackage:
		return "package"
	case GranularityDie:
		return "die"
	case GranularityPlane:
		return "plane"
	case GranularityBlock:
		return "block"
	case GranularityPage:
		return "page"
	default:
		return "none"
	}
}

// Address is a physical flash location. Fields beyond Valid's granularity
// are zero and carry no meaning.
type Address struct {
	Package int
	Die     int
	Plane   int
	Block   int
	Page    int
	Valid   Granularity
}

func (a Address) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d,%d|%s)", a.Package, a.Die, a.Plane, a.Block, a.Page, a.Valid)
}

// IsPage reports whether the address names a specific page.
func (a Address) IsPage() bool {
	return a.Valid == GranularityPage
}

// AddressCodec converts between Address tuples and dense linear addresses.
// The conversion is total and bijective over the configured geometry.
type AddressCodec struct {
	packageSize int
	dieSize     int
	planeSize   int
	blockSize   int
	totalPages  int
	shift       int
}

// NewAddressCodec derives the codec from the device geometry.
func NewAddressCodec(config Config) *AddressCodec {
	return &AddressCodec{
		packageSize: config.PackageSize,
		dieSize:     config.DieSize,
		planeSize:   config.PlaneSize,
		blockSize:   config.BlockSize,
		totalPages:  config.TotalPages(),
		shift:       config.AddressShift(),
	}
}

// Linear encodes a page-granular address densely.
func (c *AddressCodec) Linear(a Address) int {
	n := a.Package
	n = n*c.packageSize + a.Die
	n = n*c.dieSize + a.Plane
	n = n*c.planeSize + a.Block
	n = n*c.blockSize + a.Page
	return n
}

// Decode is the inverse of Linear. The granularity of the result is PAGE.
func (c *AddressCodec) Decode(linear int) Address {
	a := Address{Valid: GranularityPage}
	a.Page = linear % c.blockSize
	linear /= c.blockSize
	a.Block = linear % c.planeSize
	linear /= c.planeSize
	a.Plane = linear % c.dieSize
	linear /= c.dieSize
	a.Die = linear % c.packageSize
	a.Package = linear / c.packageSize
	return a
}

// BlockIndex returns the dense index of the block containing linear.
func (c *AddressCodec) BlockIndex(linear int) int {
	return linear / c.blockSize
}

// BlockLinear returns the linear address of page 0 of block index bi.
func (c *AddressCodec) BlockLinear(bi int) int {
	return bi * c.blockSize
}

// TotalPages returns the size of the linear address space.
func (c *AddressCodec) TotalPages() int {
	return c.totalPages
}

// LogicalBlock returns the logical block address of a logical page address.
func (c *AddressCodec) LogicalBlock(logical int) int {
	return logical >> c.shift
}

// PageOffset returns the page offset of a logical address within its
// logical block.
func (c *AddressCodec) PageOffset(logical int) int {
	return logical % c.blockSize
}
