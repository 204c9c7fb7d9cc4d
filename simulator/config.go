package simulator

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"os"
)

// Config holds the SSD geometry and all simulation knobs.
// Geometry follows the package > die > plane > block > page hierarchy;
// a package shares one bus channel, so "channel" and "package" are
// interchangeable throughout.
type Config struct {
	// Geometry
	SSDSize     int `json:"ssdSize"`     // packages (= channels)
	PackageSize int `json:"packageSize"` // dies per package
	DieSize     int `json:"dieSize"`     // planes per die
	PlaneSize   int `json:"planeSize"`   // blocks per plane
	BlockSize   int `json:"blockSize"`   // pages per block, must be a power of two
	PageSize    int `json:"pageSize"`    // bytes per page

	// Endurance and mapping
	BlockErases  int `json:"blockErases"`  // erase budget per block
	MaxLogBlocks int `json:"maxLogBlocks"` // random log block pool size

	// Garbage collection and wear levelling
	NumAgeClasses      int  `json:"numAgeClasses"`
	GreedyGC           bool `json:"greedyGC"`
	WearLevelThreshold int  `json:"wearLevelThreshold"` // max allowed maxAge - minAge spread

	// Per-operation latencies in virtual seconds
	PageReadTime    float64 `json:"pageReadTime"`
	PageWriteTime   float64 `json:"pageWriteTime"`
	BlockEraseTime  float64 `json:"blockEraseTime"`
	BusTransferTime float64 `json:"busTransferTime"`

	// Driver pacing
	SimulationSpeedMultiplier int   `json:"simulationSpeedMultiplier"` // virtual seconds per Step
	RandomSeed                int64 `json:"randomSeed"`                // 0 = nondeterministic

	// Optional SQLite op recording (empty = disabled)
	RecordPath string `json:"recordPath,omitempty"`
}

// DefaultConfig returns a small single-channel device, sized so that the
// mapping paths (switch, merges, eviction, GC) are all reachable quickly.
func DefaultConfig() Config {
	return Config{
		SSDSize:     1,
		PackageSize: 1,
		DieSize:     1,
		PlaneSize:   8,
		BlockSize:   4,
		PageSize:    4096,

		BlockErases:  1000,
		MaxLogBlocks: 2,

		NumAgeClasses:      2,
		GreedyGC:           true,
		WearLevelThreshold: 500,

		PageReadTime:    0.000025,
		PageWriteTime:   0.0002,
		BlockEraseTime:  0.0015,
		BusTransferTime: 0.00001,

		SimulationSpeedMultiplier: 1,
		RandomSeed:                42,
	}
}

// LoadConfig reads a JSON configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, ErrInvalidConfig(fmt.Sprintf("parsing %s: %v", path, err))
	}
	return config, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SSDSize <= 0 || c.PackageSize <= 0 || c.DieSize <= 0 || c.PlaneSize <= 0 {
		return ErrInvalidConfig("geometry dimensions must be positive")
	}
	if c.BlockSize <= 0 || bits.OnesCount(uint(c.BlockSize)) != 1 {
		return ErrInvalidConfig(fmt.Sprintf("blockSize must be a positive power of two, got %d", c.BlockSize))
	}
	if c.PageSize <= 0 {
		return ErrInvalidConfig("pageSize must be positive")
	}
	if c.BlockErases <= 0 {
		return ErrInvalidConfig("blockErases must be positive")
	}
	if c.MaxLogBlocks <= 0 {
		return ErrInvalidConfig("maxLogBlocks must be positive")
	}
	if c.MaxLogBlocks >= c.TotalBlocks() {
		return ErrInvalidConfig("maxLogBlocks must be smaller than the device block count")
	}
	if c.NumAgeClasses <= 0 {
		return ErrInvalidConfig("numAgeClasses must be positive")
	}
	if c.WearLevelThreshold <= 0 {
		return ErrInvalidConfig("wearLevelThreshold must be positive")
	}
	if c.PageReadTime < 0 || c.PageWriteTime < 0 || c.BlockEraseTime < 0 || c.BusTransferTime < 0 {
		return ErrInvalidConfig("latencies must be non-negative")
	}
	return nil
}

// TotalBlocks returns the number of physical blocks in the device.
func (c Config) TotalBlocks() int {
	return c.SSDSize * c.PackageSize * c.DieSize * c.PlaneSize
}

// TotalPages returns the number of physical pages in the device.
func (c Config) TotalPages() int {
	return c.TotalBlocks() * c.BlockSize
}

// AddressShift returns the number of low bits of a logical address that
// select the page offset within its logical block.
func (c Config) AddressShift() int {
	return bits.TrailingZeros(uint(c.BlockSize))
}
