package simulator

// Metrics tracks FTL and block-manager activity. Read, write and erase
// counters accumulate as the scheduler executes events; trims, failed
// reads, merges, GC migrations and wear-levelling counters are bumped by
// the FTL and block manager directly; gauges are refreshed by Snapshot.
type Metrics struct {
	Timestamp float64 `json:"timestamp"` // virtual time of the last snapshot

	// User-visible operations
	UserReads   int `json:"userReads"`
	UserWrites  int `json:"userWrites"`
	Trims       int `json:"trims"`
	FailedReads int `json:"failedReads"` // reads of never-written or trimmed pages

	// Internal traffic
	GCReads  int `json:"gcReads"`
	GCWrites int `json:"gcWrites"`
	Erases   int `json:"erases"`

	// Log-block reclamation
	SwitchMerges     int `json:"switchMerges"`
	SequentialMerges int `json:"sequentialMerges"`
	RandomMerges     int `json:"randomMerges"`

	// Garbage collection and wear levelling
	GCMigrations        int `json:"gcMigrations"` // migrated page pairs
	WearLevelTriggers   int `json:"wearLevelTriggers"`
	WearLevelMigrations int `json:"wearLevelMigrations"`

	// Gauges
	FreePages      int `json:"freePages"`
	AvailablePages int `json:"availablePages"`
	LogBlocksInUse int `json:"logBlocksInUse"`
	MinAge         int `json:"minAge"`
	MaxAge         int `json:"maxAge"`
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRead counts a completed read.
func (mt *Metrics) RecordRead(e *Event) {
	if e.GCOp {
		mt.GCReads++
	} else {
		mt.UserReads++
	}
}

// RecordWrite counts a completed write.
func (mt *Metrics) RecordWrite(e *Event) {
	if e.GCOp {
		mt.GCWrites++
	} else {
		mt.UserWrites++
	}
}

// RecordErase counts a completed erase.
func (mt *Metrics) RecordErase(e *Event) {
	mt.Erases++
}

// WriteAmplification returns total physical writes per user write.
func (mt *Metrics) WriteAmplification() float64 {
	if mt.UserWrites == 0 {
		return 1.0
	}
	return float64(mt.UserWrites+mt.GCWrites) / float64(mt.UserWrites)
}

// Snapshot refreshes the gauges from the live components.
func (mt *Metrics) Snapshot(now float64, manager *BlockManager, ftl *FastFTL) {
	mt.Timestamp = now
	mt.FreePages = manager.NumFreePages()
	mt.AvailablePages = manager.NumAvailablePages()
	mt.LogBlocksInUse = ftl.LogBlockCount()
	mt.MinAge, mt.MaxAge = manager.AgeSpread()
}
