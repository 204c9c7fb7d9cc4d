package simulator

// Controller is the narrow facade between the FTL and the rest of the
// device: it admits translated events into the scheduler, hands out
// physical space, and answers page and block state queries.
type Controller struct {
	sched   *IOScheduler
	device  *Device
	manager *BlockManager
}

// NewController wires the facade.
func NewController(sched *IOScheduler, device *Device, manager *BlockManager) *Controller {
	return &Controller{sched: sched, device: device, manager: manager}
}

// Issue hands a translated event to the scheduler. Writes without free
// capacity are refused before they enter the pipeline.
func (c *Controller) Issue(e *Event) error {
	if e.Kind == EventWrite && !c.manager.CanWrite(e) {
		return ErrNoFreeCapacity(e.LogicalAddress)
	}
	c.sched.Schedule(e)
	return nil
}

// IssueBatch hands a dependent chain of events to the scheduler.
func (c *Controller) IssueBatch(b *EventBatch) {
	c.sched.ScheduleBatch(b)
}

// CanWrite reports whether the event would be admitted.
func (c *Controller) CanWrite(e *Event) bool {
	return c.manager.CanWrite(e)
}

// GetFreeBlock allocates a whole free block from the block manager.
func (c *Controller) GetFreeBlock(now float64, gcOp bool) (Address, error) {
	return c.manager.GetFreeBlock(now, gcOp)
}

// GetFreePage advances the addressed block's append frontier, writing
// the resulting page number into addr.
func (c *Controller) GetFreePage(addr *Address) error {
	b := c.device.Block(*addr)
	for i := 0; i < len(b.Pages); i++ {
		if b.Pages[i].State == PageFree {
			addr.Page = i
			addr.Valid = GranularityPage
			return nil
		}
	}
	return SimError{Message: "no free page in block"}
}

// PageState returns the state of the addressed page.
func (c *Controller) PageState(a Address) PageState {
	return c.device.PageState(a)
}

// PageData returns the payload of the addressed page.
func (c *Controller) PageData(a Address) []byte {
	return c.device.PageData(a)
}

// BlockState returns the derived state of the addressed block.
func (c *Controller) BlockState(a Address) BlockState {
	return c.device.BlockState(a)
}
