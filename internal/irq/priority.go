package irq

// SetPriority stores the priority of v, clamped to PriorityLowest, and
// rebuilds the bit of v in every mask level. Levels 0 through the priority
// mask v out while a vector of that level is serviced, lower levels leave
// it enabled.
//
// Each level is updated in its own critical section, so a dispatch that
// interleaves with SetPriority may observe one level still carrying the
// old bit.
func (c *Controller) SetPriority(v Vector, priority uint) {
	if !c.IsValidVector(v) {
		return
	}

	if priority > PriorityLowest {
		priority = PriorityLowest
	}

	c.priority[v] = uint8(priority)

	for i := uint(PriorityHighest); i <= priority; i++ {
		level := c.cpu.Disable()
		c.masks[i].Clear(v)
		c.cpu.Restore(level)
	}

	for i := priority + 1; i <= PriorityLowest; i++ {
		level := c.cpu.Disable()
		c.masks[i].Set(v)
		c.cpu.Restore(level)
	}
}

// Priority returns the priority of v, or PriorityLowest for an invalid
// vector.
func (c *Controller) Priority(v Vector) uint {
	if !c.IsValidVector(v) {
		return PriorityLowest
	}
	return uint(c.priority[v])
}

// Mask returns a copy of the mask bank entry for the given level.
func (c *Controller) Mask(level uint) Fields {
	if level > PriorityLowest {
		level = PriorityLowest
	}
	return c.masks[level]
}
