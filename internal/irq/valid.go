package irq

// IsValidVector reports whether v names a source wired to the hardware.
// Every other operation is gated on it.
func (c *Controller) IsValidVector(v Vector) bool {
	if v >= VectorCount {
		return false
	}
	return c.cfg.Valid.Test(v)
}
