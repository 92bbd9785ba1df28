package camera

// Finalize runs the garbage-collector cleanup path directly.
func (c *Camera) Finalize() { c.finalize() }
