package cluster

// attachedEpoch returns the epoch of the live attachment and whether one
// is live.
func (c *DocumentIndexCache) attachedEpoch() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached == nil {
		return 0, false
	}
	return c.attached.epoch, true
}

// currentEpoch returns the cache epoch.
func (c *DocumentIndexCache) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}
