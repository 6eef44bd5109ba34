package consumer

// dedupState is the replay-deduplication counter a channel carries while
// its upstream peer is replaying its in-flight log after a failure. While
// active, the channel silently drops buffers until the target count is
// reached, then clears itself automatically.
type dedupState struct {
	active bool
	remain int
}

// setTarget arms deduplication for n buffers. n == 0 leaves it inactive.
func (d *dedupState) setTarget(n int) {
	d.remain = n
}

// activate flips the channel into deduplicating mode. Per the recovery
// protocol, the target must already be set via setTarget before this is
// called.
func (d *dedupState) activate() {
	d.active = d.remain > 0
}

// shouldDrop reports whether the next buffer must be silently discarded,
// and advances the counter. Once the target is exhausted it clears active
// so that subsequent buffers are delivered normally without further calls
// needed.
func (d *dedupState) shouldDrop() bool {
	if !d.active {
		return false
	}
	d.remain--
	if d.remain <= 0 {
		d.active = false
		d.remain = 0
	}
	return true
}

func (d *dedupState) isActive() bool {
	return d.active
}
