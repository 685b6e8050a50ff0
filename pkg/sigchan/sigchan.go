package sigchan

// Chan is a non-blocking signal channel: Emit never blocks, coalescing
// bursts of notifications into however many slots the buffer holds.
type Chan struct {
	c chan struct{}
}

// New creates a signal channel with the given buffer size.
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit sends a signal, dropping it if the buffer is full.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C returns the receive side for use in select statements.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
