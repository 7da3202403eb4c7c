package mqtt

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages overwritten since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

// push appends msg, overwriting the oldest entry when full.
// It reports whether this push was the first drop since the last drain.
func (r *ringBuffer) push(msg bufferedMsg) (firstDrop bool) {
	if r.count == r.capacity {
		r.dropped++
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return r.dropped == 1
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
	return false
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.dropped = 0
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
