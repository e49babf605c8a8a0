package mqtt

import "log"

// pending is a serialized MQTT message waiting for a connection.
type pending struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO of pending messages. When full, the
// oldest message is dropped.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type ringBuffer struct {
	buf     []pending
	head    int // next write position
	count   int
	dropped int  // messages lost to overflow since the last drain
	warned  bool // overflow already logged since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]pending, capacity)}
}

func (r *ringBuffer) push(msg pending) {
	capacity := len(r.buf)
	if r.count == capacity {
		if !r.warned {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", capacity)
			r.warned = true
		}
		r.dropped++
	} else {
		r.count++
	}
	// When full, head already points at the oldest message.
	r.buf[r.head] = msg
	r.head = (r.head + 1) % capacity
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []pending {
	if r.count == 0 {
		return nil
	}

	capacity := len(r.buf)
	out := make([]pending, r.count)
	start := (r.head - r.count + capacity) % capacity
	for i := range out {
		out[i] = r.buf[(start+i)%capacity]
	}

	if r.dropped > 0 {
		log.Printf("mqtt: %d messages were dropped while disconnected", r.dropped)
	}
	r.count = 0
	r.head = 0
	r.dropped = 0
	r.warned = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
