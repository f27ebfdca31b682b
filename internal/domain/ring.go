package domain

// MessageRing is a fixed-size circular buffer holding the transcript tail of
// a room. Appending beyond capacity evicts the oldest message, so the buffered
// transcript never grows past the moderation window.
type MessageRing struct {
	data []Message
	head int // next write position
	size int
}

func NewMessageRing(capacity int) *MessageRing {
	return &MessageRing{data: make([]Message, capacity)}
}

func (rb *MessageRing) Add(msg Message) {
	rb.data[rb.head] = msg
	rb.head = (rb.head + 1) % len(rb.data)
	if rb.size < len(rb.data) {
		rb.size++
	}
}

// Snapshot returns the buffered messages in chronological order.
func (rb *MessageRing) Snapshot() []Message {
	if rb.size == 0 {
		return nil
	}
	out := make([]Message, rb.size)
	if rb.size < len(rb.data) {
		copy(out, rb.data[:rb.size])
		return out
	}
	// Full buffer: head points at the oldest element.
	copy(out, rb.data[rb.head:])
	copy(out[len(rb.data)-rb.head:], rb.data[:rb.head])
	return out
}

func (rb *MessageRing) Len() int {
	return rb.size
}
