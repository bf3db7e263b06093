package roster

// DefaultHistorySize is the number of recent chat messages retained per viewer.
const DefaultHistorySize = 10

// EmoteSpan marks a highlighted emote inside a chat message. Start and End
// are rune offsets, End inclusive, as delivered by the chat platform.
type EmoteSpan struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Message is one remembered chat line together with its emote spans.
type Message struct {
	Text   string      `json:"text"`
	Emotes []EmoteSpan `json:"emotes,omitempty"`
	Ts     int64       `json:"ts"`
}

// history is a fixed-size circular buffer of Message.
type history struct {
	items []Message
	pos   int
	count int
}

func newHistory(size int) *history {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &history{items: make([]Message, size)}
}

// add appends msg, overwriting the oldest entry once the buffer is full.
func (h *history) add(msg Message) {
	size := len(h.items)
	h.items[h.pos] = msg
	h.pos = (h.pos + 1) % size
	if h.count < size {
		h.count++
	}
}

// snapshot returns the buffered messages oldest first.
func (h *history) snapshot() []Message {
	size := len(h.items)
	result := make([]Message, h.count)
	// The oldest message is at position (pos - count) mod size.
	start := (h.pos - h.count + size) % size
	for i := 0; i < h.count; i++ {
		result[i] = h.items[(start+i)%size]
	}
	return result
}

func (h *history) len() int {
	return h.count
}
