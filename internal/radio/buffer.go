package radio

import (
	"log"
	"slices"
)

// pendingMsg is a publish held back while the broker is unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	latest   bool   // only the newest pending value of topic matters
	seq      uint64 // publish order
}

// offlineQueue holds publishes made while disconnected. Latest-value topics
// (live, battery, chunk info, clock, advertising) keep one pending message
// each, so a long outage cannot crowd out the newest reading. History
// notifications are a bounded FIFO that drops its oldest entry when full.
// Not safe for concurrent use; caller must synchronize.
type offlineQueue struct {
	values  map[string]pendingMsg
	stream  []pendingMsg
	limit   int
	seq     uint64
	dropped int // stream messages lost since the last drain
}

func newOfflineQueue(limit int) *offlineQueue {
	return &offlineQueue{
		values: make(map[string]pendingMsg),
		limit:  max(limit, 1),
	}
}

// push queues msg. The payload is copied; callers may reuse their buffer.
func (q *offlineQueue) push(msg pendingMsg) {
	msg.payload = append([]byte(nil), msg.payload...)
	q.seq++
	msg.seq = q.seq

	if msg.latest {
		q.values[msg.topic] = msg
		return
	}
	if len(q.stream) == q.limit {
		if q.dropped == 0 {
			log.Printf("radio: offline history queue full (%d messages), dropping oldest", q.limit)
		}
		q.dropped++
		q.stream = slices.Delete(q.stream, 0, 1)
	}
	q.stream = append(q.stream, msg)
}

// drain returns every pending message in publish order and empties the queue.
// A replaced latest value takes the position of its newest write.
func (q *offlineQueue) drain() []pendingMsg {
	if q.len() == 0 {
		return nil
	}

	out := make([]pendingMsg, 0, q.len())
	out = append(out, q.stream...)
	for _, m := range q.values {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b pendingMsg) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	if q.dropped > 0 {
		log.Printf("radio: %d history notifications dropped while offline", q.dropped)
	}
	clear(q.values)
	q.stream = nil
	q.dropped = 0
	return out
}

func (q *offlineQueue) len() int {
	return len(q.stream) + len(q.values)
}
