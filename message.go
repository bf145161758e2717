package dbqueue

import "time"

// Message is a stored queue row fetched for processing.
type Message struct {
	ID         int64
	Payload    []byte
	EnqueuedAt time.Time
	VisibleAt  time.Time
	Attempts   int
	Status     Status
}

// IDs returns the identifiers of the given messages in order.
func IDs(messages []Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}

	return ids
}
