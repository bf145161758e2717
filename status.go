package dbqueue

// Status represents the lifecycle state of a queued message.
type Status int16

const (
	// StatusPending indicates the message is claimable once visible.
	StatusPending Status = 0
	// StatusInFlight indicates the message is held by an open claim transaction.
	StatusInFlight Status = 1
	// StatusDead indicates the message exceeded its attempts and is kept for inspection.
	StatusDead Status = -1
)

// String returns the upper-case status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusInFlight:
		return "IN_FLIGHT"
	case StatusDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}
