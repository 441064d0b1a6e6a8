package core

import "time"

// QuotaRequest asks the quota store to admit one call for (ActorID, Key)
// in the window containing At.
type QuotaRequest struct {
	ActorID ActorID
	Key     string
	Limit   int64
	Window  time.Duration
	At      time.Time
}

// WindowStart returns the aligned start of the window containing At.
func (r QuotaRequest) WindowStart() time.Time {
	return r.At.UTC().Truncate(r.Window)
}

// ResetAt returns the boundary at which the current window ends.
func (r QuotaRequest) ResetAt() time.Time {
	return r.WindowStart().Add(r.Window)
}

// QuotaResult reports the admission decision. Current is the counter value
// after the call (unchanged when rejected).
type QuotaResult struct {
	Allowed bool
	Current int64
	Limit   int64
	ResetAt time.Time
}
