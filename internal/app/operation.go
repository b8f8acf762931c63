package app

import "time"

// Operation tracks one CLI command or server session. Its ID tags every log
// line written while it runs.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewOperation creates an operation that starts at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         now.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Status:     "success",
		StartedAt:  now,
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Finish records the end time and returns the elapsed duration.
func (op *Operation) Finish(now time.Time) time.Duration {
	op.FinishedAt = now
	return now.Sub(op.StartedAt)
}

// Finished returns true once Finish has been called.
func (op *Operation) Finished() bool {
	return !op.FinishedAt.IsZero()
}
