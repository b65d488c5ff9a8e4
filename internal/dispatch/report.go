package dispatch

import "prospect.org/internal/push"

// Failure records one subscriber the dispatch could not deliver to.
type Failure struct {
	UserID string    `json:"user_id"`
	Code   push.Code `json:"code"`
	Reason string    `json:"reason"`
}

// Report is the structured result of one notify run. Partial failure is a
// normal outcome; the run itself only aborts before any attempt.
type Report struct {
	// ID tags the run for logs and audit.
	ID        string    `json:"id"`
	Succeeded int       `json:"succeeded"`
	Failures  []Failure `json:"failures,omitempty"`
	// Skipped lists subscribers never attempted because the caller's
	// context was cancelled mid-run.
	Skipped []string `json:"skipped,omitempty"`
	// Truncated marks a run cut short by cancellation; the counts above are
	// still valid for everything that was attempted.
	Truncated bool `json:"truncated,omitempty"`
}

// Clean reports whether every subscriber was delivered and retired.
func (r Report) Clean() bool {
	return !r.Truncated && len(r.Failures) == 0 && len(r.Skipped) == 0
}
