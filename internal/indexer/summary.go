package indexer

import (
	"fmt"
	"time"
)

// MaxErrorMessages is how many unit errors a summary keeps verbatim
const MaxErrorMessages = 10

// RunSummary aggregates the outcome of one run
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Collection    string        `json:"collection"`
	Indexed       int           `json:"indexed"`
	Skipped       int           `json:"skipped"`
	Errors        int           `json:"errors"`
	Deleted       int           `json:"deleted"`
	TotalFound    int           `json:"total_found"`
	ErrorMessages []string      `json:"error_messages,omitempty"`
	Duration      time.Duration `json:"duration"`
	Cancelled     bool          `json:"cancelled,omitempty"`

	messages   []string
	suppressed int
}

// addError counts a unit failure and keeps the first MaxErrorMessages
// messages. It reports whether the message was kept.
func (s *RunSummary) addError(msg string) bool {
	s.Errors++
	return s.keep(msg)
}

func (s *RunSummary) keep(msg string) bool {
	if len(s.messages) < MaxErrorMessages {
		s.messages = append(s.messages, msg)
		return true
	}
	s.suppressed++
	return false
}

// finalize builds ErrorMessages, ending with a notice when some were dropped
func (s *RunSummary) finalize() {
	s.ErrorMessages = append([]string(nil), s.messages...)
	if s.suppressed > 0 {
		s.ErrorMessages = append(s.ErrorMessages, fmt.Sprintf("... and %d more errors suppressed", s.suppressed))
	}
}

// Suppressed returns how many error messages were dropped
func (s *RunSummary) Suppressed() int {
	return s.suppressed
}

// Merge folds other into s, as when index-all reports one total
func (s *RunSummary) Merge(other *RunSummary) {
	if other == nil {
		return
	}
	s.Indexed += other.Indexed
	s.Skipped += other.Skipped
	s.Errors += other.Errors
	s.Deleted += other.Deleted
	s.TotalFound += other.TotalFound
	s.Duration += other.Duration
	s.Cancelled = s.Cancelled || other.Cancelled
	for _, m := range other.messages {
		s.keep(m)
	}
	s.suppressed += other.suppressed
	s.finalize()
}

func (s *RunSummary) String() string {
	return fmt.Sprintf("Indexed: %d, Skipped: %d, Errors: %d, Total found: %d",
		s.Indexed, s.Skipped, s.Errors, s.TotalFound)
}
