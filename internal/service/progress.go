package service

import (
	"time"
)

// SubmitTimeout is the wall-clock bound on one submission call. The
// upstream analysis regularly runs for minutes; past this bound the call
// is aborted and the participant is routed onward optimistically.
const SubmitTimeout = 140 * time.Second

// ProgressStep pairs a status message with its offset from submission
// start.
type ProgressStep struct {
	Offset  time.Duration
	Message string
}

// ProgressSchedule is the fixed sequence of status messages shown while a
// submission is in flight. The messages are cosmetic pacing — they are
// not derived from any real signal out of the analysis backend.
type ProgressSchedule []ProgressStep

// DefaultProgressSchedule mirrors the pacing of the long-running
// multi-stage analysis: an immediate acknowledgement, then replacement
// messages through the first minute.
var DefaultProgressSchedule = ProgressSchedule{
	{0, "Submitting your answers..."},
	{2 * time.Second, "Analyzing responses..."},
	{20 * time.Second, "Running model analysis..."},
	{30 * time.Second, "Processing results..."},
	{40 * time.Second, "Cross-checking analyses..."},
	{50 * time.Second, "Aggregating scores..."},
	{60 * time.Second, "Finalizing results..."},
}

// MessageAt returns the message for the latest step whose offset is at
// most elapsed. Before the first step it returns the empty string. The
// schedule is assumed sorted by offset, which the default is.
func (p ProgressSchedule) MessageAt(elapsed time.Duration) string {
	current := ""
	for _, step := range p {
		if step.Offset > elapsed {
			break
		}
		current = step.Message
	}
	return current
}
