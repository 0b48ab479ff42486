package model

import (
	"time"
)

// SubmissionStatus enumerates terminal submission states.
type SubmissionStatus string

const (
	SubmissionSucceeded SubmissionStatus = "succeeded"

	// SubmissionInconclusive covers every non-success ending: the
	// evaluation service may still finish the analysis server-side, so
	// the client is routed to the same completion view either way.
	SubmissionInconclusive SubmissionStatus = "inconclusive"
)

// InconclusiveReason records why a submission ended inconclusive. It is
// kept for the audit log and metrics only — it never changes where the
// client is sent.
type InconclusiveReason string

const (
	ReasonTimeout      InconclusiveReason = "timeout"
	ReasonNetworkError InconclusiveReason = "network_error"
	ReasonServerError  InconclusiveReason = "server_error"
)

// SubmissionOutcome is the terminal result of a submission job.
type SubmissionOutcome struct {
	TestID      int                `json:"test_id"`
	Status      SubmissionStatus   `json:"status"`
	Reason      InconclusiveReason `json:"reason,omitempty"`
	Redirect    string             `json:"redirect"`
	CompletedAt time.Time          `json:"completed_at"`
}

// SubmissionJob is the queued unit of work for the submission worker.
// The upstream credential rides along so the worker can act on behalf of
// the participant after the originating request has returned.
type SubmissionJob struct {
	TestID   int      `json:"test_id"`
	Flow     FlowKind `json:"flow"`
	Owner    string   `json:"owner"`
	Token    string   `json:"token"`
	Answers  []Answer `json:"answers"`
	Enqueued int64    `json:"enqueued"`
}

// SubmissionLog is one row of the submission audit trail.
type SubmissionLog struct {
	ID         int                `json:"id"`
	TestID     int                `json:"test_id"`
	Flow       FlowKind           `json:"flow"`
	Status     SubmissionStatus   `json:"status"`
	Reason     InconclusiveReason `json:"reason,omitempty"`
	UpstreamMS int64              `json:"upstream_ms"`
	CreatedAt  time.Time          `json:"created_at"`
}
