package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/model"
	"github.com/cognidex/portal-backend/internal/monitoring"
)

// Submission errors.
var (
	ErrNotSubmittable    = errors.New("final question is not answered")
	ErrAlreadySubmitting = errors.New("submission already in progress for this test")
)

// OutcomeRecorder persists the audit trail of settled submissions.
type OutcomeRecorder interface {
	Record(ctx context.Context, entry *model.SubmissionLog) error
}

// SubmissionTicket is returned when a submission is accepted. The client
// opens the event stream and navigates to Redirect once the outcome
// arrives there.
type SubmissionTicket struct {
	TestID   int    `json:"test_id"`
	Redirect string `json:"redirect"`
}

// SubmissionService drives the terminal state machine of a session:
// Idle -> Submitting -> {Succeeded, Inconclusive}. The answers go
// upstream in exactly one call bounded by SubmitTimeout; every non-success
// ending collapses into Inconclusive with the same navigation target,
// keeping only the reason for telemetry.
type SubmissionService struct {
	eval     *evalapi.Client
	store    SubmissionStore
	snaps    SnapshotStore
	recorder OutcomeRecorder
	schedule ProgressSchedule
	timeout  time.Duration
	log      zerolog.Logger
}

// NewSubmissionService creates a SubmissionService with the default
// progress schedule and submission bound.
func NewSubmissionService(
	eval *evalapi.Client,
	store SubmissionStore,
	snaps SnapshotStore,
	recorder OutcomeRecorder,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		eval:     eval,
		store:    store,
		snaps:    snaps,
		recorder: recorder,
		schedule: DefaultProgressSchedule,
		timeout:  SubmitTimeout,
		log:      log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit enters the Submitting state: it checks the entry gate, freezes
// the session by claiming the state slot, and enqueues the job. The
// upstream call itself happens on the worker.
func (s *SubmissionService) Submit(ctx context.Context, token string, session *model.TestSession) (*SubmissionTicket, error) {
	if !session.Complete() {
		return nil, ErrNotSubmittable
	}

	claimed, err := s.store.TryBegin(ctx, session.TestID, session.Owner)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadySubmitting
	}

	job := &model.SubmissionJob{
		TestID:   session.TestID,
		Flow:     session.Flow,
		Owner:    session.Owner,
		Token:    token,
		Answers:  session.OrderedAnswers(),
		Enqueued: time.Now().Unix(),
	}
	if err := s.store.Enqueue(ctx, job); err != nil {
		// Unclaim so the participant can retry the submit action.
		s.store.Clear(ctx, session.TestID)
		return nil, fmt.Errorf("enqueue submission: %w", err)
	}

	flow := evalapi.FlowFor(s.eval, session.Flow)
	s.log.Info().
		Int("test_id", session.TestID).
		Str("flow", string(session.Flow)).
		Int("answers", len(job.Answers)).
		Msg("Submission accepted")

	return &SubmissionTicket{
		TestID:   session.TestID,
		Redirect: flow.CompletionPath(session.TestID),
	}, nil
}

// Execute runs one queued submission to its terminal state. Called by the
// worker; ctx should not carry the originating request's deadline.
func (s *SubmissionService) Execute(ctx context.Context, job *model.SubmissionJob) {
	flow := evalapi.FlowFor(s.eval, job.Flow)

	// Progress messages are fire-as-scheduled but stopped as a group the
	// moment the outcome settles, so nothing fires after navigation.
	done := make(chan struct{})
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		s.publishProgress(ctx, job.TestID, done)
	}()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	err := flow.Submit(callCtx, job.Token, evalapi.SubmissionRequest{
		TestID:  job.TestID,
		Answers: job.Answers,
	})
	latency := time.Since(start)
	cancel()

	// Stop the publisher before the outcome goes out so the outcome is
	// always the stream's final event.
	close(done)
	<-progressDone

	outcome := s.settle(job, flow, err)

	if perr := s.store.SetOutcome(ctx, outcome, job.Owner); perr != nil {
		s.log.Error().Err(perr).Int("test_id", job.TestID).Msg("Store outcome failed")
	}
	if perr := s.store.PublishOutcome(ctx, outcome); perr != nil {
		s.log.Error().Err(perr).Int("test_id", job.TestID).Msg("Publish outcome failed")
	}

	// The session is discarded on submission: late edits are meaningless
	// once the answers are upstream (or the attempt is abandoned).
	if derr := s.snaps.DeleteSession(ctx, job.TestID); derr != nil {
		s.log.Warn().Err(derr).Int("test_id", job.TestID).Msg("Snapshot delete failed")
	}

	monitoring.SubmissionOutcomes.WithLabelValues(string(outcome.Status), string(outcome.Reason)).Inc()

	if s.recorder != nil {
		entry := &model.SubmissionLog{
			TestID:     job.TestID,
			Flow:       job.Flow,
			Status:     outcome.Status,
			Reason:     outcome.Reason,
			UpstreamMS: latency.Milliseconds(),
		}
		if rerr := s.recorder.Record(ctx, entry); rerr != nil {
			s.log.Error().Err(rerr).Int("test_id", job.TestID).Msg("Audit record failed")
		}
	}
}

// settle classifies the upstream result into the outcome. Timeout, network
// failure and server error all land on the completion view: the result
// page re-fetches independently and tolerates backend completion that
// outlives the client-side window.
func (s *SubmissionService) settle(job *model.SubmissionJob, flow evalapi.Flow, err error) *model.SubmissionOutcome {
	outcome := &model.SubmissionOutcome{
		TestID:      job.TestID,
		Redirect:    flow.CompletionPath(job.TestID),
		CompletedAt: time.Now().UTC(),
	}

	switch {
	case err == nil:
		outcome.Status = model.SubmissionSucceeded
	case errors.Is(err, context.DeadlineExceeded):
		outcome.Status = model.SubmissionInconclusive
		outcome.Reason = model.ReasonTimeout
	default:
		outcome.Status = model.SubmissionInconclusive
		var apiErr *evalapi.APIError
		if errors.As(err, &apiErr) {
			outcome.Reason = model.ReasonServerError
		} else {
			outcome.Reason = model.ReasonNetworkError
		}
	}

	evt := s.log.Info()
	if outcome.Status != model.SubmissionSucceeded {
		evt = s.log.Warn().Err(err)
	}
	evt.Int("test_id", job.TestID).
		Str("status", string(outcome.Status)).
		Str("reason", string(outcome.Reason)).
		Msg("Submission settled")

	return outcome
}

// publishProgress emits the scheduled status messages until the outcome
// settles. Messages replace each other; last write wins on the client.
func (s *SubmissionService) publishProgress(ctx context.Context, testID int, done <-chan struct{}) {
	start := time.Now()
	for _, step := range s.schedule {
		wait := step.Offset - time.Since(start)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-done:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err := s.store.PublishStatus(ctx, testID, step.Message, step.Offset); err != nil {
			s.log.Debug().Err(err).Int("test_id", testID).Msg("Publish status failed")
		}
	}
}

// InFlight reports whether a submission currently holds the state slot.
func (s *SubmissionService) InFlight(ctx context.Context, testID int) (bool, error) {
	state, err := s.store.GetState(ctx, testID)
	if err != nil {
		return false, err
	}
	return state.InFlight || state.Outcome != nil, nil
}

// State exposes the submission phase for pollers and the stream's initial
// snapshot.
func (s *SubmissionService) State(ctx context.Context, testID int) (*SubmissionState, error) {
	return s.store.GetState(ctx, testID)
}

// ClearState drops the submission slot, used when a session is cancelled.
func (s *SubmissionService) ClearState(ctx context.Context, testID int) {
	if err := s.store.Clear(ctx, testID); err != nil {
		s.log.Warn().Err(err).Int("test_id", testID).Msg("Clear submission state failed")
	}
}
