package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/model"
)

// Domain errors surfaced by the session controller.
var (
	ErrSessionNotFound = errors.New("session could not be resolved")
	ErrSessionFrozen   = errors.New("session is submitting and no longer editable")
	ErrBadStartRequest = errors.New("either series_id or category+level is required")
)

// CancelResult reports where the client goes after cancellation. Per the
// session lifecycle, navigation away never blocks on the upstream delete:
// Warning carries the delete failure when one occurred.
type CancelResult struct {
	Redirect string `json:"redirect"`
	Warning  string `json:"warning,omitempty"`
}

// TestSessionService manages progression through a fixed ordered question
// set and the "answer before proceeding" gate. It is one controller for
// both test flows, parameterized by the flow strategy bound to a session.
type TestSessionService struct {
	eval       *evalapi.Client
	snapshots  SnapshotStore
	submission *SubmissionService
	log        zerolog.Logger
}

// NewTestSessionService creates a new TestSessionService.
func NewTestSessionService(
	eval *evalapi.Client,
	snapshots SnapshotStore,
	submission *SubmissionService,
	log zerolog.Logger,
) *TestSessionService {
	return &TestSessionService{
		eval:       eval,
		snapshots:  snapshots,
		submission: submission,
		log:        log.With().Str("component", "session_service").Logger(),
	}
}

// Start creates a session from a demo series or a standard category/level
// pair, persists the initial snapshot, and returns the session. The
// session is bound to owner; only that participant can resolve it again.
func (s *TestSessionService) Start(ctx context.Context, token, owner string, req model.StartSessionRequest) (*model.TestSession, error) {
	var (
		payload *evalapi.TestPayload
		kind    model.FlowKind
		err     error
	)

	switch {
	case req.SeriesID != "":
		kind = model.FlowDemo
		payload, err = s.eval.StartDemo(ctx, token, req.SeriesID)
	case req.Category != "" && req.Level != "":
		kind = model.FlowStandard
		payload, err = s.eval.StartTest(ctx, token, req.Category, req.Level)
	default:
		return nil, ErrBadStartRequest
	}
	if err != nil {
		if errors.Is(err, evalapi.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("start session: %w", err)
	}

	session := model.NewTestSession(payload.ID, payload.TestName, owner, kind, payload.Questions)

	flow := evalapi.FlowFor(s.eval, kind)
	if err := s.snapshots.SaveSession(ctx, session, flow.SnapshotTTL()); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	s.log.Info().
		Int("test_id", session.TestID).
		Str("flow", string(kind)).
		Int("questions", len(session.Questions)).
		Msg("Session started")

	return session, nil
}

// Resume loads a session by ID: the snapshot first, then the flow's
// upstream loader for flows that have one. A snapshot belonging to a
// different participant resolves exactly like a missing one, so a guessed
// test ID reveals nothing. An unresolvable ID is not retried —
// the handler sends the client back to the listing page.
func (s *TestSessionService) Resume(ctx context.Context, token, owner string, testID int) (*model.TestSession, error) {
	session, err := s.snapshots.LoadSession(ctx, testID)
	if err == nil {
		if session.Owner != owner {
			return nil, ErrSessionNotFound
		}
		return session, nil
	}
	if !errors.Is(err, ErrNoSnapshot) {
		return nil, err
	}

	// Only the demo flow can resolve a session upstream; a standard
	// session without a snapshot is gone. The upstream loader scopes the
	// lookup to the credential's account and refuses non-demo attempts.
	flow := evalapi.FlowFor(s.eval, model.FlowDemo)
	payload, err := flow.Load(ctx, token, testID)
	if err != nil {
		if errors.Is(err, evalapi.ErrNotFound) || errors.Is(err, evalapi.ErrLoadUnsupported) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	session = model.NewTestSession(payload.ID, payload.TestName, owner, model.FlowDemo, payload.Questions)
	if err := s.snapshots.SaveSession(ctx, session, flow.SnapshotTTL()); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return session, nil
}

// SetAnswer overwrites the answer for one question and persists the
// snapshot. Refused once the session entered submission.
func (s *TestSessionService) SetAnswer(ctx context.Context, token, owner string, testID, questionID int, text string) (*model.TestSession, error) {
	session, err := s.editable(ctx, token, owner, testID)
	if err != nil {
		return nil, err
	}

	session.SetAnswer(questionID, text)

	flow := evalapi.FlowFor(s.eval, session.Flow)
	if err := s.snapshots.SaveSession(ctx, session, flow.SnapshotTTL()); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return session, nil
}

// Advance moves to the next question when the gate allows it. The
// operation is a persisted no-op otherwise — it never errors for an
// unanswered question, mirroring a disabled Next button.
func (s *TestSessionService) Advance(ctx context.Context, token, owner string, testID int) (*model.TestSession, error) {
	session, err := s.editable(ctx, token, owner, testID)
	if err != nil {
		return nil, err
	}

	before := session.CurrentIndex
	session.Advance()
	if session.CurrentIndex == before {
		return session, nil
	}

	flow := evalapi.FlowFor(s.eval, session.Flow)
	if err := s.snapshots.SaveSession(ctx, session, flow.SnapshotTTL()); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return session, nil
}

// Cancel discards the session. The upstream delete is best-effort: its
// failure is reported in the result but never blocks leaving the session.
func (s *TestSessionService) Cancel(ctx context.Context, token, owner string, testID int) (*CancelResult, error) {
	session, err := s.Resume(ctx, token, owner, testID)
	if err != nil {
		return nil, err
	}

	flow := evalapi.FlowFor(s.eval, session.Flow)
	result := &CancelResult{Redirect: flow.ListingPath()}

	if err := flow.Cancel(ctx, token, testID); err != nil {
		s.log.Warn().Err(err).Int("test_id", testID).Msg("Upstream delete failed")
		result.Warning = "The session could not be deleted remotely. It may still appear in your history."
	}

	if err := s.snapshots.DeleteSession(ctx, testID); err != nil {
		s.log.Warn().Err(err).Int("test_id", testID).Msg("Snapshot delete failed")
	}
	s.submission.ClearState(ctx, testID)

	return result, nil
}

// editable resolves the session and rejects edits after submission began.
// Ownership is checked first so a non-owner learns nothing about the
// submission phase of someone else's session.
func (s *TestSessionService) editable(ctx context.Context, token, owner string, testID int) (*model.TestSession, error) {
	session, err := s.Resume(ctx, token, owner, testID)
	if err != nil {
		return nil, err
	}
	frozen, err := s.submission.InFlight(ctx, testID)
	if err != nil {
		return nil, err
	}
	if frozen {
		return nil, ErrSessionFrozen
	}
	return session, nil
}
