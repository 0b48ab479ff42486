package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/model"
)

// ─── In-memory fakes ────────────────────────────────────────────────

type memSubmissionStore struct {
	mu       sync.Mutex
	states   map[int]*SubmissionState
	queue    []*model.SubmissionJob
	events   []ProgressEvent
	outcomes []*model.SubmissionOutcome
}

func newMemSubmissionStore() *memSubmissionStore {
	return &memSubmissionStore{states: make(map[int]*SubmissionState)}
}

func (m *memSubmissionStore) TryBegin(_ context.Context, testID int, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[testID]; exists {
		return false, nil
	}
	m.states[testID] = &SubmissionState{InFlight: true, Owner: owner}
	return true, nil
}

func (m *memSubmissionStore) SetOutcome(_ context.Context, outcome *model.SubmissionOutcome, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[outcome.TestID] = &SubmissionState{Owner: owner, Outcome: outcome}
	return nil
}

func (m *memSubmissionStore) GetState(_ context.Context, testID int) (*SubmissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[testID]; ok {
		return s, nil
	}
	return &SubmissionState{}, nil
}

func (m *memSubmissionStore) Clear(_ context.Context, testID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, testID)
	return nil
}

func (m *memSubmissionStore) Enqueue(_ context.Context, job *model.SubmissionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, job)
	return nil
}

func (m *memSubmissionStore) PublishStatus(_ context.Context, testID int, message string, elapsed time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ProgressEvent{Event: EventStatus, Message: message, ElapsedMS: elapsed.Milliseconds()})
	return nil
}

func (m *memSubmissionStore) PublishOutcome(_ context.Context, outcome *model.SubmissionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ProgressEvent{Event: EventOutcome, Outcome: outcome})
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

type memSnapshotStore struct {
	mu       sync.Mutex
	sessions map[int]*model.TestSession
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{sessions: make(map[int]*model.TestSession)}
}

func (m *memSnapshotStore) SaveSession(_ context.Context, session *model.TestSession, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.TestID] = session
	return nil
}

func (m *memSnapshotStore) LoadSession(_ context.Context, testID int) (*model.TestSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[testID]; ok {
		return s, nil
	}
	return nil, ErrNoSnapshot
}

func (m *memSnapshotStore) DeleteSession(_ context.Context, testID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, testID)
	return nil
}

type memRecorder struct {
	mu      sync.Mutex
	entries []*model.SubmissionLog
}

func (m *memRecorder) Record(_ context.Context, entry *model.SubmissionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────

func completedSession() *model.TestSession {
	s := model.NewTestSession(7, "Spatial Reasoning", "ada@example.com", model.FlowDemo, []model.Question{
		{ID: 1, Text: "q1"},
		{ID: 2, Text: "q2"},
	})
	// Answer out of visual order so the insertion order is observable in
	// the submission body.
	s.SetAnswer(2, "second answered first")
	s.SetAnswer(1, "first answered second")
	s.CurrentIndex = 1
	return s
}

func newTestSubmissionService(upstream string, store *memSubmissionStore, snaps *memSnapshotStore, rec OutcomeRecorder) *SubmissionService {
	return NewSubmissionService(evalapi.New(upstream), store, snaps, rec, zerolog.Nop())
}

// ─── Submit (entry gate) ────────────────────────────────────────────

func TestSubmitGate(t *testing.T) {
	t.Run("rejects an incomplete session", func(t *testing.T) {
		store := newMemSubmissionStore()
		svc := newTestSubmissionService("http://unused", store, newMemSnapshotStore(), nil)

		s := completedSession()
		s.SetAnswer(2, "   ")
		s.CurrentIndex = 1

		_, err := svc.Submit(context.Background(), "tok", s)
		assert.ErrorIs(t, err, ErrNotSubmittable)
		assert.Empty(t, store.queue, "nothing enqueued when the gate fails")
		state, _ := store.GetState(context.Background(), s.TestID)
		assert.False(t, state.InFlight, "state slot must stay unclaimed")
	})

	t.Run("accepts and enqueues a complete session", func(t *testing.T) {
		store := newMemSubmissionStore()
		svc := newTestSubmissionService("http://unused", store, newMemSnapshotStore(), nil)

		s := completedSession()
		ticket, err := svc.Submit(context.Background(), "tok", s)
		require.NoError(t, err)

		assert.Equal(t, 7, ticket.TestID)
		assert.Equal(t, "/demo/thank-you/7", ticket.Redirect)

		require.Len(t, store.queue, 1)
		job := store.queue[0]
		assert.Equal(t, model.FlowDemo, job.Flow)
		assert.Equal(t, "ada@example.com", job.Owner)
		assert.Equal(t, "tok", job.Token)
		assert.Equal(t, []model.Answer{
			{QuestionID: 2, AnswerText: "second answered first"},
			{QuestionID: 1, AnswerText: "first answered second"},
		}, job.Answers)
	})

	t.Run("second submit is refused while the first is in flight", func(t *testing.T) {
		store := newMemSubmissionStore()
		svc := newTestSubmissionService("http://unused", store, newMemSnapshotStore(), nil)

		s := completedSession()
		_, err := svc.Submit(context.Background(), "tok", s)
		require.NoError(t, err)

		_, err = svc.Submit(context.Background(), "tok", s)
		assert.ErrorIs(t, err, ErrAlreadySubmitting)
		assert.Len(t, store.queue, 1)
	})
}

// ─── Execute (terminal states) ──────────────────────────────────────

func TestExecuteSuccess(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		path  string
		auth  string
		body  []byte
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	store := newMemSubmissionStore()
	snaps := newMemSnapshotStore()
	rec := &memRecorder{}
	svc := newTestSubmissionService(upstream.URL, store, snaps, rec)

	session := completedSession()
	snaps.SaveSession(context.Background(), session, time.Hour)

	ticket, err := svc.Submit(context.Background(), "upstream-token", session)
	require.NoError(t, err)

	svc.Execute(context.Background(), store.queue[0])

	// Exactly one upstream call with the exact insertion-ordered body.
	assert.Equal(t, 1, calls)
	assert.Equal(t, "/api/demo/submit", path)
	assert.Equal(t, "Bearer upstream-token", auth)
	assert.JSONEq(t, `{
		"test_id": 7,
		"answers": [
			{"question_id": 2, "answer_text": "second answered first"},
			{"question_id": 1, "answer_text": "first answered second"}
		]
	}`, string(body))

	state, _ := store.GetState(context.Background(), 7)
	require.NotNil(t, state.Outcome)
	assert.Equal(t, model.SubmissionSucceeded, state.Outcome.Status)
	assert.Empty(t, state.Outcome.Reason)
	assert.Equal(t, ticket.Redirect, state.Outcome.Redirect)
	assert.Equal(t, "ada@example.com", state.Owner, "the settled slot stays bound to the submitter")

	// The snapshot is discarded once the submission settles.
	_, err = snaps.LoadSession(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, model.SubmissionSucceeded, rec.entries[0].Status)
}

func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	defer close(release)

	store := newMemSubmissionStore()
	svc := newTestSubmissionService(upstream.URL, store, newMemSnapshotStore(), nil)
	svc.timeout = 50 * time.Millisecond

	session := completedSession()
	_, err := svc.Submit(context.Background(), "tok", session)
	require.NoError(t, err)

	svc.Execute(context.Background(), store.queue[0])

	state, _ := store.GetState(context.Background(), 7)
	require.NotNil(t, state.Outcome)
	assert.Equal(t, model.SubmissionInconclusive, state.Outcome.Status)
	assert.Equal(t, model.ReasonTimeout, state.Outcome.Reason)
	assert.Equal(t, "/demo/thank-you/7", state.Outcome.Redirect,
		"a timed-out submission still lands on the completion view")
}

func TestExecuteServerError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"analysis pipeline exploded"}`))
	}))
	defer upstream.Close()

	store := newMemSubmissionStore()
	svc := newTestSubmissionService(upstream.URL, store, newMemSnapshotStore(), nil)

	session := completedSession()
	_, err := svc.Submit(context.Background(), "tok", session)
	require.NoError(t, err)

	svc.Execute(context.Background(), store.queue[0])

	state, _ := store.GetState(context.Background(), 7)
	require.NotNil(t, state.Outcome)
	assert.Equal(t, model.SubmissionInconclusive, state.Outcome.Status)
	assert.Equal(t, model.ReasonServerError, state.Outcome.Reason)
}

func TestExecuteNetworkError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // Refuse connections.

	store := newMemSubmissionStore()
	svc := newTestSubmissionService(upstream.URL, store, newMemSnapshotStore(), nil)

	session := completedSession()
	_, err := svc.Submit(context.Background(), "tok", session)
	require.NoError(t, err)

	svc.Execute(context.Background(), store.queue[0])

	state, _ := store.GetState(context.Background(), 7)
	require.NotNil(t, state.Outcome)
	assert.Equal(t, model.SubmissionInconclusive, state.Outcome.Status)
	assert.Equal(t, model.ReasonNetworkError, state.Outcome.Reason)
}

func TestOutcomesShareDestination(t *testing.T) {
	// Success and every inconclusive ending navigate to the same place.
	outcomes := collectOutcomeRedirects(t)
	require.Len(t, outcomes, 3)
	assert.Equal(t, outcomes[0], outcomes[1])
	assert.Equal(t, outcomes[1], outcomes[2])
}

func collectOutcomeRedirects(t *testing.T) []string {
	t.Helper()

	run := func(handler http.HandlerFunc, closeEarly bool) string {
		upstream := httptest.NewServer(handler)
		if closeEarly {
			upstream.Close()
		} else {
			defer upstream.Close()
		}

		store := newMemSubmissionStore()
		svc := newTestSubmissionService(upstream.URL, store, newMemSnapshotStore(), nil)

		session := completedSession()
		_, err := svc.Submit(context.Background(), "tok", session)
		require.NoError(t, err)
		svc.Execute(context.Background(), store.queue[0])

		state, _ := store.GetState(context.Background(), 7)
		require.NotNil(t, state.Outcome)
		return state.Outcome.Redirect
	}

	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	boom := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }

	return []string{
		run(ok, false),
		run(boom, false),
		run(ok, true),
	}
}

func TestExecutePublishesProgressAndOutcome(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	store := newMemSubmissionStore()
	svc := newTestSubmissionService(upstream.URL, store, newMemSnapshotStore(), nil)

	session := completedSession()
	_, err := svc.Submit(context.Background(), "tok", session)
	require.NoError(t, err)

	svc.Execute(context.Background(), store.queue[0])

	store.mu.Lock()
	events := append([]ProgressEvent(nil), store.events...)
	store.mu.Unlock()

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventOutcome, last.Event)
	require.NotNil(t, last.Outcome)

	// The zero-offset status message fires before the call settles.
	assert.Equal(t, EventStatus, events[0].Event)
	assert.Equal(t, "Submitting your answers...", events[0].Message)

	raw, err := json.Marshal(last)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event":"outcome"`)
}
