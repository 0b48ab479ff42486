package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/model"
)

type sessionFixture struct {
	svc        *TestSessionService
	submission *SubmissionService
	store      *memSubmissionStore
	snaps      *memSnapshotStore
	upstream   *httptest.Server
}

// fakeEvalMux builds an upstream standing in for the evaluation service.
func fakeEvalMux(t *testing.T, deleteStatus int) *http.ServeMux {
	t.Helper()
	payload := map[string]interface{}{
		"id":        7,
		"test_name": "Verbal Reasoning",
		"questions": []map[string]interface{}{
			{"question_id": 1, "question_text": "q1"},
			{"question_id": 2, "question_text": "q2"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/demo/start/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/api/demo/test/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/api/test/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/api/test/delete/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(deleteStatus)
	})
	return mux
}

func newSessionFixture(t *testing.T, deleteStatus int) *sessionFixture {
	t.Helper()

	upstream := httptest.NewServer(fakeEvalMux(t, deleteStatus))
	t.Cleanup(upstream.Close)

	eval := evalapi.New(upstream.URL)
	store := newMemSubmissionStore()
	snaps := newMemSnapshotStore()
	submission := NewSubmissionService(eval, store, snaps, nil, zerolog.Nop())
	svc := NewTestSessionService(eval, snaps, submission, zerolog.Nop())

	return &sessionFixture{
		svc:        svc,
		submission: submission,
		store:      store,
		snaps:      snaps,
		upstream:   upstream,
	}
}

func TestStartSession(t *testing.T) {
	t.Run("demo flow from a series", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusOK)

		s, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{SeriesID: "abc"})
		require.NoError(t, err)
		assert.Equal(t, model.FlowDemo, s.Flow)
		assert.Equal(t, 7, s.TestID)
		assert.Len(t, s.Questions, 2)
		assert.Equal(t, 0, s.CurrentIndex)

		// The snapshot is written on start.
		saved, err := f.snaps.LoadSession(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, s.TestID, saved.TestID)
	})

	t.Run("standard flow from category and level", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusOK)

		s, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{Category: "logic", Level: "hard"})
		require.NoError(t, err)
		assert.Equal(t, model.FlowStandard, s.Flow)
	})

	t.Run("neither shape is rejected", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusOK)

		_, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{})
		assert.ErrorIs(t, err, ErrBadStartRequest)
	})
}

func TestResumeSession(t *testing.T) {
	t.Run("snapshot wins over upstream", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusOK)

		started, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{SeriesID: "abc"})
		require.NoError(t, err)
		started.SetAnswer(1, "kept")
		f.snaps.SaveSession(context.Background(), started, 0)

		resumed, err := f.svc.Resume(context.Background(), "tok", "ada@example.com", 7)
		require.NoError(t, err)
		assert.Equal(t, "kept", resumed.Answers[1])
	})

	t.Run("missing snapshot falls back to the demo loader", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusOK)

		resumed, err := f.svc.Resume(context.Background(), "tok", "ada@example.com", 7)
		require.NoError(t, err)
		assert.Equal(t, model.FlowDemo, resumed.Flow)
		assert.Empty(t, resumed.Answers)
	})

	t.Run("fallback refuses attempts from the standard categories", func(t *testing.T) {
		// The upstream demo endpoint resolves any attempt the credential
		// owns. A standard test resolved through it must not be recreated
		// as a demo session, or its submit would hit the demo endpoint.
		standard := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":        41,
				"test_name": "Logic Battery",
				"category":  "professional",
				"questions": []map[string]interface{}{{"question_id": 1, "question_text": "q1"}},
			})
		}))
		t.Cleanup(standard.Close)

		eval := evalapi.New(standard.URL)
		snaps := newMemSnapshotStore()
		submission := NewSubmissionService(eval, newMemSubmissionStore(), snaps, nil, zerolog.Nop())
		svc := NewTestSessionService(eval, snaps, submission, zerolog.Nop())

		_, err := svc.Resume(context.Background(), "tok", "ada@example.com", 41)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = snaps.LoadSession(context.Background(), 41)
		assert.ErrorIs(t, err, ErrNoSnapshot, "no demo snapshot may be written for a standard test")
	})

	t.Run("unresolvable id maps to not found", func(t *testing.T) {
		gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(gone.Close)

		eval := evalapi.New(gone.URL)
		snaps := newMemSnapshotStore()
		submission := NewSubmissionService(eval, newMemSubmissionStore(), snaps, nil, zerolog.Nop())
		svc := NewTestSessionService(eval, snaps, submission, zerolog.Nop())

		_, err := svc.Resume(context.Background(), "tok", "ada@example.com", 999)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestSessionScopedToOwner(t *testing.T) {
	// A session resolves only for the participant who started it. Another
	// authenticated participant holding the numeric test ID gets the same
	// answer as for an ID that never existed.
	f := newSessionFixture(t, http.StatusOK)

	s, err := f.svc.Start(context.Background(), "tok-a", "ada@example.com", model.StartSessionRequest{SeriesID: "abc"})
	require.NoError(t, err)
	s.SetAnswer(1, "ada's answer")
	f.snaps.SaveSession(context.Background(), s, 0)

	_, err = f.svc.Resume(context.Background(), "tok-b", "mallory@example.com", 7)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.SetAnswer(context.Background(), "tok-b", "mallory@example.com", 7, 1, "overwritten")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Advance(context.Background(), "tok-b", "mallory@example.com", 7)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Cancel(context.Background(), "tok-b", "mallory@example.com", 7)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The owner's session is untouched by the refused calls.
	kept, err := f.svc.Resume(context.Background(), "tok-a", "ada@example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, "ada's answer", kept.Answers[1])
}

func TestEditsFreezeOnSubmission(t *testing.T) {
	f := newSessionFixture(t, http.StatusOK)

	s, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{SeriesID: "abc"})
	require.NoError(t, err)

	s.SetAnswer(1, "a")
	s.SetAnswer(2, "b")
	s.CurrentIndex = 1
	f.snaps.SaveSession(context.Background(), s, 0)

	_, err = f.submission.Submit(context.Background(), "tok", s)
	require.NoError(t, err)

	_, err = f.svc.SetAnswer(context.Background(), "tok", "ada@example.com", 7, 1, "too late")
	assert.ErrorIs(t, err, ErrSessionFrozen)

	_, err = f.svc.Advance(context.Background(), "tok", "ada@example.com", 7)
	assert.ErrorIs(t, err, ErrSessionFrozen)
}

func TestCancelSession(t *testing.T) {
	t.Run("clean cancel returns the listing page", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusOK)

		_, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{SeriesID: "abc"})
		require.NoError(t, err)

		result, err := f.svc.Cancel(context.Background(), "tok", "ada@example.com", 7)
		require.NoError(t, err)
		assert.Equal(t, "/demo", result.Redirect)
		assert.Empty(t, result.Warning)

		_, err = f.snaps.LoadSession(context.Background(), 7)
		assert.ErrorIs(t, err, ErrNoSnapshot)
	})

	t.Run("failed upstream delete still leaves, with a warning", func(t *testing.T) {
		f := newSessionFixture(t, http.StatusInternalServerError)

		_, err := f.svc.Start(context.Background(), "tok", "ada@example.com", model.StartSessionRequest{SeriesID: "abc"})
		require.NoError(t, err)

		result, err := f.svc.Cancel(context.Background(), "tok", "ada@example.com", 7)
		require.NoError(t, err)
		assert.Equal(t, "/demo", result.Redirect)
		assert.NotEmpty(t, result.Warning)
	})
}
