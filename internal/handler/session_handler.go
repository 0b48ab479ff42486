package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cognidex/portal-backend/internal/middleware"
	"github.com/cognidex/portal-backend/internal/model"
	"github.com/cognidex/portal-backend/internal/response"
	"github.com/cognidex/portal-backend/internal/service"
	"github.com/cognidex/portal-backend/internal/validator"
)

// SessionHandler drives the test-taking flow: start, resume, answer,
// advance, submit, cancel.
type SessionHandler struct {
	sessionService    *service.TestSessionService
	submissionService *service.SubmissionService
	log               zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	sessionService *service.TestSessionService,
	submissionService *service.SubmissionService,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessionService:    sessionService,
		submissionService: submissionService,
		log:               log.With().Str("component", "session_handler").Logger(),
	}
}

// sessionView is the client-facing projection of a session. Only the
// current question is exposed in full; the rest is progress bookkeeping.
type sessionView struct {
	TestID         int             `json:"test_id"`
	TestName       string          `json:"test_name"`
	Flow           model.FlowKind  `json:"flow"`
	Question       *model.Question `json:"question"`
	CurrentAnswer  string          `json:"current_answer"`
	CurrentIndex   int             `json:"current_index"`
	TotalQuestions int             `json:"total_questions"`
	AnsweredCount  int             `json:"answered_count"`
	CanProceed     bool            `json:"can_proceed"`
	IsLastQuestion bool            `json:"is_last_question"`
	ReadyToSubmit  bool            `json:"ready_to_submit"`
}

func buildSessionView(s *model.TestSession) *sessionView {
	view := &sessionView{
		TestID:         s.TestID,
		TestName:       s.TestName,
		Flow:           s.Flow,
		CurrentIndex:   s.CurrentIndex,
		TotalQuestions: len(s.Questions),
		AnsweredCount:  s.Answered(),
		CanProceed:     s.CanProceed(s.CurrentIndex),
		IsLastQuestion: s.IsLast(),
		ReadyToSubmit:  s.Complete(),
	}
	if s.CurrentIndex >= 0 && s.CurrentIndex < len(s.Questions) {
		q := s.Questions[s.CurrentIndex]
		view.Question = &q
		view.CurrentAnswer = s.Answers[q.ID]
	}
	return view
}

// StartSession godoc
// POST /api/v1/sessions
// Starts a demo session (series_id) or a standard session (category+level).
func (h *SessionHandler) StartSession(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Start(c.Request.Context(), token, h.owner(c), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadStartRequest):
			response.Fail(c, http.StatusBadRequest, response.ErrBadStartRequest)
		case errors.Is(err, service.ErrSessionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		default:
			h.log.Error().Err(err).Msg("Start session failed")
			response.Fail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": buildSessionView(session)})
}

// GetSession godoc
// GET /api/v1/sessions/:test_id
// Resumes a session. An unresolvable ID tells the client to leave for the
// listing page instead of retrying.
func (h *SessionHandler) GetSession(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	testID, ok := h.testID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Resume(c.Request.Context(), token, h.owner(c), testID)
	if err != nil {
		h.failSession(c, err, testID)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": buildSessionView(session)})
}

// SetAnswer godoc
// PUT /api/v1/sessions/:test_id/answers/:question_id
// Overwrites the answer for one question. Empty text is accepted and
// simply fails the gate later.
func (h *SessionHandler) SetAnswer(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	testID, ok := h.testID(c)
	if !ok {
		return
	}
	questionID, err := strconv.Atoi(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SetAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.SetAnswer(c.Request.Context(), token, h.owner(c), testID, questionID, req.AnswerText)
	if err != nil {
		h.failSession(c, err, testID)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": buildSessionView(session)})
}

// Advance godoc
// POST /api/v1/sessions/:test_id/advance
// Moves to the next question when the gate allows it. An ungated advance
// is not an error: the response simply carries the unchanged session.
func (h *SessionHandler) Advance(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	testID, ok := h.testID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Advance(c.Request.Context(), token, h.owner(c), testID)
	if err != nil {
		h.failSession(c, err, testID)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": buildSessionView(session)})
}

// Submit godoc
// POST /api/v1/sessions/:test_id/submit
// Accepts the submission and returns 202 with the completion target. The
// upstream call runs on the worker; progress streams over the WebSocket.
func (h *SessionHandler) Submit(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	testID, ok := h.testID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Resume(c.Request.Context(), token, h.owner(c), testID)
	if err != nil {
		h.failSession(c, err, testID)
		return
	}

	ticket, err := h.submissionService.Submit(c.Request.Context(), token, session)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotSubmittable):
			response.Fail(c, http.StatusConflict, response.ErrNotSubmittable)
		case errors.Is(err, service.ErrAlreadySubmitting):
			response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitting)
		default:
			h.log.Error().Err(err).Int("test_id", testID).Msg("Submit failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"submission": ticket})
}

// GetSubmissionState godoc
// GET /api/v1/sessions/:test_id/submission
// Polling fallback for the submission phase, for clients without a
// WebSocket connection.
func (h *SessionHandler) GetSubmissionState(c *gin.Context) {
	testID, ok := h.testID(c)
	if !ok {
		return
	}

	state, err := h.submissionService.State(c.Request.Context(), testID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	// A claimed slot is visible to its owner only. The owner tag never
	// leaves the API.
	if state.Owner != "" && state.Owner != h.owner(c) {
		response.Fail(c, http.StatusNotFound, response.ErrSessionUnresolved)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": &service.SubmissionState{
		InFlight: state.InFlight,
		Outcome:  state.Outcome,
	}})
}

// Cancel godoc
// DELETE /api/v1/sessions/:test_id
// Discards the session. The upstream delete is best-effort; the response
// always carries the listing redirect, plus a warning when it failed.
func (h *SessionHandler) Cancel(c *gin.Context) {
	token := middleware.GetUpstreamToken(c)

	testID, ok := h.testID(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Cancel(c.Request.Context(), token, h.owner(c), testID)
	if err != nil {
		h.failSession(c, err, testID)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// owner is the participant identity sessions are scoped to. The JWT
// middleware guarantees claims are present on these routes.
func (h *SessionHandler) owner(c *gin.Context) string {
	if claims := middleware.GetClaims(c); claims != nil {
		return claims.Email
	}
	return ""
}

func (h *SessionHandler) testID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

func (h *SessionHandler) failSession(c *gin.Context, err error, testID int) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionUnresolved)
	case errors.Is(err, service.ErrSessionFrozen):
		response.Fail(c, http.StatusConflict, response.ErrSessionFrozen)
	default:
		h.log.Error().Err(err).Int("test_id", testID).Msg("Session operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
