package evalapi

import (
	"github.com/cognidex/portal-backend/internal/model"
)

// TokenResponse is the upstream auth response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SignupRequest creates a registered account upstream.
type SignupRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

// SeriesEntry is one catalog item from the demo series listing.
type SeriesEntry struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	QuestionCount int    `json:"question_count"`
}

// TestPayload is a created or resolved session: the ID assigned upstream
// plus the fixed question set. Category distinguishes demo attempts
// ("general") from the standard test categories.
type TestPayload struct {
	ID        int              `json:"id"`
	TestName  string           `json:"test_name"`
	Category  string           `json:"category"`
	Questions []model.Question `json:"questions"`
}

// SubmissionRequest is the single submit payload. Answers must appear in
// the order the participant first answered them.
type SubmissionRequest struct {
	TestID  int            `json:"test_id"`
	Answers []model.Answer `json:"answers"`
}
