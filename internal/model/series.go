package model

// Series describes one demo question series offered on the listing page.
// The catalog is owned by the evaluation service; the portal only caches it.
type Series struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	QuestionCount int    `json:"question_count"`
}

// StartSessionRequest starts a new test session. Exactly one of the two
// shapes is used: a demo series ID, or a category+level pair for the
// standard flow.
type StartSessionRequest struct {
	SeriesID string `json:"series_id"`
	Category string `json:"category"`
	Level    string `json:"level"`
}

// SetAnswerRequest carries the answer text for one question.
type SetAnswerRequest struct {
	AnswerText string `json:"answer_text"`
}
