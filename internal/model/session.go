package model

import (
	"strings"
)

// FlowKind selects which evaluation-service endpoints a session is bound to.
type FlowKind string

const (
	FlowDemo     FlowKind = "demo"
	FlowStandard FlowKind = "standard"
)

// Question is a single prompt in a test. The question set is fixed once
// the session is created and never mutated.
type Question struct {
	ID   int    `json:"question_id"`
	Text string `json:"question_text"`
}

// TestSession is one in-progress attempt at a fixed ordered question set.
//
// Answers are keyed by question ID but the order in which questions were
// first answered is tracked separately: the submission payload must list
// answers in that insertion order.
//
// Owner is the participant identity (claims email) the session belongs
// to. Test IDs are assigned upstream and easy to guess, so every resolve
// checks Owner before handing the session out.
type TestSession struct {
	TestID       int            `json:"test_id"`
	TestName     string         `json:"test_name"`
	Owner        string         `json:"owner"`
	Flow         FlowKind       `json:"flow"`
	Questions    []Question     `json:"questions"`
	Answers      map[int]string `json:"answers"`
	AnswerOrder  []int          `json:"answer_order"`
	CurrentIndex int            `json:"current_index"`
}

// NewTestSession builds a fresh session at question zero.
func NewTestSession(testID int, name, owner string, flow FlowKind, questions []Question) *TestSession {
	return &TestSession{
		TestID:    testID,
		TestName:  name,
		Owner:     owner,
		Flow:      flow,
		Questions: questions,
		Answers:   make(map[int]string),
	}
}

// SetAnswer overwrites the answer for a question. Content is not
// validated — empty or whitespace-only text is stored as-is and only
// matters for gating. A question ID keeps its original position in the
// insertion order even when its answer is rewritten.
func (s *TestSession) SetAnswer(questionID int, text string) {
	if s.Answers == nil {
		s.Answers = make(map[int]string)
	}
	if _, seen := s.Answers[questionID]; !seen {
		s.AnswerOrder = append(s.AnswerOrder, questionID)
	}
	s.Answers[questionID] = text
}

// CanProceed reports whether the question at index i has a non-empty
// answer after trimming whitespace. Out-of-range indexes never proceed.
func (s *TestSession) CanProceed(i int) bool {
	if i < 0 || i >= len(s.Questions) {
		return false
	}
	answer, ok := s.Answers[s.Questions[i].ID]
	if !ok {
		return false
	}
	return strings.TrimSpace(answer) != ""
}

// IsLast reports whether the current question is the final one.
func (s *TestSession) IsLast() bool {
	return s.CurrentIndex == len(s.Questions)-1
}

// Advance moves to the next question when the current one is answered and
// is not the last. Otherwise it is a silent no-op — the index never moves
// backwards and never runs past the end.
func (s *TestSession) Advance() {
	if !s.CanProceed(s.CurrentIndex) || s.IsLast() {
		return
	}
	s.CurrentIndex++
}

// Complete reports whether the session is submittable: the current
// question must be the last one and it must pass the answer gate.
func (s *TestSession) Complete() bool {
	return s.IsLast() && s.CanProceed(s.CurrentIndex)
}

// Answered returns how many questions currently hold an answer record.
func (s *TestSession) Answered() int {
	return len(s.Answers)
}

// OrderedAnswers returns the submission pairs in insertion order. Cleared
// answers keep their slot with whatever text they now hold, matching how
// the submission payload is derived from the answer map.
func (s *TestSession) OrderedAnswers() []Answer {
	pairs := make([]Answer, 0, len(s.AnswerOrder))
	for _, qid := range s.AnswerOrder {
		text, ok := s.Answers[qid]
		if !ok {
			continue
		}
		pairs = append(pairs, Answer{QuestionID: qid, AnswerText: text})
	}
	return pairs
}

// Answer is one {question, answer text} submission pair.
type Answer struct {
	QuestionID int    `json:"question_id"`
	AnswerText string `json:"answer_text"`
}
