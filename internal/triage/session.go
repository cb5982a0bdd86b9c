package triage

import (
	"errors"
	"time"
)

// State is where a referrer is in the questionnaire.
type State string

const (
	// StateAnswering means at least one catalog question is unanswered.
	StateAnswering State = "answering"

	// StateComplete means every catalog question has an answer.
	StateComplete State = "complete"
)

// ErrSessionNotFound is returned when a session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session is one referrer's questionnaire in progress.
type Session struct {
	ID             string         `json:"id"`
	Answers        AnswerSet      `json:"answers"`
	State          State          `json:"state"`
	Recommendation Recommendation `json:"recommendation"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so stores never share maps with callers.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Answers = s.Answers.Clone()
	cp.Recommendation = s.Recommendation.Clone()
	return &cp
}
