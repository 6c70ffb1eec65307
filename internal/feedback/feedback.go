// Package feedback collects what a test case tells the student.
package feedback

import (
	"encoding/json"
	"strings"
)

// Feedback is a message log plus an optional score for one test case.
// It is not safe for concurrent use.
type Feedback struct {
	TestID   string
	messages []string
	score    *float64
}

func New(testID string) *Feedback {
	return &Feedback{TestID: testID}
}

func (f *Feedback) AddMessage(msg string) {
	f.messages = append(f.messages, msg)
}

func (f *Feedback) SetScore(score float64) {
	f.score = &score
}

// AddScore adds points to the score, starting from zero if unset.
func (f *Feedback) AddScore(points float64) {
	if f.score == nil {
		f.SetScore(points)
		return
	}
	*f.score += points
}

func (f *Feedback) Messages() []string {
	return append([]string(nil), f.messages...)
}

// Score returns the score and whether one was set.
func (f *Feedback) Score() (float64, bool) {
	if f.score == nil {
		return 0, false
	}
	return *f.score, true
}

// Message is the log as one string, messages concatenated in order.
func (f *Feedback) Message() string {
	return strings.Join(f.messages, "")
}

type report struct {
	TestID  string   `json:"test_id"`
	Message string   `json:"message"`
	Points  *float64 `json:"points"`
}

func (f *Feedback) MarshalJSON() ([]byte, error) {
	return json.Marshal(report{
		TestID:  f.TestID,
		Message: f.Message(),
		Points:  f.score,
	})
}
