// Package models defines state management structures for DailyMentor flows.
package models

import "time"

// FlowName identifies a named multi-step dialogue.
type FlowName string

// StepID identifies a step within a flow.
type StepID string

// Answer is the value collected at one step. Scalar answers hold a single value.
type Answer struct {
	Step   StepID   `json:"step"`
	Values []string `json:"values"`
}

// FlowSession is the persisted cursor and accumulated answers for a user's active flow.
type FlowSession struct {
	UserID    int64     `json:"user_id"`
	Flow      FlowName  `json:"flow"`
	Step      StepID    `json:"step"`
	Answers   []Answer  `json:"answers,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Values returns the values recorded for step, or nil.
func (s *FlowSession) Values(step StepID) []string {
	for _, a := range s.Answers {
		if a.Step == step {
			return a.Values
		}
	}
	return nil
}

// Value returns the first value recorded for step, or "".
func (s *FlowSession) Value(step StepID) string {
	if v := s.Values(step); len(v) > 0 {
		return v[0]
	}
	return ""
}

// SetValues records values for step, replacing a previous answer in place so order is kept.
func (s *FlowSession) SetValues(step StepID, values ...string) {
	for i := range s.Answers {
		if s.Answers[i].Step == step {
			s.Answers[i].Values = values
			return
		}
	}
	s.Answers = append(s.Answers, Answer{Step: step, Values: values})
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *FlowSession) Clone() *FlowSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make([]Answer, len(s.Answers))
	for i, a := range s.Answers {
		c.Answers[i] = Answer{Step: a.Step, Values: append([]string(nil), a.Values...)}
	}
	return &c
}
