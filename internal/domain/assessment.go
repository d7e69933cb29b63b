// Package domain contains core domain types for the PDN assessment application.
package domain

import (
	"time"
)

// StageID identifies one phase of the assessment.
type StageID string

// The fixed assessment stages, in order.
const (
	StageAPET          StageID = "ap_et"
	StagePersonality   StageID = "personality"
	StageEnergy        StageID = "energy"
	StageReinforcement StageID = "reinforcement"
	StageFinal         StageID = "final"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a conversation history. Turns are append-only;
// insertion order is chronological order.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Stage     StageID   `json:"stage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StageAnswers holds the data collected while a stage was active. Values are
// stored verbatim as the oracle emitted them and are never parsed further.
type StageAnswers struct {
	Data map[string]string `json:"data,omitempty"`
}

// Assessment is the persisted per-user state of an in-progress or completed
// assessment.
type Assessment struct {
	UserID      string                   `json:"user_id"`
	Language    string                   `json:"language,omitempty"`
	Stage       StageID                  `json:"stage"`
	AnswerCount int                      `json:"answer_count"`
	Turns       []Turn                   `json:"turns"`
	Answers     map[StageID]StageAnswers `json:"answers"`
	Completed   bool                     `json:"completed"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// NewAssessment creates a fresh assessment for a user at the given entry stage.
func NewAssessment(userID string, entry StageID) *Assessment {
	now := time.Now()
	return &Assessment{
		UserID:    userID,
		Stage:     entry,
		Answers:   make(map[StageID]StageAnswers),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendTurn records a turn at the end of the history.
func (a *Assessment) AppendTurn(role Role, content string, stage StageID) {
	a.Turns = append(a.Turns, Turn{
		Role:      role,
		Content:   content,
		Stage:     stage,
		Timestamp: time.Now(),
	})
}

// HasSystemPromptFor reports whether a system turn tagged with the given stage
// has already been recorded. Used to inject each stage's prompt exactly once.
func (a *Assessment) HasSystemPromptFor(stage StageID) bool {
	for i := range a.Turns {
		if a.Turns[i].Role == RoleSystem && a.Turns[i].Stage == stage {
			return true
		}
	}
	return false
}

// TurnsForStage returns the turns recorded while the given stage was active.
func (a *Assessment) TurnsForStage(stage StageID) []Turn {
	var turns []Turn
	for i := range a.Turns {
		if a.Turns[i].Stage == stage {
			turns = append(turns, a.Turns[i])
		}
	}
	return turns
}

// RecordAnswer stores a collected key/value under the given stage.
func (a *Assessment) RecordAnswer(stage StageID, key, value string) {
	if a.Answers == nil {
		a.Answers = make(map[StageID]StageAnswers)
	}
	sa := a.Answers[stage]
	if sa.Data == nil {
		sa.Data = make(map[string]string)
	}
	sa.Data[key] = value
	a.Answers[stage] = sa
}

// Clone returns a deep copy. The turn processor mutates a clone so that a
// failed oracle call leaves the loaded state untouched.
func (a *Assessment) Clone() *Assessment {
	cp := *a
	cp.Turns = make([]Turn, len(a.Turns))
	copy(cp.Turns, a.Turns)
	cp.Answers = make(map[StageID]StageAnswers, len(a.Answers))
	for stage, sa := range a.Answers {
		data := make(map[string]string, len(sa.Data))
		for k, v := range sa.Data {
			data[k] = v
		}
		cp.Answers[stage] = StageAnswers{Data: data}
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
