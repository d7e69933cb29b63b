package domain

import (
	"time"
)

// Report is the final structured personality profile produced once the
// terminal stage is reached.
type Report struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Language    string          `json:"language,omitempty"`
	PDNCode     string          `json:"pdn_code,omitempty"`
	Title       string          `json:"title"`
	Components  []CodeComponent `json:"components,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Sections    []ReportSection `json:"sections"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// CodeComponent is one decoded letter of the three-letter PDN code.
type CodeComponent struct {
	Letter      string `json:"letter"`
	Aspect      string `json:"aspect"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ReportSection summarizes one assessment stage.
type ReportSection struct {
	Stage     StageID           `json:"stage"`
	Heading   string            `json:"heading"`
	Narrative string            `json:"narrative"`
	Answers   map[string]string `json:"answers,omitempty"`
}
