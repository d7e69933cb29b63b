// Package report assembles and renders the final personality profile.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pdnlabs/pdn-chat/internal/domain"
	"github.com/pdnlabs/pdn-chat/internal/stage"
)

// reportNamespace seeds deterministic report identifiers so that finalizing
// the same completed assessment twice yields the same ID.
var reportNamespace = uuid.MustParse("8f2a1c1e-46d7-4a0b-9f3e-2b1d5c7a9e04")

// Finalizer builds reports from completed assessments. Deterministic: the same
// completed assessment always produces an identical report.
type Finalizer struct {
	catalog *stage.Catalog
}

// NewFinalizer creates a finalizer over the given stage catalog.
func NewFinalizer(catalog *stage.Catalog) *Finalizer {
	return &Finalizer{catalog: catalog}
}

// Finalize assembles the report for a completed assessment.
func (f *Finalizer) Finalize(a *domain.Assessment) (*domain.Report, error) {
	if !a.Completed || a.CompletedAt == nil {
		return nil, fmt.Errorf("finalize for %s: %w", a.UserID, domain.ErrNotCompleted)
	}

	code := a.Answers[domain.StageFinal].Data["pdn_code"]

	sections := make([]domain.ReportSection, 0, f.catalog.Len())
	for _, id := range f.catalog.Order() {
		def, err := f.catalog.Lookup(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReportFailed, err)
		}
		answers := a.Answers[id].Data
		sections = append(sections, domain.ReportSection{
			Stage:     id,
			Heading:   def.Name,
			Narrative: sectionNarrative(def, answers),
			Answers:   copyAnswers(answers),
		})
	}

	title := "Your PDN Personality Profile"
	if code != "" {
		title = fmt.Sprintf("Your PDN Personality Profile: %s", code)
	}

	seed := fmt.Sprintf("%s|%d", a.UserID, a.CompletedAt.Unix())
	return &domain.Report{
		ID:          uuid.NewSHA1(reportNamespace, []byte(seed)).String(),
		UserID:      a.UserID,
		Language:    a.Language,
		PDNCode:     code,
		Title:       title,
		Components:  DecodeComponents(code),
		Summary:     codeSummary(code),
		Sections:    sections,
		GeneratedAt: *a.CompletedAt,
	}, nil
}

type letterInfo struct {
	name        string
	description string
}

// The three-letter PDN code decomposes into personality type, energy pattern,
// and reinforcement pattern, in that order.
var (
	personalityLetters = map[byte]letterInfo{
		'A': {"Analytical", "You are methodical, detail-oriented, and value precision and accuracy."},
		'E': {"Expressive", "You are people-oriented, enthusiastic, and value connection and engagement."},
		'T': {"Tactical", "You are action-oriented, practical, and value efficiency and results."},
		'P': {"Peaceful", "You are harmony-seeking, patient, and value stability and balance."},
	}
	energyLetters = map[byte]letterInfo{
		'D': {"Dominant", "You have a forward, assertive approach to life, naturally taking charge."},
		'S': {"Steady", "You have a consistent, reliable approach, maintaining stability and dependability."},
		'F': {"Flexible", "You have an adaptable, responsive approach, adjusting to circumstances with agility."},
	}
	reinforcementLetters = map[byte]letterInfo{
		'N': {"Nurturing", "You strengthen through support, care, and emotional connection."},
		'C': {"Challenging", "You strengthen through high expectations, honest feedback, and pushing beyond comfort zones."},
		'I': {"Inspiring", "You strengthen through vision, enthusiasm, and belief in positive potential."},
	}
)

// DecodeComponents expands a three-letter PDN code into its per-letter
// meanings. Unknown letters are skipped; a malformed code yields nil.
func DecodeComponents(code string) []domain.CodeComponent {
	if len(code) != 3 {
		return nil
	}

	aspects := []struct {
		aspect  string
		letters map[byte]letterInfo
	}{
		{"Personality Type", personalityLetters},
		{"Energy Pattern", energyLetters},
		{"Reinforcement Pattern", reinforcementLetters},
	}

	var components []domain.CodeComponent
	for i, a := range aspects {
		info, ok := a.letters[code[i]]
		if !ok {
			continue
		}
		components = append(components, domain.CodeComponent{
			Letter:      string(code[i]),
			Aspect:      a.aspect,
			Name:        info.name,
			Description: info.description,
		})
	}
	return components
}

func codeSummary(code string) string {
	if len(DecodeComponents(code)) == 0 {
		return ""
	}
	return fmt.Sprintf("As a %s type, you combine these qualities into a unique personality profile. "+
		"Awareness of these natural tendencies can help you leverage your strengths and navigate "+
		"potential challenges. They represent your core tendencies, not rigid limitations.", code)
}

// sectionNarrative renders a stage summary from its collected answers. Keys
// are sorted so repeated finalization produces identical text.
func sectionNarrative(def *stage.Definition, answers map[string]string) string {
	var b strings.Builder
	b.WriteString(def.Description)
	b.WriteString(".")

	if len(answers) == 0 {
		b.WriteString(" No structured data was collected during this stage.")
		return b.String()
	}

	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(" Recorded during this stage:")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(" %s = %s;", k, answers[k]))
	}
	return strings.TrimSuffix(b.String(), ";") + "."
}

func copyAnswers(answers map[string]string) map[string]string {
	if len(answers) == 0 {
		return nil
	}
	cp := make(map[string]string, len(answers))
	for k, v := range answers {
		cp[k] = v
	}
	return cp
}
