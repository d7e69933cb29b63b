// Package stage defines the fixed catalog of assessment stages and their
// system prompts.
package stage

import (
	"embed"
	"fmt"
	"strings"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Definition describes one assessment stage. Definitions are immutable after
// the catalog is built.
type Definition struct {
	ID              domain.StageID
	Name            string
	Description     string
	Prompt          string
	RequiredAnswers int
	Next            domain.StageID // empty for the terminal stage
}

// Terminal reports whether this stage has no successor.
func (d *Definition) Terminal() bool {
	return d.Next == ""
}

// Catalog is the ordered, read-only set of stage definitions. Safe for
// concurrent use.
type Catalog struct {
	stages map[domain.StageID]*Definition
	order  []domain.StageID
}

// formattingInstructions is appended to every stage prompt so replies render
// consistently in the chat widget regardless of language.
const formattingInstructions = `

=== Formatting Instructions ===
1. Use Markdown: **bold** for emphasis, lists with proper indentation, blank
   lines between sections.
2. Present numbered options consistently, one per line.
3. Start with a short friendly opener, present the main content, end with a
   clear call to action.
4. Apply these rules in every reply, regardless of language.
`

type promptSpec struct {
	id              domain.StageID
	name            string
	description     string
	file            string
	requiredAnswers int
	next            domain.StageID
}

var specs = []promptSpec{
	{domain.StageAPET, "AP vs ET Distinction", "Initial personality orientation assessment",
		"step_1_ap_et_distinction.txt", 2, domain.StagePersonality},
	{domain.StagePersonality, "Personality Types", "Detailed personality type assessment",
		"step_2_personality_types.txt", 2, domain.StageEnergy},
	{domain.StageEnergy, "Energy Questions", "Energy and decision-making patterns",
		"step_3_energy.txt", 2, domain.StageReinforcement},
	{domain.StageReinforcement, "Reinforcement Patterns", "Childhood experiences and reinforcement patterns",
		"step_4_reinforcement_childhood.txt", 2, domain.StageFinal},
	{domain.StageFinal, "Final Code Reveal", "Summary and personality code revelation",
		"step_5_final_code_reveal.txt", 1, ""},
}

// NewCatalog builds the catalog from the embedded prompt templates.
func NewCatalog() (*Catalog, error) {
	return NewCatalogWithReference("")
}

// NewCatalogWithReference builds the catalog and appends the given reference
// material to the final stage's prompt. An empty reference is ignored.
func NewCatalogWithReference(reference string) (*Catalog, error) {
	c := &Catalog{stages: make(map[domain.StageID]*Definition, len(specs))}

	for _, spec := range specs {
		raw, err := promptFS.ReadFile("prompts/" + spec.file)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", spec.file, err)
		}

		prompt := strings.TrimSpace(string(raw)) + formattingInstructions
		if spec.id == domain.StageFinal && reference != "" {
			prompt += "\n=== Reference Material ===\n" + reference + "\n"
		}

		c.stages[spec.id] = &Definition{
			ID:              spec.id,
			Name:            spec.name,
			Description:     spec.description,
			Prompt:          prompt,
			RequiredAnswers: spec.requiredAnswers,
			Next:            spec.next,
		}
		c.order = append(c.order, spec.id)
	}

	return c, nil
}

// Lookup returns the definition for the given stage identifier.
func (c *Catalog) Lookup(id domain.StageID) (*Definition, error) {
	def, ok := c.stages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, id)
	}
	return def, nil
}

// First returns the entry stage.
func (c *Catalog) First() *Definition {
	return c.stages[c.order[0]]
}

// Order returns the stage identifiers in assessment order.
func (c *Catalog) Order() []domain.StageID {
	out := make([]domain.StageID, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of stages.
func (c *Catalog) Len() int {
	return len(c.order)
}
