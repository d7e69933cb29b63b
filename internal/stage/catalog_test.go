package stage

import (
	"errors"
	"strings"
	"testing"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

func TestCatalogChainIsTotal(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	// Starting at the entry stage and always following Next must visit every
	// stage exactly once and end at the terminal stage.
	seen := make(map[domain.StageID]bool)
	def := c.First()
	steps := 0
	for {
		if seen[def.ID] {
			t.Fatalf("stage %s visited twice", def.ID)
		}
		seen[def.ID] = true
		if def.Terminal() {
			break
		}
		next, err := c.Lookup(def.Next)
		if err != nil {
			t.Fatalf("successor of %s not in catalog: %v", def.ID, err)
		}
		def = next
		steps++
	}

	if len(seen) != c.Len() {
		t.Errorf("chain visited %d stages, catalog has %d", len(seen), c.Len())
	}
	if steps != c.Len()-1 {
		t.Errorf("expected %d transitions to terminal, got %d", c.Len()-1, steps)
	}
	if def.ID != domain.StageFinal {
		t.Errorf("expected terminal stage %s, got %s", domain.StageFinal, def.ID)
	}
}

func TestCatalogFirst(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if c.First().ID != domain.StageAPET {
		t.Errorf("expected entry stage %s, got %s", domain.StageAPET, c.First().ID)
	}
}

func TestCatalogLookupUnknown(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	_, err = c.Lookup("bogus")
	if !errors.Is(err, domain.ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
}

func TestCatalogPrompts(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	for _, id := range c.Order() {
		def, err := c.Lookup(id)
		if err != nil {
			t.Fatalf("Lookup(%s) failed: %v", id, err)
		}
		if def.Prompt == "" {
			t.Errorf("stage %s has empty prompt", id)
		}
		if !strings.Contains(def.Prompt, "Formatting Instructions") {
			t.Errorf("stage %s prompt missing formatting instructions", id)
		}
		if def.RequiredAnswers <= 0 {
			t.Errorf("stage %s has non-positive required answers", id)
		}
	}
}

func TestCatalogReferenceEnrichment(t *testing.T) {
	ref := "PDN reference corpus excerpt"
	c, err := NewCatalogWithReference(ref)
	if err != nil {
		t.Fatalf("NewCatalogWithReference failed: %v", err)
	}

	final, err := c.Lookup(domain.StageFinal)
	if err != nil {
		t.Fatalf("Lookup(final) failed: %v", err)
	}
	if !strings.Contains(final.Prompt, ref) {
		t.Error("final stage prompt missing reference material")
	}

	entry, err := c.Lookup(domain.StageAPET)
	if err != nil {
		t.Fatalf("Lookup(ap_et) failed: %v", err)
	}
	if strings.Contains(entry.Prompt, ref) {
		t.Error("entry stage prompt should not carry reference material")
	}
}
