// Package refdoc loads the PDN reference document used to enrich the final
// stage prompt.
package refdoc

import (
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 1200
	chunkOverlap = 100
)

// Load reads the reference document at path, splits it into chunks, and
// returns the first maxChunks joined as prompt-ready text. A missing file is
// not an error from the caller's perspective; callers should treat an empty
// result as "no enrichment".
func Load(path string, maxChunks int) (string, error) {
	if path == "" || maxChunks <= 0 {
		return "", nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read reference document: %w", err)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(string(raw))
	if err != nil {
		return "", fmt.Errorf("split reference document: %w", err)
	}

	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	return strings.TrimSpace(strings.Join(chunks, "\n\n")), nil
}
