// Package oracle provides the external text-completion client used to drive
// the assessment conversation.
package oracle

import (
	"context"

	"github.com/pdnlabs/pdn-chat/internal/domain"
)

// Result is the structured outcome of one completion call. Control signals
// embedded in the raw completion are parsed out once, here; downstream code
// never inspects reply text for them.
type Result struct {
	// Text is the user-visible reply with all control signals stripped. May be
	// empty when the completion carried only signals.
	Text string

	// Advance is set when the completion signaled stage completion.
	Advance bool

	// Data holds collected answer key/values, stored verbatim.
	Data map[string]string
}

// Client generates one assistant reply from an ordered conversation history.
// Implementations classify transient failures as domain.ErrOracleUnavailable.
type Client interface {
	Complete(ctx context.Context, turns []domain.Turn) (*Result, error)
}
