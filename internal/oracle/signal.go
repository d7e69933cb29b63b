package oracle

import (
	"strings"
)

const (
	// advanceSentinel marks stage completion in a raw completion.
	advanceSentinel = "ADVANCE_STAGE"

	// storeDataPrefix marks a collected answer line: "STORE_DATA: key=value".
	storeDataPrefix = "STORE_DATA:"
)

// ParseSignals extracts control signals from a raw completion and returns the
// cleaned user-visible text alongside them. The advance sentinel only counts
// as a whole whitespace-delimited token, so narrative text that merely embeds
// a similar word cannot trigger a transition.
func ParseSignals(raw string) *Result {
	res := &Result{}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, storeDataPrefix) {
			key, value, ok := strings.Cut(strings.TrimSpace(trimmed[len(storeDataPrefix):]), "=")
			if ok {
				if res.Data == nil {
					res.Data = make(map[string]string)
				}
				res.Data[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
			continue
		}

		if trimmed == advanceSentinel {
			res.Advance = true
			continue
		}

		if containsToken(trimmed, advanceSentinel) {
			res.Advance = true
			line = removeToken(line, advanceSentinel)
			if strings.TrimSpace(line) == "" {
				continue
			}
		}

		kept = append(kept, line)
	}

	res.Text = strings.TrimSpace(strings.Join(kept, "\n"))
	return res
}

func containsToken(s, token string) bool {
	for _, field := range strings.Fields(s) {
		if field == token {
			return true
		}
	}
	return false
}

func removeToken(s, token string) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, field := range fields {
		if field != token {
			kept = append(kept, field)
		}
	}
	return strings.Join(kept, " ")
}
