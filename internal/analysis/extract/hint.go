package extract

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// The completion collaborator is prompted to append a machine-readable
// sidecar to its reply, either as a fenced json block or a trailing
// object. ParseHint splits the two so the sidecar never reaches the UI.

var fencedHintPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseHint returns the reply with any sidecar removed, plus the raw
// sidecar JSON ("" when none is present or it is not a valid object).
func ParseHint(reply string) (clean string, hint string) {
	if m := fencedHintPattern.FindStringSubmatchIndex(reply); m != nil {
		candidate := reply[m[2]:m[3]]
		if json.Valid([]byte(candidate)) {
			clean = strings.TrimSpace(reply[:m[0]] + reply[m[1]:])
			return clean, candidate
		}
	}

	// Unfenced fallback: a trailing {...} object on its own.
	if idx := strings.LastIndex(reply, "{"); idx >= 0 {
		candidate := strings.TrimSpace(reply[idx:])
		if strings.HasSuffix(candidate, "}") && json.Valid([]byte(candidate)) {
			return strings.TrimSpace(reply[:idx]), candidate
		}
	}

	return strings.TrimSpace(reply), ""
}

// hintCandidates decodes a sidecar into raw per-field values. Unknown
// keys and unusable value types are dropped; validation happens later on
// the same path as heuristic candidates.
func hintCandidates(hint string) map[loan.Field]string {
	candidates := make(map[loan.Field]string)
	if hint == "" {
		return candidates
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(hint), &payload); err != nil {
		return candidates
	}

	for _, field := range applyOrder {
		value, ok := payload[string(field)]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			candidates[field] = v
		case float64:
			candidates[field] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return candidates
}
