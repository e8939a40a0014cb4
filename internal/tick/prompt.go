package tick

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const contextHeader = "Context from blackboard:"

// Reserved blackboard keys written by the relay itself; they hold the prior
// turn and are excluded from prompt augmentation so the model does not see
// its own last answer twice.
const (
	keyLastResponse = "lastResponse"
	keyLastPrompt   = "lastPrompt"
)

// BuildContextualPrompt prepends the eligible blackboard entries to the user
// prompt as "key: JSON(value)" lines under a fixed header. With no eligible
// entries the raw prompt is returned unchanged. Entries are ordered by key so
// the augmented prompt is deterministic.
func BuildContextualPrompt(prompt string, blackboard map[string]any) string {
	keys := make([]string, 0, len(blackboard))
	for k := range blackboard {
		if k == keyLastResponse || k == keyLastPrompt {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return prompt
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(contextHeader)
	sb.WriteString("\n")
	for _, k := range keys {
		encoded, err := json.Marshal(blackboard[k])
		if err != nil {
			// Unencodable values (channels, funcs) should not sink the whole
			// tick; fall back to fmt formatting.
			encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(blackboard[k])))
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.Write(encoded)
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser prompt: ")
	sb.WriteString(prompt)
	return sb.String()
}
