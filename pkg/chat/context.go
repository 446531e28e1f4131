package chat

import (
	"strings"

	"github.com/rhuss/parley/pkg/api"
)

// BuildContext assembles the prompt string for a generation call: an
// optional leading "System: ..." block, then one "<Role>: <content>" block
// per message in creation order, joined by blank lines.
//
// There is no truncation or windowing. A long conversation produces an
// unboundedly long prompt; any cut-off policy belongs to the backend.
func BuildContext(messages []*api.Message, systemPrompt string) string {
	blocks := make([]string, 0, len(messages)+1)

	if systemPrompt != "" {
		blocks = append(blocks, "System: "+systemPrompt)
	}

	for _, msg := range messages {
		blocks = append(blocks, capitalizeRole(msg.Role)+": "+msg.Content)
	}

	return strings.Join(blocks, "\n\n")
}

// capitalizeRole maps a role to its prompt label.
func capitalizeRole(role api.Role) string {
	switch role {
	case api.RoleUser:
		return "User"
	case api.RoleAssistant:
		return "Assistant"
	case api.RoleSystem:
		return "System"
	}
	// Unknown roles keep their raw value rather than guessing a casing.
	return string(role)
}
