package chat

import (
	"testing"

	"github.com/rhuss/parley/pkg/api"
)

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name         string
		messages     []*api.Message
		systemPrompt string
		want         string
	}{
		{
			name: "two messages no system prompt",
			messages: []*api.Message{
				{Role: api.RoleUser, Content: "hi"},
				{Role: api.RoleAssistant, Content: "hello"},
			},
			want: "User: hi\n\nAssistant: hello",
		},
		{
			name: "system prompt leads",
			messages: []*api.Message{
				{Role: api.RoleUser, Content: "hi"},
			},
			systemPrompt: "be brief",
			want:         "System: be brief\n\nUser: hi",
		},
		{
			name:         "system prompt only",
			systemPrompt: "be brief",
			want:         "System: be brief",
		},
		{
			name: "empty history no system prompt",
			want: "",
		},
		{
			name: "system role message in history",
			messages: []*api.Message{
				{Role: api.RoleSystem, Content: "context note"},
				{Role: api.RoleUser, Content: "hi"},
			},
			want: "System: context note\n\nUser: hi",
		},
		{
			name: "message content with newlines kept verbatim",
			messages: []*api.Message{
				{Role: api.RoleUser, Content: "line one\nline two"},
			},
			want: "User: line one\nline two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildContext(tt.messages, tt.systemPrompt)
			if got != tt.want {
				t.Errorf("BuildContext() = %q, want %q", got, tt.want)
			}
		})
	}
}
