// Package recall implements C12 (SPEC_FULL.md §11.2): it formats the hint
// text carried on a TOPIC_SELECTION_NEEDED envelope when a topic is
// exhausted or a recall-by-date query comes back empty. Grounded on the
// teacher's per-provider request/response shaping pattern
// (pkg/model/create/*): a Suggester is an optional, swappable collaborator
// the same way the teacher's model managers are — here reusing the
// teacher's go-openai dependency as a real, but optional, implementation.
package recall

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Suggester turns a completed-topic + still-available-topics list into a
// short, human-readable hint. The orchestrator never requires one — if
// none is configured, Format falls back to a deterministic template.
type Suggester interface {
	Suggest(ctx context.Context, completedTopic string, availableTopics []string) (string, error)
}

// Format produces the hint text for TOPIC_SELECTION_NEEDED (§6.2,
// SPEC_FULL.md §12.1). If s is nil or errors, it falls back to a plain
// templated sentence so the envelope always carries usable text.
func Format(ctx context.Context, s Suggester, completedTopic string, availableTopics []string) string {
	if s != nil {
		if hint, err := s.Suggest(ctx, completedTopic, availableTopics); err == nil && hint != "" {
			return hint
		}
	}
	return fallback(completedTopic, availableTopics)
}

func fallback(completedTopic string, availableTopics []string) string {
	if len(availableTopics) == 0 {
		return fmt.Sprintf("No more cases available under %q; choose a different topic set to continue.", completedTopic)
	}
	return fmt.Sprintf("All cases under %q have been used this session. Remaining topics: %s.",
		completedTopic, strings.Join(availableTopics, ", "))
}

// OpenAISuggester asks a chat-completion model for a friendlier variant of
// the fallback sentence. It is a thin, optional adapter; nothing in the
// core requires network access to function (Format degrades gracefully).
type OpenAISuggester struct {
	client *openai.Client
	model  string
}

func NewOpenAISuggester(apiKey, model string) *OpenAISuggester {
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAISuggester{client: openai.NewClient(apiKey), model: model}
}

func (s *OpenAISuggester) Suggest(ctx context.Context, completedTopic string, availableTopics []string) (string, error) {
	prompt := fmt.Sprintf(
		"A clinical practice session exhausted every case under topic %q. Remaining topic options: %s. "+
			"Write one short, encouraging sentence telling the doctor to pick a new topic.",
		completedTopic, strings.Join(availableTopics, ", "))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 60,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("recall: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
