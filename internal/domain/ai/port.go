package ai

import "context"

// LanguageModel answers one system + user exchange with plain text.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt, userPayload string) (string, error)
}
