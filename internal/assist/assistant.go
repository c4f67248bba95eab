package assist

import (
	"context"
	"errors"
	"strings"
	"time"

	"textly-chat/internal/models"
	"textly-chat/internal/observability"
)

var (
	ErrDisabled      = errors.New("assistant disabled")
	ErrNotConfigured = errors.New("assistant provider not configured")
)

// Assistant applies the user's preferences to a transform request.
type Assistant struct {
	provider Provider
}

// New returns an Assistant. A nil provider makes every transform fail with
// ErrNotConfigured.
func New(provider Provider) *Assistant {
	return &Assistant{provider: provider}
}

// Configured reports whether a provider is available.
func (a *Assistant) Configured() bool {
	return a != nil && a.provider != nil
}

// Model names the provider model, or "" when unconfigured.
func (a *Assistant) Model() string {
	if !a.Configured() {
		return ""
	}
	return a.provider.Model()
}

// Transform runs action on text with the given preferences and returns the
// trimmed output.
func (a *Assistant) Transform(ctx context.Context, action Action, text string, settings models.UserSettings) (string, error) {
	if !settings.AssistantEnabled {
		return "", ErrDisabled
	}
	if !a.Configured() {
		return "", ErrNotConfigured
	}
	prompt, err := BuildPrompt(action, text, settings)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := a.provider.Generate(ctx, prompt)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveAssist(string(action), outcome, time.Since(start))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
