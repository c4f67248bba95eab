// Package assist builds rewrite and translation prompts and runs them
// against a language model.
package assist

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"textly-chat/internal/models"
)

// MaxInputLength is the longest text accepted for a transform, in characters.
const MaxInputLength = 1500

// Action is a text transformation.
type Action string

const (
	ActionImprove   Action = "improve"
	ActionTranslate Action = "translate"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrEmptyText     = errors.New("text is empty")
	ErrTextTooLong   = fmt.Errorf("text longer than %d characters", MaxInputLength)
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionImprove, ActionTranslate:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// ValidateText trims text and checks its length.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	switch n := utf8.RuneCountInString(trimmed); {
	case n == 0:
		return "", ErrEmptyText
	case n > MaxInputLength:
		return "", ErrTextTooLong
	}
	return trimmed, nil
}

func tone(mode models.WritingMode) string {
	if mode == models.WritingFormal {
		return "formal and professional"
	}
	return "informal and natural"
}

// BuildPrompt wraps text in the instruction template of action.
func BuildPrompt(action Action, text string, settings models.UserSettings) (string, error) {
	var b strings.Builder
	switch action {
	case ActionImprove:
		b.WriteString("Improve the following chat message.\nRules:\n")
		b.WriteString("- Keep the original language.\n")
		b.WriteString("- Do not translate it.\n")
		b.WriteString("- Improve clarity, wording and spelling.\n")
		b.WriteString("- Keep the same meaning and intent.\n")
		fmt.Fprintf(&b, "- Use a %s tone.\n", tone(settings.WritingMode))
	case ActionTranslate:
		language, ok := models.TranslationLanguages[settings.TranslationLanguage]
		if !ok {
			language = models.TranslationLanguages["es"]
		}
		b.WriteString("Translate the following chat message.\nRules:\n")
		fmt.Fprintf(&b, "- Target language: %s.\n", language)
		b.WriteString("- Keep the original meaning and intent.\n")
		fmt.Fprintf(&b, "- Use a %s tone.\n", tone(settings.WritingMode))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	b.WriteString("- Do not add new information.\n")
	b.WriteString("- Do not explain anything.\n")
	b.WriteString("- Return ONLY the final text, without quotes or comments.\n\n")
	b.WriteString("Message:\n")
	b.WriteString(text)
	return b.String(), nil
}
