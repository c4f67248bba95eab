package profiles

import "strings"

const (
	// FallbackUsername is shown for users without any known name.
	FallbackUsername = "Usuario"
	// FallbackSelfName is shown for the current user when nothing else is known.
	FallbackSelfName = "Yo"
)

// EmailLocalPart returns the part of email before "@".
func EmailLocalPart(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return strings.TrimSpace(local)
}

// DisplayNameFromMetadata resolves a display name from provider metadata:
// full_name, then name, then the email local part, then fallback.
func DisplayNameFromMetadata(metadata map[string]any, email, fallback string) string {
	for _, key := range []string{"full_name", "name"} {
		if value, ok := metadata[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	if local := EmailLocalPart(email); local != "" {
		return local
	}
	return fallback
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	return ""
}
