package profiles

import (
	"net/url"
	"strings"
)

// avatarMetadataKeys are the provider metadata keys holding an avatar, in
// order of preference.
var avatarMetadataKeys = []string{"avatar_url", "picture", "avatar", "imagen"}

// NormalizeAvatar returns a usable avatar URL or nil. Absolute http(s) URLs
// and base64 image data URIs pass through, protocol-relative URLs are
// upgraded to https and anything else is rejected.
func NormalizeAvatar(raw string) *string {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "", "null", "undefined":
		return nil
	}

	if strings.HasPrefix(value, "//") {
		value = "https:" + value
	}

	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "data:image/") {
		if strings.Contains(lower, ";base64,") {
			return &value
		}
		return nil
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	return &value
}

// NormalizeAvatarPtr is NormalizeAvatar for optional values.
func NormalizeAvatarPtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	return NormalizeAvatar(*raw)
}

// AvatarFromMetadata picks the first usable avatar from provider metadata.
func AvatarFromMetadata(metadata map[string]any) *string {
	for _, key := range avatarMetadataKeys {
		if value, ok := metadata[key].(string); ok {
			if avatar := NormalizeAvatar(value); avatar != nil {
				return avatar
			}
		}
	}
	return nil
}
