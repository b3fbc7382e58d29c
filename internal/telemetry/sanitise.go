package telemetry

import (
	"net/url"
	"strings"
)

const secretPrefixLength = 4

// URL query parameters that carry credentials, including SigV4 presign parameters
var sensitiveQueryParams = map[string]bool{
	"api_key":              true,
	"apikey":               true,
	"token":                true,
	"access_token":         true,
	"secret":               true,
	"key":                  true,
	"password":             true,
	"auth":                 true,
	"x-amz-signature":      true,
	"x-amz-credential":     true,
	"x-amz-security-token": true,
}

// SanitiseURL removes credentials and signature query parameters from URLs so
// presigned upload destinations can be logged
func SanitiseURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" {
		return "[INVALID_URL]"
	}

	parsedURL.User = nil

	if parsedURL.RawQuery != "" {
		query := parsedURL.Query()
		for key := range query {
			keyLower := strings.ToLower(key)
			if sensitiveQueryParams[keyLower] || strings.Contains(keyLower, "token") || strings.Contains(keyLower, "signature") {
				query.Set(key, "[REDACTED]")
			}
		}
		parsedURL.RawQuery = query.Encode()
	}

	return parsedURL.String()
}

// RedactSecret shows only a short prefix of a credential
func RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= secretPrefixLength*2 {
		return "[REDACTED]"
	}
	return secret[:secretPrefixLength] + "...[REDACTED]"
}

// TruncateString truncates a string to a maximum length with ellipsis
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
