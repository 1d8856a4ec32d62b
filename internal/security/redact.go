// Package security provides redaction helpers so portal credentials and
// server secrets never reach the logs.
package security

import (
	"net/url"
	"strings"
)

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts embedded userinfo and query parameters that look like secrets.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		// If we can't parse it, redact aggressively
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = redactQueryParams(parsed.Query()).Encode()
	}

	return parsed.String()
}

// sensitiveParamPatterns are query parameter names that likely contain secrets.
// The portal's auto-login URLs carry the session token in the query string.
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"auth",
	"authorization",
	"bearer",
	"credential",
	"key",
	"access_token",
	"refresh_token",
	"session",
	"sessionid",
	"sid",
	"autologin",
	"private",
}

func redactQueryParams(params url.Values) url.Values {
	redacted := make(url.Values)

	for key, values := range params {
		keyLower := strings.ToLower(key)
		shouldRedact := false

		for _, pattern := range sensitiveParamPatterns {
			if strings.Contains(keyLower, pattern) {
				shouldRedact = true
				break
			}
		}

		if shouldRedact {
			redacted[key] = []string{"[REDACTED]"}
		} else {
			redacted[key] = values
		}
	}

	return redacted
}

// RedactCredential masks a credential for logging, keeping just enough of
// the username to identify which account is in use.
func RedactCredential(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 3 {
		return "***"
	}
	return value[:2] + strings.Repeat("*", len(value)-2)
}

// RedactServerURL redacts credentials from a job-server URL. Operators
// sometimes embed basic-auth userinfo in MITCHELL_SERVER_URLS.
func RedactServerURL(serverURL string) string {
	if serverURL == "" {
		return ""
	}

	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "[invalid-server-url]"
	}

	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "[REDACTED]")
		}
	}

	return parsed.String()
}
