// Package security scrubs credentials from text that leaves the process:
// configuration dumps, alerts and error messages.
package security

import (
	"regexp"
	"strings"

	"nifty-strangler/internal/config"
)

// sensitivePatterns match key=value secrets and bare Telegram bot tokens.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|secret[_-]?key|access[_-]?token|request[_-]?token|auth[_-]?token|bearer|password)([=:\s]+)["']?([^\s"'&]+)["']?`),
	regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`),
	regexp.MustCompile(`(?i)token\s+[A-Za-z0-9]{8,}:[A-Za-z0-9]{16,}`), // Kite Authorization header
}

// MaskCredential keeps the first and last four characters of long values.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks every secret-looking substring of input.
func MaskSensitive(input string) string {
	result := sensitivePatterns[0].ReplaceAllStringFunc(input, func(match string) string {
		m := sensitivePatterns[0].FindStringSubmatch(match)
		return m[1] + m[2] + MaskCredential(m[3])
	})
	for _, pattern := range sensitivePatterns[1:] {
		result = pattern.ReplaceAllStringFunc(result, MaskCredential)
	}
	return result
}

// ContainsSensitiveData reports whether input has anything MaskSensitive would change.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// MaskedCredentials returns a copy safe to print.
func MaskedCredentials(c config.Credentials) config.Credentials {
	return config.Credentials{
		APIKey:        MaskCredential(c.APIKey),
		APISecret:     MaskCredential(c.APISecret),
		AccessToken:   MaskCredential(c.AccessToken),
		TelegramToken: MaskCredential(c.TelegramToken),
	}
}

// Redacted returns a copy of cfg with credentials masked.
func Redacted(cfg *config.Config) *config.Config {
	out := *cfg
	out.Credentials = MaskedCredentials(cfg.Credentials)
	out.Notify.WebhookURL = MaskSensitive(cfg.Notify.WebhookURL)
	return &out
}
