package security

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"nifty-strangler/internal/config"
)

func TestProperty_MaskCredential(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	// Property: masking preserves length and hides the middle of long values.
	properties.Property("length preserved, middle hidden", prop.ForAll(
		func(value string) bool {
			masked := MaskCredential(value)
			if len(masked) != len(value) {
				return false
			}
			if len(value) > 8 {
				middle := masked[4 : len(masked)-4]
				return strings.Trim(middle, "*") == ""
			}
			return len(value) == 0 || masked != value
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"access token", "access_token=abcd1234efgh5678", "1234efgh"},
		{"api key with colon", "api_key: kitekey99887766", "key99887"},
		{"request token in url", "https://x/?request_token=Zz9Yy8Xx7Ww6&status=success", "9Yy8Xx7"},
		{"telegram bot token", "bot 123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawQ failed", "dqTcvCH1vGWJxfSeofSAs0K5PALD"},
		{"kite auth header", "Authorization: token myapikey:0123456789abcdef0123", "0123456789abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, ContainsSensitiveData(tt.input))
			out := MaskSensitive(tt.input)
			assert.NotContains(t, out, tt.secret)
		})
	}

	plain := "put leg rejected: insufficient margin"
	assert.False(t, ContainsSensitiveData(plain))
	assert.Equal(t, plain, MaskSensitive(plain))
}

func TestRedacted_DoesNotTouchOriginal(t *testing.T) {
	cfg := &config.Config{Credentials: config.Credentials{
		APIKey:      "apikey123456",
		AccessToken: "tokentokentoken",
	}}
	cfg.Notify.WebhookURL = "https://hooks.example/x?access_token=supersecretvalue"

	out := Redacted(cfg)
	assert.Equal(t, "apik****3456", out.Credentials.APIKey)
	assert.NotContains(t, out.Notify.WebhookURL, "supersecret")
	assert.Equal(t, "apikey123456", cfg.Credentials.APIKey)
	assert.Empty(t, out.Credentials.APISecret)
}
