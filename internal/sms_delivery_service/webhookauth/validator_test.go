package webhookauth

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "12345"
	testURL   = "https://mycompany.com/myapp.php?foo=1&bar=2"
)

var testParams = map[string]string{
	"CallSid": "CA1234567890ABCDE",
	"Caller":  "+12349013030",
	"Digits":  "1234",
	"From":    "+12349013030",
	"To":      "+18005551212",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestValidator(t *testing.T, cfg Config) *Validator {
	t.Helper()
	if cfg.AuthToken == "" {
		cfg.AuthToken = testToken
	}
	v, err := NewValidator(cfg, discardLogger())
	require.NoError(t, err)
	return v
}

func TestComputeSignature_KnownVector(t *testing.T) {
	// Reference vector from the provider's request-validation documentation.
	assert.Equal(t, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=", ComputeSignature(testToken, testURL, testParams))
}

func TestCanonicalString_SortsKeysByByteOrder(t *testing.T) {
	got := canonicalString("https://x/webhook", map[string]string{"b": "2", "B": "1", "a": "3"})
	assert.Equal(t, "https://x/webhookB1a3b2", got)
}

func TestNewValidator_RequiresAuthToken(t *testing.T) {
	_, err := NewValidator(Config{AuthToken: "   ", ValidationEnabled: true}, discardLogger())
	assert.ErrorIs(t, err, ErrMissingAuthToken)
}

func TestValidateSignature_AcceptsMatchingSignature(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true})
	sig := ComputeSignature(testToken, testURL, testParams)

	assert.True(t, v.ValidateSignature(context.Background(), testURL, testParams, sig, ""))
}

func TestValidateSignature_RejectsEverySingleCharacterMutation(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true})
	sig := ComputeSignature(testToken, testURL, testParams)
	alphabet := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

	for i := 0; i < len(sig); i++ {
		for _, c := range []byte(alphabet) {
			if sig[i] == c {
				continue
			}
			mutated := []byte(sig)
			mutated[i] = c
			require.False(t, v.ValidateSignature(context.Background(), testURL, testParams, string(mutated), ""),
				"mutation at %d to %q accepted", i, c)
		}
	}
}

func TestValidateSignature_RejectsEmptyAndMalformed(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true})

	for _, sig := range []string{"", "   ", "not base64 at all!", "AAAA"} {
		assert.False(t, v.ValidateSignature(context.Background(), testURL, testParams, sig, ""), "signature %q", sig)
	}
}

func TestValidateSignature_WrongSecret(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true})
	sig := ComputeSignature("other-token", testURL, testParams)

	assert.False(t, v.ValidateSignature(context.Background(), testURL, testParams, sig, ""))
}

func TestValidateSignature_URLBinding(t *testing.T) {
	v := newTestValidator(t, Config{AuthToken: "k", ValidationEnabled: true})
	params := map[string]string{"MessageSid": "SM1", "MessageStatus": "delivered"}
	sig := ComputeSignature("k", "https://x/webhook", params)

	assert.True(t, v.ValidateSignature(context.Background(), "https://x/webhook", params, sig, ""))
	for _, other := range []string{"https://y/webhook", "http://x/webhook", "https://x/webhook/", "https://x/hook"} {
		assert.False(t, v.ValidateSignature(context.Background(), other, params, sig, ""), "url %s", other)
	}
}

func TestValidateSignature_ParameterTampering(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true})
	sig := ComputeSignature(testToken, testURL, testParams)

	tampered := map[string]string{}
	for k, val := range testParams {
		tampered[k] = val
	}
	tampered["Digits"] = "9999"

	assert.False(t, v.ValidateSignature(context.Background(), testURL, tampered, sig, ""))
}

func TestValidateSignature_IPAllowList(t *testing.T) {
	cidrs := []string{"54.172.60.0/23", "2001:db8::/32"}
	v := newTestValidator(t, Config{ValidationEnabled: true, AllowedCIDRs: cidrs})
	sig := ComputeSignature(testToken, testURL, testParams)

	testCases := []struct {
		name     string
		sourceIP string
		want     bool
	}{
		{"inside first range", "54.172.60.17", true},
		{"inside first range upper half", "54.172.61.254", true},
		{"inside ipv6 range", "2001:db8::1", true},
		{"ipv4-mapped ipv6 inside range", "::ffff:54.172.60.1", true},
		{"outside ranges", "54.172.62.1", false},
		{"private address", "10.0.0.1", false},
		{"unparsable", "not-an-ip", false},
		{"address with port", "54.172.60.17:443", false},
		{"absent ip skips check", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, v.ValidateSignature(context.Background(), testURL, testParams, sig, tc.sourceIP))
		})
	}
}

func TestValidateSignature_IPAllowedButSignatureBad(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true, AllowedCIDRs: []string{"10.0.0.0/8"}})

	assert.False(t, v.ValidateSignature(context.Background(), testURL, testParams, "bogus", "10.1.2.3"))
}

func TestValidateSignature_NoRangesAcceptsAnyIP(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true})
	sig := ComputeSignature(testToken, testURL, testParams)

	for _, ip := range []string{"", "8.8.8.8", "::1", "garbage"} {
		assert.True(t, v.ValidateSignature(context.Background(), testURL, testParams, sig, ip), "ip %q", ip)
	}
}

func TestValidateSignature_MalformedCIDRFailsClosed(t *testing.T) {
	v := newTestValidator(t, Config{ValidationEnabled: true, AllowedCIDRs: []string{"10.0.0.0/33", "nonsense"}})
	sig := ComputeSignature(testToken, testURL, testParams)

	assert.False(t, v.ValidateSignature(context.Background(), testURL, testParams, sig, "10.0.0.1"))
}

func TestValidateSignature_DisabledAcceptsEverythingAndWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	v, err := NewValidator(Config{AuthToken: testToken, ValidationEnabled: false, AllowedCIDRs: []string{"10.0.0.0/8"}}, logger)
	require.NoError(t, err)
	buf.Reset()

	assert.True(t, v.ValidateSignature(context.Background(), testURL, testParams, "definitely-wrong", "192.168.1.1"))
	assert.True(t, v.ValidateSignature(context.Background(), "https://elsewhere/", nil, "", "not-an-ip"))

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("level=WARN")))
}

func TestValidateSignature_NeverLogsSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	secret := "super-secret-token-value"
	v, err := NewValidator(Config{AuthToken: secret, ValidationEnabled: true, AllowedCIDRs: []string{"bad-cidr", "10.0.0.0/8"}}, logger)
	require.NoError(t, err)

	v.ValidateSignature(context.Background(), testURL, testParams, "wrong", "")
	v.ValidateSignature(context.Background(), testURL, testParams, "wrong", "192.168.0.1")
	v.ValidateSignature(context.Background(), testURL, testParams, "wrong", "???")

	assert.NotEmpty(t, buf.String())
	assert.NotContains(t, buf.String(), secret)
}
