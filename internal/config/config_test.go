package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "TELEGRAM_BOT_TOKEN", "OPENAI_MODEL",
	"GREETING", "MAX_TOKENS", "REQUEST_TIMEOUT_SECONDS", "DISPATCH_DELAY_MS",
	"BUSY_POLICY", "SESSION_TTL_MINUTES", "ADMIN_USER_IDS", "ALLOWED_TELEGRAM_USER_IDS",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), "", nil)
	require.NoError(t, err)

	want := Defaults()
	want.OpenAIKey = "sk-test"
	assert.Equal(t, want, cfg)
}

func TestLoad_MissingKey(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"), "", nil)
	assert.ErrorIs(t, err, ErrMissingOpenAIKey)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "chat.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
model: gpt-4o-mini
greeting: Witaj!
max_tokens: 256
request_timeout: 15s
dispatch_delay: 500ms
busy_policy: queue
allowed_user_ids: [1, 2]
`), 0o600))

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MAX_TOKENS", "512")
	t.Setenv("ADMIN_USER_IDS", "7, x, 9")

	cfg, err := Load(filepath.Join(dir, "missing.env"), file, nil)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "Witaj!", cfg.Greeting)
	assert.Equal(t, 512, cfg.MaxReplyTokens)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.DispatchDelay)
	assert.Equal(t, BusyPolicyQueue, cfg.BusyPolicy)
	assert.Equal(t, []int64{1, 2}, cfg.AllowedUserIDs)
	assert.Equal(t, []int64{7, 9}, cfg.AdminUserIDs)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dotEnv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotEnv, []byte(`
# comment
export OPENAI_API_KEY="from-file"
OPENAI_MODEL='gpt-from-file'
not a pair
`), 0o600))
	t.Setenv("OPENAI_MODEL", "gpt-from-env")

	cfg, err := Load(dotEnv, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.OpenAIKey)
	assert.Equal(t, "gpt-from-env", cfg.Model)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MAX_TOKENS", "lots")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "-3")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), "", nil)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.MaxReplyTokens)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
}

func TestValidate_BusyPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.OpenAIKey = "sk-test"
	cfg.BusyPolicy = "retry"
	assert.Error(t, cfg.Validate())
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line   string
		key    string
		val    string
		wantOK bool
	}{
		{"A=1", "A", "1", true},
		{"export B = \"two\"", "B", "two", true},
		{"C=a=b", "C", "a=b", true},
		{"=x", "", "", false},
		{"novalue", "", "", false},
	}
	for _, tt := range tests {
		key, val, ok := parseEnvLine(tt.line)
		assert.Equal(t, tt.wantOK, ok, tt.line)
		assert.Equal(t, tt.key, key, tt.line)
		assert.Equal(t, tt.val, val, tt.line)
	}
}
