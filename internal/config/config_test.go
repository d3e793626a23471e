package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndParsesDurations(t *testing.T) {
	t.Setenv("TEST_WA_TOKEN", "EAAG-from-env")
	path := writeConfig(t, `
whatsapp:
  access_token: ${TEST_WA_TOKEN}
  phone_number_id: "1234567890"
  verify_token: hunter2
openai:
  api_key: sk-test
  assistant_id: asst_1
  poll_interval: 250ms
  max_poll_attempts: 10
sessions:
  backend: sqlite
  path: /tmp/threads.db
server:
  addr: ":9000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "EAAG-from-env", cfg.WhatsApp.AccessToken)
	require.Equal(t, "1234567890", cfg.WhatsApp.PhoneNumberID)
	require.Equal(t, 250*time.Millisecond, cfg.OpenAI.PollInterval)
	require.Equal(t, 10, cfg.OpenAI.MaxPollAttempts)
	require.Equal(t, "v18.0", cfg.WhatsApp.APIVersion)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "openai:\n  poll_interval: soon\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "poll_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "whatsapp: [unterminated"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parsing config file")
}

func TestFromEnv_DefaultsAndBackendSelection(t *testing.T) {
	t.Setenv("SESSION_TABLE", "wa-sessions")
	t.Setenv("OPENAI_MAX_POLL_ATTEMPTS", "")
	t.Setenv("SESSION_BACKEND", "")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.Sessions.Backend)
	require.Equal(t, 500*time.Millisecond, cfg.OpenAI.PollInterval)
	require.Equal(t, 120, cfg.OpenAI.MaxPollAttempts)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestFromEnv_SQLiteDefaultPath(t *testing.T) {
	t.Setenv("SESSION_TABLE", "")
	t.Setenv("SESSION_BACKEND", "SQLite")
	t.Setenv("SESSION_DB_PATH", "")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.Sessions.Backend)
	require.Equal(t, "threads.db", cfg.Sessions.Path)
}

func TestFromEnv_BadInteger(t *testing.T) {
	t.Setenv("OPENAI_MAX_POLL_ATTEMPTS", "lots")
	_, err := FromEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OPENAI_MAX_POLL_ATTEMPTS")
}

func validConfig() *Config {
	cfg := &Config{
		WhatsApp: WhatsAppConfig{AccessToken: "EAAG", PhoneNumberID: "42", VerifyToken: "v"},
		OpenAI:   OpenAIConfig{APIKey: "sk", AssistantID: "asst_1"},
		Sessions: SessionsConfig{Backend: BackendDynamoDB, Table: "t"},
	}
	_ = cfg.finish()
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.OpenAI.AssistantID = ""
	cfg.WhatsApp.AccessToken = ""
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "openai.assistant_id")
	require.Contains(t, err.Error(), "whatsapp.access_token")

	cfg = validConfig()
	cfg.Sessions.Table = ""
	require.ErrorContains(t, cfg.Validate(), "sessions.table")

	cfg = validConfig()
	cfg.Sessions.Backend = "redis"
	require.ErrorContains(t, cfg.Validate(), "unknown session backend")
}

type fakeGetter struct {
	vals  map[string]string
	err   error
	names []string
}

func (f *fakeGetter) GetParameters(_ context.Context, names []string) (map[string]string, error) {
	f.names = names
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, n := range names {
		if v, ok := f.vals[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func TestResolveSecrets_FillsOnlyEmptyValues(t *testing.T) {
	cfg := &Config{
		ParamPrefix: "/bridge",
		WhatsApp:    WhatsAppConfig{VerifyToken: "from-env"},
	}
	g := &fakeGetter{vals: map[string]string{
		"/bridge/whatsapp-access-token": "EAAG-ssm",
		"/bridge/openai-api-key":        `{"token":"sk-ssm"}`,
		"/bridge/whatsapp-verify-token": "ignored",
	}}

	require.NoError(t, cfg.ResolveSecrets(context.Background(), g))
	require.Equal(t, "EAAG-ssm", cfg.WhatsApp.AccessToken)
	require.Equal(t, "sk-ssm", cfg.OpenAI.APIKey)
	require.Equal(t, "from-env", cfg.WhatsApp.VerifyToken)
	require.Empty(t, cfg.WhatsApp.AppSecret)
	require.NotContains(t, g.names, "/bridge/whatsapp-verify-token")
}

func TestResolveSecrets_NoPrefixIsNoop(t *testing.T) {
	g := &fakeGetter{}
	require.NoError(t, (&Config{}).ResolveSecrets(context.Background(), g))
	require.Nil(t, g.names)
}

func TestResolveSecrets_Errors(t *testing.T) {
	cfg := &Config{ParamPrefix: "/bridge"}
	err := cfg.ResolveSecrets(context.Background(), &fakeGetter{err: errors.New("AccessDenied")})
	require.ErrorContains(t, err, "AccessDenied")

	cfg = &Config{ParamPrefix: "/bridge"}
	err = cfg.ResolveSecrets(context.Background(), &fakeGetter{vals: map[string]string{
		"/bridge/openai-api-key": `{"other":"value"}`,
	}})
	require.ErrorContains(t, err, "token is empty")
}

func TestSecretValue(t *testing.T) {
	v, err := secretValue("  plain-secret ")
	require.NoError(t, err)
	require.Equal(t, "plain-secret", v)

	_, err = secretValue(`{"broken`)
	require.ErrorContains(t, err, "unmarshal")
}

func TestLoggingConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "text"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "msg=shown k=v")

	buf.Reset()
	logger = LoggingConfig{Level: "bogus"}.NewLogger(&buf)
	logger.Debug("hidden")
	logger.Info("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}
