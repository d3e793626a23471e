// Package config loads bridge settings from the environment or a YAML file
// and resolves secrets from SSM Parameter Store.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"

	defaultAPIVersion      = "v18.0"
	defaultPollInterval    = 500 * time.Millisecond
	defaultMaxPollAttempts = 120
	defaultSQLitePath      = "threads.db"
	defaultListenAddr      = ":8000"
)

// SSM parameter names, relative to ParamPrefix.
const (
	paramAccessToken = "/whatsapp-access-token"
	paramVerifyToken = "/whatsapp-verify-token"
	paramAppSecret   = "/whatsapp-app-secret"
	paramAPIKey      = "/openai-api-key"
)

type Config struct {
	ParamPrefix string         `yaml:"param_prefix"`
	WhatsApp    WhatsAppConfig `yaml:"whatsapp"`
	OpenAI      OpenAIConfig   `yaml:"openai"`
	Sessions    SessionsConfig `yaml:"sessions"`
	Server      ServerConfig   `yaml:"server"`
	Logging     LoggingConfig  `yaml:"logging"`
}

type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIVersion    string `yaml:"api_version"`
	BaseURL       string `yaml:"base_url"`
	VerifyToken   string `yaml:"verify_token"`
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string `yaml:"app_secret"`
}

type OpenAIConfig struct {
	APIKey          string        `yaml:"api_key"`
	AssistantID     string        `yaml:"assistant_id"`
	BaseURL         string        `yaml:"base_url"`
	PollInterval    time.Duration `yaml:"-"`
	PollIntervalRaw string        `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
}

type SessionsConfig struct {
	Backend string `yaml:"backend"`
	Table   string `yaml:"table"`
	Path    string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ParameterGetter is satisfied by paramstore.Client.
type ParameterGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

// FromEnv builds a Config from environment variables and applies defaults.
// It does not validate; call ResolveSecrets and Validate afterwards.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ParamPrefix: os.Getenv("PARAM_PREFIX"),
		WhatsApp: WhatsAppConfig{
			AccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			APIVersion:    os.Getenv("WHATSAPP_API_VERSION"),
			BaseURL:       os.Getenv("WHATSAPP_BASE_URL"),
			VerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
			AppSecret:     os.Getenv("WHATSAPP_APP_SECRET"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			AssistantID:     os.Getenv("OPENAI_ASSISTANT_ID"),
			BaseURL:         os.Getenv("OPENAI_BASE_URL"),
			PollIntervalRaw: os.Getenv("OPENAI_POLL_INTERVAL"),
		},
		Sessions: SessionsConfig{
			Backend: os.Getenv("SESSION_BACKEND"),
			Table:   os.Getenv("SESSION_TABLE"),
			Path:    os.Getenv("SESSION_DB_PATH"),
		},
		Server:  ServerConfig{Addr: os.Getenv("LISTEN_ADDR")},
		Logging: LoggingConfig{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")},
	}

	attempts, err := envInt("OPENAI_MAX_POLL_ATTEMPTS")
	if err != nil {
		return nil, err
	}
	cfg.OpenAI.MaxPollAttempts = attempts

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a YAML configuration file. ${VAR} references are expanded from
// the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func envInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

// finish parses durations and fills defaults.
func (c *Config) finish() error {
	if raw := strings.TrimSpace(c.OpenAI.PollIntervalRaw); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: invalid openai poll_interval %q: %w", raw, err)
		}
		c.OpenAI.PollInterval = d
	}
	if c.OpenAI.PollInterval <= 0 {
		c.OpenAI.PollInterval = defaultPollInterval
	}
	if c.OpenAI.MaxPollAttempts <= 0 {
		c.OpenAI.MaxPollAttempts = defaultMaxPollAttempts
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = defaultAPIVersion
	}
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.Sessions.Backend = strings.ToLower(strings.TrimSpace(c.Sessions.Backend))
	if c.Sessions.Backend == "" {
		if c.Sessions.Table != "" {
			c.Sessions.Backend = BackendDynamoDB
		} else {
			c.Sessions.Backend = BackendSQLite
		}
	}
	if c.Sessions.Backend == BackendSQLite && c.Sessions.Path == "" {
		c.Sessions.Path = defaultSQLitePath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultListenAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

// ResolveSecrets fills any empty secret from Parameter Store under ParamPrefix.
// Values set directly (env or file) win. Stored values may be plain strings or
// {"token":"..."} JSON documents.
func (c *Config) ResolveSecrets(ctx context.Context, getter ParameterGetter) error {
	if c.ParamPrefix == "" || getter == nil {
		return nil
	}
	targets := map[string]*string{
		c.ParamPrefix + paramAccessToken: &c.WhatsApp.AccessToken,
		c.ParamPrefix + paramVerifyToken: &c.WhatsApp.VerifyToken,
		c.ParamPrefix + paramAppSecret:   &c.WhatsApp.AppSecret,
		c.ParamPrefix + paramAPIKey:      &c.OpenAI.APIKey,
	}
	var names []string
	for name, dst := range targets {
		if *dst == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}

	values, err := getter.GetParameters(ctx, names)
	if err != nil {
		return fmt.Errorf("config: resolve secrets: %w", err)
	}
	for _, name := range names {
		raw, ok := values[name]
		if !ok {
			continue
		}
		v, err := secretValue(raw)
		if err != nil {
			return fmt.Errorf("config: parameter %q: %w", name, err)
		}
		*targets[name] = v
	}
	return nil
}

// tokenPayload is the JSON shape some parameters are stored in.
type tokenPayload struct {
	Token string `json:"token"`
}

func secretValue(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("unmarshal token JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("token is empty")
	}
	return tp.Token, nil
}

// Validate checks that everything the bridge needs at runtime is present.
func (c *Config) Validate() error {
	var missing []string
	if c.WhatsApp.AccessToken == "" {
		missing = append(missing, "whatsapp.access_token")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "whatsapp.phone_number_id")
	}
	if c.WhatsApp.VerifyToken == "" {
		missing = append(missing, "whatsapp.verify_token")
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai.api_key")
	}
	if c.OpenAI.AssistantID == "" {
		missing = append(missing, "openai.assistant_id")
	}
	switch c.Sessions.Backend {
	case BackendDynamoDB:
		if c.Sessions.Table == "" {
			missing = append(missing, "sessions.table")
		}
	case BackendSQLite:
		if c.Sessions.Path == "" {
			missing = append(missing, "sessions.path")
		}
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Sessions.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
