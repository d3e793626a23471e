// Package app wires configuration into a ready-to-serve webhook handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"wa-assistant-bridge/handler"
	"wa-assistant-bridge/internal/config"
	"wa-assistant-bridge/internal/integrations/openai"
	"wa-assistant-bridge/internal/integrations/paramstore"
	"wa-assistant-bridge/internal/integrations/whatsapp"
	"wa-assistant-bridge/internal/repository"
	"wa-assistant-bridge/internal/usecase"
)

// App owns the long-lived dependencies behind the webhook handler.
type App struct {
	Handler  *handler.Handler
	sessions repository.SessionStore
}

// New resolves secrets, validates cfg and builds every client. AWS
// configuration is loaded only when Parameter Store or DynamoDB is in use.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var awsCfg aws.Config
	if cfg.ParamPrefix != "" || cfg.Sessions.Backend == config.BackendDynamoDB {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	if cfg.ParamPrefix != "" {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		if err := cfg.ResolveSecrets(ctx, params); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessions, err := openSessions(cfg.Sessions, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	h, err := build(cfg, sessions, logger)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}
	return &App{Handler: h, sessions: sessions}, nil
}

func openSessions(cfg config.SessionsConfig, awsCfg aws.Config, logger *slog.Logger) (repository.SessionStore, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("app: create session client: %w", err)
		}
		return store, nil
	case config.BackendSQLite:
		store, err := repository.OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("app: open session database: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown session backend %q", cfg.Backend)
	}
}

func build(cfg *config.Config, sessions repository.SessionStore, logger *slog.Logger) (*handler.Handler, error) {
	var aiOpts []openai.Option
	if cfg.OpenAI.BaseURL != "" {
		aiOpts = append(aiOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	assistant, err := openai.NewClient(cfg.OpenAI.APIKey, aiOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}

	waOpts := []whatsapp.Option{
		whatsapp.WithAPIVersion(cfg.WhatsApp.APIVersion),
		whatsapp.WithLogger(logger),
	}
	if cfg.WhatsApp.BaseURL != "" {
		waOpts = append(waOpts, whatsapp.WithBaseURL(cfg.WhatsApp.BaseURL))
	}
	sender, err := whatsapp.NewSender(cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.AccessToken, waOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create WhatsApp sender: %w", err)
	}

	responder, err := usecase.NewAssistantService(assistant, sessions, cfg.OpenAI.AssistantID, usecase.PollConfig{
		Interval:    cfg.OpenAI.PollInterval,
		MaxAttempts: cfg.OpenAI.MaxPollAttempts,
	}, logger)
	if err != nil {
		return nil, err
	}
	replier, err := usecase.NewReplyService(responder, sender)
	if err != nil {
		return nil, err
	}

	return handler.NewHandler(replier, cfg.WhatsApp.VerifyToken,
		handler.WithAppSecret(cfg.WhatsApp.AppSecret),
		handler.WithLogger(logger),
	)
}

// Close releases the session store.
func (a *App) Close() error {
	if a == nil || a.sessions == nil {
		return nil
	}
	return a.sessions.Close()
}
