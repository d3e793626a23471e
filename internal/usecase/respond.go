package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wa-assistant-bridge/internal/domain"
	"wa-assistant-bridge/internal/integrations/openai"
)

const (
	defaultPollInterval    = 500 * time.Millisecond
	defaultMaxPollAttempts = 120
)

// SessionStore is the user → conversation mapping.
type SessionStore interface {
	GetConversationID(ctx context.Context, userID string) (string, bool, error)
	PutConversationID(ctx context.Context, userID, conversationID string) error
}

// AssistantAPI is the subset of the Assistants API used to produce a reply.
type AssistantAPI interface {
	CreateThread(ctx context.Context) (openai.Thread, error)
	RetrieveThread(ctx context.Context, threadID string) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	LatestMessageText(ctx context.Context, threadID string) (string, error)
}

// PollConfig bounds how long Respond waits for a run to finish.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// AssistantService turns a user's message into the assistant's reply, keeping
// one thread per user.
type AssistantService struct {
	api         AssistantAPI
	sessions    SessionStore
	assistantID string
	poll        PollConfig
	logger      *slog.Logger
}

func NewAssistantService(api AssistantAPI, sessions SessionStore, assistantID string, poll PollConfig, logger *slog.Logger) (*AssistantService, error) {
	if api == nil {
		return nil, errors.New("usecase: assistant api must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return nil, errors.New("usecase: assistant id must not be empty")
	}
	if poll.Interval <= 0 {
		poll.Interval = defaultPollInterval
	}
	if poll.MaxAttempts <= 0 {
		poll.MaxAttempts = defaultMaxPollAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AssistantService{
		api:         api,
		sessions:    sessions,
		assistantID: assistantID,
		poll:        poll,
		logger:      logger,
	}, nil
}

// Respond appends in.Text to the user's thread, runs the assistant and
// returns the newest message text. A stored thread is reused without checking
// that the provider still has it; a stale id fails at the provider.
func (s *AssistantService) Respond(ctx context.Context, in domain.InboundMessage) (string, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return "", newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", newError(ErrorInvalidInput, "empty_message", nil)
	}

	threadID, err := s.threadFor(ctx, in)
	if err != nil {
		return "", err
	}

	if err := s.api.CreateMessage(ctx, threadID, in.Text); err != nil {
		return "", newError(ErrorAssistant, "message_create_error", err)
	}

	run, err := s.api.CreateRun(ctx, threadID, s.assistantID)
	if err != nil {
		return "", newError(ErrorAssistant, "run_create_error", err)
	}
	if err := s.waitForRun(ctx, threadID, run); err != nil {
		return "", err
	}

	reply, err := s.api.LatestMessageText(ctx, threadID)
	if err != nil {
		return "", newError(ErrorAssistant, "message_list_error", err)
	}
	s.logger.InfoContext(ctx, "generated message", "wa_id", in.UserID, "thread_id", threadID, "content", reply)
	return reply, nil
}

func (s *AssistantService) threadFor(ctx context.Context, in domain.InboundMessage) (string, error) {
	threadID, found, err := s.sessions.GetConversationID(ctx, in.UserID)
	if err != nil {
		return "", newError(ErrorSession, "session_lookup_error", err)
	}

	if !found {
		s.logger.InfoContext(ctx, "creating new thread", "name", in.DisplayName, "wa_id", in.UserID)
		thread, err := s.api.CreateThread(ctx)
		if err != nil {
			return "", newError(ErrorAssistant, "thread_create_error", err)
		}
		if err := s.sessions.PutConversationID(ctx, in.UserID, thread.ID); err != nil {
			return "", newError(ErrorSession, "session_store_error", err)
		}
		return thread.ID, nil
	}

	s.logger.InfoContext(ctx, "retrieving existing thread", "name", in.DisplayName, "wa_id", in.UserID, "thread_id", threadID)
	if _, err := s.api.RetrieveThread(ctx, threadID); err != nil {
		return "", newError(ErrorAssistant, "thread_retrieve_error", err)
	}
	return threadID, nil
}

// waitForRun polls until the run completes, fails, the attempt budget is
// spent, or ctx is done.
func (s *AssistantService) waitForRun(ctx context.Context, threadID string, run openai.Run) error {
	timer := time.NewTimer(s.poll.Interval)
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		switch run.Status {
		case openai.RunCompleted:
			return nil
		case openai.RunFailed, openai.RunCancelled, openai.RunExpired,
			openai.RunIncomplete, openai.RunRequiresAction:
			var cause error
			if run.LastError != nil {
				cause = fmt.Errorf("%s: %s", run.LastError.Code, run.LastError.Message)
			}
			return newError(ErrorAssistant, "run_"+run.Status, cause)
		}

		if attempt >= s.poll.MaxAttempts {
			return newError(ErrorTimeout, "run_timed_out",
				fmt.Errorf("run %s still %q after %d polls", run.ID, run.Status, attempt))
		}

		select {
		case <-ctx.Done():
			return newError(ErrorTimeout, "run_wait_cancelled", ctx.Err())
		case <-timer.C:
			timer.Reset(s.poll.Interval)
		}

		next, err := s.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return newError(ErrorAssistant, "run_retrieve_error", err)
		}
		run = next
	}
}
