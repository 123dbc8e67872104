package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/config"
	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// Service wraps the completion model behind the conversation flow's
// Completer contract. Cancellation rides on the context: the voice
// machine cancels the ctx on barge-in and drops the stale result by
// generation counter.
type Service struct {
	cfg    config.AIConfig
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewService compiles the prompt-template chain once at startup.
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		cfg:    cfg,
		chain:  runnable,
		logger: logger,
	}, nil
}

// StreamingEnabled reports whether SSE streaming replies are configured.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.Stream
}

// Complete produces the assistant reply for the latest user message,
// given the transcript so far and the current draft/decision snapshot.
// The returned text may carry the JSON field-hint sidecar; callers split
// it with extract.ParseHint.
func (s *Service) Complete(ctx context.Context, history []chat.Turn, userMessage string, fields loan.FieldSet, decision loan.Decision) (string, error) {
	input := s.buildChainInput(history, userMessage, fields, decision)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run completion chain: %w", err)
	}

	s.logger.Debug("generated reply",
		zap.Int("historyTurns", len(history)),
		zap.Int("replyLength", len(response.Content)),
		zap.String("decision", string(decision.Status)))
	return response.Content, nil
}

// Stream streams the reply chunk by chunk for the SSE path.
func (s *Service) Stream(ctx context.Context, history []chat.Turn, userMessage string, fields loan.FieldSet, decision loan.Decision) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input := s.buildChainInput(history, userMessage, fields, decision)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream completion output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(history []chat.Turn, userMessage string, fields loan.FieldSet, decision loan.Decision) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(fields, decision),
		"history": buildHistoryMessages(history),
		"query":   userMessage,
	}
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	const historyLimit = 10

	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > historyLimit {
		startIdx = len(turns) - historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
