package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/analysis/extract"
	chatmodel "github.com/lumenfi/loanvoice/backend/internal/model/chat"
	aiservice "github.com/lumenfi/loanvoice/backend/internal/service/ai"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	"github.com/lumenfi/loanvoice/backend/pkg/utils"
)

// Handler streams assistant replies over Server-Sent Events.
type Handler struct {
	ai     *aiservice.Service
	convo  *conversation.Service
	logger *zap.Logger
}

// New creates the stream handler.
func New(ai *aiservice.Service, convo *conversation.Service, logger *zap.Logger) *Handler {
	return &Handler{ai: ai, convo: convo, logger: logger}
}

// Response is one SSE chunk.
type Response struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
	Fields   any    `json:"fields,omitempty"`
	Decision any    `json:"decision,omitempty"`
}

// HandleStreamRequest processes one user message and streams the reply.
// Deltas are forwarded as they arrive; the final event carries the
// reply with the field-hint sidecar stripped, plus the updated draft.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, userID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	session := h.convo.StartOrResume(ctx, userID)
	history, begun := h.convo.BeginUserTurn(session, userMessage, chatmodel.KindText)

	utils.SendSSEChunk(w, flusher, Response{Event: "start"})

	stream, err := h.ai.Stream(ctx, history, userMessage, begun.Fields, begun.Decision)
	if err != nil {
		h.sendError(w, flusher, fmt.Sprintf("completion failed: %v", err))
		h.convo.FinishAssistantTurn(session, userMessage,
			"I'm having trouble answering right now, please try again.", "", chatmodel.KindText)
		return err
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			h.sendError(w, flusher, fmt.Sprintf("stream recv failed: %v", recvErr))
			return recvErr
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			utils.SendSSEChunk(w, flusher, Response{Event: "delta", Content: chunk.Content})
		}
	}

	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		h.sendError(w, flusher, fmt.Sprintf("concat chunks failed: %v", err))
		return err
	}

	clean, hint := extract.ParseHint(merged.Content)
	result := h.convo.FinishAssistantTurn(session, userMessage, clean, hint, chatmodel.KindText)

	utils.SendSSEChunk(w, flusher, Response{
		Event:    "done",
		Content:  clean,
		Finished: true,
		Fields:   result.Fields.Snapshot(),
		Decision: result.Decision,
	})
	return nil
}

func (h *Handler) sendError(w http.ResponseWriter, flusher http.Flusher, message string) {
	h.logger.Error("sse stream error", zap.String("error", message))
	utils.SendSSEChunk(w, flusher, Response{Event: "error", Error: message, Finished: true})
}
