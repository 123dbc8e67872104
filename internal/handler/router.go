package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/config"
	chatHandler "github.com/lumenfi/loanvoice/backend/internal/handler/chat"
	loanHandler "github.com/lumenfi/loanvoice/backend/internal/handler/loan"
	"github.com/lumenfi/loanvoice/backend/internal/handler/stream"
	voiceHandler "github.com/lumenfi/loanvoice/backend/internal/handler/voice"
	middlewarePkg "github.com/lumenfi/loanvoice/backend/internal/middleware"
	aiService "github.com/lumenfi/loanvoice/backend/internal/service/ai"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	voiceService "github.com/lumenfi/loanvoice/backend/internal/service/voice"
	"github.com/lumenfi/loanvoice/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(convo *conversation.Service, aiSvc *aiService.Service, transcriber voiceService.Transcriber, voiceCfg config.VoiceConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	// A nil *ai.Service must stay a nil interface so the degraded paths
	// trigger.
	var completer conversation.Completer
	if aiSvc != nil {
		completer = aiSvc
	}

	conversations := chatHandler.New(convo)
	loans := loanHandler.New(convo)
	voice := voiceHandler.New(convo, completer, transcriber, voiceCfg, logger)

	var streamHandler *stream.Handler
	if aiSvc != nil && aiSvc.StreamingEnabled() {
		streamHandler = stream.New(aiSvc, convo, logger)
	}

	r.Route("/api", func(api chi.Router) {
		conversations.RegisterRoutes(api)
		loans.RegisterRoutes(api)
		voice.RegisterRoutes(api)

		api.Get("/stream/{userID}", func(w http.ResponseWriter, r *http.Request) {
			userID := chi.URLParam(r, "userID")
			userMessage := r.URL.Query().Get("message")

			if streamHandler == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
				return
			}
			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamHandler.HandleStreamRequest(r.Context(), w, userID, userMessage); err != nil {
				logger.Error("stream request failed",
					zap.String("userId", userID), zap.Error(err))
			}
		})
	})

	return r
}
