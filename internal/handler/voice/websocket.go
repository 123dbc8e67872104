package voice

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/config"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	voiceservice "github.com/lumenfi/loanvoice/backend/internal/service/voice"
)

// Handler bridges a websocket connection to the turn-taking machine.
// The client owns microphone capture, VAD and playback; it sends the
// resulting events here and receives state changes, transcripts and
// reply text (which it synthesizes and plays, reporting back with
// playback-complete).
type Handler struct {
	convo       *conversation.Service
	completer   conversation.Completer
	transcriber voiceservice.Transcriber
	cfg         config.VoiceConfig
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// New creates the voice handler. transcriber may be nil when clients
// transcribe locally and send final-transcript events instead of audio.
func New(convo *conversation.Service, completer conversation.Completer, transcriber voiceservice.Transcriber, cfg config.VoiceConfig, logger *zap.Logger) *Handler {
	return &Handler{
		convo:       convo,
		completer:   completer,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/voice/{userID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string `json:"type"`
	AudioData []byte `json:"audioData,omitempty"`
	Text      string `json:"text,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsWriter serializes writes; hooks fire from the machine goroutine
// while pings come from another.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(msgType string, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (w *wsWriter) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}

	session := h.convo.StartOrResume(r.Context(), userID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("voice connection opened",
		zap.String("userId", userID),
		zap.String("conversationId", session.ConversationID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writer := &wsWriter{conn: conn}
	machine := voiceservice.NewMachine(
		h.convo, session, h.completer, h.transcriber, nil,
		h.cfg, h.hooks(writer), h.logger,
	)
	go machine.Run(ctx)
	go h.pingLoop(ctx, writer)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	writer.send("connected", map[string]any{
		"conversationId": session.ConversationID,
		"state":          machine.State(),
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error", zap.Error(err))
				}
				machine.Dispatch(voiceservice.Event{Type: voiceservice.EventStop})
				return
			}

			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.dispatch(machine, writer, msg)
		}
	}
}

func (h *Handler) dispatch(machine *voiceservice.Machine, writer *wsWriter, msg inboundMessage) {
	switch msg.Type {
	case "start":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventStart})
	case "stop":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventStop})
	case "resume":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventResume})
	case "speech-start":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventSpeechStart})
	case "speech-end":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventSpeechEnd, Audio: msg.AudioData})
	case "partial-transcript":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventPartialTranscript, Text: msg.Text})
	case "final-transcript":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventFinalTranscript, Text: msg.Text})
	case "playback-started":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventPlaybackStarted})
	case "playback-complete":
		machine.Dispatch(voiceservice.Event{Type: voiceservice.EventPlaybackComplete})
	default:
		writer.send("error", map[string]string{"message": "unsupported message type: " + msg.Type})
	}
}

func (h *Handler) hooks(writer *wsWriter) voiceservice.Hooks {
	return voiceservice.Hooks{
		OnStateChange: func(from, to voiceservice.State) {
			writer.send("state", map[string]string{"from": string(from), "to": string(to)})
		},
		OnPartialTranscript: func(text string) {
			writer.send("partial", map[string]string{"text": text})
		},
		OnUserTranscript: func(text string) {
			writer.send("transcript", map[string]string{"text": text})
		},
		OnAssistantReply: func(text string, fields loan.FieldSet, decision loan.Decision) {
			writer.send("reply", map[string]any{
				"text":     text,
				"fields":   fields.Snapshot(),
				"decision": decision,
			})
		},
		OnSpeakRequest: func(text string) {
			writer.send("speak", map[string]string{"text": text})
		},
		OnError: func(stage string, err error) {
			writer.send("error", map[string]string{"stage": stage, "message": err.Error()})
		},
	}
}

// pingLoop keeps the connection alive across quiet stretches.
func (h *Handler) pingLoop(ctx context.Context, writer *wsWriter) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				return
			}
		}
	}
}
