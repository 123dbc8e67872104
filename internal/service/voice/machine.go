package voice

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/analysis/extract"
	"github.com/lumenfi/loanvoice/backend/internal/config"
	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
)

// Machine coordinates one voice conversation: listen, transcribe,
// think, speak, listen again. It is a single-threaded cooperative
// scheduler: Run processes one event to completion (including all
// cancellation checks) before the next, so no internal state needs
// locking. Collaborator calls run in worker goroutines and resolve back
// into the loop as internal events tagged with the generation they were
// launched under; a barge-in bumps the generation, so stale resolutions
// are dropped rather than applied.
type Machine struct {
	convo       *conversation.Service
	session     *conversation.Session
	completer   conversation.Completer
	transcriber Transcriber
	speaker     Speaker
	hooks       Hooks
	logger      *zap.Logger
	cfg         config.VoiceConfig

	events chan Event

	// Loop-owned state. Only Run's goroutine touches these.
	state              State
	generation         int64
	completionFailures int
	speechActive       bool
	pendingUtterance   string
	cancelInFlight     context.CancelFunc
	silenceTimer       *time.Timer

	// observable mirrors state for callers outside the loop.
	observable atomic.Value
}

// NewMachine builds a machine for one session. Run must be started for
// events to be processed.
func NewMachine(
	convo *conversation.Service,
	session *conversation.Session,
	completer conversation.Completer,
	transcriber Transcriber,
	speaker Speaker,
	cfg config.VoiceConfig,
	hooks Hooks,
	logger *zap.Logger,
) *Machine {
	m := &Machine{
		convo:       convo,
		session:     session,
		completer:   completer,
		transcriber: transcriber,
		speaker:     speaker,
		hooks:       hooks,
		logger:      logger,
		cfg:         cfg,
		events:      make(chan Event, 64),
		state:       StateIdle,
	}
	m.observable.Store(StateIdle)
	return m
}

// State reports the machine's current state.
func (m *Machine) State() State {
	return m.observable.Load().(State)
}

// Dispatch posts an event into the loop.
func (m *Machine) Dispatch(ev Event) {
	m.events <- ev
}

// Run drives the machine until ctx is cancelled. Terminal only on
// teardown.
func (m *Machine) Run(ctx context.Context) {
	defer m.teardown()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Machine) teardown() {
	if m.cancelInFlight != nil {
		m.cancelInFlight()
	}
	if m.speaker != nil {
		m.speaker.Stop()
	}
	m.transition(StateIdle)
}

func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	m.observable.Store(to)
	m.logger.Debug("voice state transition",
		zap.String("conversationId", m.session.ConversationID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	m.hooks.stateChange(from, to)
}

func (m *Machine) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventStart:
		if m.state == StateIdle {
			m.transition(StateListening)
		}

	case EventStop:
		m.bumpGeneration()
		if m.speaker != nil {
			m.speaker.Stop()
		}
		m.transition(StateIdle)

	case EventResume:
		if m.state == StateFaulted {
			m.completionFailures = 0
			m.transition(StateListening)
		}

	case EventSpeechStart:
		m.onSpeechStart()

	case EventSpeechEnd:
		m.onSpeechEnd(ctx, ev.Audio)

	case EventPartialTranscript:
		m.hooks.partialTranscript(ev.Text)

	case EventFinalTranscript:
		// Client-side transcription path: skip Transcribing. An empty
		// transcript is a non-event.
		if (m.state == StateListening || m.state == StateTranscribing) && !isUnusable(ev.Text) {
			if m.state == StateTranscribing {
				// The client transcript supersedes the in-flight
				// server-side transcription; its resolution is stale.
				m.bumpGeneration()
			}
			m.onTranscript(ctx, ev.Text)
		}

	case EventPlaybackStarted:
		// Informational; Speaking was already entered on reply.

	case EventPlaybackComplete:
		if m.state == StateSpeaking {
			m.transition(StateListening)
		}

	case eventSilenceTimeout:
		// VAD false trigger: speech-start with no speech-end in time.
		if m.state == StateListening && ev.generation == m.generation {
			m.speechActive = false
		}

	case eventTranscriptDone:
		m.onTranscriptDone(ctx, ev)

	case eventReplyDone:
		m.onReplyDone(ctx, ev)

	case eventSpeakDone:
		if ev.generation == m.generation && m.state == StateSpeaking {
			m.transition(StateListening)
		}
	}
}

// bumpGeneration invalidates every in-flight collaborator call.
func (m *Machine) bumpGeneration() {
	m.generation++
	if m.cancelInFlight != nil {
		m.cancelInFlight()
		m.cancelInFlight = nil
	}
}

func (m *Machine) onSpeechStart() {
	switch m.state {
	case StateListening:
		m.speechActive = true
		m.armSilenceTimer()

	case StateThinking:
		// Barge-in while awaiting the reply: the in-flight completion
		// is stale from this moment; its result will be discarded.
		m.bumpGeneration()
		m.transition(StateCancelled)
		m.transition(StateListening)
		m.speechActive = true
		m.armSilenceTimer()

	case StateSpeaking:
		// Barge-in during playback: cut audio now. The reply already in
		// the log stays.
		m.bumpGeneration()
		if m.speaker != nil {
			m.speaker.Stop()
		}
		m.transition(StateCancelled)
		m.transition(StateListening)
		m.speechActive = true
		m.armSilenceTimer()
	}
}

func (m *Machine) armSilenceTimer() {
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
	}
	gen := m.generation
	m.silenceTimer = time.AfterFunc(m.cfg.SilenceTimeout, func() {
		m.events <- Event{Type: eventSilenceTimeout, generation: gen}
	})
}

func (m *Machine) onSpeechEnd(ctx context.Context, audio []byte) {
	if m.state != StateListening || !m.speechActive {
		return
	}
	m.speechActive = false
	if m.silenceTimer != nil {
		m.silenceTimer.Stop()
	}
	if len(audio) == 0 || m.transcriber == nil {
		// Clients without server-side transcription send final-transcript
		// instead of audio.
		return
	}

	m.transition(StateTranscribing)
	gen := m.generation
	callCtx, cancel := context.WithCancel(ctx)
	m.cancelInFlight = cancel

	go func() {
		text, err := m.transcriber.Transcribe(callCtx, audio)
		m.events <- Event{Type: eventTranscriptDone, Text: text, generation: gen, err: err}
	}()
}

func (m *Machine) onTranscriptDone(ctx context.Context, ev Event) {
	if ev.generation != m.generation {
		return // stale, silently dropped
	}
	m.cancelInFlight = nil

	if ev.err != nil {
		m.logger.Error("transcription failed",
			zap.String("conversationId", m.session.ConversationID), zap.Error(ev.err))
		m.hooks.error("transcription", ev.err)
		m.convo.AppendTurn(m.session, chat.SenderSystem,
			"Sorry, I couldn't catch that. Could you say it again?", chat.KindVoice)
		m.transition(StateListening)
		return
	}
	if isUnusable(ev.Text) {
		// Empty transcript is a non-event, not an error.
		m.transition(StateListening)
		return
	}

	m.onTranscript(ctx, ev.Text)
}

func (m *Machine) onTranscript(ctx context.Context, text string) {
	m.hooks.userTranscript(text)

	// The user turn enters the log before the reply is computed, so the
	// transcript survives even if the reply is cancelled.
	history, begun := m.convo.BeginUserTurn(m.session, text, chat.KindVoice)
	m.pendingUtterance = text

	if m.completer == nil {
		const notice = "Our assistant is offline right now, but I saved what you said."
		result := m.convo.FinishAssistantTurn(m.session, text, notice, "", chat.KindVoice)
		m.hooks.assistantReply(notice, result.Fields, result.Decision)
		m.transition(StateSpeaking)
		m.hooks.speakRequest(notice)
		return
	}

	m.transition(StateThinking)
	gen := m.generation
	callCtx, cancel := context.WithCancel(ctx)
	m.cancelInFlight = cancel

	go func() {
		reply, err := m.completer.Complete(callCtx, history, text, begun.Fields, begun.Decision)
		ev := Event{Type: eventReplyDone, generation: gen, err: err}
		if err == nil {
			ev.Text, ev.hint = extract.ParseHint(reply)
		}
		m.events <- ev
	}()
}

func (m *Machine) onReplyDone(ctx context.Context, ev Event) {
	if ev.generation != m.generation {
		return // barge-in already invalidated this reply
	}
	m.cancelInFlight = nil

	if ev.err != nil {
		m.completionFailures++
		m.logger.Error("completion failed",
			zap.String("conversationId", m.session.ConversationID),
			zap.Int("consecutiveFailures", m.completionFailures),
			zap.Error(ev.err))
		m.hooks.error("completion", ev.err)
		m.convo.AppendTurn(m.session, chat.SenderSystem,
			"I'm having trouble answering right now. Give me a moment and try again.", chat.KindVoice)

		if m.completionFailures >= m.cfg.MaxCompletionErrors {
			// Stop retrying forever; the caller must resume explicitly.
			m.transition(StateFaulted)
			return
		}
		m.transition(StateListening)
		return
	}
	m.completionFailures = 0

	result := m.convo.FinishAssistantTurn(m.session, m.pendingUtterance, ev.Text, ev.hint, chat.KindVoice)
	m.hooks.assistantReply(ev.Text, result.Fields, result.Decision)

	m.transition(StateSpeaking)
	m.hooks.speakRequest(ev.Text)

	if m.speaker == nil {
		// Transport handles synthesis; it reports back with
		// playback-complete.
		return
	}

	gen := m.generation
	callCtx, cancel := context.WithCancel(ctx)
	m.cancelInFlight = cancel
	go func() {
		if err := m.speaker.Speak(callCtx, ev.Text); err != nil {
			m.logger.Warn("playback failed",
				zap.String("conversationId", m.session.ConversationID), zap.Error(err))
		}
		m.events <- Event{Type: eventSpeakDone, generation: gen}
	}()
}

func isUnusable(text string) bool {
	for _, r := range text {
		if r != ' ' && r != '\t' && r != '\n' {
			return false
		}
	}
	return true
}
