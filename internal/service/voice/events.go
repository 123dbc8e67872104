package voice

import (
	"context"

	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// State of the turn-taking machine. Cancelled is transient: the machine
// passes through it on barge-in and settles back in Listening. Faulted
// is the persistent error surface after repeated completion failures.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateThinking     State = "thinking"
	StateSpeaking     State = "speaking"
	StateCancelled    State = "cancelled"
	StateFaulted      State = "faulted"
)

// EventType enumerates the external signals the machine consumes. The
// speech collaborator produces the VAD and transcript events; the
// playback side produces the playback events; the transport produces
// start/stop/resume.
type EventType string

const (
	EventStart             EventType = "start"
	EventStop              EventType = "stop"
	EventResume            EventType = "resume"
	EventSpeechStart       EventType = "speech-start"
	EventSpeechEnd         EventType = "speech-end"
	EventPartialTranscript EventType = "partial-transcript"
	EventFinalTranscript   EventType = "final-transcript"
	EventPlaybackStarted   EventType = "playback-started"
	EventPlaybackComplete  EventType = "playback-complete"

	// Internal resolutions of collaborator calls, tagged with the
	// generation they were launched under.
	eventTranscriptDone EventType = "transcript-done"
	eventReplyDone      EventType = "reply-done"
	eventSpeakDone      EventType = "speak-done"
	eventSilenceTimeout EventType = "silence-timeout"
)

// Event is one message into the machine's single-threaded loop.
type Event struct {
	Type  EventType
	Audio []byte
	Text  string

	generation int64
	err        error
	hint       string
}

// Transcriber converts captured audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Speaker plays synthesized speech. Speak blocks until playback
// finishes or ctx is cancelled; Stop cuts any playback immediately.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Hooks let the transport observe the machine. Nil funcs are skipped.
type Hooks struct {
	OnStateChange       func(from, to State)
	OnPartialTranscript func(text string)
	OnUserTranscript    func(text string)
	OnAssistantReply    func(text string, fields loan.FieldSet, decision loan.Decision)
	OnSpeakRequest      func(text string)
	OnError             func(stage string, err error)
}

func (h Hooks) stateChange(from, to State) {
	if h.OnStateChange != nil {
		h.OnStateChange(from, to)
	}
}

func (h Hooks) partialTranscript(text string) {
	if h.OnPartialTranscript != nil {
		h.OnPartialTranscript(text)
	}
}

func (h Hooks) userTranscript(text string) {
	if h.OnUserTranscript != nil {
		h.OnUserTranscript(text)
	}
}

func (h Hooks) assistantReply(text string, fields loan.FieldSet, decision loan.Decision) {
	if h.OnAssistantReply != nil {
		h.OnAssistantReply(text, fields, decision)
	}
}

func (h Hooks) speakRequest(text string) {
	if h.OnSpeakRequest != nil {
		h.OnSpeakRequest(text)
	}
}

func (h Hooks) error(stage string, err error) {
	if h.OnError != nil {
		h.OnError(stage, err)
	}
}
