package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/analysis/underwrite"
	"github.com/lumenfi/loanvoice/backend/internal/config"
	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	"github.com/lumenfi/loanvoice/backend/internal/store"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	release chan struct{}
}

func (f *fakeCompleter) Complete(_ context.Context, _ []chat.Turn, _ string, _ loan.FieldSet, _ loan.Decision) (string, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	return f.text, f.err
}

type gatedTranscriber struct {
	text    string
	release chan struct{}
}

func (g *gatedTranscriber) Transcribe(ctx context.Context, _ []byte) (string, error) {
	select {
	case <-g.release:
		return g.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// transitionLog records state changes from the machine goroutine.
type transitionLog struct {
	mu     sync.Mutex
	states []State
}

func (l *transitionLog) record(_, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, to)
}

func (l *transitionLog) has(state State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.states {
		if s == state {
			return true
		}
	}
	return false
}

func testVoiceConfig() config.VoiceConfig {
	return config.VoiceConfig{SilenceTimeout: 100 * time.Millisecond, MaxCompletionErrors: 3}
}

func newVoiceFixture(t *testing.T, completer conversation.Completer, transcriber Transcriber) (*Machine, *conversation.Service, *conversation.Session, *transitionLog, func()) {
	t.Helper()
	convo := conversation.NewService(store.NewMemory(), underwrite.NewEngine(underwrite.DefaultPolicy()), nil, zap.NewNop())
	session := convo.StartOrResume(context.Background(), "user-1")

	log := &transitionLog{}
	machine := NewMachine(convo, session, completer, transcriber, nil,
		testVoiceConfig(), Hooks{OnStateChange: log.record}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go machine.Run(ctx)
	return machine, convo, session, log, cancel
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFullVoiceTurnCycle(t *testing.T) {
	completer := &fakeCompleter{reply: "Happy to help with an auto loan."}
	machine, convo, session, _, cancel := newVoiceFixture(t, completer, nil)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	waitFor(t, "never reached listening", func() bool { return machine.State() == StateListening })

	machine.Dispatch(Event{Type: EventFinalTranscript, Text: "I need 45k for a car"})
	waitFor(t, "never reached speaking", func() bool { return machine.State() == StateSpeaking })

	turns := convo.Turns(session)
	if len(turns) != 2 {
		t.Fatalf("turn count = %d, want user turn and reply", len(turns))
	}
	if turns[0].Kind != chat.KindVoice || turns[0].Content != "I need 45k for a car" {
		t.Fatalf("user turn = %+v", turns[0])
	}
	if turns[1].Content != completer.reply {
		t.Fatalf("assistant turn = %q", turns[1].Content)
	}

	fields, _ := convo.Fields(session)
	if fields.Amount == nil || fields.Amount.String() != "45000" {
		t.Fatalf("amount = %v, want 45000 extracted from the voice turn", fields.Amount)
	}

	machine.Dispatch(Event{Type: EventPlaybackComplete})
	waitFor(t, "never returned to listening", func() bool { return machine.State() == StateListening })
}

func TestBargeInDropsStaleReply(t *testing.T) {
	completer := &fakeCompleter{reply: "late reply", release: make(chan struct{})}
	machine, convo, session, log, cancel := newVoiceFixture(t, completer, nil)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	machine.Dispatch(Event{Type: EventFinalTranscript, Text: "tell me about mortgage rates"})
	waitFor(t, "never reached thinking", func() bool { return machine.State() == StateThinking })

	// The user talks over the pending reply.
	machine.Dispatch(Event{Type: EventSpeechStart})
	waitFor(t, "barge-in did not return to listening", func() bool { return machine.State() == StateListening })

	// The stale completion now resolves; its result must be discarded.
	close(completer.release)
	time.Sleep(50 * time.Millisecond)

	if machine.State() != StateListening {
		t.Fatalf("state = %s, want listening after stale resolve", machine.State())
	}
	if log.has(StateSpeaking) {
		t.Fatal("machine entered speaking on a cancelled reply")
	}
	if !log.has(StateCancelled) {
		t.Fatal("barge-in did not pass through cancelled")
	}
	turns := convo.Turns(session)
	if len(turns) != 1 {
		t.Fatalf("turn count = %d, want only the user transcript", len(turns))
	}
}

func TestBargeInDuringPlayback(t *testing.T) {
	completer := &fakeCompleter{reply: "Here are your options."}
	machine, convo, session, _, cancel := newVoiceFixture(t, completer, nil)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	machine.Dispatch(Event{Type: EventFinalTranscript, Text: "what can I afford"})
	waitFor(t, "never reached speaking", func() bool { return machine.State() == StateSpeaking })

	machine.Dispatch(Event{Type: EventSpeechStart})
	waitFor(t, "playback barge-in did not return to listening", func() bool { return machine.State() == StateListening })

	// The reply stays in the log; only playback was cut.
	if turns := convo.Turns(session); len(turns) != 2 {
		t.Fatalf("turn count = %d, want 2", len(turns))
	}
}

func TestFaultedAfterRepeatedFailures(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model unavailable")}
	machine, convo, session, _, cancel := newVoiceFixture(t, completer, nil)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	waitFor(t, "never reached listening", func() bool { return machine.State() == StateListening })

	for i := 1; i <= 3; i++ {
		machine.Dispatch(Event{Type: EventFinalTranscript, Text: "hello?"})
		want := i * 2 // user turn plus system notice per attempt
		waitFor(t, "failure notice not appended", func() bool { return len(convo.Turns(session)) == want })
	}
	waitFor(t, "never faulted", func() bool { return machine.State() == StateFaulted })

	// Further speech is ignored until an explicit resume.
	machine.Dispatch(Event{Type: EventFinalTranscript, Text: "are you there?"})
	time.Sleep(50 * time.Millisecond)
	if got := len(convo.Turns(session)); got != 6 {
		t.Fatalf("turn count while faulted = %d, want 6", got)
	}

	machine.Dispatch(Event{Type: EventResume})
	waitFor(t, "resume did not return to listening", func() bool { return machine.State() == StateListening })
}

func TestEmptyTranscriptIsNonEvent(t *testing.T) {
	machine, convo, session, _, cancel := newVoiceFixture(t, &fakeCompleter{reply: "ok"}, nil)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	waitFor(t, "never reached listening", func() bool { return machine.State() == StateListening })

	machine.Dispatch(Event{Type: EventFinalTranscript, Text: "   "})
	time.Sleep(50 * time.Millisecond)

	if machine.State() != StateListening {
		t.Fatalf("state = %s, want listening", machine.State())
	}
	if turns := convo.Turns(session); len(turns) != 0 {
		t.Fatalf("turn count = %d, want 0 for a blank transcript", len(turns))
	}
}

func TestServerSideTranscription(t *testing.T) {
	transcriber := &fakeTranscriber{text: "my income is 7k a month"}
	machine, convo, session, log, cancel := newVoiceFixture(t, &fakeCompleter{reply: "Noted."}, transcriber)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	machine.Dispatch(Event{Type: EventSpeechStart})
	machine.Dispatch(Event{Type: EventSpeechEnd, Audio: []byte{1, 2, 3}})
	waitFor(t, "never reached speaking", func() bool { return machine.State() == StateSpeaking })

	if !log.has(StateTranscribing) {
		t.Fatal("machine skipped the transcribing state")
	}
	turns := convo.Turns(session)
	if len(turns) != 2 || turns[0].Content != transcriber.text {
		t.Fatalf("turns = %+v", turns)
	}
	fields, _ := convo.Fields(session)
	if fields.MonthlyIncome == nil || fields.MonthlyIncome.String() != "7000" {
		t.Fatalf("monthlyIncome = %v, want 7000", fields.MonthlyIncome)
	}
}

// A client-supplied final transcript while server-side transcription is
// still in flight must win outright: the slow transcription resolves
// stale and must not append a second user turn or a second reply.
func TestClientTranscriptSupersedesServerTranscription(t *testing.T) {
	transcriber := &gatedTranscriber{text: "server text", release: make(chan struct{})}
	machine, convo, session, _, cancel := newVoiceFixture(t, &fakeCompleter{reply: "Got it."}, transcriber)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	machine.Dispatch(Event{Type: EventSpeechStart})
	machine.Dispatch(Event{Type: EventSpeechEnd, Audio: []byte{1, 2, 3}})
	waitFor(t, "never reached transcribing", func() bool { return machine.State() == StateTranscribing })

	machine.Dispatch(Event{Type: EventFinalTranscript, Text: "client text"})
	waitFor(t, "never reached speaking", func() bool { return machine.State() == StateSpeaking })

	// The slow server transcription now resolves; it is stale.
	close(transcriber.release)
	time.Sleep(50 * time.Millisecond)

	if machine.State() != StateSpeaking {
		t.Fatalf("state = %s, want speaking undisturbed", machine.State())
	}
	turns := convo.Turns(session)
	if len(turns) != 2 {
		t.Fatalf("turn count = %d, want one user turn and one reply", len(turns))
	}
	if turns[0].Content != "client text" {
		t.Fatalf("user turn = %q, want the client transcript", turns[0].Content)
	}
}

func TestTranscriptionFailureReprompts(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("asr timeout")}
	machine, convo, session, _, cancel := newVoiceFixture(t, &fakeCompleter{reply: "ok"}, transcriber)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	machine.Dispatch(Event{Type: EventSpeechStart})
	machine.Dispatch(Event{Type: EventSpeechEnd, Audio: []byte{1}})

	waitFor(t, "no reprompt after transcription failure", func() bool { return len(convo.Turns(session)) == 1 })
	waitFor(t, "did not return to listening", func() bool { return machine.State() == StateListening })

	if turns := convo.Turns(session); turns[0].Sender != chat.SenderSystem {
		t.Fatalf("turn sender = %s, want system notice", turns[0].Sender)
	}
}

func TestStopReturnsToIdle(t *testing.T) {
	machine, _, _, _, cancel := newVoiceFixture(t, &fakeCompleter{reply: "ok"}, nil)
	defer cancel()

	machine.Dispatch(Event{Type: EventStart})
	waitFor(t, "never reached listening", func() bool { return machine.State() == StateListening })

	machine.Dispatch(Event{Type: EventStop})
	waitFor(t, "stop did not idle the machine", func() bool { return machine.State() == StateIdle })
}
