package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenfi/loanvoice/backend/internal/analysis/extract"
	"github.com/lumenfi/loanvoice/backend/internal/analysis/underwrite"
	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
	"github.com/lumenfi/loanvoice/backend/internal/store"
)

// Completer is the completion collaborator. Implemented by service/ai;
// tests plug in fakes.
type Completer interface {
	Complete(ctx context.Context, history []chat.Turn, userMessage string, fields loan.FieldSet, decision loan.Decision) (string, error)
}

// Session is the authoritative in-process view of one user's current
// conversation. All mutation goes through Service methods, which
// serialize on the session mutex so interleaved text and voice input
// cannot corrupt turn ordering or apply a stale field update.
type Session struct {
	mu sync.Mutex

	ConversationID string
	UserID         string

	turns          []chat.Turn
	fields         loan.FieldSet
	decision       loan.Decision
	seq            int64
	lastActivityAt time.Time
}

// TurnResult reports everything one processed user turn produced.
type TurnResult struct {
	UserTurn      chat.Turn
	AssistantTurn chat.Turn
	Fields        loan.FieldSet
	Decision      loan.Decision
	ChangedFields []loan.Field
	Degraded      bool
}

// Service owns active sessions and mediates all store access.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store     store.Store
	engine    *underwrite.Engine
	completer Completer
	logger    *zap.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// NewService wires the session manager. The completer may be nil; the
// service then runs in degraded mode with canned assistant notices.
func NewService(st store.Store, engine *underwrite.Engine, completer Completer, logger *zap.Logger) *Service {
	return &Service{
		sessions:  make(map[string]*Session),
		store:     st,
		engine:    engine,
		completer: completer,
		logger:    logger,
		now:       time.Now,
	}
}

// dayBucket derives the implicit conversation id for a user: one
// conversation per UTC day unless StartNew minted an explicit id.
func (s *Service) dayBucket(userID string) string {
	return fmt.Sprintf("%s:%s", userID, s.now().UTC().Format("2006-01-02"))
}

// StartOrResume returns the user's active session, loading today's
// turns from the store. Store unavailability degrades to an empty
// in-memory session, it never fails the caller.
func (s *Service) StartOrResume(ctx context.Context, userID string) *Session {
	s.mu.Lock()
	if session, ok := s.sessions[userID]; ok {
		s.mu.Unlock()
		return session
	}
	s.mu.Unlock()

	conversationID := s.dayBucket(userID)
	session := &Session{
		ConversationID: conversationID,
		UserID:         userID,
		fields:         loan.NewFieldSet(),
		lastActivityAt: s.now().UTC(),
	}

	turns, err := s.store.GetMessages(ctx, userID)
	if err != nil {
		s.logger.Warn("store unavailable, starting in-memory session",
			zap.String("userId", userID), zap.Error(err))
	} else {
		for _, turn := range turns {
			if turn.ConversationID != conversationID {
				continue
			}
			session.turns = append(session.turns, turn)
			if turn.Seq > session.seq {
				session.seq = turn.Seq
			}
			// Replay user turns so the draft reflects prior extraction.
			if turn.Sender == chat.SenderUser {
				result := extract.Extract(turn.Content, session.fields, "")
				session.fields = result.Updated
			}
		}
		if len(session.turns) > 0 {
			session.decision = s.engine.Decide(session.fields)
			session.fields.ApplyDecision(session.decision)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[userID]; ok {
		// Lost the race to a concurrent resume; keep the winner.
		return existing
	}
	s.sessions[userID] = session
	return session
}

// StartNew abandons the day bucket and mints a fresh conversation id.
func (s *Service) StartNew(userID string) *Session {
	session := &Session{
		ConversationID: fmt.Sprintf("%s:%s", userID, uuid.NewString()),
		UserID:         userID,
		fields:         loan.NewFieldSet(),
		lastActivityAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.sessions[userID] = session
	s.mu.Unlock()
	return session
}

// AppendTurn assigns ordering, appends to the in-memory log and
// persists in the background. A persistence failure is logged and never
// blocks turn progression.
func (s *Service) AppendTurn(session *Session, sender, content, kind string) chat.Turn {
	session.mu.Lock()
	turn := s.appendLocked(session, sender, content, kind)
	session.mu.Unlock()
	return turn
}

func (s *Service) appendLocked(session *Session, sender, content, kind string) chat.Turn {
	session.seq++
	turn := chat.Turn{
		ID:             uuid.NewString(),
		ConversationID: session.ConversationID,
		UserID:         session.UserID,
		Sender:         sender,
		Content:        content,
		Kind:           kind,
		Seq:            session.seq,
		CreatedAt:      s.now().UTC(),
	}
	session.turns = append(session.turns, turn)
	session.lastActivityAt = turn.CreatedAt

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.AppendMessage(ctx, turn); err != nil {
			s.logger.Warn("failed to persist turn",
				zap.String("conversationId", turn.ConversationID),
				zap.String("turnId", turn.ID),
				zap.Error(err))
		}
	}()

	return turn
}

// BeginUserTurn appends the user's turn, updates the draft from
// deterministic extraction and re-runs underwriting. It returns the
// transcript snapshot preceding the new turn, for the completion call.
// The log reflects what was said even if later stages are cancelled.
func (s *Service) BeginUserTurn(session *Session, content, kind string) (history []chat.Turn, result TurnResult) {
	session.mu.Lock()
	defer session.mu.Unlock()

	history = make([]chat.Turn, len(session.turns))
	copy(history, session.turns)

	result.UserTurn = s.appendLocked(session, chat.SenderUser, content, kind)

	extracted := extract.Extract(content, session.fields, "")
	session.fields = extracted.Updated
	session.decision = s.engine.Decide(session.fields)
	session.fields.ApplyDecision(session.decision)

	result.Fields = session.fields
	result.Decision = session.decision
	result.ChangedFields = extracted.Changed
	return history, result
}

// FinishAssistantTurn merges the model's field hint, re-evaluates and
// appends the assistant reply to the log.
func (s *Service) FinishAssistantTurn(session *Session, userContent, cleanReply, hint, kind string) TurnResult {
	session.mu.Lock()
	defer session.mu.Unlock()

	var result TurnResult
	if hint != "" {
		extracted := extract.Extract(userContent, session.fields, hint)
		session.fields = extracted.Updated
		session.decision = s.engine.Decide(session.fields)
		session.fields.ApplyDecision(session.decision)
		result.ChangedFields = extracted.Changed
	}

	result.AssistantTurn = s.appendLocked(session, chat.SenderAssistant, cleanReply, kind)
	result.Fields = session.fields
	result.Decision = session.decision
	return result
}

const degradedReply = "I'm having trouble reaching our assistant right now. Your message is saved — please try again in a moment."

// ProcessUserTurn runs the full text-path turn cycle: append user turn,
// extract, decide, complete, merge the hint and append the assistant
// turn. A completion failure degrades to a canned notice instead of
// failing the conversation.
func (s *Service) ProcessUserTurn(ctx context.Context, session *Session, content, kind string) TurnResult {
	history, result := s.BeginUserTurn(session, content, kind)

	if s.completer == nil {
		finished := s.FinishAssistantTurn(session, content, degradedReply, "", kind)
		finished.UserTurn = result.UserTurn
		finished.ChangedFields = result.ChangedFields
		finished.Degraded = true
		return finished
	}

	reply, err := s.completer.Complete(ctx, history, content, result.Fields, result.Decision)
	if err != nil {
		s.logger.Error("completion failed",
			zap.String("conversationId", session.ConversationID), zap.Error(err))
		finished := s.FinishAssistantTurn(session, content, degradedReply, "", kind)
		finished.UserTurn = result.UserTurn
		finished.ChangedFields = result.ChangedFields
		finished.Degraded = true
		return finished
	}

	clean, hint := extract.ParseHint(reply)
	finished := s.FinishAssistantTurn(session, content, clean, hint, kind)
	finished.UserTurn = result.UserTurn
	finished.ChangedFields = append(result.ChangedFields, finished.ChangedFields...)
	return finished
}

// Clear wipes the in-memory log and requests deletion from the store.
// Idempotent: clearing an already-empty session succeeds.
func (s *Service) Clear(ctx context.Context, session *Session) {
	session.mu.Lock()
	session.turns = nil
	session.fields = loan.NewFieldSet()
	session.decision = loan.Decision{}
	session.seq = 0
	session.mu.Unlock()

	if err := s.store.ClearMessages(ctx, session.UserID); err != nil {
		s.logger.Warn("failed to clear persisted messages",
			zap.String("userId", session.UserID), zap.Error(err))
	}
}

// Turns returns a copy of the in-memory log, the presentation source of
// truth.
func (s *Service) Turns(session *Session) []chat.Turn {
	session.mu.Lock()
	defer session.mu.Unlock()
	copied := make([]chat.Turn, len(session.turns))
	copy(copied, session.turns)
	return copied
}

// Fields returns the current draft and decision.
func (s *Service) Fields(session *Session) (loan.FieldSet, loan.Decision) {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.fields, session.decision
}

const summaryLabelLimit = 40

// ListRecent groups persisted turns by conversation id and returns the
// most recent n summaries. Pure read projection, no session mutation.
func (s *Service) ListRecent(ctx context.Context, userID string, n int) ([]chat.Summary, error) {
	turns, err := s.store.GetMessages(ctx, userID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string]*chat.Summary)
	var order []string
	for _, turn := range turns {
		summary, ok := grouped[turn.ConversationID]
		if !ok {
			summary = &chat.Summary{ConversationID: turn.ConversationID}
			grouped[turn.ConversationID] = summary
			order = append(order, turn.ConversationID)
		}
		summary.MessageCount++
		if turn.CreatedAt.After(summary.LastActivityAt) {
			summary.LastActivityAt = turn.CreatedAt
		}
		if summary.Label == "" && turn.Sender == chat.SenderUser {
			summary.Label = truncateLabel(turn.Content)
		}
	}

	summaries := make([]chat.Summary, 0, len(grouped))
	for _, id := range order {
		summaries = append(summaries, *grouped[id])
	}
	// Most recent first.
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastActivityAt.After(summaries[j].LastActivityAt)
	})
	if n > 0 && len(summaries) > n {
		summaries = summaries[:n]
	}
	return summaries, nil
}

func truncateLabel(content string) string {
	runes := []rune(content)
	if len(runes) <= summaryLabelLimit {
		return content
	}
	return string(runes[:summaryLabelLimit]) + "…"
}

// SubmitApplication freezes the current draft into a persisted record.
// Unlike extraction, submission is an explicit user action; the store
// failure is surfaced because there is nothing durable to show for it.
func (s *Service) SubmitApplication(ctx context.Context, session *Session) (loan.ApplicationRecord, error) {
	session.mu.Lock()
	fields := session.fields
	userID := session.UserID
	session.mu.Unlock()

	record := loan.ApplicationRecord{
		ID:              uuid.NewString(),
		UserID:          userID,
		Fields:          fields,
		ApplicationDate: s.now().UTC(),
	}
	return s.store.CreateApplication(ctx, record)
}

// Applications lists the user's submitted records.
func (s *Service) Applications(ctx context.Context, userID string) ([]loan.ApplicationRecord, error) {
	return s.store.GetApplications(ctx, userID)
}

// UpdateApplicationStatus routes a status change through the store.
func (s *Service) UpdateApplicationStatus(ctx context.Context, id string, status loan.Status) error {
	return s.store.UpdateApplicationStatus(ctx, id, status)
}

// Flush waits for in-flight background persistence, used on shutdown
// and by tests.
func (s *Service) Flush() {
	s.wg.Wait()
}
