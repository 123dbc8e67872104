package store

import (
	"context"
	"sort"
	"sync"

	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// Memory implements Store with in-process maps, suitable for tests and
// for running without a Redis backend.
type Memory struct {
	mu           sync.RWMutex
	messages     map[string][]chat.Turn
	applications map[string][]loan.ApplicationRecord
	owners       map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages:     make(map[string][]chat.Turn),
		applications: make(map[string][]loan.ApplicationRecord),
		owners:       make(map[string]string),
	}
}

func (m *Memory) GetMessages(_ context.Context, userID string) ([]chat.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.messages[userID]
	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

func (m *Memory) AppendMessage(_ context.Context, turn chat.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[turn.UserID] = append(m.messages[turn.UserID], turn)
	return nil
}

func (m *Memory) ClearMessages(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, userID)
	return nil
}

func (m *Memory) GetApplications(_ context.Context, userID string) ([]loan.ApplicationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.applications[userID]
	copied := make([]loan.ApplicationRecord, len(records))
	copy(copied, records)
	sort.Slice(copied, func(i, j int) bool {
		return copied[i].ApplicationDate.Before(copied[j].ApplicationDate)
	})
	return copied, nil
}

func (m *Memory) CreateApplication(_ context.Context, record loan.ApplicationRecord) (loan.ApplicationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications[record.UserID] = append(m.applications[record.UserID], record)
	m.owners[record.ID] = record.UserID
	return record, nil
}

func (m *Memory) UpdateApplicationStatus(_ context.Context, id string, status loan.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.owners[id]
	if !ok {
		return ErrNotFound
	}
	records := m.applications[userID]
	for i := range records {
		if records[i].ID == id {
			records[i].Fields.Status = status
			return nil
		}
	}
	return ErrNotFound
}
