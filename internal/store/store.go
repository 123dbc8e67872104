package store

import (
	"context"
	"errors"

	"github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

var (
	// ErrUnavailable marks a transient backend failure. Callers degrade
	// to in-memory operation instead of failing the conversation.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound marks a lookup miss for a record that should exist.
	ErrNotFound = errors.New("record not found")
)

// Store is the durable backing for conversation turns and submitted
// loan applications, keyed by user id. Messages form a key-ordered
// append log; applications are an immutable record store whose status
// is the only mutable projection.
type Store interface {
	GetMessages(ctx context.Context, userID string) ([]chat.Turn, error)
	AppendMessage(ctx context.Context, turn chat.Turn) error
	ClearMessages(ctx context.Context, userID string) error

	GetApplications(ctx context.Context, userID string) ([]loan.ApplicationRecord, error)
	CreateApplication(ctx context.Context, record loan.ApplicationRecord) (loan.ApplicationRecord, error)
	UpdateApplicationStatus(ctx context.Context, id string, status loan.Status) error
}
