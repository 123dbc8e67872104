package chat

import "time"

// Summary is the conversation-picker projection: one row per stored
// conversation id, labeled from the first user turn.
type Summary struct {
	ConversationID string    `json:"conversationId"`
	Label          string    `json:"label"`
	MessageCount   int       `json:"messageCount"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}
