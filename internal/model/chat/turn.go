package chat

import "time"

// Sender identifies which side of the conversation produced a turn.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// Kind records which input path produced a turn.
const (
	KindText  = "text"
	KindVoice = "voice"
)

// Turn is one immutable message in a conversation. Ordering is by
// CreatedAt, then Seq for turns created inside the same tick.
type Turn struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"createdAt"`
}
