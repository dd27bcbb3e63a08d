package messagestore

import (
	"context"
	"time"

	"github.com/medstay/inbox/conversationid"
)

// Message is one immutable chat message. Display metadata of the sender is
// copied in at send time and never re-resolved.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderAvatar   string    `json:"senderAvatar"`
	Text           string    `json:"text"`
	AddedAt        time.Time `json:"timestamp"`
}

// Conversation is the stored row behind a conversation id.
type Conversation struct {
	ID        string                 `json:"id"`
	Parties   conversationid.Parties `json:"parties"`
	LastSeq   int64                  `json:"lastSeq"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Snapshot is a full read of the store. Degraded is set when rows had to be
// skipped because their payload could not be decoded.
type Snapshot struct {
	Conversations map[string][]*Message
	Degraded      bool
	Skipped       int
}

// Store is the data access interface for conversations and messages.
type Store interface {
	// EnsureConversation creates the conversation row for id unless it exists.
	EnsureConversation(ctx context.Context, id string) (created bool, err error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// ListConversations returns the conversations in which identity holds role.
	ListConversations(ctx context.Context, identity string, role conversationid.Role) ([]*Conversation, error)

	// AppendMessage stores msg under the next sequence number of its conversation,
	// creating the conversation if needed. Appending an ID that already exists
	// returns the stored message unchanged.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	ListAll(ctx context.Context) (*Snapshot, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}
