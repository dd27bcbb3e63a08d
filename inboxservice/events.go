package inboxservice

import (
	"encoding/hex"
	"time"
)

type EventKind string

const (
	EventConversationOpened EventKind = "conversation.opened"
	EventMessageSent        EventKind = "message.sent"
	EventConversationRead   EventKind = "conversation.read"
)

// Event announces a change. It carries no content; subscribers re-read what they display.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversationId"`
	Actor          string    `json:"actor"`
	Seq            int64     `json:"seq,omitempty"`
	At             time.Time `json:"at"`
}

// Subject tokens are hex encoded: identities contain dots, which NATS treats as separators.

func ConversationSubject(conversationID string) string {
	return "inbox.conversation." + hex.EncodeToString([]byte(conversationID))
}

func UserSubject(identity string) string {
	return "inbox.user." + hex.EncodeToString([]byte(identity))
}
