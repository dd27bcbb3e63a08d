// Package messagestatus classifies a sender's own messages as sent, delivered or read.
package messagestatus

import (
	"context"
	"time"

	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/readcursor"
)

type Status string

const (
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
)

// Resolve applies the rules in order: a recipient cursor at or past the
// message means Read, otherwise an online recipient means Delivered,
// otherwise the message is only Sent.
func Resolve(messageAt, recipientCursor time.Time, recipientOnline bool) Status {
	if !recipientCursor.IsZero() && !recipientCursor.Before(messageAt) {
		return Read
	}
	if recipientOnline {
		return Delivered
	}
	return Sent
}

// Resolver loads the recipient's cursor to resolve stored messages.
type Resolver struct {
	cursors readcursor.Tracker
}

func NewResolver(cursors readcursor.Tracker) *Resolver {
	return &Resolver{cursors: cursors}
}

// Resolve returns the status of msg as seen by its author. online is the
// presence snapshot taken by the caller so a whole thread resolves against one view.
func (r *Resolver) Resolve(ctx context.Context, msg *messagestore.Message, recipient string, online presence.OnlineSet) (Status, error) {
	cursor, err := r.cursors.Cursor(ctx, msg.ConversationID, recipient)
	if err != nil {
		return "", err
	}
	return Resolve(msg.AddedAt, cursor, online.Contains(recipient)), nil
}

// ResolveThread resolves every message authored by author in msgs with a single
// cursor read. Messages from anyone else are left out of the result.
func (r *Resolver) ResolveThread(ctx context.Context, msgs []*messagestore.Message, author, recipient string, online presence.OnlineSet) (map[string]Status, error) {
	statuses := map[string]Status{}
	if len(msgs) == 0 {
		return statuses, nil
	}
	cursor, err := r.cursors.Cursor(ctx, msgs[0].ConversationID, recipient)
	if err != nil {
		return nil, err
	}
	isOnline := online.Contains(recipient)
	for _, m := range msgs {
		if m.SenderID != author {
			continue
		}
		statuses[m.ID] = Resolve(m.AddedAt, cursor, isOnline)
	}
	return statuses, nil
}
