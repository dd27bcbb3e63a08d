// Package readcursor tracks, per conversation and participant, the last instant
// the participant has seen the conversation, and derives unread counts from it.
package readcursor

import (
	"context"
	"fmt"
	"time"

	"github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/messagestore"
)

// Tracker reads and advances read cursors.
type Tracker interface {
	// MarkRead advances the cursor to at unless it is already later, and
	// returns the cursor now in effect.
	MarkRead(ctx context.Context, conversationID, identity string, at time.Time) (time.Time, error)
	// Cursor returns the zero time when identity never read the conversation.
	Cursor(ctx context.Context, conversationID, identity string) (time.Time, error)
	// Cursors returns every cursor of identity keyed by conversation id.
	Cursors(ctx context.Context, identity string) (map[string]time.Time, error)
}

type tracker struct {
	exec libdbexec.Exec
}

func New(exec libdbexec.Exec) Tracker {
	return &tracker{exec: exec}
}

func (t *tracker) MarkRead(ctx context.Context, conversationID, identity string, at time.Time) (time.Time, error) {
	us := at.UTC().Truncate(time.Microsecond).UnixMicro()
	// The guard lives in the statement so two racing writers cannot move the cursor back.
	var effective int64
	err := t.exec.QueryRowContext(ctx, `
		INSERT INTO inbox_read_cursors (conversation_id, identity, last_read_us)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, identity) DO UPDATE
		SET last_read_us = CASE
			WHEN excluded.last_read_us > inbox_read_cursors.last_read_us THEN excluded.last_read_us
			ELSE inbox_read_cursors.last_read_us
		END
		RETURNING last_read_us`,
		conversationID,
		identity,
		us,
	).Scan(&effective)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to mark read: %w", err)
	}
	return time.UnixMicro(effective).UTC(), nil
}

func (t *tracker) Cursor(ctx context.Context, conversationID, identity string) (time.Time, error) {
	rows, err := t.exec.QueryContext(ctx, `
		SELECT last_read_us
		FROM inbox_read_cursors
		WHERE conversation_id = $1 AND identity = $2`,
		conversationID,
		identity,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query read cursor: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return time.Time{}, rows.Err()
	}
	var us int64
	if err := rows.Scan(&us); err != nil {
		return time.Time{}, fmt.Errorf("failed to scan read cursor: %w", err)
	}
	return time.UnixMicro(us).UTC(), nil
}

func (t *tracker) Cursors(ctx context.Context, identity string) (map[string]time.Time, error) {
	rows, err := t.exec.QueryContext(ctx, `
		SELECT conversation_id, last_read_us
		FROM inbox_read_cursors
		WHERE identity = $1`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query read cursors: %w", err)
	}
	defer rows.Close()

	cursors := map[string]time.Time{}
	for rows.Next() {
		var id string
		var us int64
		if err := rows.Scan(&id, &us); err != nil {
			return nil, fmt.Errorf("failed to scan read cursor: %w", err)
		}
		cursors[id] = time.UnixMicro(us).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return cursors, nil
}

// CountUnread counts the messages identity has not seen: those written by
// someone else after cursor. A zero cursor means nothing was read yet.
func CountUnread(messages []*messagestore.Message, identity string, cursor time.Time) int {
	n := 0
	for _, m := range messages {
		if m.SenderID != identity && m.AddedAt.After(cursor) {
			n++
		}
	}
	return n
}
