package messagestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/libdbexec"
)

var (
	ErrNotFound       = errors.New("messagestore: not found")
	ErrInvalidMessage = errors.New("messagestore: invalid message")
	ErrIDConflict     = errors.New("messagestore: message id belongs to another conversation")
	ErrCorruptPayload = errors.New("messagestore: corrupt message payload")
)

// payload is the JSON document stored per message row.
type payload struct {
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
	Text         string `json:"text"`
}

type store struct {
	Exec libdbexec.Exec
}

// New creates a store on exec. AppendMessage runs several statements; pass a
// transaction's Exec when they must commit together.
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func notFound(err error) error {
	if errors.Is(err, libdbexec.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// EnsureConversation implements Store.
func (s *store) EnsureConversation(ctx context.Context, id string) (bool, error) {
	parties, err := conversationid.ParseID(id)
	if err != nil {
		return false, err
	}
	result, err := s.Exec.ExecContext(ctx, `
		INSERT INTO inbox_conversations (id, guest_identity, host_identity, last_seq, created_us)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (id) DO NOTHING`,
		id,
		parties.Guest,
		parties.Host,
		toMicros(time.Now().UTC()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure conversation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// GetConversation implements Store.
func (s *store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var created int64
	err := s.Exec.QueryRowContext(ctx, `
		SELECT id, guest_identity, host_identity, last_seq, created_us
		FROM inbox_conversations
		WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Parties.Guest, &c.Parties.Host, &c.LastSeq, &created)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", notFound(err))
	}
	c.CreatedAt = fromMicros(created)
	return &c, nil
}

// ListConversations implements Store.
func (s *store) ListConversations(ctx context.Context, identity string, role conversationid.Role) ([]*Conversation, error) {
	var column string
	switch role {
	case conversationid.RoleGuest:
		column = "guest_identity"
	case conversationid.RoleHost:
		column = "host_identity"
	default:
		return nil, fmt.Errorf("%w: %q", conversationid.ErrInvalidRole, role)
	}
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, guest_identity, host_identity, last_seq, created_us
		FROM inbox_conversations
		WHERE `+column+` = $1
		ORDER BY id`,
		identity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		var c Conversation
		var created int64
		if err := rows.Scan(&c.ID, &c.Parties.Guest, &c.Parties.Host, &c.LastSeq, &created); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.CreatedAt = fromMicros(created)
		convs = append(convs, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return convs, nil
}

// AppendMessage implements Store.
func (s *store) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg == nil || msg.ConversationID == "" || msg.SenderID == "" {
		return nil, fmt.Errorf("%w: conversation and sender are required", ErrInvalidMessage)
	}
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	} else {
		existing, err := s.GetMessage(ctx, stored.ID)
		switch {
		case err == nil:
			if existing.ConversationID != stored.ConversationID {
				return nil, fmt.Errorf("%w: %s", ErrIDConflict, stored.ID)
			}
			return existing, nil
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	if stored.AddedAt.IsZero() {
		stored.AddedAt = time.Now()
	}
	stored.AddedAt = stored.AddedAt.UTC().Truncate(time.Microsecond)

	if _, err := s.EnsureConversation(ctx, stored.ConversationID); err != nil {
		return nil, err
	}
	err := s.Exec.QueryRowContext(ctx, `
		UPDATE inbox_conversations
		SET last_seq = last_seq + 1
		WHERE id = $1
		RETURNING last_seq`,
		stored.ConversationID,
	).Scan(&stored.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	body, err := json.Marshal(payload{
		SenderName:   stored.SenderName,
		SenderAvatar: stored.SenderAvatar,
		Text:         stored.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message payload: %w", err)
	}
	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, conversation_id, seq, sender_id, payload, added_us)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		stored.ID,
		stored.ConversationID,
		stored.Seq,
		stored.SenderID,
		body,
		toMicros(stored.AddedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return &stored, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanMessage returns ErrCorruptPayload, wrapped, when the row was read but its payload is unusable.
func scanMessage(row scanner) (*Message, error) {
	var m Message
	var body []byte
	var added int64
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderID, &body, &added); err != nil {
		return nil, err
	}
	m.AddedAt = fromMicros(added)
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return &m, fmt.Errorf("%w: %s: %w", ErrCorruptPayload, m.ID, err)
	}
	m.SenderName, m.SenderAvatar, m.Text = p.SenderName, p.SenderAvatar, p.Text
	return &m, nil
}

func logSkipped(ctx context.Context, m *Message, err error) {
	slog.WarnContext(ctx, "messagestore: skipping undecodable message",
		"message_id", m.ID,
		"conversation_id", m.ConversationID,
		"degraded", true,
		"error", err,
	)
}

// GetMessage implements Store.
func (s *store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.Exec.QueryRowContext(ctx, `
		SELECT id, conversation_id, seq, sender_id, payload, added_us
		FROM inbox_messages
		WHERE id = $1`,
		id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, ErrCorruptPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get message: %w", notFound(err))
	}
	return m, nil
}

// ListMessages implements Store. Messages are ordered by sequence number;
// undecodable rows are logged and left out.
func (s *store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	msgs, _, err := s.queryMessages(ctx, `
		SELECT id, conversation_id, seq, sender_id, payload, added_us
		FROM inbox_messages
		WHERE conversation_id = $1
		ORDER BY seq ASC`,
		conversationID,
	)
	return msgs, err
}

func (s *store) queryMessages(ctx context.Context, query string, args ...any) ([]*Message, int, error) {
	rows, err := s.Exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []*Message{}
	skipped := 0
	for rows.Next() {
		m, err := scanMessage(rows)
		if errors.Is(err, ErrCorruptPayload) {
			logSkipped(ctx, m, err)
			skipped++
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, skipped, nil
}

// ListAll implements Store.
func (s *store) ListAll(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Conversations: map[string][]*Message{}}

	rows, err := s.Exec.QueryContext(ctx, `SELECT id FROM inbox_conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		snap.Conversations[id] = []*Message{}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	msgs, skipped, err := s.queryMessages(ctx, `
		SELECT id, conversation_id, seq, sender_id, payload, added_us
		FROM inbox_messages
		ORDER BY conversation_id, seq ASC`,
	)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		snap.Conversations[m.ConversationID] = append(snap.Conversations[m.ConversationID], m)
	}
	snap.Skipped = skipped
	snap.Degraded = skipped > 0
	return snap, nil
}

// LastMessage implements Store. It returns the decodable message with the latest
// timestamp, preferring the higher Seq on ties.
func (s *store) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT id, conversation_id, seq, sender_id, payload, added_us
		FROM inbox_messages
		WHERE conversation_id = $1
		ORDER BY added_us DESC, seq DESC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if errors.Is(err, ErrCorruptPayload) {
			logSkipped(ctx, m, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		return m, nil
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return nil, ErrNotFound
}

// CountMessages implements Store.
func (s *store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.Exec.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM inbox_messages
		WHERE conversation_id = $1`,
		conversationID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
