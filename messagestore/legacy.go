package messagestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medstay/inbox/conversationid"
)

// legacyNamespace seeds the ids of imported legacy messages.
var legacyNamespace = uuid.MustParse("6f1c62a4-8f0e-4a55-9c43-2f4f3b1f0c11")

type legacyMessage struct {
	ID           json.RawMessage `json:"id"`
	SenderID     string          `json:"senderId"`
	SenderName   string          `json:"senderName"`
	SenderAvatar string          `json:"senderAvatar"`
	Text         string          `json:"text"`
	Timestamp    string          `json:"timestamp"`
}

// ImportReport summarizes an ImportLegacy run.
type ImportReport struct {
	Conversations int  `json:"conversations"`
	Imported      int  `json:"imported"`
	Duplicates    int  `json:"duplicates"`
	Rejected      int  `json:"rejected"`
	Degraded      bool `json:"degraded"`
}

// ImportLegacy loads a browser-era chat_messages document, a JSON object mapping
// conversation ids to message arrays, into s. A document that cannot be parsed
// yields an empty, degraded report rather than an error. Entries that are
// unusable on their own are counted as rejected. Re-importing the same document
// adds nothing.
func ImportLegacy(ctx context.Context, s Store, data []byte) (*ImportReport, error) {
	report := &ImportReport{}
	var doc map[string][]legacyMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.WarnContext(ctx, "messagestore: legacy document is unreadable, importing nothing",
			"degraded", true,
			"error", err,
		)
		report.Degraded = true
		return report, nil
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, convID := range ids {
		entries := doc[convID]
		parties, err := conversationid.ParseID(convID)
		if err != nil {
			slog.WarnContext(ctx, "messagestore: skipping legacy conversation", "conversation_id", convID, "error", err)
			report.Rejected += len(entries)
			continue
		}
		if _, err := s.EnsureConversation(ctx, convID); err != nil {
			return report, err
		}
		report.Conversations++

		msgs := make([]*Message, 0, len(entries))
		for _, e := range entries {
			m, ok := fromLegacy(convID, parties, e)
			if !ok {
				report.Rejected++
				continue
			}
			msgs = append(msgs, m)
		}
		slices.SortStableFunc(msgs, func(a, b *Message) int { return a.AddedAt.Compare(b.AddedAt) })

		for _, m := range msgs {
			_, err := s.GetMessage(ctx, m.ID)
			switch {
			case err == nil:
				report.Duplicates++
				continue
			case !errors.Is(err, ErrNotFound):
				return report, err
			}
			if _, err := s.AppendMessage(ctx, m); err != nil {
				if errors.Is(err, ErrIDConflict) {
					report.Rejected++
					continue
				}
				return report, err
			}
			report.Imported++
		}
	}
	return report, nil
}

func fromLegacy(convID string, parties conversationid.Parties, e legacyMessage) (*Message, bool) {
	if strings.TrimSpace(e.Text) == "" {
		return nil, false
	}
	if _, ok := parties.RoleOf(e.SenderID); !ok {
		return nil, false
	}
	at, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return nil, false
	}
	// Browser ids were only unique per conversation, so they are folded into
	// a conversation-scoped uuid.
	seed := convID + "|" + legacyID(e.ID)
	if legacyID(e.ID) == "" {
		seed = convID + "|" + e.SenderID + "|" + e.Timestamp + "|" + e.Text
	}
	id := uuid.NewSHA1(legacyNamespace, []byte(seed)).String()
	return &Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       e.SenderID,
		SenderName:     e.SenderName,
		SenderAvatar:   e.SenderAvatar,
		Text:           e.Text,
		AddedAt:        at,
	}, true
}

// legacyID accepts both string ids and the numeric ids the browser client generated.
func legacyID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
