package inboxservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/medstay/inbox/conversationid"
	libbus "github.com/medstay/inbox/libbus"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libroutine"
	"github.com/medstay/inbox/libtracker"
	"github.com/medstay/inbox/messagestatus"
	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/readcursor"
	"github.com/medstay/inbox/userdirectory"
)

var (
	ErrEmptyMessage   = errors.New("inbox: message text is empty")
	ErrNotParticipant = errors.New("inbox: identity is not a participant of the conversation")
	// ErrSendTimeout means the message may or may not have been stored. Retrying
	// with the same draft ID is safe.
	ErrSendTimeout = errors.New("inbox: send timed out")
)

const (
	DefaultSendTimeout = 5 * time.Second
	publishTimeout     = 2 * time.Second
)

// Draft is a message as submitted by its sender. ID is optional; clients that
// retry should set it so a retry cannot produce a duplicate.
type Draft struct {
	ID           string `json:"id,omitempty"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName,omitempty"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
	Text         string `json:"text"`
}

// LastMessage is the preview shown in a conversation list row.
type LastMessage struct {
	SenderID  string    `json:"senderId"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
	TimeLabel string    `json:"timeLabel"`
}

type ConversationSummary struct {
	ID                string              `json:"id"`
	Role              conversationid.Role `json:"role"`
	Counterpart       userdirectory.User  `json:"counterpart"`
	CounterpartOnline bool                `json:"counterpartOnline"`
	LastMessage       *LastMessage        `json:"lastMessage,omitempty"`
	Unread            int                 `json:"unread"`
}

type ThreadMessage struct {
	*messagestore.Message
	Mine   bool                 `json:"mine"`
	Status messagestatus.Status `json:"status,omitempty"`
}

type Thread struct {
	ConversationID    string              `json:"conversationId"`
	Viewer            string              `json:"viewer"`
	Role              conversationid.Role `json:"role"`
	Counterpart       userdirectory.User  `json:"counterpart"`
	CounterpartOnline bool                `json:"counterpartOnline"`
	Messages          []ThreadMessage     `json:"messages"`
	Unread            int                 `json:"unread"`
}

type Service interface {
	// OpenOrCreateConversation returns the id of the conversation between guest
	// and host, creating it on first use.
	OpenOrCreateConversation(ctx context.Context, guest, host string) (string, error)
	Send(ctx context.Context, conversationID string, draft Draft) (*messagestore.Message, error)
	MarkRead(ctx context.Context, conversationID, identity string) error
	TotalUnread(ctx context.Context, identity string, role conversationid.Role) (int, error)
	// ListConversations returns the conversations identity takes part in under
	// role, most recently active first. A non-empty query keeps only rows whose
	// counterpart name or last message contains it, ignoring case.
	ListConversations(ctx context.Context, identity string, role conversationid.Role, query string) ([]ConversationSummary, error)
	Thread(ctx context.Context, conversationID, viewer string) (*Thread, error)
	SubscribeConversation(ctx context.Context, conversationID, viewer string, ch chan<- []byte) (libbus.Subscription, error)
	SubscribeUser(ctx context.Context, identity string, ch chan<- []byte) (libbus.Subscription, error)
	ImportLegacy(ctx context.Context, data []byte) (*messagestore.ImportReport, error)
}

type Config struct {
	SendTimeout   time.Duration
	PreviewLength int
	// Location renders time labels. Defaults to time.Local.
	Location *time.Location
}

type Option func(*service)

// WithClock replaces the wall clock. Message and cursor stamps are still made
// strictly increasing on top of it.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.wall = now
		s.clock = NewMonotonicClock(now)
	}
}

// WithPublishBreaker sets the circuit breaker guarding event publishing.
func WithPublishBreaker(r *libroutine.Routine) Option {
	return func(s *service) { s.breaker = r }
}

type service struct {
	dbInstance libdb.DBManager
	bus        libbus.Messenger
	presence   presence.Service
	directory  userdirectory.Directory
	cfg        Config
	clock      Clock
	wall       func() time.Time
	breaker    *libroutine.Routine
}

func New(db libdb.DBManager, bus libbus.Messenger, presenceSvc presence.Service, directory userdirectory.Directory, cfg Config, opts ...Option) Service {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if directory == nil {
		directory = userdirectory.NewStatic()
	}
	s := &service{
		dbInstance: db,
		bus:        bus,
		presence:   presenceSvc,
		directory:  directory,
		cfg:        cfg,
		clock:      NewMonotonicClock(time.Now),
		wall:       time.Now,
		breaker:    libroutine.NewRoutine(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) OpenOrCreateConversation(ctx context.Context, guest, host string) (string, error) {
	id, err := conversationid.MakeID(guest, host)
	if err != nil {
		return "", err
	}
	created, err := messagestore.New(s.dbInstance.WithoutTransaction()).EnsureConversation(ctx, id)
	if err != nil {
		return "", err
	}
	if created {
		s.publish(ctx, Event{Kind: EventConversationOpened, ConversationID: id, Actor: libtracker.Identity(ctx), At: s.wall().UTC()})
	}
	return id, nil
}

func (s *service) Send(ctx context.Context, conversationID string, draft Draft) (*messagestore.Message, error) {
	text := strings.TrimSpace(draft.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	parties, err := conversationid.ParseID(conversationID)
	if err != nil {
		return nil, err
	}
	if _, ok := parties.RoleOf(draft.SenderID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, draft.SenderID)
	}
	if draft.SenderName == "" || draft.SenderAvatar == "" {
		u := s.directory.Lookup(draft.SenderID)
		if draft.SenderName == "" {
			draft.SenderName = u.Name
		}
		if draft.SenderAvatar == "" {
			draft.SenderAvatar = u.Avatar
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	var stored *messagestore.Message
	err = s.inTx(sendCtx, func(exec libdb.Exec) error {
		var err error
		stored, err = messagestore.New(exec).AppendMessage(sendCtx, &messagestore.Message{
			ID:             draft.ID,
			ConversationID: conversationID,
			SenderID:       draft.SenderID,
			SenderName:     draft.SenderName,
			SenderAvatar:   draft.SenderAvatar,
			Text:           text,
			AddedAt:        s.clock.Now(),
		})
		return err
	})
	if err != nil && draft.ID != "" && errors.Is(err, libdb.ErrUniqueViolation) {
		// A concurrent retry of the same draft won the insert.
		stored, err = messagestore.New(s.dbInstance.WithoutTransaction()).GetMessage(ctx, draft.ID)
		if err == nil && stored.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: %s", messagestore.ErrIDConflict, draft.ID)
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", ErrSendTimeout, err)
		}
		return nil, err
	}

	s.publish(ctx, Event{
		Kind:           EventMessageSent,
		ConversationID: conversationID,
		Actor:          stored.SenderID,
		Seq:            stored.Seq,
		At:             stored.AddedAt,
	})
	return stored, nil
}

func (s *service) MarkRead(ctx context.Context, conversationID, identity string) error {
	if err := s.checkParticipant(conversationID, identity); err != nil {
		return err
	}
	var cursor time.Time
	err := s.inTx(ctx, func(exec libdb.Exec) error {
		store := messagestore.New(exec)
		if _, err := store.GetConversation(ctx, conversationID); err != nil {
			return err
		}
		at := s.clock.Now()
		// Messages stamped by another node may be slightly ahead of this clock.
		last, err := store.LastMessage(ctx, conversationID)
		switch {
		case err == nil:
			if last.AddedAt.After(at) {
				at = last.AddedAt
			}
		case !errors.Is(err, messagestore.ErrNotFound):
			return err
		}
		cursor, err = readcursor.New(exec).MarkRead(ctx, conversationID, identity, at)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, Event{Kind: EventConversationRead, ConversationID: conversationID, Actor: identity, At: cursor})
	return nil
}

func (s *service) TotalUnread(ctx context.Context, identity string, role conversationid.Role) (int, error) {
	if err := conversationid.ValidateIdentity(identity); err != nil {
		return 0, err
	}
	exec := s.dbInstance.WithoutTransaction()
	store := messagestore.New(exec)
	convs, err := store.ListConversations(ctx, identity, role)
	if err != nil {
		return 0, err
	}
	cursors, err := readcursor.New(exec).Cursors(ctx, identity)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range convs {
		msgs, err := store.ListMessages(ctx, c.ID)
		if err != nil {
			return 0, err
		}
		total += readcursor.CountUnread(msgs, identity, cursors[c.ID])
	}
	return total, nil
}

func (s *service) ListConversations(ctx context.Context, identity string, role conversationid.Role, query string) ([]ConversationSummary, error) {
	if err := conversationid.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	exec := s.dbInstance.WithoutTransaction()
	store := messagestore.New(exec)
	convs, err := store.ListConversations(ctx, identity, role)
	if err != nil {
		return nil, err
	}
	cursors, err := readcursor.New(exec).Cursors(ctx, identity)
	if err != nil {
		return nil, err
	}
	online := s.onlineSet(ctx)
	now := s.wall()

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		msgs, err := store.ListMessages(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		counterpart := c.Parties.Counterpart(role)
		sum := ConversationSummary{
			ID:                c.ID,
			Role:              role,
			Counterpart:       s.directory.Lookup(counterpart),
			CounterpartOnline: online.Contains(counterpart),
			Unread:            readcursor.CountUnread(msgs, identity, cursors[c.ID]),
		}
		if last := newest(msgs); last != nil {
			sum.LastMessage = &LastMessage{
				SenderID:  last.SenderID,
				Preview:   Preview(last.Text, s.cfg.PreviewLength),
				Timestamp: last.AddedAt,
				TimeLabel: TimeLabel(last.AddedAt, now, s.cfg.Location),
			}
			if !matches(query, sum.Counterpart.Name, last.Text) {
				continue
			}
		} else if !matches(query, sum.Counterpart.Name) {
			continue
		}
		summaries = append(summaries, sum)
	}
	slices.SortStableFunc(summaries, compareSummaries)
	return summaries, nil
}

// newest returns the message with the latest timestamp. Imported history can
// carry a higher Seq than messages written after it, so Seq only breaks ties.
func newest(msgs []*messagestore.Message) *messagestore.Message {
	var last *messagestore.Message
	for _, m := range msgs {
		if last == nil || m.AddedAt.After(last.AddedAt) || (m.AddedAt.Equal(last.AddedAt) && m.Seq > last.Seq) {
			last = m
		}
	}
	return last
}

func matches(query string, fields ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// compareSummaries orders by last activity, newest first. Conversations without
// messages go last.
func compareSummaries(a, b ConversationSummary) int {
	switch {
	case a.LastMessage == nil && b.LastMessage == nil:
		return strings.Compare(a.ID, b.ID)
	case a.LastMessage == nil:
		return 1
	case b.LastMessage == nil:
		return -1
	}
	if c := b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func (s *service) Thread(ctx context.Context, conversationID, viewer string) (*Thread, error) {
	parties, err := conversationid.ParseID(conversationID)
	if err != nil {
		return nil, err
	}
	role, ok := parties.RoleOf(viewer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, viewer)
	}
	counterpart := parties.Counterpart(role)

	exec := s.dbInstance.WithoutTransaction()
	msgs, err := messagestore.New(exec).ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	cursors := readcursor.New(exec)
	online := s.onlineSet(ctx)
	statuses, err := messagestatus.NewResolver(cursors).ResolveThread(ctx, msgs, viewer, counterpart, online)
	if err != nil {
		return nil, err
	}
	own, err := cursors.Cursor(ctx, conversationID, viewer)
	if err != nil {
		return nil, err
	}

	t := &Thread{
		ConversationID:    conversationID,
		Viewer:            viewer,
		Role:              role,
		Counterpart:       s.directory.Lookup(counterpart),
		CounterpartOnline: online.Contains(counterpart),
		Messages:          make([]ThreadMessage, 0, len(msgs)),
		Unread:            readcursor.CountUnread(msgs, viewer, own),
	}
	for _, m := range msgs {
		t.Messages = append(t.Messages, ThreadMessage{
			Message: m,
			Mine:    m.SenderID == viewer,
			Status:  statuses[m.ID],
		})
	}
	return t, nil
}

func (s *service) SubscribeConversation(ctx context.Context, conversationID, viewer string, ch chan<- []byte) (libbus.Subscription, error) {
	if err := s.checkParticipant(conversationID, viewer); err != nil {
		return nil, err
	}
	return s.bus.Stream(ctx, ConversationSubject(conversationID), ch)
}

func (s *service) SubscribeUser(ctx context.Context, identity string, ch chan<- []byte) (libbus.Subscription, error) {
	if err := conversationid.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	return s.bus.Stream(ctx, UserSubject(identity), ch)
}

func (s *service) ImportLegacy(ctx context.Context, data []byte) (*messagestore.ImportReport, error) {
	var report *messagestore.ImportReport
	err := s.inTx(ctx, func(exec libdb.Exec) error {
		var err error
		report, err = messagestore.ImportLegacy(ctx, messagestore.New(exec), data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *service) checkParticipant(conversationID, identity string) error {
	parties, err := conversationid.ParseID(conversationID)
	if err != nil {
		return err
	}
	if _, ok := parties.RoleOf(identity); !ok {
		return fmt.Errorf("%w: %s", ErrNotParticipant, identity)
	}
	return nil
}

// onlineSet degrades to "nobody online" when presence cannot be read.
func (s *service) onlineSet(ctx context.Context) presence.OnlineSet {
	if s.presence == nil {
		return presence.OnlineSet{}
	}
	online, err := s.presence.OnlineSet(ctx)
	if err != nil {
		slog.WarnContext(ctx, "inbox: presence unavailable, treating everyone as offline", "error", err)
		return presence.OnlineSet{}
	}
	return online
}

func (s *service) inTx(ctx context.Context, fn func(exec libdb.Exec) error) error {
	exec, commit, release, err := s.dbInstance.WithTransaction(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := fn(exec); err != nil {
		return err
	}
	return commit(ctx)
}

// publish is best-effort: the change is already committed, and subscribers
// that miss an event catch up on their next read.
func (s *service) publish(ctx context.Context, ev Event) {
	if s.bus == nil {
		return
	}
	parties, err := conversationid.ParseID(ev.ConversationID)
	if err != nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "inbox: failed to encode event", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(libtracker.CopyTrackingValues(ctx, context.Background()), publishTimeout)
	defer cancel()
	subjects := []string{
		ConversationSubject(ev.ConversationID),
		UserSubject(parties.Guest),
		UserSubject(parties.Host),
	}
	err = s.breaker.Execute(pubCtx, func(ctx context.Context) error {
		var errs []error
		for _, subject := range subjects {
			if err := s.bus.Publish(ctx, subject, data); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		slog.WarnContext(ctx, "inbox: failed to publish change event",
			"kind", ev.Kind,
			"conversation_id", ev.ConversationID,
			"error", err,
		)
	}
}
