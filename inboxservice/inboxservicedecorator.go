package inboxservice

import (
	"context"

	"github.com/medstay/inbox/conversationid"
	libbus "github.com/medstay/inbox/libbus"
	"github.com/medstay/inbox/libtracker"
	"github.com/medstay/inbox/messagestore"
)

type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) OpenOrCreateConversation(ctx context.Context, guest, host string) (string, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"open",
		"conversation",
		"guest", guest,
		"host", host,
	)
	defer endFn()

	id, err := d.service.OpenOrCreateConversation(ctx, guest, host)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(id, map[string]interface{}{
			"guest": guest,
			"host":  host,
		})
	}

	return id, err
}

func (d *activityTrackerDecorator) Send(ctx context.Context, conversationID string, draft Draft) (*messagestore.Message, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"send",
		"message",
		"conversationID", conversationID,
		"senderID", draft.SenderID,
		"draftID", draft.ID,
	)
	defer endFn()

	msg, err := d.service.Send(ctx, conversationID, draft)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(msg.ID, map[string]interface{}{
			"conversationID": msg.ConversationID,
			"seq":            msg.Seq,
		})
	}

	return msg, err
}

func (d *activityTrackerDecorator) MarkRead(ctx context.Context, conversationID, identity string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"mark_read",
		"conversation",
		"conversationID", conversationID,
		"identity", identity,
	)
	defer endFn()

	err := d.service.MarkRead(ctx, conversationID, identity)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(conversationID, map[string]interface{}{
			"identity": identity,
		})
	}

	return err
}

func (d *activityTrackerDecorator) TotalUnread(ctx context.Context, identity string, role conversationid.Role) (int, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"count_unread",
		"conversation",
		"identity", identity,
		"role", role,
	)
	defer endFn()

	n, err := d.service.TotalUnread(ctx, identity, role)
	if err != nil {
		reportErrFn(err)
	}

	return n, err
}

func (d *activityTrackerDecorator) ListConversations(ctx context.Context, identity string, role conversationid.Role, query string) ([]ConversationSummary, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"conversation",
		"identity", identity,
		"role", role,
		"query", query,
	)
	defer endFn()

	list, err := d.service.ListConversations(ctx, identity, role, query)
	if err != nil {
		reportErrFn(err)
	}

	return list, err
}

func (d *activityTrackerDecorator) Thread(ctx context.Context, conversationID, viewer string) (*Thread, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"read",
		"thread",
		"conversationID", conversationID,
		"viewer", viewer,
	)
	defer endFn()

	t, err := d.service.Thread(ctx, conversationID, viewer)
	if err != nil {
		reportErrFn(err)
	}

	return t, err
}

func (d *activityTrackerDecorator) SubscribeConversation(ctx context.Context, conversationID, viewer string, ch chan<- []byte) (libbus.Subscription, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"subscribe",
		"conversation",
		"conversationID", conversationID,
		"viewer", viewer,
	)
	defer endFn()

	sub, err := d.service.SubscribeConversation(ctx, conversationID, viewer, ch)
	if err != nil {
		reportErrFn(err)
	}

	return sub, err
}

func (d *activityTrackerDecorator) SubscribeUser(ctx context.Context, identity string, ch chan<- []byte) (libbus.Subscription, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"subscribe",
		"user",
		"identity", identity,
	)
	defer endFn()

	sub, err := d.service.SubscribeUser(ctx, identity, ch)
	if err != nil {
		reportErrFn(err)
	}

	return sub, err
}

func (d *activityTrackerDecorator) ImportLegacy(ctx context.Context, data []byte) (*messagestore.ImportReport, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"import",
		"legacy_messages",
		"bytes", len(data),
	)
	defer endFn()

	report, err := d.service.ImportLegacy(ctx, data)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn("legacy", map[string]interface{}{
			"conversations": report.Conversations,
			"imported":      report.Imported,
			"duplicates":    report.Duplicates,
			"rejected":      report.Rejected,
			"degraded":      report.Degraded,
		})
	}

	return report, err
}

func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{
		service: service,
		tracker: tracker,
	}
}
