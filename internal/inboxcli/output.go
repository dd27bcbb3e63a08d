// output.go holds CLI output helpers.
package inboxcli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/messagestore"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// printSummaries renders one line per conversation: unread marker, counterpart, time label, preview.
func printSummaries(w io.Writer, list []inboxservice.ConversationSummary) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No conversations.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range list {
		name := s.Counterpart.Name
		if s.CounterpartOnline {
			name += " (online)"
		}
		unread := ""
		if s.Unread > 0 {
			unread = fmt.Sprintf("[%d]", s.Unread)
		}
		label, preview := "", "No messages yet"
		if s.LastMessage != nil {
			label, preview = s.LastMessage.TimeLabel, s.LastMessage.Preview
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", unread, name, label, preview, s.ID)
	}
	return tw.Flush()
}

func printThread(w io.Writer, thread *inboxservice.Thread) error {
	header := thread.Counterpart.Name
	if thread.CounterpartOnline {
		header += " (online)"
	}
	fmt.Fprintf(w, "%s  %s\n", header, thread.ConversationID)
	if len(thread.Messages) == 0 {
		_, err := fmt.Fprintln(w, "No messages yet.")
		return err
	}
	for _, m := range thread.Messages {
		sender := m.SenderName
		if m.Mine {
			sender = "you"
		}
		line := fmt.Sprintf("#%d %s %s: %s", m.Seq, m.AddedAt.Format("2006-01-02 15:04"), sender, m.Text)
		if m.Status != "" {
			line += fmt.Sprintf(" (%s)", m.Status)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func printMessage(w io.Writer, m *messagestore.Message) error {
	_, err := fmt.Fprintf(w, "#%d %s\n", m.Seq, m.ID)
	return err
}

func printImportReport(w io.Writer, r *messagestore.ImportReport) error {
	_, err := fmt.Fprintf(w, "conversations: %d, imported: %d, duplicates: %d, rejected: %d\n",
		r.Conversations, r.Imported, r.Duplicates, r.Rejected)
	if err == nil && r.Degraded {
		_, err = fmt.Fprintln(w, "warning: the document could not be fully parsed")
	}
	return err
}
