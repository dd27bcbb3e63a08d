// watch_cmd.go implements inbox watch: stay online and print change events.
package inboxcli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/medstay/inbox/inboxservice"
	libbus "github.com/medstay/inbox/libbus"
	"github.com/medstay/inbox/libtracker"
	"github.com/medstay/inbox/presence"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [conversation-id]",
		Short: "Stay online as --as and print change events until interrupted.",
		Long: `Beat presence for --as while running and print one line per change event, either
for one conversation or for every conversation --as takes part in. Leaving removes
the presence entry right away. Configure nats_url and kv_addr to see what other
clients and inboxd do.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				identity, err := e.cfg.requireIdentity()
				if err != nil {
					return err
				}
				ctx = libtracker.WithIdentity(ctx, identity)

				events := make(chan []byte, 32)
				var sub libbus.Subscription
				if len(args) == 1 {
					sub, err = e.inbox.SubscribeConversation(ctx, args[0], identity, events)
				} else {
					sub, err = e.inbox.SubscribeUser(ctx, identity, events)
				}
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()

				heartbeater := presence.NewHeartbeater(e.presence, identity)
				heartbeater.Start(ctx)
				defer heartbeater.Stop(context.WithoutCancel(ctx))

				if len(resumeSignals) > 0 {
					sigs := make(chan os.Signal, 1)
					signal.Notify(sigs, resumeSignals...)
					defer signal.Stop(sigs)
					go resumeOn(ctx, sigs, heartbeater.Resume)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "watching as %s (Ctrl-C to stop)\n", identity)
				for {
					select {
					case <-ctx.Done():
						return nil
					case data := <-events:
						if e.cfg.JSON {
							fmt.Fprintln(out, string(data))
							continue
						}
						var event inboxservice.Event
						if err := json.Unmarshal(data, &event); err != nil {
							fmt.Fprintf(out, "unreadable event: %s\n", data)
							continue
						}
						fmt.Fprintln(out, formatEvent(event))
					}
				}
			})
		},
	}
}

// resumeOn calls resume for every signal until ctx ends. A process that was
// stopped (laptop asleep, job suspended) beats again as soon as it continues
// instead of waiting out the rest of the interval.
func resumeOn(ctx context.Context, sigs <-chan os.Signal, resume func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			resume()
		}
	}
}

func formatEvent(event inboxservice.Event) string {
	line := fmt.Sprintf("%s %s %s by %s", event.At.Local().Format(time.TimeOnly), event.Kind, event.ConversationID, event.Actor)
	if event.Seq > 0 {
		line += fmt.Sprintf(" #%d", event.Seq)
	}
	return line
}
