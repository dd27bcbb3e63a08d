// commands.go implements the conversation subcommands (open, send, read, list, unread, thread, import, token).
package inboxcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/libauth"
	"github.com/medstay/inbox/libtracker"
	"github.com/spf13/cobra"
)

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <guest> <host>",
		Short: "Open the conversation between a guest and a host, creating it if needed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				id, err := e.inbox.OpenOrCreateConversation(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if e.cfg.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a message as --as.",
		Long: `Send a message as the configured identity. Pass --id with a stable value when
retrying, so a repeated send returns the stored message instead of a duplicate.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			draftID, _ := cmd.Flags().GetString("id")
			if draftID == "" {
				draftID = uuid.NewString()
			}
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				identity, err := e.cfg.requireIdentity()
				if err != nil {
					return err
				}
				ctx = libtracker.WithIdentity(ctx, identity)
				msg, err := e.inbox.Send(ctx, args[0], inboxservice.Draft{
					ID:       draftID,
					SenderID: identity,
					Text:     strings.Join(args[1:], " "),
				})
				if err != nil {
					if errors.Is(err, inboxservice.ErrSendTimeout) {
						return fmt.Errorf("%w (retry with --id %s)", err, draftID)
					}
					return err
				}
				if e.cfg.JSON {
					return printJSON(cmd.OutOrStdout(), msg)
				}
				return printMessage(cmd.OutOrStdout(), msg)
			})
		},
	}
	cmd.Flags().String("id", "", "Client message id for idempotent retries (default: random)")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation read for --as.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				identity, err := e.cfg.requireIdentity()
				if err != nil {
					return err
				}
				return e.inbox.MarkRead(libtracker.WithIdentity(ctx, identity), args[0], identity)
			})
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List the conversations of --as in --role, most recent first.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				identity, err := e.cfg.requireIdentity()
				if err != nil {
					return err
				}
				role, err := e.cfg.role()
				if err != nil {
					return err
				}
				list, err := e.inbox.ListConversations(ctx, identity, role, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if e.cfg.JSON {
					return printJSON(cmd.OutOrStdout(), list)
				}
				return printSummaries(cmd.OutOrStdout(), list)
			})
		},
	}
}

func newUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the unread total of --as in --role.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				identity, err := e.cfg.requireIdentity()
				if err != nil {
					return err
				}
				role, err := e.cfg.role()
				if err != nil {
					return err
				}
				total, err := e.inbox.TotalUnread(ctx, identity, role)
				if err != nil {
					return err
				}
				if e.cfg.JSON {
					return printJSON(cmd.OutOrStdout(), map[string]int{"total": total})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), total)
				return err
			})
		},
	}
}

func newThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <conversation-id>",
		Short: "Print a conversation as --as sees it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				identity, err := e.cfg.requireIdentity()
				if err != nil {
					return err
				}
				thread, err := e.inbox.Thread(ctx, args[0], identity)
				if err != nil {
					return err
				}
				if e.cfg.JSON {
					return printJSON(cmd.OutOrStdout(), thread)
				}
				return printThread(cmd.OutOrStdout(), thread)
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a legacy browser-storage message document.",
		Long: `Import the JSON document a browser client kept under its local message key:
an object from conversation id to message arrays. Importing twice is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(ctx context.Context, e *engine) error {
				report, err := e.inbox.ImportLegacy(ctx, data)
				if err != nil {
					return err
				}
				if e.cfg.JSON {
					return printJSON(cmd.OutOrStdout(), report)
				}
				return printImportReport(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --as to call the HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
				cfg.TokenSecret = secret
			}
			identity, err := cfg.requireIdentity()
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, expiresAt, err := libauth.CreateToken(cfg.TokenSecret, identity, ttl)
			if err != nil {
				return err
			}
			if cfg.JSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"token": token, "expiresAt": expiresAt})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String("secret", "", "Signing secret (default: token_secret from config)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
