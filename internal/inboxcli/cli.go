// cli.go holds the inbox CLI entrypoint (Main), the root command, and its flags.
package inboxcli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/medstay/inbox/libtracker"
	"github.com/spf13/cobra"
)

// Main runs the inbox CLI until the command returns or the process is interrupted.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = libtracker.WithNewRequestID(ctx)
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "inbox",
		Short: "Guest and host messaging from the terminal.",
		Long: `Inbox reads and writes guest/host conversations against a local SQLite store.
Point it at NATS and Valkey to share events and presence with a running inboxd.

  Quickstart:
    inbox init                                   # scaffold .inbox/config.yaml
    inbox --as ana@example.com open ana@example.com harbor@example.com
    inbox --as ana@example.com send ana@example.com___harbor@example.com "Is parking included?"
    inbox --as harbor@example.com list --role host
    inbox --as harbor@example.com read ana@example.com___harbor@example.com`,
		SilenceUsage: true,
	}

	f := rootCmd.PersistentFlags()
	f.String("config", "", "Config file (default: ./.inbox/config.yaml, then ~/.inbox/config.yaml)")
	f.String("db", "", "SQLite database path (default: .inbox/inbox.db)")
	f.String("as", "", "Identity to act as (email or phone)")
	f.String("role", "", "Role for list and unread: guest or host (default guest)")
	f.String("nats", "", "NATS URL for change events (default: in-process)")
	f.String("kv", "", "Valkey address for presence (default: in-process)")
	f.String("directory", "", "YAML user directory with names and avatars")
	f.String("tz", "", "Time zone for time labels (default: local)")
	f.Bool("trace", false, "Log every operation on stderr")
	f.Bool("json", false, "Print JSON instead of text")

	rootCmd.AddCommand(
		newInitCmd(),
		newOpenCmd(),
		newSendCmd(),
		newReadCmd(),
		newListCmd(),
		newUnreadCmd(),
		newThreadCmd(),
		newImportCmd(),
		newTokenCmd(),
		newWatchCmd(),
	)
	rootCmd.InitDefaultHelpCmd()
	return rootCmd
}

// withEngine resolves the config, opens the engine and runs fn with it.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
