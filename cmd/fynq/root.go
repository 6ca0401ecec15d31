package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/fynq"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string
	owner      string

	cfg *fynq.Config
	log *slog.Logger

	// tutor replaces the configured provider when set.
	tutor fynq.Tutor
}

// ownerID returns the --owner flag, falling back to FYNQ_OWNER_ID.
func (o *rootOptions) ownerID() (string, error) {
	if o.owner != "" {
		return o.owner, nil
	}
	if o.cfg != nil && o.cfg.Sync.OwnerID != "" {
		return o.cfg.Sync.OwnerID, nil
	}
	return "", fmt.Errorf("no owner: pass --owner or set FYNQ_OWNER_ID")
}

func newRootCmd(tutor fynq.Tutor) *cobra.Command {
	opts := &rootOptions{tutor: tutor}

	root := &cobra.Command{
		Use:   "fynq",
		Short: "Chat with an AI tutor and manage synced chat sessions",
		Long: `fynq keeps chat sessions and messages in step between PostgreSQL,
a local cache and the terminal.

Quick Start:
  fynq migrate up                   # Create the chat tables
  fynq chat --owner alice           # Start chatting
  fynq sessions list --owner alice  # List sessions`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fynq.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.log = newLogger(cmd.ErrOrStderr(), cfg.Log.Level)
			slog.SetDefault(opts.log)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "fynq.yaml", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.owner, "owner", "", "Owner (user) id; defaults to FYNQ_OWNER_ID")

	root.AddCommand(
		newChatCmd(opts),
		newSessionsCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// newLogger builds a text logger at the named level; unknown levels mean info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
