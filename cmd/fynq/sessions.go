package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/fynq"
	"github.com/meikuraledutech/fynq/service"
)

// withChat opens the app, adopts the owner and runs fn.
func withChat(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	owner, err := opts.ownerID()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	a.chat.SetOwner(ctx, owner)
	return fn(ctx, a)
}

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"s"},
		Short:   "List and manage chat sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsShowCmd(opts),
		newSessionsArchiveCmd(opts),
		newSessionsRateCmd(opts),
		newSessionsDeleteCmd(opts),
	)
	return cmd
}

func newSessionsListCmd(opts *rootOptions) *cobra.Command {
	var (
		all    bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return withChat(cmd, opts, func(ctx context.Context, a *app) error {
				sessions := a.chat.LoadSessions(ctx, all)
				if format != formatText {
					return writeStructured(cmd.OutOrStdout(), format, sessions)
				}
				return renderSessions(cmd.OutOrStdout(), sessions)
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include archived sessions")
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format: text, json or yaml")
	return cmd
}

func newSessionsShowCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			return withChat(cmd, opts, func(ctx context.Context, a *app) error {
				a.chat.SwitchToSession(ctx, args[0])
				msgs := a.chat.Snapshot().CurrentMessages
				if format != formatText {
					return writeStructured(cmd.OutOrStdout(), format, msgs)
				}
				if len(msgs) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), dateStyle.Render("No messages."))
					return err
				}
				return renderMessages(cmd.OutOrStdout(), msgs)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatText, "Output format: text, json or yaml")
	return cmd
}

func newSessionsArchiveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <session-id>",
		Short: "Archive a session, deleting it when the store cannot archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChat(cmd, opts, func(ctx context.Context, a *app) error {
				outcome := a.chat.ArchiveSessionDetailed(ctx, args[0])
				if outcome == service.ArchiveFailed {
					return fmt.Errorf("could not archive session %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s %s.\n", args[0], outcome)
				return nil
			})
		},
	}
}

func newSessionsRateCmd(opts *rootOptions) *cobra.Command {
	var (
		rating   int
		feedback string
	)
	cmd := &cobra.Command{
		Use:   "rate <session-id>",
		Short: fmt.Sprintf("Rate a session from %d to %d", service.MinRating, service.MaxRating),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChat(cmd, opts, func(ctx context.Context, a *app) error {
				if !a.chat.RateSession(ctx, args[0], rating, feedback) {
					return fmt.Errorf("could not rate session %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s rated %d.\n", args[0], rating)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&rating, "rating", "r", 0, "Rating value")
	cmd.Flags().StringVarP(&feedback, "feedback", "f", "", "Optional feedback text")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func newSessionsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withChat(cmd, opts, func(ctx context.Context, a *app) error {
				if !a.chat.DeleteSession(ctx, args[0]) {
					return fmt.Errorf("could not delete session %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", args[0])
				return nil
			})
		},
	}
}

// sessionTitle returns the title of id in sessions, or id itself.
func sessionTitle(sessions []fynq.Session, id string) string {
	for _, s := range sessions {
		if s.ID == id {
			return s.Title
		}
	}
	return id
}
