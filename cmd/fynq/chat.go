package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/fynq"
)

const chatHelp = `Commands:
  /new                  start a new chat
  /sessions             list sessions
  /switch <id>          open a session
  /image <path> <text>  ask about an image
  /quit                 leave`

func newChatCmd(opts *rootOptions) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tutor",
		Long:  "Start an interactive chat. Every message is saved as part of a session.\n\n" + chatHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			tutor := opts.tutor
			if tutor == nil {
				t, err := newTutor(opts.cfg.Tutor, opts.log)
				if err != nil {
					return err
				}
				tutor = t
			}

			return withChat(cmd, opts, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				a.chat.Hydrate(ctx)
				if sessionID != "" {
					a.chat.SwitchToSession(ctx, sessionID)
				}
				go func() {
					if err := a.chat.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.log.Warn("reconcile loop stopped", "err", err)
					}
				}()

				r := &repl{app: a, tutor: tutor, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
				return r.loop(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume a session")
	return cmd
}

// repl drives one interactive chat.
type repl struct {
	app   *app
	tutor fynq.Tutor
	in    io.Reader
	out   io.Writer
}

func (r *repl) loop(ctx context.Context) error {
	state := r.app.chat.Snapshot()
	if state.CurrentSessionID != "" {
		fmt.Fprintln(r.out, headerStyle.Render(sessionTitle(state.Sessions, state.CurrentSessionID)))
		_ = renderMessages(r.out, state.CurrentMessages)
	} else {
		fmt.Fprintln(r.out, dateStyle.Render(chatHelp))
	}

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, userStyle.Render(">")+" ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.ask(ctx, fynq.Prompt{Text: line})
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/new":
		sess := r.app.chat.StartNewChat(ctx, nil)
		if sess == nil {
			return false, errors.New("could not start a new chat")
		}
		fmt.Fprintln(r.out, headerStyle.Render(sess.Title)+" "+idStyle.Render(sess.ID))
	case "/sessions":
		return false, renderSessions(r.out, r.app.chat.LoadSessions(ctx, false))
	case "/switch":
		if rest == "" {
			return false, errors.New("usage: /switch <session-id>")
		}
		r.app.chat.SwitchToSession(ctx, rest)
		state := r.app.chat.Snapshot()
		fmt.Fprintln(r.out, headerStyle.Render(sessionTitle(state.Sessions, rest)))
		return false, renderMessages(r.out, state.CurrentMessages)
	case "/image":
		path, text, _ := strings.Cut(rest, " ")
		if path == "" {
			return false, errors.New("usage: /image <path> <text>")
		}
		img, err := readImage(path)
		if err != nil {
			return false, err
		}
		return false, r.ask(ctx, fynq.Prompt{Text: strings.TrimSpace(text), Image: img})
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// ask saves the user turn, asks the tutor with the session history and saves
// the answer.
func (r *repl) ask(ctx context.Context, prompt fynq.Prompt) error {
	history := r.app.chat.Snapshot().CurrentMessages

	text := prompt.Text
	if prompt.Image != nil && text == "" {
		text = "[image]"
	}
	if r.app.chat.AddMessage(ctx, "", text, fynq.SenderUser) == nil {
		return errors.New("message was not saved")
	}
	prompt.History = history

	reply, err := r.tutor.Reply(ctx, prompt)
	if err != nil {
		return fmt.Errorf("tutor: %w", err)
	}
	r.app.log.Debug("tutor replied", "op", "chat",
		"prompt_tokens", reply.Usage.PromptTokens,
		"response_tokens", reply.Usage.ResponseTokens,
		"total_tokens", reply.Usage.TotalTokens)

	msg := r.app.chat.AddMessage(ctx, "", reply.Content, fynq.SenderBot)
	if msg == nil {
		// Show the answer anyway; it is only missing from the history.
		msg = &fynq.Message{Content: reply.Content, Sender: fynq.SenderBot}
		r.app.log.Warn("tutor reply not saved", "op", "chat")
	}
	fmt.Fprintln(r.out, renderMessage(*msg))
	return nil
}

func readImage(path string) (*fynq.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return &fynq.Image{MIMEType: mime, Data: data}, nil
}
