package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/meikuraledutech/fynq"
)

// Output formats accepted by -o.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			Padding(0, 1)

	botStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true).
			Padding(0, 1)

	contentStyle = lipgloss.NewStyle().
			Padding(0, 2)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

func checkFormat(f string) error {
	switch f {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", f)
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func renderSessions(w io.Writer, sessions []fynq.Session) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, dateStyle.Render("No sessions."))
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("ID")+"\t"+headerStyle.Render("TITLE")+"\t"+headerStyle.Render("UPDATED")+"\t"+headerStyle.Render("RATING"))
	for _, s := range sessions {
		title := s.Title
		if s.IsArchived {
			title += " (archived)"
		}
		rating := "-"
		if s.Rating != nil {
			rating = fmt.Sprintf("%d/%d", *s.Rating, 5)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			idStyle.Render(s.ID),
			titleStyle.Render(title),
			dateStyle.Render(formatTime(s.UpdatedAt)),
			rating,
		)
	}
	return tw.Flush()
}

func renderMessage(m fynq.Message) string {
	label := userStyle.Render("You")
	if m.Sender == fynq.SenderBot {
		label = botStyle.Render("Tutor")
	}
	header := label + " " + dateStyle.Render(formatTime(m.CreatedAt))
	if fynq.IsTempID(m.ID) {
		header += " " + pendingStyle.Render("sending...")
	}
	return header + "\n" + contentStyle.Render(strings.TrimSpace(m.Content))
}

func renderMessages(w io.Writer, msgs []fynq.Message) error {
	for _, m := range msgs {
		if _, err := fmt.Fprintln(w, renderMessage(m)); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
