package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/fynq"
)

type fakeTutor struct {
	mu      sync.Mutex
	prompts []fynq.Prompt
}

func (f *fakeTutor) Reply(_ context.Context, p fynq.Prompt) (*fynq.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return &fynq.Reply{Content: "answer to " + p.Text}, nil
}

// offline points the CLI at in-memory stores only.
func offline(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("FYNQ_CACHE_DRIVER", "memory")
	t.Setenv("FYNQ_METRICS_ADDR", "")
	t.Setenv("FYNQ_OWNER_ID", "")
	t.Setenv("FYNQ_LOG_LEVEL", "error")
}

func run(t *testing.T, tutor fynq.Tutor, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(tutor)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestChatPersistsBothTurns(t *testing.T) {
	offline(t)
	tutor := &fakeTutor{}

	out, err := run(t, tutor, "hello\nand again\n/sessions\n/quit\n", "chat", "--owner", "alice")
	require.NoError(t, err)

	assert.Contains(t, out, "answer to hello")
	assert.Contains(t, out, "answer to and again")
	assert.Contains(t, out, fynq.DefaultTitle)

	require.Len(t, tutor.prompts, 2)
	assert.Empty(t, tutor.prompts[0].History)
	// user + bot turns of the first exchange
	require.Len(t, tutor.prompts[1].History, 2)
	assert.Equal(t, fynq.SenderUser, tutor.prompts[1].History[0].Sender)
	assert.Equal(t, "answer to hello", tutor.prompts[1].History[1].Content)
}

func TestChatUnknownCommandKeepsGoing(t *testing.T) {
	offline(t)
	out, err := run(t, &fakeTutor{}, "/bogus\n/image\n/quit\n", "chat", "--owner", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown command /bogus")
	assert.Contains(t, out, "usage: /image")
}

func TestSessionsListJSON(t *testing.T) {
	offline(t)
	out, err := run(t, nil, "", "sessions", "list", "--owner", "bob", "-o", "json")
	require.NoError(t, err)

	var sessions []fynq.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sessions))
	assert.Empty(t, sessions)
}

func TestSessionsRequireOwner(t *testing.T) {
	offline(t)
	_, err := run(t, nil, "", "sessions", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no owner")
}

func TestSessionsRejectUnknownFormat(t *testing.T) {
	offline(t)
	_, err := run(t, nil, "", "sessions", "list", "--owner", "bob", "-o", "xml")
	require.Error(t, err)
}

func TestDeleteUnknownSessionFails(t *testing.T) {
	offline(t)
	_, err := run(t, nil, "", "sessions", "delete", "nope", "--owner", "bob")
	require.Error(t, err)
}

func TestMigrateNeedsDatabase(t *testing.T) {
	offline(t)
	_, err := run(t, nil, "", "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
