package fynq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func session(id string, updated time.Duration, title string) Session {
	return Session{ID: id, Title: title, CreatedAt: t0, UpdatedAt: t0.Add(updated)}
}

func message(id string, at time.Duration, seq int64, content string) Message {
	return Message{ID: id, SessionID: "s1", Seq: seq, Content: content, Sender: SenderUser, CreatedAt: t0.Add(at)}
}

func byID(sessions []Session) map[string]Session {
	out := make(map[string]Session, len(sessions))
	for _, s := range sessions {
		out[s.ID] = s
	}
	return out
}

func TestMergeSessions_Idempotent(t *testing.T) {
	a := []Session{session("a", 1, "A"), session("b", 2, "B"), session("c", 3, "C")}
	merged := MergeSessions(a, a)
	require.Len(t, merged, 3)
	require.Equal(t, byID(a), byID(merged))
}

func TestMergeSessions_NewWins(t *testing.T) {
	prev := []Session{session("a", 1, "old title"), session("b", 2, "B")}
	next := []Session{session("a", 1, "new title"), session("c", 3, "C")}

	merged := MergeSessions(prev, next)
	require.Len(t, merged, 3)
	require.Equal(t, "new title", byID(merged)["a"].Title)
	require.Contains(t, byID(merged), "b")
	require.Contains(t, byID(merged), "c")
}

func TestMergeSessions_OrdersMostRecentFirst(t *testing.T) {
	merged := MergeSessions(
		[]Session{session("old", time.Minute, "")},
		[]Session{session("new", time.Hour, ""), session("mid", 10*time.Minute, "")},
	)
	require.Equal(t, "new", merged[0].ID)
	require.Equal(t, "mid", merged[1].ID)
	require.Equal(t, "old", merged[2].ID)
}

func TestMergeMessages_OrdersChronologicallyWithSeqTieBreak(t *testing.T) {
	merged := MergeMessages(
		[]Message{message("m3", time.Second, 3, "third"), message("m1", 0, 1, "first")},
		[]Message{message("m2", time.Second, 2, "second")},
	)
	require.Equal(t, []string{"first", "second", "third"}, []string{merged[0].Content, merged[1].Content, merged[2].Content})
}

func TestMergeByID_EmptyInputs(t *testing.T) {
	require.Empty(t, MergeByID[Session](nil, nil, func(s Session) string { return s.ID }))
	merged := MergeMessages(nil, []Message{message("m1", 0, 1, "x")})
	require.Len(t, merged, 1)
}

func TestWithout(t *testing.T) {
	sessions := []Session{session("a", 0, ""), session("b", 0, "")}
	require.Len(t, WithoutSession(sessions, "a"), 1)
	require.Len(t, WithoutSession(sessions, "zzz"), 2)

	msgs := []Message{message("m1", 0, 1, ""), message("m2", 0, 2, "")}
	require.Equal(t, "m2", WithoutMessage(msgs, "m1")[0].ID)
}

func TestParseSender(t *testing.T) {
	s, err := ParseSender(" User ")
	require.NoError(t, err)
	require.Equal(t, SenderUser, s)

	s, err = ParseSender("bot")
	require.NoError(t, err)
	require.Equal(t, SenderBot, s)

	_, err = ParseSender("assistant")
	require.Error(t, err)
	require.False(t, Sender("assistant").Valid())
}

func TestIsTempID(t *testing.T) {
	require.True(t, IsTempID(TempIDPrefix+"123"))
	require.False(t, IsTempID("2b1c0c8e-0000-4000-8000-000000000000"))
}
