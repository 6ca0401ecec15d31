package fynq

import "sort"

// MergeByID combines two lists keyed by id. Every entity of both lists appears
// exactly once; when both contain an id the entity from next wins. The result
// order is unspecified, callers re-sort.
func MergeByID[T any](prev, next []T, id func(T) string) []T {
	byID := make(map[string]T, len(prev)+len(next))
	order := make([]string, 0, len(prev)+len(next))
	for _, list := range [][]T{prev, next} {
		for _, item := range list {
			k := id(item)
			if _, seen := byID[k]; !seen {
				order = append(order, k)
			}
			byID[k] = item
		}
	}

	out := make([]T, 0, len(order))
	for _, k := range order {
		out = append(out, byID[k])
	}
	return out
}

// MergeSessions merges by id and orders the result most recently active first.
func MergeSessions(prev, next []Session) []Session {
	merged := MergeByID(prev, next, func(s Session) string { return s.ID })
	SortSessions(merged)
	return merged
}

// MergeMessages merges by id and orders the result chronologically.
func MergeMessages(prev, next []Message) []Message {
	merged := MergeByID(prev, next, func(m Message) string { return m.ID })
	SortMessages(merged)
	return merged
}

// SortSessions orders by updated_at desc, then created_at desc, then id.
func SortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// SortMessages orders by created_at asc with seq breaking ties.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
}

// WithoutSession returns sessions minus the one with the given id.
func WithoutSession(sessions []Session, id string) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// WithoutMessage returns messages minus the one with the given id.
func WithoutMessage(messages []Message, id string) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
