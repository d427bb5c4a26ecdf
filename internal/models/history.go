package models

import (
	"sort"
	"time"
)

// HistoryEntry is one chat turn in a user's activity feed
type HistoryEntry struct {
	ConversationID string    `json:"conv_id"`
	Message        string    `json:"message"`
	Reply          string    `json:"reply"`
	PDF            string    `json:"pdf,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SortHistory orders entries newest first and truncates to limit (<= 0 means no limit)
func SortHistory(entries []HistoryEntry, limit int) []HistoryEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ConversationHistory flattens a conversation into history entries
func ConversationHistory(c *Conversation) []HistoryEntry {
	turns := c.Turns()
	out := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		out = append(out, HistoryEntry{
			ConversationID: c.ID,
			Message:        t.User.Content,
			Reply:          t.Assistant.Content,
			PDF:            t.Assistant.PDF,
			FileName:       t.User.FileName,
			Timestamp:      t.Assistant.CreatedAt,
		})
	}
	return out
}
