package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus string

const (
	StatusComplete    MessageStatus = "complete"
	StatusInterrupted MessageStatus = "interrupted"
)

// Message is a single persisted chat message
type Message struct {
	Role      Role          `json:"role" bson:"role"`
	Content   string        `json:"content" bson:"content"`
	Status    MessageStatus `json:"status,omitempty" bson:"status,omitempty"`
	PDF       string        `json:"pdf,omitempty" bson:"pdf,omitempty"`
	// Task and FileName are only set on user messages
	Task     Task   `json:"task,omitempty" bson:"task,omitempty"`
	FileName string `json:"file_name,omitempty" bson:"file_name,omitempty"`
	// Attachment is the document text an upload turn was answered from
	Attachment string    `json:"-" bson:"attachment,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// Conversation is an ordered list of turns owned by one user.
// Messages alternate user/assistant: index 2k is a question, 2k+1 its reply.
type Conversation struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Title     string    `json:"title" bson:"title"`
	Messages  []Message `json:"messages,omitempty" bson:"messages"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Turn is a user message together with the assistant reply to it
type Turn struct {
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
}

// Turns pairs up the conversation messages. A trailing unpaired message is ignored.
func (c *Conversation) Turns() []Turn {
	turns := make([]Turn, 0, len(c.Messages)/2)
	for i := 0; i+1 < len(c.Messages); i += 2 {
		turns = append(turns, Turn{User: c.Messages[i], Assistant: c.Messages[i+1]})
	}
	return turns
}

// LastTurn returns the final turn, if any
func (c *Conversation) LastTurn() (Turn, bool) {
	turns := c.Turns()
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}

// Input is what the model was asked: the document text for uploads, the message otherwise
func (m Message) Input() string {
	if m.Attachment != "" {
		return m.Attachment
	}
	return m.Content
}

// Valid reports whether the turn has the user/assistant shape the stores accept
func (t Turn) Valid() bool {
	return t.User.Role == RoleUser && t.Assistant.Role == RoleAssistant && strings.TrimSpace(t.User.Content) != ""
}

const titleMaxRunes = 60

// NewTitle builds a conversation title from the first user message
func NewTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "…"
}
