package models

import (
	"time"
)

type Task string

const (
	TaskSummarize Task = "summarize"
	TaskExplain   Task = "explain"
	TaskDraft     Task = "draft"
	TaskReview    Task = "review"
)

// Upload records one document a user sent for analysis
type Upload struct {
	ID             string    `json:"id" bson:"_id"`
	UserID         string    `json:"user_id" bson:"user_id"`
	ConversationID string    `json:"conv_id,omitempty" bson:"conversation_id,omitempty"`
	FileName       string    `json:"file_name" bson:"file_name"`
	Task           Task      `json:"task" bson:"task"`
	Reply          string    `json:"reply" bson:"reply"`
	PDF            string    `json:"pdf,omitempty" bson:"pdf,omitempty"`
	CreatedAt      time.Time `json:"timestamp" bson:"created_at"`
}
