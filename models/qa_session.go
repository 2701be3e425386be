package models

import (
	"time"

	"gorm.io/datatypes"
)

// Search method constants recorded on QA turns
const (
	SearchMethodKeyword  = "keyword"
	SearchMethodSemantic = "semantic"
	SearchMethodHybrid   = "hybrid"
)

// Feedback values accepted on QA turns
const (
	FeedbackHelpful    = "helpful"
	FeedbackNotHelpful = "not_helpful"
)

// QASession is the conversation header row; the title is fixed at the first turn
type QASession struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SessionID    string    `gorm:"size:50;uniqueIndex;not null" json:"session_id"`
	SessionTitle string    `gorm:"size:100" json:"session_title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (QASession) TableName() string { return "qa_sessions" }

// QAMessage is one question/answer turn within a session
type QAMessage struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	SessionID       string         `gorm:"size:50;not null;index:idx_session_order,priority:1" json:"session_id"`
	MessageOrder    int            `gorm:"not null;index:idx_session_order,priority:2" json:"message_order"`
	Question        string         `gorm:"type:text;not null" json:"question"`
	Answer          *string        `gorm:"type:text" json:"answer"`
	SourceContracts datatypes.JSON `gorm:"type:jsonb" json:"source_contracts,omitempty"`
	SourceChunks    datatypes.JSON `gorm:"type:jsonb" json:"source_chunks,omitempty"`
	PipelineTrace   datatypes.JSON `gorm:"type:jsonb" json:"pipeline_trace,omitempty"`
	SearchMethod    *string        `gorm:"size:20" json:"search_method"`
	AIResponseType  *string        `gorm:"size:20" json:"ai_response_type"`
	ResponseTimeMs  *int64         `json:"response_time_ms"`
	UserFeedback    *string        `gorm:"size:20" json:"user_feedback"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (QAMessage) TableName() string { return "qa_messages" }

// QARequest is the ask endpoint body
type QARequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

// QAAnswerData is the payload returned by the ask endpoint
type QAAnswerData struct {
	MessageID       uint     `json:"message_id"`
	SessionID       string   `json:"session_id"`
	MessageOrder    int      `json:"message_order"`
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	SearchMethod    *string  `json:"search_method"`
	SourceContracts []uint   `json:"source_contracts"`
	SourceChunks    []uint   `json:"source_chunks"`
	ResponseTimeMs  int64    `json:"response_time_ms"`
	Sources         []Source `json:"sources,omitempty"`
}

// Source describes one context chunk shown to the model
type Source struct {
	ContractID     uint    `json:"contract_id"`
	ContractNumber string  `json:"contract_number"`
	ContractName   string  `json:"contract_name"`
	ChunkID        uint    `json:"chunk_id"`
	ChunkIndex     int     `json:"chunk_index"`
	Preview        string  `json:"preview"`
	Score          float64 `json:"score"`
}

// SessionSummary is one row of the session list
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	SessionTitle    string    `json:"session_title"`
	MessageCount    int64     `json:"message_count"`
	LastMessageTime time.Time `json:"last_message_time"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionListData pairs a page of sessions with pagination info
type SessionListData struct {
	Sessions   []SessionSummary `json:"sessions"`
	Pagination PaginationInfo   `json:"pagination"`
}

// QAMessageResponse is the API projection of one persisted turn
type QAMessageResponse struct {
	ID              uint           `json:"id"`
	SessionID       string         `json:"session_id"`
	MessageOrder    int            `json:"message_order"`
	Question        string         `json:"question"`
	Answer          *string        `json:"answer"`
	SourceContracts datatypes.JSON `json:"source_contracts,omitempty"`
	SourceChunks    datatypes.JSON `json:"source_chunks,omitempty"`
	SearchMethod    *string        `json:"search_method"`
	ResponseTimeMs  *int64         `json:"response_time_ms"`
	UserFeedback    *string        `json:"user_feedback"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FeedbackRequest is the feedback endpoint body
type FeedbackRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}
