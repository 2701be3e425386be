package models

import (
	"time"

	"gorm.io/datatypes"
)

// SearchLog records one retrieval request for usage analysis
type SearchLog struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SearchQuery   string         `gorm:"size:500;not null" json:"search_query"`
	SearchType    string         `gorm:"size:20" json:"search_type"`
	ResultsCount  int            `json:"results_count"`
	SearchTimeMs  int64          `json:"search_time_ms"`
	SearchResults datatypes.JSON `gorm:"type:jsonb" json:"search_results,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

func (SearchLog) TableName() string { return "search_logs" }
