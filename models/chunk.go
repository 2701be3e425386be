package models

import (
	"time"

	"gorm.io/datatypes"
)

// Chunk type constants
const (
	ChunkTypeParagraph = "paragraph"
	ChunkTypeTable     = "table"
	ChunkTypeList      = "list"
	ChunkTypeTitle     = "title"
)

// ContractContent is one retrievable text chunk of a contract
type ContractContent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ContractID    uint           `gorm:"not null;index:idx_contract_chunk,priority:1" json:"contract_id"`
	ChunkIndex    int            `gorm:"not null;index:idx_contract_chunk,priority:2" json:"chunk_index"`
	ContentText   string         `gorm:"type:text;not null" json:"content_text"`
	ChunkType     string         `gorm:"size:20;default:paragraph" json:"chunk_type"`
	ChunkSize     int            `json:"chunk_size"`
	ChunkMetadata datatypes.JSON `gorm:"type:jsonb" json:"chunk_metadata,omitempty"`
	StartPosition *int           `json:"start_position"`
	EndPosition   *int           `json:"end_position"`
	VectorID      *string        `gorm:"size:50" json:"vector_id"`
	VectorStatus  string         `gorm:"size:20;default:pending" json:"vector_status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (ContractContent) TableName() string { return "contract_contents" }

// ChunkMetadata is the structured form of ContractContent.ChunkMetadata
type ChunkMetadata struct {
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
	ChunkLength int      `json:"chunk_length"`
	HasChinese  bool     `json:"has_chinese"`
	Keywords    []string `json:"keywords"`
}

// ChunkResponse is the API projection of a chunk row
type ChunkResponse struct {
	ID            uint           `json:"id"`
	ContractID    uint           `json:"contract_id"`
	ChunkIndex    int            `json:"chunk_index"`
	ContentText   string         `json:"content_text"`
	ChunkType     string         `json:"chunk_type"`
	ChunkSize     int            `json:"chunk_size"`
	ChunkMetadata datatypes.JSON `json:"chunk_metadata,omitempty"`
	StartPosition *int           `json:"start_position"`
	EndPosition   *int           `json:"end_position"`
	VectorID      *string        `json:"vector_id"`
	VectorStatus  string         `json:"vector_status"`
	CreatedAt     time.Time      `json:"created_at"`
	Highlights    []string       `json:"highlights,omitempty"`
}

// NewChunkResponse maps a chunk row to its response projection.
func NewChunkResponse(ch *ContractContent) ChunkResponse {
	return ChunkResponse{
		ID:            ch.ID,
		ContractID:    ch.ContractID,
		ChunkIndex:    ch.ChunkIndex,
		ContentText:   ch.ContentText,
		ChunkType:     ch.ChunkType,
		ChunkSize:     ch.ChunkSize,
		ChunkMetadata: ch.ChunkMetadata,
		StartPosition: ch.StartPosition,
		EndPosition:   ch.EndPosition,
		VectorID:      ch.VectorID,
		VectorStatus:  ch.VectorStatus,
		CreatedAt:     ch.CreatedAt,
	}
}

// ChunkListData pairs a page of chunks with pagination info
type ChunkListData struct {
	ContractID uint            `json:"contract_id"`
	Chunks     []ChunkResponse `json:"chunks"`
	Pagination PaginationInfo  `json:"pagination"`
}

// ChunkSearchHit is one content-search result with highlight and score
type ChunkSearchHit struct {
	ID              uint       `json:"id"`
	ChunkIndex      int        `json:"chunk_index"`
	ContentText     string     `json:"content_text"`
	HighlightedText string     `json:"highlighted_text"`
	ChunkType       string     `json:"chunk_type"`
	ChunkSize       int        `json:"chunk_size"`
	RelevanceScore  float64    `json:"relevance_score"`
	ContractID      uint       `json:"contract_id,omitempty"`
	ContractNumber  string     `json:"contract_number,omitempty"`
	ContractName    string     `json:"contract_name,omitempty"`
	FileName        string     `json:"file_name,omitempty"`
	FileFormat      string     `json:"file_format,omitempty"`
	UploadTime      *time.Time `json:"upload_time,omitempty"`
	ContractType    string     `json:"contract_type,omitempty"`
}

// ChunkSearchData is the content-search payload; search_engine names the
// backend that served the query (elasticsearch or sql)
type ChunkSearchData struct {
	Query        string           `json:"query"`
	SearchEngine string           `json:"search_engine"`
	Chunks       []ChunkSearchHit `json:"chunks"`
	Pagination   PaginationInfo   `json:"pagination"`
}
