package models

import (
	"time"
)

// Processing status constants shared by all pipeline stages
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Contract represents one uploaded contract document and its pipeline state
type Contract struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	ContractNumber string  `gorm:"size:50;uniqueIndex;not null" json:"contract_number"`
	ContractName   string  `gorm:"size:200;not null" json:"contract_name"`
	ContractType   *string `gorm:"size:50" json:"contract_type"`
	FileName       string  `gorm:"size:255;not null" json:"file_name"`
	FilePath       string  `gorm:"size:500;not null" json:"file_path"`
	FileSize       int64   `json:"file_size"`
	FileFormat     string  `gorm:"size:10;default:PDF" json:"file_format"`
	PageCount      *int    `json:"page_count"`
	Summary        *string `gorm:"type:text" json:"summary,omitempty"`

	UploadTime time.Time `json:"upload_time"`

	// Per-stage pipeline status, each pending|processing|completed|failed
	OCRStatus               string `gorm:"size:20;default:pending" json:"ocr_status"`
	ContentStatus           string `gorm:"size:20;default:pending" json:"content_status"`
	VectorStatus            string `gorm:"size:20;default:pending" json:"vector_status"`
	ElasticsearchSyncStatus string `gorm:"size:20;default:pending" json:"elasticsearch_sync_status"`

	// Derived artifact paths, set when OCR completes
	HTMLContentPath *string `gorm:"size:500" json:"html_content_path,omitempty"`
	TextContentPath *string `gorm:"size:500" json:"text_content_path,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Contents []ContractContent `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (Contract) TableName() string { return "contracts" }

// OverallStatus collapses the four stage statuses into one value for the
// automated-status endpoint.
func (c *Contract) OverallStatus() string {
	statuses := []string{c.OCRStatus, c.ContentStatus, c.VectorStatus, c.ElasticsearchSyncStatus}
	completed := 0
	for _, s := range statuses {
		switch s {
		case StatusFailed:
			return StatusFailed
		case StatusProcessing:
			return StatusProcessing
		case StatusCompleted:
			completed++
		}
	}
	if completed == len(statuses) {
		return StatusCompleted
	}
	return StatusPending
}

// IsProcessing reports whether any pipeline stage is currently running.
func (c *Contract) IsProcessing() bool {
	return c.OCRStatus == StatusProcessing ||
		c.ContentStatus == StatusProcessing ||
		c.VectorStatus == StatusProcessing ||
		c.ElasticsearchSyncStatus == StatusProcessing
}

// ContractStatusUpdate carries partial status changes; nil fields are untouched.
type ContractStatusUpdate struct {
	OCRStatus               *string
	ContentStatus           *string
	VectorStatus            *string
	ElasticsearchSyncStatus *string
	HTMLContentPath         *string
	TextContentPath         *string
	PageCount               *int
	Summary                 *string
}

// UploadData is the payload returned after a successful upload
type UploadData struct {
	ID             uint      `json:"id"`
	ContractNumber string    `json:"contract_number"`
	ContractName   string    `json:"contract_name"`
	ContractType   *string   `json:"contract_type"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	FileFormat     string    `json:"file_format"`
	PageCount      *int      `json:"page_count"`
	UploadTime     time.Time `json:"upload_time"`
	OCRStatus      string    `json:"ocr_status"`
}

// ContractResponse is the list/detail projection of a contract row
type ContractResponse struct {
	ID                      uint      `json:"id"`
	ContractNumber          string    `json:"contract_number"`
	ContractName            string    `json:"contract_name"`
	ContractType            *string   `json:"contract_type"`
	FileName                string    `json:"file_name"`
	FileSize                int64     `json:"file_size"`
	FileFormat              string    `json:"file_format"`
	PageCount               *int      `json:"page_count"`
	UploadTime              time.Time `json:"upload_time"`
	OCRStatus               string    `json:"ocr_status"`
	ContentStatus           string    `json:"content_status"`
	VectorStatus            string    `json:"vector_status"`
	ElasticsearchSyncStatus string    `json:"elasticsearch_sync_status"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// NewContractResponse maps a contract row to its response projection.
func NewContractResponse(c *Contract) ContractResponse {
	return ContractResponse{
		ID:                      c.ID,
		ContractNumber:          c.ContractNumber,
		ContractName:            c.ContractName,
		ContractType:            c.ContractType,
		FileName:                c.FileName,
		FileSize:                c.FileSize,
		FileFormat:              c.FileFormat,
		PageCount:               c.PageCount,
		UploadTime:              c.UploadTime,
		OCRStatus:               c.OCRStatus,
		ContentStatus:           c.ContentStatus,
		VectorStatus:            c.VectorStatus,
		ElasticsearchSyncStatus: c.ElasticsearchSyncStatus,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
}

// ContractListData pairs a page of contracts with pagination info
type ContractListData struct {
	Contracts  []ContractResponse `json:"contracts"`
	Pagination PaginationInfo     `json:"pagination"`
}

// ContractStatistics aggregates corpus-wide counters for the dashboard
type ContractStatistics struct {
	TotalContracts int64            `json:"total_contracts"`
	ByOCRStatus    map[string]int64 `json:"by_ocr_status"`
	ByVectorStatus map[string]int64 `json:"by_vector_status"`
	BySyncStatus   map[string]int64 `json:"by_elasticsearch_sync_status"`
	ByType         map[string]int64 `json:"by_contract_type"`
	TotalChunks    int64            `json:"total_chunks"`
	TotalFileSize  int64            `json:"total_file_size"`
}
