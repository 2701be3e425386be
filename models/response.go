package models

// BaseResponse is the uniform success envelope for all endpoints
type BaseResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OK wraps data in a success envelope.
func OK(message string, data interface{}) BaseResponse {
	return BaseResponse{Success: true, Message: message, Data: data}
}

// PaginationInfo describes one page of a listing
type PaginationInfo struct {
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// NewPagination computes derived pagination fields from a total count.
func NewPagination(page, size int, total int64) PaginationInfo {
	totalPages := int((total + int64(size) - 1) / int64(size))
	return PaginationInfo{
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}
