package models

// RequestLog stores one upstream mail API call for the monitor.
type RequestLog struct {
	ID        string `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"index" json:"request_id"`
	Timestamp int64  `gorm:"index" json:"timestamp"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Status    int    `json:"status"`
	Duration  int64  `json:"duration"` // milliseconds
	Attempts  int    `json:"attempts"`
	Provider  string `gorm:"index" json:"provider,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RequestStats holds aggregated statistics for request logs
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
