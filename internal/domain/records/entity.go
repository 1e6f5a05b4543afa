package records

import "time"

// Publication is one confirmed, on-chain registered analysis.
type Publication struct {
	MetadataCID  string    `json:"metadata_cid"`
	SubmissionID string    `json:"submission_id"`
	TxHandle     string    `json:"tx_handle"`
	BlockNumber  uint64    `json:"block_number"`
	ExplorerURL  string    `json:"explorer_url,omitempty"`
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	MimeType     string    `json:"mime_type"`
	Visibility   string    `json:"visibility"`
	QualityScore float64   `json:"quality_score"`
	AnomalyCount int       `json:"anomaly_count"`
	BiasScore    float64   `json:"bias_score"`
	Synthetic    bool      `json:"synthetic"`
	ConfirmedAt  time.Time `json:"confirmed_at"`
}

// BrowseQuery filters the public listing. A nil BiasMax means no bias limit;
// Search matches part of the file name, case-insensitively.
type BrowseQuery struct {
	QualityMin float64
	BiasMax    *float64
	Search     string
	Page       int
	PageSize   int
}

// Page is a page of publications
type Page struct {
	Data        []*Publication `json:"data"`
	Page        int            `json:"page"`
	PageSize    int            `json:"pageSize"`
	TotalCount  int            `json:"totalCount"`
	TotalPages  int            `json:"totalPages"`
	HasNext     bool           `json:"hasNext"`
	HasPrevious bool           `json:"hasPrevious"`
}

// NewPage fills the pagination totals for one page of a listing of total rows.
func NewPage(data []*Publication, page, pageSize, total int) Page {
	if data == nil {
		data = []*Publication{}
	}
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Page{
		Data:        data,
		Page:        page,
		PageSize:    pageSize,
		TotalCount:  total,
		TotalPages:  pages,
		HasNext:     page < pages,
		HasPrevious: page > 1,
	}
}
