package remote

// Health is the body of GET /.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Stats are the remote service's own counters.
type Stats struct {
	TotalDocuments int `json:"total_documents"`
	TotalQueries   int `json:"total_queries"`
	IndexSize      int `json:"index_size,omitempty"`
}

// HistoryRecord is one past question/answer as returned by GET /history.
// Timestamp is kept raw because the service emits ISO-8601 with or without
// a zone offset.
type HistoryRecord struct {
	Question              string  `json:"question"`
	Answer                string  `json:"answer"`
	Timestamp             string  `json:"timestamp"`
	RetrievedDocuments    int     `json:"retrieved_documents"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

type historyResponse struct {
	History []HistoryRecord `json:"history"`
}

// UploadResult is the body of a successful POST /upload.
type UploadResult struct {
	Message       string `json:"message"`
	ChunksCreated int    `json:"chunks_created"`
	Type          string `json:"type"`
	Filename      string `json:"filename,omitempty"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// Source is one ranked excerpt backing an answer.
type Source struct {
	File       string  `json:"file"`
	Type       string  `json:"type"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}

// Answer is the body of a successful POST /query.
type Answer struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ProcessingTime float64  `json:"processing_time,omitempty"`
}
