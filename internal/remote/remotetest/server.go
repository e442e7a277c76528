// Package remotetest provides an in-memory stand-in for the remote
// indexing/answering service, for use in tests.
package remotetest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ragdesk/internal/remote"
)

// RejectError makes a handler respond with a non-2xx status and a detail.
type RejectError struct {
	Status int
	Detail string
}

func (e *RejectError) Error() string { return e.Detail }

// UploadFunc decides the outcome of an upload. Returning a *RejectError sets
// the response status; any other error becomes a 500.
type UploadFunc func(fileName string, data []byte) (remote.UploadResult, error)

// QueryFunc decides the outcome of a query. It may block on ctx to simulate
// slow answers.
type QueryFunc func(ctx context.Context, req remote.QueryRequest) (remote.Answer, error)

// Server is a fake remote service. Zero-value hooks produce a successful
// default response.
type Server struct {
	Upload UploadFunc
	Query  QueryFunc

	mu        sync.Mutex
	documents int
	history   []remote.HistoryRecord
	statsErr  *RejectError
	histErr   *RejectError
	uploads   []string
	queries   []remote.QueryRequest

	statsHits   atomic.Int64
	historyHits atomic.Int64
}

// New returns a Server with no documents and no history.
func New() *Server {
	return &Server{}
}

// Start serves s on a new httptest.Server. The caller closes it.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

// Handler returns the HTTP routes of the fake service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/history", s.handleHistory)
	r.Post("/upload", s.handleUpload)
	r.Post("/query", s.handleQuery)
	return r
}

// SetHistory replaces the recorded history.
func (s *Server) SetHistory(records []remote.HistoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]remote.HistoryRecord(nil), records...)
}

// SetDocuments overrides the document counter.
func (s *Server) SetDocuments(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = n
}

// FailStats makes GET /stats respond with status and detail until called
// again with status 0.
func (s *Server) FailStats(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		s.statsErr = nil
		return
	}
	s.statsErr = &RejectError{Status: status, Detail: detail}
}

// FailHistory makes GET /history respond with status and detail until
// called again with status 0.
func (s *Server) FailHistory(status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		s.histErr = nil
		return
	}
	s.histErr = &RejectError{Status: status, Detail: detail}
}

// StatsHits returns how many times GET /stats was served.
func (s *Server) StatsHits() int { return int(s.statsHits.Load()) }

// HistoryHits returns how many times GET /history was served.
func (s *Server) HistoryHits() int { return int(s.historyHits.Load()) }

// Uploads returns the file names received, in arrival order.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

// Queries returns the query bodies received, in arrival order.
func (s *Server) Queries() []remote.QueryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.QueryRequest(nil), s.queries...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, remote.Health{Status: "online", Service: "remotetest", Version: "1.0.0"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.statsHits.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		writeDetail(w, s.statsErr.Status, s.statsErr.Detail)
		return
	}
	writeJSON(w, http.StatusOK, remote.Stats{
		TotalDocuments: s.documents,
		TotalQueries:   len(s.history),
		IndexSize:      s.documents,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.historyHits.Add(1)
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = n
	}

	s.mu.Lock()
	if s.histErr != nil {
		fail := *s.histErr
		s.mu.Unlock()
		writeDetail(w, fail.Status, fail.Detail)
		return
	}
	records := s.history
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := append([]remote.HistoryRecord{}, records...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, header.Filename)
	s.mu.Unlock()

	res := remote.UploadResult{
		Message:       "Successfully processed " + header.Filename,
		ChunksCreated: 1,
		Type:          "document",
		Filename:      header.Filename,
	}
	if s.Upload != nil {
		res, err = s.Upload(header.Filename, data)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	s.mu.Lock()
	s.documents += res.ChunksCreated
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req remote.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, req)
	s.mu.Unlock()

	ans := remote.Answer{Answer: "answer to " + req.Question}
	if s.Query != nil {
		var err error
		ans, err = s.Query(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	s.mu.Lock()
	s.history = append(s.history, remote.HistoryRecord{
		Question:           req.Question,
		Answer:             ans.Answer,
		Timestamp:          time.Now().Format("2006-01-02T15:04:05.000000"),
		RetrievedDocuments: len(ans.Sources),
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ans)
}

func writeError(w http.ResponseWriter, err error) {
	if re, ok := err.(*RejectError); ok {
		writeDetail(w, re.Status, re.Detail)
		return
	}
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
