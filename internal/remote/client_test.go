package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/ragdesk/internal/remote"
	"github.com/kalambet/ragdesk/internal/remote/remotetest"
)

func newFake(t *testing.T) (*remotetest.Server, *remote.Client) {
	t.Helper()
	fake := remotetest.New()
	srv := fake.Start()
	t.Cleanup(srv.Close)
	return fake, remote.New(srv.URL + "/")
}

func TestClient_Health(t *testing.T) {
	_, c := newFake(t)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "online", h.Status)
}

func TestClient_StatsAndHistory(t *testing.T) {
	fake, c := newFake(t)
	fake.SetDocuments(7)
	fake.SetHistory([]remote.HistoryRecord{
		{Question: "one", Timestamp: "2026-01-01T10:00:00"},
		{Question: "two", Timestamp: "2026-01-01T11:00:00"},
		{Question: "three", Timestamp: "2026-01-01T12:00:00"},
	})

	st, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, st.TotalDocuments)
	assert.Equal(t, 3, st.TotalQueries)

	hist, err := c.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "two", hist[0].Question)
	assert.Equal(t, "three", hist[1].Question)
}

func TestClient_UploadMultipart(t *testing.T) {
	fake, c := newFake(t)
	var got string
	fake.Upload = func(name string, data []byte) (remote.UploadResult, error) {
		got = string(data)
		return remote.UploadResult{Message: "ok", ChunksCreated: 3, Type: "pdf", Filename: name}, nil
	}

	res, err := c.Upload(context.Background(), "a.pdf", strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunksCreated)
	assert.Equal(t, "%PDF-1.4 body", got)
	assert.Equal(t, []string{"a.pdf"}, fake.Uploads())
}

func TestClient_RejectedCarriesDetail(t *testing.T) {
	fake, c := newFake(t)
	fake.Upload = func(string, []byte) (remote.UploadResult, error) {
		return remote.UploadResult{}, &remotetest.RejectError{Status: http.StatusInternalServerError, Detail: "corrupt file"}
	}

	_, err := c.Upload(context.Background(), "b.pdf", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrRejected))
	assert.False(t, errors.Is(err, remote.ErrUnreachable))
	assert.Equal(t, "corrupt file", remote.Detail(err))

	var rerr *remote.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusInternalServerError, rerr.Status)
	assert.Equal(t, "POST /upload", rerr.Op)
}

func TestClient_ValidationDetailFallsBackToRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":[{"msg":"field required"}]}`))
	}))
	defer srv.Close()

	_, err := remote.New(srv.URL).Query(context.Background(), "q", 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrRejected))
	assert.Contains(t, remote.Detail(err), "field required")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := remote.New(url).Stats(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrUnreachable))
	assert.False(t, errors.Is(err, remote.ErrRejected))
}

func TestClient_Query(t *testing.T) {
	fake, c := newFake(t)
	fake.Query = func(_ context.Context, req remote.QueryRequest) (remote.Answer, error) {
		return remote.Answer{
			Answer:  "42",
			Sources: []remote.Source{{File: "a.pdf", Similarity: 0.9, Excerpt: "..."}},
		}, nil
	}

	ans, err := c.Query(context.Background(), "meaning?", 4)
	require.NoError(t, err)
	assert.Equal(t, "42", ans.Answer)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, []remote.QueryRequest{{Question: "meaning?", TopK: 4}}, fake.Queries())
}

func TestClient_BearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"online"}`))
	}))
	defer srv.Close()

	_, err := remote.New(srv.URL, remote.WithToken("s3cret")).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", auth)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := remote.New(srv.URL, remote.WithTimeout(50*time.Millisecond)).Stats(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrUnreachable))
}
