package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-research/filings-cli/internal/model"
)

const searchCSVHeader = "Issuer Number,Document GUID,Filing Type,Document Type,Date Filed,Generate URL,Size"

func newTestClient(baseURL string) *Client {
	return NewClient(Options{
		BaseURL:     baseURL,
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		PageSize:    2,
		MaxPages:    10,
	}, NewGate(time.Microsecond, 4))
}

func testWindow() Window {
	return Window{
		Start: model.NewDate(2026, time.January, 1),
		End:   model.NewDate(2026, time.January, 31),
	}
}

func searchRow(guid string) string {
	return fmt.Sprintf("00012345,%s,Annual Report,PDF,2026-01-15,https://portal.example/doc/%s,1024", guid, guid)
}

func TestSearch_SinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, exportCSVPath, r.URL.Path)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		var req exportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, documentsService, req.Service)
		assert.Equal(t, "2026-01-01", req.QueryArgs.FromDate)
		assert.Equal(t, "2026-01-31", req.QueryArgs.ToDate)
		assert.Equal(t, 1, req.QueryArgs.Start)

		fmt.Fprintln(w, searchCSVHeader)
		fmt.Fprintln(w, searchRow("guid-a"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	rows, next, err := c.Search(context.Background(), testWindow(), "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "guid-a", rows[0].DocumentIdentity)
	assert.Equal(t, int64(1024), rows[0].SizeBytes)
	assert.Empty(t, next, "a short page must terminate pagination")
}

func TestSearchAll_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		fmt.Fprintln(w, searchCSVHeader)
		switch req.QueryArgs.Start {
		case 1:
			fmt.Fprintln(w, searchRow("guid-1"))
			fmt.Fprintln(w, searchRow("guid-2"))
		case 3:
			fmt.Fprintln(w, searchRow("guid-3"))
		default:
			t.Errorf("unexpected offset %d", req.QueryArgs.Start)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	rows, err := c.SearchAll(context.Background(), testWindow())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "guid-3", rows[2].DocumentIdentity)
}

func TestSearchAll_PageCapExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every page is full, so pagination never terminates on its own.
		fmt.Fprintln(w, searchCSVHeader)
		fmt.Fprintln(w, searchRow("guid-x"))
		fmt.Fprintln(w, searchRow("guid-y"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SearchAll(context.Background(), testWindow())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, searchCSVHeader)
		fmt.Fprintln(w, searchRow("guid-a"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	rows, _, err := c.Search(context.Background(), testWindow(), "")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestDo_PermanentOn404(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, err := c.Search(context.Background(), testWindow(), "")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
}

func TestDo_TransientExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, _, err := c.Search(context.Background(), testWindow(), "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransientFetchError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, te.LastStatus)
}

func TestDo_ThrottleReducesGateRate(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintln(w, searchCSVHeader)
	}))
	defer srv.Close()

	g := NewGate(time.Microsecond, 4)
	base := g.Rate()
	c := NewClient(Options{
		BaseURL:     srv.URL,
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		PageSize:    2,
		MaxPages:    10,
	}, g)

	_, _, err := c.Search(context.Background(), testWindow(), "")
	require.NoError(t, err)
	assert.Less(t, float64(g.Rate()), float64(base), "a 429 must slow the gate down")
}

func TestSearch_MalformedPageToken(t *testing.T) {
	c := newTestClient("http://unused.invalid")
	_, _, err := c.Search(context.Background(), testWindow(), "not-a-number")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestFetchIssuers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req exportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, issuersService, req.Service)

		fmt.Fprintln(w, "Issuer Number,Name,Jurisdiction(s),Type,In Default Flag,Active CTO Flag")
		fmt.Fprintln(w, "00012345,Northern Minerals Corp.,ON,Non-Investment Fund Issuer,N,N")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	issuers, err := c.FetchIssuers(context.Background())
	require.NoError(t, err)
	require.Len(t, issuers, 1)
	assert.Equal(t, "Northern Minerals Corp.", issuers[0].Name)
}

func TestDownloadContent_SizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	data, mismatch, err := c.DownloadContent(context.Background(), srv.URL+"/doc", 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.False(t, mismatch)

	_, mismatch, err = c.DownloadContent(context.Background(), srv.URL+"/doc", 5)
	require.NoError(t, err)
	assert.True(t, mismatch, "declared size disagreement must be flagged")

	// Unknown declared size is never a mismatch.
	_, mismatch, err = c.DownloadContent(context.Background(), srv.URL+"/doc", 0)
	require.NoError(t, err)
	assert.False(t, mismatch)
}
