package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fetchTestBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestFetch_FreshBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(fetchTestBody))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, fetchTestBody, string(res.Body))
}

func TestFetch_NotModifiedUsesCache(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(fetchTestBody))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())

	first, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, fetchTestBody, string(second.Body))
	assert.Equal(t, 2, requests)
}

func TestFetch_ServerErrorFallsBackToCache(t *testing.T) {
	failing := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(fetchTestBody))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	failing = true
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, fetchTestBody, string(res.Body))
}

func TestFetch_ServerErrorWithoutCacheFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetch_EmptyURL(t *testing.T) {
	f := NewFetcher("")
	_, err := f.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestLoad_ParsesFetchedFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(crlf(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"X-WR-CALNAME:Loaded",
			"BEGIN:VEVENT",
			"UID:ev-1",
			"SUMMARY:Event",
			"DTSTART:20260314T193000Z",
			"END:VEVENT",
			"END:VCALENDAR",
		))
	}))
	defer srv.Close()

	f := NewFetcher("") // cache disabled
	feed, err := f.Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Loaded", feed.Name)
	require.Len(t, feed.Events, 1)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)",
		redactURL("https://example.com/cal/secret-token/feed.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
