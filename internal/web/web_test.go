package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icalsync/internal/config"
	"icalsync/internal/ics"
	"icalsync/internal/model"
	"icalsync/internal/store"
)

type fakeLoader struct {
	feed *ics.Feed
}

func (l *fakeLoader) Load(_ context.Context, _ string) (*ics.Feed, error) {
	return l.feed, nil
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *store.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	start := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	loader := &fakeLoader{feed: &ics.Feed{
		Name: "Test Feed",
		Events: []ics.Event{{
			UID:       "abc",
			Name:      "Concert",
			Location:  "Town Hall",
			Organizer: "Culture Club",
			Start:     start,
		}},
	}}

	return NewServer(cfg, st, loader), st
}

func seedConfiguration(t *testing.T, st *store.Store) *model.Configuration {
	t.Helper()
	cfg := model.NewConfiguration()
	cfg.Title = "Community Feed"
	cfg.URL = "https://example.com/feed.ics"
	cfg.OrganizationID = "org-1"
	cfg.IdentifierTag = "myfeed"
	require.NoError(t, st.CreateConfiguration(context.Background(), cfg))
	return cfg
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestConfigurations_CreateAndList(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{"title":"Feed","url":"https://example.com/feed.ics","organization_id":"org-1","identifier_tag":"myfeed"}`
	rec := doRequest(s, http.MethodPost, "/api/configurations", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Configuration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	// Omitted templates are filled with defaults.
	assert.Equal(t, model.DefaultTemplate("name"), created.Templates["name"])

	rec = doRequest(s, http.MethodGet, "/api/configurations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Configuration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Feed", list[0].Title)
}

func TestConfigurations_CreateRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(s, http.MethodPost, "/api/configurations",
		`{"url":"https://example.com/feed.ics"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/configurations", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigurations_UpdateAndDelete(t *testing.T) {
	s, st := newTestServer(t, nil)
	cfg := seedConfiguration(t, st)

	body := `{"title":"Renamed","url":"https://example.com/feed.ics","organization_id":"org-1","identifier_tag":"myfeed"}`
	rec := doRequest(s, http.MethodPut, "/api/configurations/1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	loaded, err := st.GetConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Title)

	rec = doRequest(s, http.MethodDelete, "/api/configurations/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/configurations/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigurations_InvalidID(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodGet, "/api/configurations/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuns_ListAndGet(t *testing.T) {
	s, st := newTestServer(t, nil)
	cfg := seedConfiguration(t, st)

	run := model.NewRun(cfg, time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC))
	run.NewEventCount = 1
	run.LogEntries = []model.LogEntry{{
		CreatedAt: run.CreatedAt,
		Message:   "Event imported",
		Type:      model.LogTypeEvent,
	}}
	require.NoError(t, st.SaveRun(context.Background(), run))

	rec := doRequest(s, http.MethodGet, "/api/configurations/1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].NewEventCount)

	rec = doRequest(s, http.MethodGet, "/api/runs/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	require.Len(t, loaded.LogEntries, 1)
	assert.Equal(t, "Event imported", loaded.LogEntries[0].Message)

	rec = doRequest(s, http.MethodGet, "/api/runs/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreview_ReturnsDryRun(t *testing.T) {
	s, st := newTestServer(t, nil)
	seedConfiguration(t, st)

	rec := doRequest(s, http.MethodPost, "/api/configurations/1/preview", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, model.RunSuccess, run.Status)
	// Dry passes preview without counting or persisting.
	assert.Equal(t, 0, run.NewEventCount)
	require.Len(t, run.LogEntries, 1)
	assert.Equal(t, "Event imported", run.LogEntries[0].Message)

	// Nothing was saved.
	runs, err := st.ListRuns(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPreview_UnknownConfiguration(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(s, http.MethodPost, "/api/configurations/42/preview", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _ := newTestServer(t, cfg)

	// /health stays open.
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// API requires credentials.
	rec = doRequest(s, http.MethodGet, "/api/configurations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/configurations", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	s.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/configurations", nil)
	req.SetBasicAuth("admin", "wrong")
	bad := httptest.NewRecorder()
	s.Handler().ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}
