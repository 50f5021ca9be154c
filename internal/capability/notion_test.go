package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageID = "59833787-2cf9-4fdf-8782-e53db20768a5"

const pageJSON = `{
	"id": "page-1",
	"url": "https://notion.so/page-1",
	"properties": {
		"Name": {"type": "title", "title": [{"plain_text": "Standup"}]},
		"Date": {"type": "date", "date": {"start": "2024-05-02T09:00:00Z"}},
		"Created": {"type": "date", "date": {"start": "2024-04-01"}}
	}
}`

func newTestNotion(t *testing.T, handler http.HandlerFunc) *NotionProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewNotionProvider(NotionConfig{APIKey: "secret", BaseURL: server.URL, DatabaseID: "db-1"})
}

func TestNotionProvider_Query(t *testing.T) {
	p := newTestNotion(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/databases/db-1/query", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-06-28", r.Header.Get("Notion-Version"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(100), body["page_size"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[` + pageJSON + `]}`))
	})

	resp, err := p.Execute(context.Background(), ToolQueryDatabase, map[string]any{"page_size": 500.0})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, []Page{{ID: "page-1", Title: "Standup", Date: "2024-05-02T09:00:00Z", URL: "https://notion.so/page-1"}}, resp.Data)
}

func TestNotionProvider_CreateBuildsProperties(t *testing.T) {
	p := newTestNotion(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pages", r.URL.Path)
		var body struct {
			Parent     map[string]string         `json:"parent"`
			Properties map[string]map[string]any `json:"properties"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "db-1", body.Parent["database_id"])
		assert.Contains(t, body.Properties, "Name")
		assert.Equal(t, map[string]any{"start": "2024-05-02"}, body.Properties["Date"]["date"])
		_, _ = w.Write([]byte(pageJSON))
	})

	resp, err := p.Execute(context.Background(), ToolCreatePage, map[string]any{
		"database_id": "DB-1",
		"title":       "Standup",
		"date":        "2024-05-02",
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Standup", resp.Data.(Page).Title)
}

func TestNotionProvider_Archive(t *testing.T) {
	p := newTestNotion(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/pages/"+testPageID, r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["archived"])
		_, _ = w.Write([]byte(pageJSON))
	})

	resp, err := p.Run(context.Background(), ArchivePage{PageID: testPageID})
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestNotionProvider_Failures(t *testing.T) {
	p := newTestNotion(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"object":"error","status":400,"code":"validation_error","message":"Name is not a property"}`))
	})
	ctx := context.Background()

	resp, err := p.Execute(ctx, ToolQueryDatabase, nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Name is not a property")

	resp, err = p.Execute(ctx, ToolQueryDatabase, map[string]any{"database_id": "other-db"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not the configured database")

	_, err = p.Execute(ctx, "dropDatabase", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = p.Execute(ctx, ToolArchivePage, map[string]any{})
	assert.Error(t, err)
}

func TestNotionProvider_RejectsMalformedIDs(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	t.Cleanup(server.Close)
	ctx := context.Background()

	configured := NewNotionProvider(NotionConfig{BaseURL: server.URL, DatabaseID: "db-1"})
	for _, id := range []string{"../databases/other-db", "abc?archived=false&x=1", "page-1", testPageID + "/x"} {
		for _, op := range []Operation{ArchivePage{PageID: id}, UpdatePage{PageID: id, Title: "x"}} {
			resp, err := configured.Run(ctx, op)
			require.NoError(t, err, id)
			assert.False(t, resp.Success, id)
			assert.Contains(t, resp.Error, "not a valid Notion id", id)
		}
	}

	unconfigured := NewNotionProvider(NotionConfig{BaseURL: server.URL})
	resp, err := unconfigured.Execute(ctx, ToolQueryDatabase, map[string]any{"database_id": "x/../../pages"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not a valid Notion id")
	assert.Empty(t, paths)

	dbID := strings.ReplaceAll(testPageID, "-", "")
	resp, err = unconfigured.Execute(ctx, ToolQueryDatabase, map[string]any{"database_id": dbID})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"/databases/" + dbID + "/query"}, paths)
}

func TestNotionProvider_ListTools(t *testing.T) {
	p := NewNotionProvider(NotionConfig{DatabaseID: "db-1"})
	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 4)
	assert.Equal(t, ToolQueryDatabase, tools[0].Name)
	assert.Contains(t, tools[0].Parameters["database_id"], `"db-1"`)
	assert.Contains(t, p.Describe(), "db-1")
}

func TestDecodeOperation(t *testing.T) {
	op, err := DecodeOperation(ToolQueryDatabase, map[string]any{
		"database_id": " db-1 ",
		"filter":      map[string]any{"property": "Done"},
		"page_size":   5.0,
	})
	require.NoError(t, err)
	assert.Equal(t, QueryDatabase{DatabaseID: "db-1", Filter: map[string]any{"property": "Done"}, PageSize: 5}, op)

	_, err = DecodeOperation(ToolCreatePage, map[string]any{"title": 3.0, "filter": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title must be a string")

	op, err = DecodeOperation(ToolUpdatePage, map[string]any{"page_id": "p", "title": "t"})
	require.NoError(t, err)
	assert.Equal(t, ToolUpdatePage, op.Tool())
}
