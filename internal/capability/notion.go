package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"workflow-assistant/backend/pkg/models"
)

// notionID matches a Notion object id: 32 hex digits, optionally dashed
// as a UUID.
var notionID = regexp.MustCompile(`^[0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12}$`)

// NotionConfig configures a NotionProvider bound to one database.
type NotionConfig struct {
	Description   string
	APIKey        string
	BaseURL       string
	Version       string
	DatabaseID    string
	TitleProperty string
	DateProperty  string
	Timeout       time.Duration
}

// NotionProvider exposes one Notion database as a capability.
type NotionProvider struct {
	cfg        NotionConfig
	httpClient *http.Client
}

// Page is the summary of a Notion page returned in capability responses.
type Page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
	URL   string `json:"url,omitempty"`
}

// NewNotionProvider creates a new NotionProvider.
func NewNotionProvider(cfg NotionConfig) *NotionProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.notion.com/v1"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = "2022-06-28"
	}
	if cfg.TitleProperty == "" {
		cfg.TitleProperty = "Name"
	}
	if cfg.DateProperty == "" {
		cfg.DateProperty = "Date"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &NotionProvider{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (p *NotionProvider) Describe() string {
	if p.cfg.Description != "" {
		return p.cfg.Description
	}
	return fmt.Sprintf("Notion database %s. Pages have a title property %q and a date property %q.",
		p.cfg.DatabaseID, p.cfg.TitleProperty, p.cfg.DateProperty)
}

func (p *NotionProvider) ListTools(context.Context) ([]models.ToolDescriptor, error) {
	dbID := fmt.Sprintf("string, optional. If given it must be exactly %q", p.cfg.DatabaseID)
	return []models.ToolDescriptor{
		{
			Name:        ToolQueryDatabase,
			Description: "List pages in the database, optionally filtered and sorted.",
			Parameters: map[string]string{
				"database_id": dbID,
				"filter":      "object, optional. A Notion database filter object",
				"sorts":       "array, optional. Notion sort objects",
				"page_size":   "number, optional. At most 100",
			},
		},
		{
			Name:        ToolCreatePage,
			Description: "Create a new page in the database.",
			Parameters: map[string]string{
				"database_id": dbID,
				"title":       "string, required. The page title",
				"date":        "string, optional. ISO 8601 date or date-time",
				"properties":  "object, optional. Extra Notion property values",
			},
		},
		{
			Name:        ToolUpdatePage,
			Description: "Change the title, date or properties of an existing page.",
			Parameters: map[string]string{
				"page_id":    "string, required. The page id",
				"title":      "string, optional",
				"date":       "string, optional. ISO 8601 date or date-time",
				"properties": "object, optional. Notion property values",
			},
		},
		{
			Name:        ToolArchivePage,
			Description: "Delete (archive) a page.",
			Parameters: map[string]string{
				"page_id": "string, required. The page id",
			},
		},
	}, nil
}

// Execute decodes and runs one operation against the Notion API.
func (p *NotionProvider) Execute(ctx context.Context, tool string, params map[string]any) (*models.CapabilityResponse, error) {
	op, err := DecodeOperation(tool, params)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, op)
}

// Run executes an already decoded operation.
func (p *NotionProvider) Run(ctx context.Context, op Operation) (*models.CapabilityResponse, error) {
	switch op := op.(type) {
	case QueryDatabase:
		dbID, err := p.databaseID(op.DatabaseID)
		if err != nil {
			return failure(err.Error()), nil
		}
		body := map[string]any{}
		if op.Filter != nil {
			body["filter"] = op.Filter
		}
		if op.Sorts != nil {
			body["sorts"] = op.Sorts
		}
		if op.PageSize > 0 {
			body["page_size"] = min(op.PageSize, 100)
		}
		var out struct {
			Results []notionPage `json:"results"`
		}
		if resp := p.do(ctx, http.MethodPost, "/databases/"+url.PathEscape(dbID)+"/query", body, &out); resp != nil {
			return resp, nil
		}
		pages := make([]Page, 0, len(out.Results))
		for _, np := range out.Results {
			pages = append(pages, np.summary(p.cfg.DateProperty))
		}
		return &models.CapabilityResponse{Success: true, Data: pages}, nil

	case CreatePage:
		dbID, err := p.databaseID(op.DatabaseID)
		if err != nil {
			return failure(err.Error()), nil
		}
		if op.Title == "" && op.Properties == nil {
			return failure("title is required"), nil
		}
		body := map[string]any{
			"parent":     map[string]any{"database_id": dbID},
			"properties": p.properties(op.Title, op.Date, op.Properties),
		}
		return p.pageCall(ctx, http.MethodPost, "/pages", body)

	case UpdatePage:
		path, err := pagePath(op.PageID)
		if err != nil {
			return failure(err.Error()), nil
		}
		body := map[string]any{"properties": p.properties(op.Title, op.Date, op.Properties)}
		return p.pageCall(ctx, http.MethodPatch, path, body)

	case ArchivePage:
		path, err := pagePath(op.PageID)
		if err != nil {
			return failure(err.Error()), nil
		}
		return p.pageCall(ctx, http.MethodPatch, path, map[string]any{"archived": true})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownTool, op)
}

func (p *NotionProvider) pageCall(ctx context.Context, method, path string, body any) (*models.CapabilityResponse, error) {
	var np notionPage
	if resp := p.do(ctx, method, path, body, &np); resp != nil {
		return resp, nil
	}
	return &models.CapabilityResponse{Success: true, Data: np.summary(p.cfg.DateProperty)}, nil
}

// databaseID resolves the database to use. The configured database is the
// only one a selection may address.
func (p *NotionProvider) databaseID(requested string) (string, error) {
	if requested == "" || p.cfg.DatabaseID == "" {
		if requested == "" && p.cfg.DatabaseID == "" {
			return "", fmt.Errorf("no database configured")
		}
		if requested == "" {
			return p.cfg.DatabaseID, nil
		}
		if !notionID.MatchString(requested) {
			return "", fmt.Errorf("database_id %q is not a valid Notion id", requested)
		}
		return requested, nil
	}
	if normalizeID(requested) != normalizeID(p.cfg.DatabaseID) {
		return "", fmt.Errorf("database_id %q is not the configured database", requested)
	}
	return p.cfg.DatabaseID, nil
}

func pagePath(id string) (string, error) {
	if !notionID.MatchString(id) {
		return "", fmt.Errorf("page_id %q is not a valid Notion id", id)
	}
	return "/pages/" + url.PathEscape(id), nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}

func (p *NotionProvider) properties(title, date string, extra map[string]any) map[string]any {
	props := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		props[k] = v
	}
	if title != "" {
		props[p.cfg.TitleProperty] = map[string]any{
			"title": []any{map[string]any{"text": map[string]any{"content": title}}},
		}
	}
	if date != "" {
		props[p.cfg.DateProperty] = map[string]any{"date": map[string]any{"start": date}}
	}
	return props
}

type notionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do sends one request. It returns nil on success after decoding into out,
// or a failed response carrying Notion's error text.
func (p *NotionProvider) do(ctx context.Context, method, path string, body, out any) *models.CapabilityResponse {
	var reader io.Reader
	if body != nil {
		requestBody, err := json.Marshal(body)
		if err != nil {
			return failure(fmt.Sprintf("failed to marshal request body: %v", err))
		}
		reader = bytes.NewReader(requestBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return failure(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Notion-Version", p.cfg.Version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("failed to reach Notion: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return failure(fmt.Sprintf("failed to read response body: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var nerr notionError
		if json.Unmarshal(data, &nerr) == nil && nerr.Message != "" {
			return failure(fmt.Sprintf("Notion error %d (%s): %s", resp.StatusCode, nerr.Code, nerr.Message))
		}
		return failure(fmt.Sprintf("Notion request failed: status code %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return failure(fmt.Sprintf("failed to decode response body: %v", err))
		}
	}
	return nil
}

func failure(msg string) *models.CapabilityResponse {
	return &models.CapabilityResponse{Success: false, Error: msg}
}

type notionProperty struct {
	Type  string `json:"type"`
	Title []struct {
		PlainText string `json:"plain_text"`
	} `json:"title"`
	Date *struct {
		Start string `json:"start"`
	} `json:"date"`
}

type notionPage struct {
	ID         string                    `json:"id"`
	URL        string                    `json:"url"`
	Properties map[string]notionProperty `json:"properties"`
}

// summary flattens a page. The date comes from dateProp when present,
// otherwise from the first date property in name order.
func (np notionPage) summary(dateProp string) Page {
	page := Page{ID: np.ID, URL: np.URL}
	names := make([]string, 0, len(np.Properties))
	for name := range np.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := np.Properties[name]
		switch prop.Type {
		case "title":
			var parts []string
			for _, t := range prop.Title {
				parts = append(parts, t.PlainText)
			}
			page.Title = strings.Join(parts, "")
		case "date":
			if prop.Date != nil && (page.Date == "" || name == dateProp) {
				page.Date = prop.Date.Start
			}
		}
	}
	return page
}
