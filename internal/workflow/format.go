package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"workflow-assistant/backend/internal/capability"
	"workflow-assistant/backend/internal/safety"
)

// NoItemsMessage is the reply to a query with no rows.
const NoItemsMessage = "No matching items found."

// pagesOf extracts page summaries from provider data. Providers other than
// Notion return decoded JSON, which is converted when it has the same shape.
func pagesOf(data any) ([]capability.Page, bool) {
	switch v := data.(type) {
	case []capability.Page:
		return v, true
	case capability.Page:
		return []capability.Page{v}, true
	case []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var pages []capability.Page
		if err := json.Unmarshal(raw, &pages); err != nil {
			return nil, false
		}
		for _, p := range pages {
			if p.ID == "" && p.Title == "" {
				return nil, false
			}
		}
		return pages, true
	}
	return nil, false
}

func formatPages(pages []capability.Page) string {
	if len(pages) == 0 {
		return NoItemsMessage
	}
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, pageLabel(p))
	}
	return b.String()
}

func pageLabel(p capability.Page) string {
	title := p.Title
	if title == "" {
		title = "(untitled)"
	}
	if p.Date != "" {
		return safety.EscapeString(fmt.Sprintf("%s (%s)", title, p.Date))
	}
	return safety.EscapeString(title)
}

// formatData renders arbitrary provider data for a chat reply.
func formatData(data any) string {
	if pages, ok := pagesOf(data); ok {
		return formatPages(pages)
	}
	switch v := data.(type) {
	case nil:
		return "Done."
	case string:
		if strings.TrimSpace(v) == "" {
			return "Done."
		}
		return safety.EscapeString(v)
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "Done."
	}
	return safety.EscapeString(string(raw))
}

// formatOutcome renders the result of one of the Notion tools.
func formatOutcome(out *Outcome) string {
	data := out.Response.Data
	switch out.Selection.Tool {
	case capability.ToolQueryDatabase:
		return formatData(data)
	case capability.ToolCreatePage:
		return "Created: " + labelOf(data)
	case capability.ToolUpdatePage:
		return "Updated: " + labelOf(data)
	case capability.ToolArchivePage:
		return "Deleted: " + labelOf(data)
	}
	return formatData(data)
}

func labelOf(data any) string {
	if pages, ok := pagesOf(data); ok && len(pages) > 0 {
		return pageLabel(pages[0])
	}
	return "done"
}
