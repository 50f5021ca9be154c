package capability

import (
	"fmt"
	"strings"
)

// Tool names offered by the Notion provider.
const (
	ToolQueryDatabase = "queryDatabase"
	ToolCreatePage    = "createPage"
	ToolUpdatePage    = "updatePage"
	ToolArchivePage   = "archivePage"
)

// Operation is one Notion call decoded from a tool selection. The concrete
// type is one of QueryDatabase, CreatePage, UpdatePage or ArchivePage.
type Operation interface {
	Tool() string
	isOperation()
}

type QueryDatabase struct {
	DatabaseID string
	Filter     map[string]any
	Sorts      []any
	PageSize   int
}

type CreatePage struct {
	DatabaseID string
	Title      string
	Date       string
	Properties map[string]any
}

type UpdatePage struct {
	PageID     string
	Title      string
	Date       string
	Properties map[string]any
}

type ArchivePage struct {
	PageID string
}

func (QueryDatabase) Tool() string { return ToolQueryDatabase }
func (CreatePage) Tool() string    { return ToolCreatePage }
func (UpdatePage) Tool() string    { return ToolUpdatePage }
func (ArchivePage) Tool() string   { return ToolArchivePage }

func (QueryDatabase) isOperation() {}
func (CreatePage) isOperation()    {}
func (UpdatePage) isOperation()    {}
func (ArchivePage) isOperation()   {}

// DecodeOperation converts a tool name and its parameters into an Operation.
func DecodeOperation(tool string, params map[string]any) (Operation, error) {
	p := newParamReader(params)
	switch tool {
	case ToolQueryDatabase:
		return QueryDatabase{
			DatabaseID: p.str("database_id"),
			Filter:     p.object("filter"),
			Sorts:      p.list("sorts"),
			PageSize:   p.integer("page_size"),
		}, p.err()
	case ToolCreatePage:
		return CreatePage{
			DatabaseID: p.str("database_id"),
			Title:      p.str("title"),
			Date:       p.str("date"),
			Properties: p.object("properties"),
		}, p.err()
	case ToolUpdatePage:
		op := UpdatePage{
			PageID:     p.str("page_id"),
			Title:      p.str("title"),
			Date:       p.str("date"),
			Properties: p.object("properties"),
		}
		if op.PageID == "" {
			p.fail("page_id is required")
		}
		return op, p.err()
	case ToolArchivePage:
		op := ArchivePage{PageID: p.str("page_id")}
		if op.PageID == "" {
			p.fail("page_id is required")
		}
		return op, p.err()
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
}

// paramReader pulls typed values out of decoded JSON parameters and collects
// type mismatches.
type paramReader struct {
	params map[string]any
	errs   []string
}

func newParamReader(params map[string]any) *paramReader {
	return &paramReader{params: params}
}

func (p *paramReader) fail(msg string) {
	p.errs = append(p.errs, msg)
}

func (p *paramReader) err() error {
	if len(p.errs) > 0 {
		return fmt.Errorf("invalid parameters: %s", strings.Join(p.errs, "; "))
	}
	return nil
}

func (p *paramReader) str(key string) string {
	switch v := p.params[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		p.fail(key + " must be a string")
		return ""
	}
}

func (p *paramReader) object(key string) map[string]any {
	switch v := p.params[key].(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	default:
		p.fail(key + " must be an object")
		return nil
	}
}

func (p *paramReader) list(key string) []any {
	switch v := p.params[key].(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		p.fail(key + " must be an array")
		return nil
	}
}

func (p *paramReader) integer(key string) int {
	switch v := p.params[key].(type) {
	case nil:
		return 0
	case float64:
		return int(v)
	case int:
		return v
	default:
		p.fail(key + " must be a number")
		return 0
	}
}
