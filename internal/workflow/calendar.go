package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"workflow-assistant/backend/internal/capability"
	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/pkg/models"
)

// Follow-up actions of the calendar workflow.
const (
	ActionSelectEventToDelete = "select_event_to_delete"
	ActionReminderTime        = "reminder_time"
)

const maxDeleteCandidates = 10

var deletionRe = regexp.MustCompile(`(?i)\b(?:delete|remove|cancel)\b|削除|消して|取り消`)

// ReminderScheduler persists a reminder for later delivery.
type ReminderScheduler interface {
	Schedule(ctx context.Context, userID, channelID, text string, fireAt time.Time) (*models.Reminder, error)
}

// CalendarHandler manages the calendar database. Deletions without a
// concrete page ask the user to pick from a numbered list, and reminder
// requests are scheduled instead of written to the calendar.
type CalendarHandler struct {
	pipeline   *Pipeline
	capability string
	reminders  ReminderScheduler
	now        func() time.Time
}

// CalendarOption configures a CalendarHandler.
type CalendarOption func(*CalendarHandler)

// WithReminders enables reminder requests.
func WithReminders(s ReminderScheduler) CalendarOption {
	return func(h *CalendarHandler) { h.reminders = s }
}

// WithCalendarClock replaces time.Now.
func WithCalendarClock(now func() time.Time) CalendarOption {
	return func(h *CalendarHandler) { h.now = now }
}

// NewCalendarHandler creates a CalendarHandler on the named capability.
func NewCalendarHandler(pipeline *Pipeline, capabilityName string, opts ...CalendarOption) *CalendarHandler {
	h := &CalendarHandler{pipeline: pipeline, capability: capabilityName, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *CalendarHandler) Execute(ctx context.Context, req *Request) (*models.WorkflowResult, error) {
	content := req.Message.Content
	switch {
	case h.reminders != nil && isReminderRequest(content):
		return h.remind(ctx, req, content)
	case deletionRe.MatchString(content):
		return h.startDeletion(ctx, req)
	}

	out, err := h.pipeline.Run(ctx, req, h.capability)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowResult{Success: true, Message: formatOutcome(out), Data: out.Response.Data}, nil
}

func (h *CalendarHandler) Continue(ctx context.Context, req *Request, st *models.WorkflowState) (*models.WorkflowResult, error) {
	switch st.Action {
	case ActionSelectEventToDelete:
		return h.finishDeletion(ctx, req, st)
	case ActionReminderTime:
		text, _ := st.Data["text"].(string)
		at, _, ok := parseWhen(req.Message.Content, h.now())
		if !ok {
			req.FollowUp(st.Action, st.Step, st.Data)
			return &models.WorkflowResult{
				Success:         false,
				Message:         "I could not read that time. Try \"in 30 minutes\" or \"at 15:00\".",
				RequireFollowUp: true,
			}, nil
		}
		return h.schedule(ctx, req, text, at)
	}
	return nil, fmt.Errorf("unknown calendar action %q", st.Action)
}

func (h *CalendarHandler) remind(ctx context.Context, req *Request, content string) (*models.WorkflowResult, error) {
	text, at, ok := ParseReminder(content, h.now())
	if !ok {
		req.FollowUp(ActionReminderTime, 1, map[string]any{"text": text})
		return &models.WorkflowResult{
			Success:         true,
			Message:         fmt.Sprintf("When should I remind you about %q?", safety.EscapeString(text)),
			RequireFollowUp: true,
		}, nil
	}
	return h.schedule(ctx, req, text, at)
}

func (h *CalendarHandler) schedule(ctx context.Context, req *Request, text string, at time.Time) (*models.WorkflowResult, error) {
	r, err := h.reminders.Schedule(ctx, req.Message.UserID, req.Message.ChannelID, text, at)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reminder: %w", err)
	}
	return &models.WorkflowResult{
		Success: true,
		Message: fmt.Sprintf("OK, I will remind you: %s (%s)", safety.EscapeString(text), at.Format("2006-01-02 15:04")),
		Data:    r,
	}, nil
}

func (h *CalendarHandler) startDeletion(ctx context.Context, req *Request) (*models.WorkflowResult, error) {
	plan, err := h.pipeline.Plan(ctx, req, h.capability)
	if err != nil {
		return nil, err
	}

	sel := plan.Selection
	if sel.Tool == capability.ToolArchivePage {
		if id, _ := sel.Parameters["page_id"].(string); strings.TrimSpace(id) != "" {
			out, err := h.pipeline.Execute(ctx, req, plan)
			if err != nil {
				return nil, err
			}
			return &models.WorkflowResult{Success: true, Message: formatOutcome(out), Data: out.Response.Data}, nil
		}
	}

	if sel.Tool != capability.ToolQueryDatabase {
		plan = &Plan{Provider: plan.Provider, Selection: &models.ToolSelection{
			Tool: capability.ToolQueryDatabase,
			Parameters: map[string]any{
				"page_size": float64(maxDeleteCandidates),
				"sorts":     []any{map[string]any{"timestamp": "created_time", "direction": "descending"}},
			},
		}}
	}
	out, err := h.pipeline.Execute(ctx, req, plan)
	if err != nil {
		return nil, err
	}

	pages, _ := pagesOf(out.Response.Data)
	if len(pages) == 0 {
		return &models.WorkflowResult{Success: true, Message: "No matching events found."}, nil
	}
	if len(pages) > maxDeleteCandidates {
		pages = pages[:maxDeleteCandidates]
	}

	events := make([]any, len(pages))
	for i, p := range pages {
		events[i] = map[string]any{"id": p.ID, "title": p.Title, "date": p.Date}
	}
	req.FollowUp(ActionSelectEventToDelete, 1, map[string]any{"events": events})

	return &models.WorkflowResult{
		Success:         true,
		Message:         "Which event should I delete? Reply with its number.\n" + formatPages(pages),
		Data:            pages,
		RequireFollowUp: true,
	}, nil
}

func (h *CalendarHandler) finishDeletion(ctx context.Context, req *Request, st *models.WorkflowState) (*models.WorkflowResult, error) {
	events := eventsFrom(st.Data["events"])
	if len(events) == 0 {
		return nil, fmt.Errorf("no deletion candidates in state")
	}

	n, ok := parseChoice(req.Message.Content)
	if !ok || n < 1 || n > len(events) {
		req.FollowUp(st.Action, st.Step, st.Data)
		return &models.WorkflowResult{
			Success:         false,
			Message:         fmt.Sprintf("Please reply with a number between 1 and %d, or \"cancel\".", len(events)),
			RequireFollowUp: true,
		}, nil
	}

	provider, err := h.pipeline.Provider(h.capability)
	if err != nil {
		return nil, err
	}
	chosen := events[n-1]
	out, err := h.pipeline.Execute(ctx, req, &Plan{Provider: provider, Selection: &models.ToolSelection{
		Tool:       capability.ToolArchivePage,
		Parameters: map[string]any{"page_id": chosen.ID},
		Reasoning:  fmt.Sprintf("user picked event %d", n),
	}})
	if err != nil {
		return nil, err
	}
	return &models.WorkflowResult{
		Success: true,
		Message: "Deleted: " + pageLabel(chosen),
		Data:    out.Response.Data,
	}, nil
}

func eventsFrom(v any) []capability.Page {
	pages, _ := pagesOf(v)
	return pages
}

// parseChoice reads a 1-based list index, accepting full-width digits and a
// trailing 番 or period.
func parseChoice(content string) (int, bool) {
	s := strings.TrimSpace(content)
	s = strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, s)
	s = strings.TrimSpace(strings.TrimRight(s, "番.。"))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
