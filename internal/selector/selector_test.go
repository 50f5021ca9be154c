package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/internal/services"
	"workflow-assistant/backend/pkg/models"
)

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Complete(ctx context.Context, prompt string, opts services.CompletionOptions) (*services.Completion, error) {
	args := m.Called(ctx, prompt, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Completion), args.Error(1)
}

var testTools = []models.ToolDescriptor{
	{Name: "queryDatabase", Description: "Query the task database", Parameters: map[string]string{
		"database_id": "string, required",
		"filter":      "object, optional",
	}},
	{Name: "createPage", Description: "Create a task", Parameters: map[string]string{"title": "string"}},
}

func reply(content string) *services.Completion {
	return &services.Completion{Content: content, Model: "test"}
}

func TestSelect(t *testing.T) {
	llm := new(MockLLMClient)
	llm.On("Complete", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(o services.CompletionOptions) bool {
		return o.JSONMode && o.Temperature == 0.1 && o.SystemMessage == SystemMessage
	})).Return(reply("```json\n{\"tool\":\"createPage\",\"parameters\":{\"title\":\"milk\"},\"reasoning\":\"new task\"}\n```"), nil)

	s := NewSelector(llm, nil, 0, nil)
	sel, err := s.Select(context.Background(), "add milk", testTools, "Notion tasks", "")
	require.NoError(t, err)
	assert.Equal(t, "createPage", sel.Tool)
	assert.Equal(t, "milk", sel.Parameters["title"])
	assert.Equal(t, "new task", sel.Reasoning)
	llm.AssertExpectations(t)
}

func TestSelect_UnknownToolFallsBack(t *testing.T) {
	llm := new(MockLLMClient)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(reply(`{"tool":"dropDatabase","parameters":{}}`), nil)

	sel, err := NewSelector(llm, nil, 0, nil).Select(context.Background(), "q", testTools, "", "")
	require.NoError(t, err)
	assert.Equal(t, "queryDatabase", sel.Tool)
	assert.Contains(t, sel.Reasoning, "dropDatabase")
}

func TestSelect_RawPatternRejected(t *testing.T) {
	llm := new(MockLLMClient)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(reply(`{"tool":"queryDatabase","parameters":{"database_id":"taskDbId()"}}`), nil)

	_, err := NewSelector(llm, nil, 0, nil).Select(context.Background(), "タスク一覧", testTools, "", "")
	require.Error(t, err)
	assert.Equal(t, safety.KindRawPatternDetected, safety.KindOf(err))
	assert.Contains(t, safety.Hint(err), "literal")
}

func TestSelect_ParseFailure(t *testing.T) {
	llm := new(MockLLMClient)
	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(reply("I think you want the task list."), nil).Once()

	_, err := NewSelector(llm, nil, 0, nil).Select(context.Background(), "q", testTools, "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, safety.ErrJSONParseFailed))

	var perr *SelectionParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "I think you want the task list.", perr.Raw)
	llm.AssertNumberOfCalls(t, "Complete", 1)
}

func TestSelect_Errors(t *testing.T) {
	llm := new(MockLLMClient)
	_, err := NewSelector(llm, nil, 0, nil).Select(context.Background(), "q", nil, "", "")
	assert.ErrorIs(t, err, ErrNoTools)

	llm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil, services.ErrRateLimited)
	_, err = NewSelector(llm, nil, 0, nil).Select(context.Background(), "q", testTools, "", "")
	assert.ErrorIs(t, err, services.ErrRateLimited)
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	first, err := BuildPrompt("list tasks", testTools, "Notion tasks", "user: hi")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := BuildPrompt("list tasks", testTools, "Notion tasks", "user: hi")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Contains(t, first, "list tasks")
	assert.Contains(t, first, "Context:\nuser: hi")
	assert.Contains(t, first, "    - database_id: string, required\n    - filter: object, optional")

	noCtx, err := BuildPrompt("list tasks", testTools, "", "")
	require.NoError(t, err)
	assert.NotContains(t, noCtx, "Context:")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1} `))
}

func TestParse(t *testing.T) {
	sel, err := Parse("```json\n{\"tool\":\"queryDatabase\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "queryDatabase", sel.Tool)
	assert.Equal(t, map[string]any{}, sel.Parameters)

	for _, content := range []string{
		`{"tool":"queryDatabase"} trailing junk`,
		`{"tool":"queryDatabase"}{"tool":"archivePage"}`,
		`{"tool":"queryDatabase"}}`,
		`{"parameters":{}}`,
	} {
		_, err := Parse(content)
		assert.ErrorIs(t, err, safety.ErrJSONParseFailed, content)
		var perr *SelectionParseError
		require.ErrorAs(t, err, &perr, content)
		assert.Equal(t, content, perr.Raw)
	}
}
