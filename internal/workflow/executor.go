package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/internal/state"
	"workflow-assistant/backend/internal/telemetry"
	"workflow-assistant/backend/pkg/models"
)

// Phase is the lifecycle position of one turn.
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseTriggered        Phase = "TRIGGERED"
	PhaseToolSelecting    Phase = "TOOL_SELECTING"
	PhaseValidating       Phase = "VALIDATING"
	PhaseExecuting        Phase = "EXECUTING"
	PhaseTerminalSuccess  Phase = "TERMINAL_SUCCESS"
	PhaseTerminalFailure  Phase = "TERMINAL_FAILURE"
	PhaseAwaitingFollowUp Phase = "AWAITING_FOLLOW_UP"
)

// CancelledMessage is the reply to a cancellation word during a follow-up.
const CancelledMessage = "Cancelled."

var cancelWords = []string{"cancel", "キャンセル", "やめる"}

// IsCancel reports whether content is an explicit cancellation.
func IsCancel(content string) bool {
	c := strings.ToLower(strings.Trim(strings.TrimSpace(content), ".!。！"))
	for _, w := range cancelWords {
		if c == w {
			return true
		}
	}
	return false
}

// History supplies and records recent conversation text per state key.
type History interface {
	Recent(key string) string
	Record(key, role, content string)
}

// Executor routes messages to workflows and owns the per-conversation
// state lifecycle.
type Executor struct {
	registry  *Registry
	store     *state.Store
	locks     *keyLock
	history   History
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHistory feeds recent conversation into selection prompts.
func WithHistory(h History) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

// WithTelemetry replaces the default telemetry.
func WithTelemetry(t *telemetry.Telemetry) ExecutorOption {
	return func(e *Executor) { e.telemetry = t }
}

// NewExecutor creates a new Executor.
func NewExecutor(registry *Registry, store *state.Store, logger *logging.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Executor{
		registry: registry,
		store:    store,
		locks:    newKeyLock(),
		logger:   logger.Component("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.telemetry == nil {
		e.telemetry = telemetry.Default()
	}
	return e
}

// Registry returns the workflow registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Store returns the state store.
func (e *Executor) Store() *state.Store { return e.store }

// ProcessMessage runs one turn. It returns nil when no workflow applies to
// msg, so the caller may fall back to plain conversation.
func (e *Executor) ProcessMessage(ctx context.Context, msg models.Message) *models.WorkflowResult {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	key := state.Key(msg.UserID, msg.ChannelID)

	unlock := e.locks.Lock(key)
	defer unlock()

	req := &Request{Message: msg, Key: key}
	if e.history != nil {
		req.History = e.history.Recent(key)
	}

	current, err := e.store.Get(ctx, key)
	if err != nil {
		e.logger.Error("failed to load state, treating as none", "key", key, "error", err)
		current = nil
	}

	var def *Definition
	if current != nil {
		var ok bool
		def, ok = e.registry.Get(current.WorkflowID)
		if !ok {
			e.logger.Warn("state refers to unknown workflow, clearing", "key", key, "workflow", current.WorkflowID)
			e.clear(ctx, key)
			current = nil
		} else if IsCancel(msg.Content) {
			e.logger.Info("workflow cancelled", "key", key, "workflow", def.ID)
			e.clear(ctx, key)
			return e.record(key, msg, &models.WorkflowResult{Success: true, Message: CancelledMessage})
		}
	}

	if current == nil {
		var ok bool
		def, ok = e.registry.FindByTrigger(msg.Content)
		if !ok {
			return nil
		}
	}

	return e.record(key, msg, e.run(ctx, def, req, current))
}

func (e *Executor) record(key string, msg models.Message, result *models.WorkflowResult) *models.WorkflowResult {
	if e.history != nil && result != nil {
		e.history.Record(key, "user", msg.Content)
		e.history.Record(key, "assistant", result.Message)
	}
	return result
}

func (e *Executor) run(ctx context.Context, def *Definition, req *Request, current *models.WorkflowState) *models.WorkflowResult {
	ctx, end := e.telemetry.StartTurn(ctx, def.ID)
	log := e.logger.With("key", req.Key, "workflow", def.ID, "message_id", req.Message.MessageID)

	phase := PhaseIdle
	req.def = def
	req.observe = func(next Phase) {
		log.Debug("phase transition", "from", phase, "to", next)
		phase = next
	}
	req.enter(PhaseTriggered)

	result, err := e.invoke(ctx, def, req, current)
	if err == nil && result == nil {
		err = errors.New("workflow returned no result")
	}

	if err == nil && result.RequireFollowUp {
		next := req.followUp
		if next == nil && current != nil {
			next = current
		}
		if next == nil {
			next = &models.WorkflowState{}
		}
		next.WorkflowID = def.ID
		if saveErr := e.store.Save(ctx, req.Key, next); saveErr != nil {
			err = fmt.Errorf("failed to save follow-up state: %w", saveErr)
		} else {
			req.enter(PhaseAwaitingFollowUp)
			end("follow_up", nil)
			return result
		}
	}

	if err != nil {
		log.Error("workflow turn failed", "phase", phase, "error", err)
		req.enter(PhaseTerminalFailure)
		e.clear(ctx, req.Key)
		end("failure", err)
		return e.failure(ctx, def, req, err)
	}

	e.clear(ctx, req.Key)
	if result.Success {
		req.enter(PhaseTerminalSuccess)
		end("success", nil)
	} else {
		req.enter(PhaseTerminalFailure)
		end("failure", nil)
	}
	return result
}

// invoke calls the handler, converting a panic into an error.
func (e *Executor) invoke(ctx context.Context, def *Definition, req *Request, current *models.WorkflowState) (result *models.WorkflowResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow panicked", "workflow", def.ID, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("workflow %s panicked: %v", def.ID, r)
		}
	}()
	if current != nil {
		return def.Handler.Continue(ctx, req, current)
	}
	return def.Handler.Execute(ctx, req)
}

// failure maps err through the definition's error handler, falling back to
// a generic result when there is none or it misbehaves.
func (e *Executor) failure(ctx context.Context, def *Definition, req *Request, err error) (result *models.WorkflowResult) {
	if def.OnError == nil {
		return DefaultErrorResult(def, err)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("error handler panicked", "workflow", def.ID, "panic", r)
			result = DefaultErrorResult(def, err)
		}
	}()
	result = def.OnError(ctx, req, err)
	if result == nil {
		return DefaultErrorResult(def, err)
	}
	result.Success = false
	result.RequireFollowUp = false
	result.Message = safety.EscapeString(result.Message)
	return result
}

func (e *Executor) clear(ctx context.Context, key string) {
	if err := e.store.Clear(ctx, key); err != nil {
		e.logger.Error("failed to clear state", "key", key, "error", err)
	}
}

// ClearState removes any pending follow-up for key.
func (e *Executor) ClearState(ctx context.Context, key string) error {
	unlock := e.locks.Lock(key)
	defer unlock()
	return e.store.Clear(ctx, key)
}
