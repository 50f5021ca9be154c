package main

import (
	"context"
	"fmt"

	"workflow-assistant/backend/internal/capability"
	"workflow-assistant/backend/internal/chat"
	"workflow-assistant/backend/internal/config"
	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/reminder"
	"workflow-assistant/backend/internal/repository"
	"workflow-assistant/backend/internal/safety"
	"workflow-assistant/backend/internal/selector"
	"workflow-assistant/backend/internal/services"
	"workflow-assistant/backend/internal/state"
	"workflow-assistant/backend/internal/telemetry"
	"workflow-assistant/backend/internal/workflow"
)

const (
	capabilityTasks    = "tasks"
	capabilityCalendar = "calendar"
)

// app is the fully wired workflow core shared by every command.
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	repo         repository.Repository
	telemetry    *telemetry.Telemetry
	store        *state.Store
	registry     *workflow.Registry
	loader       *workflow.Loader
	executor     *workflow.Executor
	scheduler    *reminder.Scheduler
	conversation *services.ConversationService
	dispatcher   *chat.Dispatcher
	mcpProviders []*capability.MCPProvider
}

func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, repo repository.Repository) (*app, error) {
	tel := telemetry.Default()

	llm := services.NewHTTPLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	validator := safety.NewValidator(cfg.Substitutions(), logger)
	sel := selector.NewSelector(llm, validator, cfg.LLM.Temperature, logger)

	providers := capability.NewRegistry()
	if id := cfg.Notion.TaskDatabaseID; id != "" {
		providers.Register(capabilityTasks, capability.NewNotionProvider(notionConfig(cfg, id, "Task list database.")))
	}
	if id := cfg.Notion.CalendarDatabaseID; id != "" {
		providers.Register(capabilityCalendar, capability.NewNotionProvider(notionConfig(cfg, id, "Calendar database of events.")))
	}

	a := &app{cfg: cfg, logger: logger, repo: repo, telemetry: tel}
	for _, srv := range cfg.MCP.Servers {
		p, err := capability.ConnectMCP(ctx, srv)
		if err != nil {
			a.close()
			return nil, err
		}
		providers.Register(srv.Name, p)
		a.mcpProviders = append(a.mcpProviders, p)
		logger.Info("MCP capability connected", "name", srv.Name)
	}
	logger.Info("Capability providers registered", "names", providers.Names())

	pipeline := workflow.NewPipeline(providers, sel, validator, tel, logger)

	a.scheduler = reminder.NewScheduler(repo, logger, reminder.WithTelemetry(tel))
	builtin := map[string]workflow.Handler{
		capabilityTasks:    workflow.NewTaskHandler(pipeline, capabilityTasks),
		capabilityCalendar: workflow.NewCalendarHandler(pipeline, capabilityCalendar, workflow.WithReminders(a.scheduler)),
	}

	a.registry = workflow.NewRegistry(logger)
	a.loader = workflow.NewLoader(a.registry, workflow.BuiltinFactory(pipeline, builtin), logger)
	var (
		n   int
		err error
	)
	if cfg.Workflows.File != "" {
		n, err = a.loader.LoadFile(cfg.Workflows.File)
	} else {
		n, err = a.loader.Load(workflow.DefaultDefinitions)
	}
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}
	if err := registerMCPWorkflows(a.registry, pipeline, cfg.MCP.Servers); err != nil {
		a.close()
		return nil, err
	}
	for _, info := range a.registry.List() {
		for _, name := range info.RequiredCapabilities {
			if _, err := providers.Get(name); err != nil {
				logger.Warn("workflow needs an unconfigured capability", "workflow", info.ID, "capability", name)
			}
		}
	}
	logger.Info("Workflows registered", "loaded", n, "total", len(a.registry.List()))

	a.store = state.NewStore(repo, cfg.State.TTL, logger, state.WithSweepHook(func(removed int) {
		tel.Swept(context.Background(), removed)
	}))
	a.conversation = services.NewConversationService(llm, 0)
	a.executor = workflow.NewExecutor(a.registry, a.store, logger,
		workflow.WithHistory(a.conversation),
		workflow.WithTelemetry(tel),
	)
	a.dispatcher = chat.NewDispatcher(a.executor, a.conversation, logger)
	return a, nil
}

func notionConfig(cfg *config.Config, databaseID, description string) capability.NotionConfig {
	return capability.NotionConfig{
		Description: description,
		APIKey:      cfg.Notion.APIKey,
		BaseURL:     cfg.Notion.BaseURL,
		Version:     cfg.Notion.Version,
		DatabaseID:  databaseID,
		Timeout:     cfg.Notion.Timeout,
	}
}

// registerMCPWorkflows gives every MCP server with a workflow id a generic
// tool workflow triggered by that id, unless the definitions file already
// declares it.
func registerMCPWorkflows(registry *workflow.Registry, pipeline *workflow.Pipeline, servers []config.MCPServer) error {
	for _, srv := range servers {
		if srv.Workflow == "" {
			continue
		}
		if _, exists := registry.Get(srv.Workflow); exists {
			continue
		}
		def := &workflow.Definition{
			ID:                   srv.Workflow,
			Name:                 srv.Name,
			Triggers:             []string{srv.Workflow},
			RequiredCapabilities: []string{srv.Name},
			Handler:              workflow.NewToolHandler(pipeline, srv.Name),
			OnError:              workflow.DefaultOnError,
		}
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register workflow for MCP server %s: %w", srv.Name, err)
		}
	}
	return nil
}

func (a *app) close() {
	for _, p := range a.mcpProviders {
		if err := p.Close(); err != nil {
			a.logger.Warn("failed to close MCP client", "error", err)
		}
	}
}
