package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"

	"workflow-assistant/backend/internal/api"
	"workflow-assistant/backend/internal/auth"
	"workflow-assistant/backend/internal/chat"
	"workflow-assistant/backend/internal/config"
	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/mcp"
	"workflow-assistant/backend/internal/tls"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Starting Workflow Assistant", "version", version)

	repo, closer, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return err
	}
	defer closer.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("Database connected")

	a, err := buildApp(ctx, cfg, logger, repo)
	if err != nil {
		return err
	}
	defer a.close()

	authz, err := auth.New(ctx, cfg, logger.Component("auth"))
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := startBots(ctx, g, cfg, a, logger); err != nil {
		return err
	}

	e := newEcho(cfg, a, authz, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLS.Enable {
		server.Addr = cfg.Server.TLSAddr
		generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			logger.Error("failed to prepare TLS certificate", "error", err)
			return err
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	g.Go(func() error {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		var err error
		if cfg.TLS.Enable {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return server.Close()
		}
		logger.Info("Server stopped gracefully")
		return nil
	})
	g.Go(func() error {
		a.store.RunSweeper(ctx, cfg.State.SweepInterval)
		return nil
	})
	g.Go(func() error {
		a.scheduler.Run(ctx, cfg.Reminder.PollInterval)
		return nil
	})
	if cfg.Workflows.File != "" && cfg.Workflows.Watch {
		g.Go(func() error {
			return a.loader.Watch(ctx, cfg.Workflows.File)
		})
	}

	return g.Wait()
}

func newEcho(cfg *config.Config, a *app, authz *auth.Auth, logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(otelecho.Middleware("workflow-assistant"))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	health := api.NewHandler(a.repo, version)
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(a.executor))
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(a.executor, a.dispatcher, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpGroup := e.Group("/mcp", echo.WrapMiddleware(authz.RequireAuth))
	mcpGroup.Any("", echo.WrapHandler(mcpHandlers))
	mcpGroup.Any("/*", echo.WrapHandler(mcpHandlers))
	logger.Info("MCP protocol handlers mounted")

	return e
}

// startBots launches the configured chat transports and routes reminders to
// them.
func startBots(ctx context.Context, g *errgroup.Group, cfg *config.Config, a *app, logger *logging.Logger) error {
	if cfg.Discord.Token != "" {
		bot, err := chat.NewDiscordBot(cfg.Discord.Token, cfg.Discord.GuildID, a.dispatcher, logger)
		if err != nil {
			return err
		}
		a.scheduler.Route(chat.TransportDiscord, bot)
		g.Go(func() error { return bot.Run(ctx) })
	}
	if cfg.Telegram.Token != "" {
		bot, err := chat.NewTelegramBot(cfg.Telegram.Token, cfg.Telegram.AllowedUserIDs, a.dispatcher, logger)
		if err != nil {
			return err
		}
		a.scheduler.Route(chat.TransportTelegram, bot)
		g.Go(func() error { return bot.Run(ctx) })
	}
	return nil
}
