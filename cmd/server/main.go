package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tbulle/remote-ai-ide/internal/agent"
	"github.com/tbulle/remote-ai-ide/internal/config"
	"github.com/tbulle/remote-ai-ide/internal/event"
	"github.com/tbulle/remote-ai-ide/internal/gateway"
	"github.com/tbulle/remote-ai-ide/internal/logging"
	"github.com/tbulle/remote-ai-ide/internal/project"
	"github.com/tbulle/remote-ai-ide/internal/session"
)

const projectScanDepth = 2

func main() {
	cfg := config.Load()

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})

	runner := agent.NewCommandRunner(cfg.AgentCommand)
	bus := event.NewBus()

	registry := session.NewRegistry(cfg.MaxSessions, runner, bus)
	registry.StartSweep(cfg.SweepInterval, cfg.IdleTimeout)

	projects := project.NewDiscovery(cfg.ProjectsRoot, projectScanDepth)
	if err := projects.Start(); err != nil {
		logging.Warn().Err(err).Msg("project watcher unavailable, listings may go stale")
	}

	gw := gateway.New(registry, projects, bus, gateway.Config{
		ValidateToken: cfg.ValidateToken,
		RateLimit:     cfg.RateLimit,
		RateWindow:    cfg.RateWindow,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: gw.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logging.Info().Msg("shutting down")
		projects.Stop()
		registry.Shutdown()
		gw.Close()
		bus.Close()
		httpServer.Close()
	}()

	logging.Info().Int("port", cfg.Port).Int("maxSessions", cfg.MaxSessions).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal().Err(err).Msg("http server error")
	}
}
