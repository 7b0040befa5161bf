// Package main is a terminal client that chats through a browser session.
// Settings come from CHATGPT_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CoCo-27/chatgpt-api/application"
	"github.com/CoCo-27/chatgpt-api/application/session"
	"github.com/CoCo-27/chatgpt-api/core/event"
	"github.com/CoCo-27/chatgpt-api/core/eventbus"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/domain/site"
	"github.com/CoCo-27/chatgpt-api/infrastructure/auth"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
	"github.com/CoCo-27/chatgpt-api/infrastructure/logging"
	"github.com/CoCo-27/chatgpt-api/infrastructure/repository"
	"github.com/CoCo-27/chatgpt-api/infrastructure/solver"
	"github.com/CoCo-27/chatgpt-api/resources"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig(newViper())

	// Initialize logging (dev: stderr, prod: rotating file)
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.JSON = cfg.LogJSON
	logger, closeLog, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load site profiles
	registry := site.NewRegistry()
	if err := site.NewLoader(registry).LoadFromFS(resources.SiteFiles); err != nil {
		return err
	}
	profile := registry.Get(cfg.Site)
	if profile == nil {
		return fmt.Errorf("unknown site %q (available: %v)", cfg.Site, registry.List())
	}
	logger.Info("Site loaded", "site", profile.Name)

	// Initialize event bus
	eventBus := eventbus.New(100, logger)
	defer eventBus.Close()
	eventBus.Subscribe(func(e event.Event) {
		logger.Debug("Event", "event", e.EventName())
	})

	// Optional snapshot store
	var snapshots *credential.Service
	if cfg.MongoURI != "" {
		mongoCfg := repository.DefaultMongoDBConfig()
		mongoCfg.URI = cfg.MongoURI
		mongoCfg.SnapshotTTL = cfg.SnapshotTTL
		mongoDB, err := repository.NewMongoDB(ctx, mongoCfg, logger)
		if err != nil {
			return err
		}
		defer mongoDB.Close(context.Background())
		snapshots = credential.NewService(repository.NewMongoSessionRepository(mongoDB, logger), cfg.SnapshotTTL)
	}

	// Optional challenge solver
	var solverClient solver.Client = solver.NewNoOpClient()
	if cfg.SolverURL != "" {
		solverCfg := solver.DefaultClientConfig()
		solverCfg.BaseURL = cfg.SolverURL
		solverCfg.APIKey = cfg.CaptchaToken
		httpSolver := solver.NewHTTPClient(solverCfg)
		defer httpSolver.Close()
		solverClient = httpSolver
	}

	sessCfg := session.DefaultConfig()
	sessCfg.Profile = profile
	sessCfg.Snapshots = snapshots
	sessCfg.Timeout = cfg.Timeout
	sessCfg.Model = cfg.Model
	sessCfg.ProxyServer = cfg.ProxyServer
	sessCfg.Minimize = cfg.Minimize
	sessCfg.BlockResources = cfg.BlockResources

	coordinator := application.NewCoordinator(&application.CoordinatorConfig{
		EventBus:      eventBus,
		DriverFactory: driverFactory(cfg),
		Bridge: auth.NewPageBridge(auth.BridgeConfig{
			Profile: profile,
			Solver:  solverClient,
			Logger:  logger,
		}),
		Session: sessCfg,
		Logger:  logger,
	})
	defer coordinator.Stop()

	m, err := coordinator.Open(ctx, credential.Credentials{
		Email:        cfg.Email,
		Password:     cfg.Password,
		CaptchaToken: cfg.CaptchaToken,
	})
	if err != nil {
		return err
	}

	err = promptLoop(ctx, m, os.Stdin, os.Stdout)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Shutting down")
	return nil
}

func driverFactory(cfg *config) application.DriverFactory {
	return func(dc *browser.DriverConfig) browser.Driver {
		dc.Headless = cfg.Headless
		dc.UserDataDir = cfg.UserDataDir
		dc.ExecPath = cfg.ExecPath
		if cfg.Driver == "playwright" {
			return browser.NewPlaywrightDriver(dc)
		}
		return browser.NewChromeDPDriver(dc)
	}
}
