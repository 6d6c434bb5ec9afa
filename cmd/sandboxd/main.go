package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/appforge/sandboxd/pkg/api"
	"github.com/appforge/sandboxd/pkg/cache"
	"github.com/appforge/sandboxd/pkg/config"
	"github.com/appforge/sandboxd/pkg/e2b"
	"github.com/appforge/sandboxd/pkg/monitoring"
	"github.com/appforge/sandboxd/pkg/sandbox"
	"github.com/appforge/sandboxd/pkg/tools"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	httpPort   int

	// Build info (set by build system)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "Sandbox lifecycle daemon",
		Long: `sandboxd manages per-tenant cloud sandboxes for coding agents.
It pools live sandboxes, reconnects to recently used ones, enforces
per-user and global quotas, and reaps idle or aged instances.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "", "log format (json, console)")
	rootCmd.PersistentFlags().IntVarP(&httpPort, "port", "p", 0, "HTTP server port")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Flag overrides
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if httpPort > 0 {
		cfg.Server.Port = httpPort
	}

	if err := monitoring.SetupLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", date).
		Str("template", cfg.Sandbox.Template).
		Str("api_key", config.MaskAPIKey(cfg.Sandbox.APIKey)).
		Msg("Starting sandboxd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := monitoring.InitTracing(ctx, monitoring.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Trace exporter shutdown failed")
		}
	}()

	store, err := buildCacheStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	e2bClient, err := e2b.NewClient(e2b.ClientConfig{
		APIKey: cfg.Sandbox.APIKey,
		Domain: cfg.Sandbox.Domain,
		APIURL: cfg.Sandbox.APIURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox client: %w", err)
	}

	// Empty journal path means journaling is off; the manager accepts nil.
	var journal *sandbox.Journal
	if cfg.Sandbox.JournalPath != "" {
		journal, err = sandbox.NewJournal(cfg.Sandbox.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open lifecycle journal: %w", err)
		}
		defer journal.Close()
	}

	manager, err := sandbox.New(sandbox.ManagerConfig{
		Template:         cfg.Sandbox.Template,
		SandboxTimeout:   cfg.Sandbox.Timeout,
		MaxPerUser:       cfg.Sandbox.MaxPerUser,
		MaxTotal:         cfg.Sandbox.MaxTotal,
		IdleTimeout:      cfg.Sandbox.IdleTimeout,
		MaxAge:           cfg.Sandbox.MaxAge,
		MaxRetries:       cfg.Sandbox.MaxRetries,
		RetryDelay:       cfg.Sandbox.RetryDelay,
		FreshWindow:      cfg.Sandbox.FreshWindow,
		HealthTimeout:    cfg.Sandbox.HealthTimeout,
		ReconnectTimeout: cfg.Sandbox.ReconnectTimeout,
		ReapInterval:     cfg.Sandbox.ReapInterval,
	}, sandbox.NewE2BClient(e2bClient), store, journal)
	if err != nil {
		return fmt.Errorf("failed to create sandbox manager: %w", err)
	}
	manager.Start()
	sandbox.SetDefault(manager)

	registry := tools.NewRegistry()
	if err := tools.RegisterAll(registry, manager, cfg.IsToolEnabled); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	log.Info().Strs("tools", registry.ToolNames()).Msg("Tools registered")

	server := api.NewServer(api.ServerConfig{
		Host:            cfg.Server.Address,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: 10 * time.Second,
	}, manager, registry, log.Logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("Server shutdown with error")
			}
		case <-time.After(15 * time.Second):
			log.Warn().Msg("Graceful shutdown timeout, forcing exit")
		}
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			cancel()
			shutdownManager(manager)
			return err
		}
	}

	shutdownManager(manager)
	log.Info().Msg("Shutdown complete")
	return nil
}

func shutdownManager(manager *sandbox.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Manager shutdown reported errors")
	}
}

func buildCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if !cfg.Cache.Enabled {
		log.Info().Msg("Sandbox cache disabled")
		return cache.Disabled{}, nil
	}
	store, err := cache.NewRedis(ctx, cfg.Cache.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}
	log.Info().Msg("Connected to sandbox cache")
	return store, nil
}

func newConfigCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()

			if outputPath == "" {
				outputPath = "sandboxd.yaml"
			}

			if err := cfg.SaveConfig(outputPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Printf("Generated default configuration: %s\n", outputPath)
			return nil
		},
	}
	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Printf("Configuration is valid\n")
			fmt.Printf("Listen: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
			fmt.Printf("Template: %s\n", cfg.Sandbox.Template)
			fmt.Printf("Quotas: %d per user, %d total\n", cfg.Sandbox.MaxPerUser, cfg.Sandbox.MaxTotal)
			fmt.Printf("Cache enabled: %t\n", cfg.Cache.Enabled)

			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Never print the real key.
			cfg.Sandbox.APIKey = config.MaskAPIKey(cfg.Sandbox.APIKey)

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}

	cmd.AddCommand(generateCmd)
	cmd.AddCommand(validateCmd)
	cmd.AddCommand(showCmd)

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sandboxd\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", date)
		},
	}
}
