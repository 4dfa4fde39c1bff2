package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/poiesis-run/poiesis/pkg/api"
	"github.com/poiesis-run/poiesis/pkg/auth"
	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/filer"
	"github.com/poiesis-run/poiesis/pkg/log"
	"github.com/poiesis-run/poiesis/pkg/objectstore"
	"github.com/poiesis-run/poiesis/pkg/orchestrator"
	"github.com/poiesis-run/poiesis/pkg/store"
	"github.com/poiesis-run/poiesis/pkg/texam"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "poiesis",
	Short:   "Poiesis - a GA4GH Task Execution Service for container-orchestration clusters",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Poiesis version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	taskIDFlag := func(cmd *cobra.Command) {
		cmd.Flags().String("task-id", "", "task id this workload acts on")
		_ = cmd.MarkFlagRequired("task-id")
	}
	taskIDFlag(orchestrateCmd)
	taskIDFlag(stageInCmd)
	taskIDFlag(executeCmd)
	taskIDFlag(stageOutCmd)

	rootCmd.AddCommand(serveCmd, orchestrateCmd, stageInCmd, executeCmd, stageOutCmd, migrateCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func newDriver(cfg *config.Config) (cluster.Driver, error) {
	return cluster.NewContainerdDriver(cfg.ContainerdSocket, cfg.DataDir)
}

func newBus(cfg *config.Config) bus.Bus {
	if cfg.Redis.Host == "" {
		return bus.NewMemoryBus()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	return bus.NewRedisBus(addr, cfg.Redis.Password)
}

func newAuth(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	switch cfg.AuthType {
	case config.AuthTypeOIDC:
		return auth.NewOIDCAuthenticator(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
	default:
		return auth.NewDummyAuthenticator(), nil
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TES API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := cmd.Context()

		s, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		driver, err := newDriver(cfg)
		if err != nil {
			return fmt.Errorf("init cluster driver: %w", err)
		}

		authn, err := newAuth(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}

		srv := &api.Server{
			Store:  s,
			Bus:    newBus(cfg),
			Driver: driver,
			Auth:   authn,
			Config: cfg,
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.APIServerPort),
			Handler: api.NewRouter(srv),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Logger.Info().Int("port", cfg.APIServerPort).Msg("poiesis api listening")
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			return fmt.Errorf("api server: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run TOrc for one task (internal workload)",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, _ := cmd.Flags().GetString("task-id")
		cfg := config.Load()

		s, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		driver, err := newDriver(cfg)
		if err != nil {
			return fmt.Errorf("init cluster driver: %w", err)
		}

		deps := orchestrator.Dependencies{Store: s, Bus: newBus(cfg), Driver: driver, Config: cfg}
		return orchestrator.Run(cmd.Context(), deps, taskID)
	},
}

var stageInCmd = &cobra.Command{
	Use:   "stage-in",
	Short: "Run TIF for one task (internal workload)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFiler(cmd, filer.RunInput)
	},
}

var stageOutCmd = &cobra.Command{
	Use:   "stage-out",
	Short: "Run TOF for one task (internal workload)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFiler(cmd, filer.RunOutput)
	},
}

func runFiler(cmd *cobra.Command, run func(context.Context, filer.Dependencies, string) error) error {
	taskID, _ := cmd.Flags().GetString("task-id")
	cfg := config.Load()

	s, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	registry, err := objectstore.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("init object store registry: %w", err)
	}

	deps := filer.Dependencies{Store: s, Bus: newBus(cfg), ObjectStore: registry, Config: cfg}
	return run(cmd.Context(), deps, taskID)
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run TExAM for one task (internal workload)",
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, _ := cmd.Flags().GetString("task-id")
		cfg := config.Load()

		s, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		driver, err := newDriver(cfg)
		if err != nil {
			return fmt.Errorf("init cluster driver: %w", err)
		}

		deps := texam.Dependencies{Store: s, Bus: newBus(cfg), Driver: driver, Config: cfg}
		return texam.Run(cmd.Context(), deps, taskID)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bootstrap the Store's on-disk schema",
	Long: `Opens the BoltDB file under --data-dir (or POIESIS_DATA_DIR), creating
the task bucket if absent, then exits. BoltStore's schema has no versioned
migrations today; this command exists so deploy tooling has a single,
idempotent "make sure the store is ready" step, the way a SQL-backed Store
would run its migration chain here instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		s, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()
		fmt.Printf("store ready at %s\n", cfg.DataDir)
		return nil
	},
}
