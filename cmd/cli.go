package cmd

import (
	"context"
	"time"

	"github.com/habedi/cloudauth/auth"
	"github.com/habedi/cloudauth/client"
	"github.com/habedi/cloudauth/config"
	"github.com/habedi/cloudauth/db"
	"github.com/habedi/cloudauth/fetcher"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitRateLimited = 3
)

var configPath string

// services is what the commands work with. It is built once per invocation after the config is
// loaded and the database is open.
type services struct {
	cfg     *config.Config
	coord   *auth.Coordinator
	fetcher *fetcher.Fetcher
}

var svc *services

// shutdownGrace is added to the refresh timeout when waiting for an abandoned refresh on exit.
const shutdownGrace = time.Second

// Execute runs the command line under ctx and returns the process exit status. When ctx ends
// the running command stops waiting, but a token refresh already sent upstream is still saved
// before the database is closed.
func Execute(ctx context.Context) int {
	rootCmd := createRootCmd()
	rootCmd.PersistentFlags().BoolP("help", "h", false, "Show help for a command")

	err := rootCmd.ExecuteContext(ctx)
	shutdown()
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed.")
		return exitCode(err)
	}
	return exitOK
}

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "cloudauth",
		Short:             "Keep a cloud-storage API token pair fresh without getting rate limited",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { shutdown() },
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default ~/.cloudauth/config.yaml)")

	rootCmd.AddCommand(
		tokenCmd(),
		settingsCmd(),
		quotaCmd(),
		userCmd(),
		searchCmd(),
		versionCmd(),
	)

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	return rootCmd
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return autherr.New(autherr.Config, "failed to load configuration", err)
	}
	db.Path = cfg.DatabasePath
	if err := initializeDatabase(); err != nil {
		return err
	}
	svc = newServices(cfg)
	return nil
}

func newServices(cfg *config.Config) *services {
	api := client.NewClient(cfg.API.BaseURL, cfg.API.TokenURL, cfg.API.RequestTimeout)
	api.MaxRetries = cfg.API.MaxRetries
	api.RetryBackoff = cfg.API.RetryBackoff

	repo := db.NewCredentialRepository(db.GetDB())
	coord := auth.NewCoordinator(repo, api, auth.WithRefreshTimeout(cfg.API.RefreshTimeout))
	return &services{
		cfg:     cfg,
		coord:   coord,
		fetcher: fetcher.New(coord, api, repo, fetcher.WithWorkers(cfg.Search.Workers)),
	}
}

func initializeDatabase() error {
	if err := db.InitDB(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return err
	}
	return nil
}

// shutdown waits for in-flight token refreshes and closes the database. It is safe to call more
// than once.
func shutdown() {
	if svc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), svc.cfg.API.RefreshTimeout+shutdownGrace)
		if err := svc.coord.Wait(ctx); err != nil {
			log.Error().Err(err).Msg("Gave up waiting for token refresh to finish.")
		}
		cancel()
		svc = nil
	}
	closeDatabase()
}

func closeDatabase() {
	if err := db.CloseDB(); err != nil {
		log.Error().Err(err).Msg("Failed to close the database.")
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch autherr.TypeOf(err) {
	case autherr.Config:
		return exitConfig
	case autherr.RateLimited:
		return exitRateLimited
	default:
		return exitFailure
	}
}
