package cli

import (
	"fmt"

	"resumetailor/internal/ai"
	"resumetailor/internal/latex"
	"resumetailor/internal/ledger"
	"resumetailor/internal/observability"
	"resumetailor/internal/server"
	"resumetailor/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for resume tailoring",
	Long: `Start an HTTP server that provides REST API endpoints for resume tailoring.

Available endpoints:
- POST /analyze: Analyze a job description and propose resume changes for review
- POST /tailor: Apply reviewed decisions and produce a validated tailored resume
- GET /applications: List recorded applications
- POST /applications/update: Update the status of a recorded application
- GET /health: Health check endpoint
- GET /stats: Server statistics and rate limiting info

TLS is enabled when both --cert-file and --key-file are set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (default from config)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from config)")
	serveCmd.Flags().String("cert-file", "", "Server certificate file (PEM, overrides config)")
	serveCmd.Flags().String("key-file", "", "Server private key file (PEM, overrides config)")

	// Bind flags to viper config keys
	bindFlag := func(key, flagName string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(flagName)); err != nil {
			panic(err)
		}
	}

	bindFlag("server.port", "port")
	bindFlag("server.host", "host")
	bindFlag("server.tlsCertFile", "cert-file")
	bindFlag("server.tlsKeyFile", "key-file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := getConfigFromContext(cmd.Context())
	logger := getLoggerFromContext(cmd.Context())

	obs, err := observability.NewManager(cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		if shutdownErr := obs.Shutdown(cmd.Context()); shutdownErr != nil {
			logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	aiService, err := ai.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create AI service: %w", err)
	}
	defer func() { _ = aiService.Close() }()

	deps := server.Deps{
		AnalyzeProvider:   aiService.Analyze(),
		CustomizeProvider: aiService.Customize(),
		Compiler:          latex.NewCompiler(cfg.Compiler.Command, cfg.Compiler.Timeout, logger),
		Store:             store.New(cfg.StorePath()),
		Ledger:            ledger.New(cfg.LedgerPath(), cfg.Ledger.InputRate, cfg.Ledger.OutputRate),
		Observability:     obs,
		Logger:            logger,
	}
	return server.NewServer(cfg, Version, deps).Start()
}
