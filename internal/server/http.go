// Package server exposes the tailoring pipeline over HTTP. The web flow
// splits the approval gate across two requests: /analyze returns proposed
// changes with warnings, /tailor takes the decisions and runs the rest of
// the pipeline. Decisions omitted from a /tailor request count as
// rejections, never approvals.
package server

import (
	"time"

	"resumetailor/internal/ai"
	"resumetailor/internal/config"
	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/ledger"
	"resumetailor/internal/observability"
	"resumetailor/internal/pipeline"
	"resumetailor/internal/store"
	"resumetailor/internal/types"
)

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	JobDescription string `json:"jobDescription"`
	JobTitle       string `json:"jobTitle,omitempty"`
	Company        string `json:"company,omitempty"`
	ResumeSource   string `json:"resumeSource"`
}

// ProposedChangeView is one reviewable change in an /analyze response.
type ProposedChangeView struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
	Warning     string `json:"warning,omitempty"`
}

// AnalyzeResponse is the body of a successful /analyze response.
type AnalyzeResponse struct {
	Changes []ProposedChangeView `json:"changes"`
	Usage   *ai.TokenUsage       `json:"usage,omitempty"`
}

// TailorRequest is the body of POST /tailor. Decisions map change IDs from
// a prior /analyze call to accept (true) or reject (false).
type TailorRequest struct {
	JobDescription string          `json:"jobDescription"`
	JobTitle       string          `json:"jobTitle,omitempty"`
	Company        string          `json:"company,omitempty"`
	ResumeSource   string          `json:"resumeSource"`
	ResumeBaseName string          `json:"resumeBaseName,omitempty"`
	Decisions      map[string]bool `json:"decisions"`
}

// TailorResponse is the body of a /tailor response. StoreError is set when
// the document validated but history bookkeeping failed; the artifact
// paths are still present in that case.
type TailorResponse struct {
	Report      types.RunReport          `json:"report"`
	Record      *types.ApplicationRecord `json:"record,omitempty"`
	Diagnostics string                   `json:"diagnostics,omitempty"`
	StoreError  string                   `json:"storeError,omitempty"`
}

// UpdateApplicationRequest is the body of POST /applications/update. Nil
// fields leave the record untouched.
type UpdateApplicationRequest struct {
	ID      int64   `json:"id"`
	Applied *bool   `json:"applied,omitempty"`
	JobLink *string `json:"jobLink,omitempty"`
	Notes   *string `json:"notes,omitempty"`
	Company *string `json:"company,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Deps holds the collaborators a Server needs. Providers and the compiler
// are injected so tests can run the full request path without external
// services.
type Deps struct {
	AnalyzeProvider   ai.Provider
	CustomizeProvider ai.Provider
	Compiler          pipeline.Compiler
	Store             *store.Store
	Ledger            *ledger.Ledger
	Observability     *observability.Manager
	Logger            *rterrors.Logger
}

// Server holds configuration for the HTTP server
type Server struct {
	Host    string
	Port    string
	Version string

	// Full application configuration
	AppConfig *config.Config

	// TLS cert/key pair, both empty for plain HTTP
	TLSCertFile string
	TLSKeyFile  string

	// API Authentication
	APIKeys map[string]bool

	// Timeout configurations
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Request size limit
	MaxRequestSize int64

	// Rate limiting
	RateLimit   *config.RateLimitConfig
	RateLimiter *RateLimiter

	deps     Deps
	pipeline *pipeline.Pipeline

	Logger *rterrors.Logger
}

// NewServer creates a new Server instance
func NewServer(appCfg *config.Config, version string, deps Deps) *Server {
	// Convert API keys slice to map for O(1) lookup
	apiKeyMap := make(map[string]bool)
	for _, key := range appCfg.Server.APIKeys {
		if key != "" {
			apiKeyMap[key] = true
		}
	}

	rateLimit := appCfg.Server.RateLimit
	var rateLimiter *RateLimiter
	if rateLimit.Enabled {
		rateLimiter = NewRateLimiter(
			rateLimit.RequestsPerMin,
			rateLimit.BurstCapacity,
			deps.Logger,
		)
	}

	p := pipeline.New(
		deps.AnalyzeProvider,
		deps.CustomizeProvider,
		deps.Compiler,
		deps.Store,
		deps.Ledger,
		deps.Logger,
		pipeline.Options{
			OutputDir:     appCfg.Output.Dir,
			KeepFailedDir: appCfg.Compiler.KeepFailedDir,
			Metrics:       pipelineMetrics(deps.Observability),
		},
	)

	return &Server{
		Host:           appCfg.Server.Host,
		Port:           appCfg.Server.Port,
		Version:        version,
		AppConfig:      appCfg,
		TLSCertFile:    appCfg.Server.TLSCertFile,
		TLSKeyFile:     appCfg.Server.TLSKeyFile,
		APIKeys:        apiKeyMap,
		ReadTimeout:    appCfg.Server.ReadTimeout,
		WriteTimeout:   appCfg.Server.WriteTimeout,
		IdleTimeout:    appCfg.Server.IdleTimeout,
		MaxRequestSize: appCfg.App.MaxFileSize,
		RateLimit:      &rateLimit,
		RateLimiter:    rateLimiter,
		deps:           deps,
		pipeline:       p,
		Logger:         deps.Logger,
	}
}

// pipelineMetrics extracts the run counters for the pipeline, tolerating a
// server assembled without observability.
func pipelineMetrics(om *observability.Manager) *observability.Metrics {
	if om == nil {
		return nil
	}
	return om.GetMetrics()
}
