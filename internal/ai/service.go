package ai

import (
	"fmt"

	"resumetailor/internal/config"
	rterrors "resumetailor/internal/errors"
)

// Service provides AI operations with a configured provider per operation.
type Service struct {
	analyzeProvider   Provider
	customizeProvider Provider
}

// NewService creates a new AI service with operation-specific providers.
func NewService(cfg *config.Config, logger *rterrors.Logger) (*Service, error) {
	analyzeCfg := cfg.GetAnalyzeConfig()
	analyzeProvider, err := newProvider(&analyzeCfg, "analyze", logger)
	if err != nil {
		return nil, err
	}

	customizeCfg := cfg.GetCustomizeConfig()
	customizeProvider, err := newProvider(&customizeCfg, "customize", logger)
	if err != nil {
		analyzeProvider.Close()
		return nil, err
	}

	return &Service{
		analyzeProvider:   analyzeProvider,
		customizeProvider: customizeProvider,
	}, nil
}

func newProvider(opCfg *config.OperationAIConfig, operationType string, logger *rterrors.Logger) (Provider, error) {
	switch opCfg.Provider {
	case "gemini":
		return NewGeminiProvider(opCfg, operationType, logger)
	default:
		return nil, rterrors.NewConfigError(rterrors.ErrCodeInvalidConfig,
			fmt.Sprintf("Unsupported AI provider: %s", opCfg.Provider), nil)
	}
}

// Analyze returns the provider configured for job analysis.
func (s *Service) Analyze() Provider {
	return s.analyzeProvider
}

// Customize returns the provider configured for resume customization.
func (s *Service) Customize() Provider {
	return s.customizeProvider
}

// Close releases both providers.
func (s *Service) Close() error {
	var firstErr error
	if err := s.analyzeProvider.Close(); err != nil {
		firstErr = err
	}
	if err := s.customizeProvider.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
