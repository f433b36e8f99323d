package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	rterrors "resumetailor/internal/errors"
	"resumetailor/internal/pipeline"
	"resumetailor/internal/review"
	"resumetailor/internal/store"
	"resumetailor/internal/types"
)

// healthHandler provides a health check endpoint including AI model status
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status":  "healthy",
		"service": "resumetailor",
		"version": s.Version,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	analyzeInfo := s.deps.AnalyzeProvider.GetModelInfo(ctx)
	customizeInfo := s.deps.CustomizeProvider.GetModelInfo(ctx)
	response["ai_models"] = map[string]any{
		"analyze":   analyzeInfo,
		"customize": customizeInfo,
	}

	if !analyzeInfo.Available || !customizeInfo.Available {
		response["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode health response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// statsHandler provides server statistics including rate limiting info
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"service": "resumetailor",
		"version": s.Version,
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
		},
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{
			"enabled": false,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode stats response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// analyzeHandler runs job analysis and returns the proposed changes for
// out-of-band review.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return
	}

	job := types.JobDescription{Text: req.JobDescription, Title: req.JobTitle, Company: req.Company}
	analysis, err := s.pipeline.AnalyzeOnly(r.Context(), job, req.ResumeSource)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	resp := AnalyzeResponse{
		Changes: make([]ProposedChangeView, 0, len(analysis.Items)),
		Usage:   analysis.Usage,
	}
	for _, item := range analysis.Items {
		resp.Changes = append(resp.Changes, ProposedChangeView{
			ID:          item.Change.ID,
			Category:    string(item.Change.Category),
			Description: item.Change.Description,
			Evidence:    item.Change.Evidence,
			Warning:     item.Warning,
		})
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

// tailorHandler runs the full pipeline with the submitted decisions.
// Change IDs absent from the decisions map are rejected, so an unchecked
// box on the client can never approve anything.
func (s *Server) tailorHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TailorRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.Run(r.Context(), pipeline.RunInput{
		Job:            types.JobDescription{Text: req.JobDescription, Title: req.JobTitle, Company: req.Company},
		ResumeSource:   req.ResumeSource,
		ResumeBaseName: req.ResumeBaseName,
		Reviewer:       review.StaticReviewer{Decisions: req.Decisions},
	})

	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			switch stageErr.Stage {
			case pipeline.StageCompile:
				// The candidate was rejected, report the diagnostics so the
				// client can show why.
				writeJSONResponse(w, http.StatusUnprocessableEntity, TailorResponse{
					Report:      result.Report(),
					Diagnostics: result.Document.Diagnostics,
				})
				return
			case pipeline.StageStore:
				if result.State == pipeline.StateValidated {
					// Artifacts are valid and on disk, only bookkeeping
					// failed. Surface the paths.
					writeJSONResponse(w, http.StatusOK, TailorResponse{
						Report:     result.Report(),
						StoreError: stageErr.Err.Error(),
					})
					return
				}
			}
		}
		s.writeAppError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, TailorResponse{
		Report: result.Report(),
		Record: result.Record,
	})
}

// applicationsHandler lists the application history.
func (s *Server) applicationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.deps.Store.ListAll()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, records)
}

// updateApplicationHandler mutates the status fields of one record.
func (s *Server) updateApplicationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UpdateApplicationRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID <= 0 {
		writeErrorResponse(w, "Invalid request", "id is required", http.StatusBadRequest)
		return
	}

	record, err := s.deps.Store.UpdateStatus(req.ID, store.StatusUpdate{
		Applied: req.Applied,
		JobLink: req.JobLink,
		Notes:   req.Notes,
		Company: req.Company,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, record)
}

// writeAppError maps application error codes to HTTP status codes.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := rterrors.CodeOf(err)

	switch code {
	case rterrors.ErrCodeInputError, rterrors.ErrCodeInvalidFormat:
		status = http.StatusBadRequest
	case rterrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case rterrors.ErrCodeAIRateLimited:
		status = http.StatusTooManyRequests
	case rterrors.ErrCodeAIAuthFailed,
		rterrors.ErrCodeAIServiceFailed,
		rterrors.ErrCodeAIResponseParse,
		rterrors.ErrCodeAnalysisParse,
		rterrors.ErrCodeExtractionFailure:
		status = http.StatusBadGateway
	case rterrors.ErrCodeAITimeout:
		status = http.StatusGatewayTimeout
	}

	s.Logger.LogError(err, "Request failed",
		"endpoint", r.URL.Path,
		"status", status)

	message := err.Error()
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	writeErrorResponse(w, code, message, status)
}

// parseJSONRequest parses JSON request body into the provided struct
func parseJSONRequest(r *http.Request, v any) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("content-type must be application/json")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body too large (limit is %d bytes)", maxBytesErr.Limit)
		}
		return fmt.Errorf("failed to read request body: %w", err)
	}
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("Failed to close request body: %v", err)
		}
	}()

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, error, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   error,
		Message: message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode error response: %v", err)
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
