package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/ledgersync/service/db"
	"github.com/brojonat/ledgersync/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 100     // base58 signatures are at most 88 chars
	maxWorkflowIDSize  = 200
)

var (
	// Valid base58 characters (no 0, O, I, l)
	validBase58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	validWorkflowIDRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

	journalStatuses = []string{"pending", "confirmed", "failed", "expired"}
)

// handleListSubmissions returns a handler that lists journaled submissions.
// GET /api/v1/submissions?payer=ADDRESS&status=STATUS&limit=N&offset=N
func handleListSubmissions(journal JournalReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		payer := query.Get("payer")
		if payer != "" {
			if err := validateAddress(payer); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		status := query.Get("status")
		if status != "" && !slices.Contains(journalStatuses, status) {
			writeError(w, fmt.Sprintf("invalid status: must be one of %s", strings.Join(journalStatuses, ", ")), http.StatusBadRequest)
			return
		}

		// Parse limit (default 100, max 1000)
		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		subs, err := journal.ListSubmissions(r.Context(), db.ListSubmissionsParams{
			Payer:  payer,
			Status: status,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list submissions", "payer", payer, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("submissions listed", "payer", payer, "count", len(subs))

		resp := make([]submissionResponse, len(subs))
		for i := range subs {
			resp[i] = submissionToResponse(subs[i])
		}

		writeJSON(w, map[string]interface{}{
			"submissions": resp,
			"count":       len(resp),
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// handleGetSubmission returns a handler that retrieves one journal entry.
// GET /api/v1/submissions/{signature}
func handleGetSubmission(journal JournalReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		sub, err := journal.GetSubmission(r.Context(), signature)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "submission not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get submission", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, submissionToResponse(sub), http.StatusOK)
	})
}

// handleSubmissionStats returns a handler that counts submissions per status.
// GET /api/v1/stats
func handleSubmissionStats(journal JournalReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := journal.CountSubmissionsByStatus(r.Context())
		if err != nil {
			logger.Error("failed to count submissions", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		var total int64
		for _, n := range counts {
			total += n
		}
		writeJSON(w, map[string]interface{}{
			"by_status": counts,
			"total":     total,
		}, http.StatusOK)
	})
}

// startWorkflowRequest is the body of POST /api/v1/workflows.
type startWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
	temporal.SubmitAndAwaitInput
}

// handleStartWorkflow returns a handler that starts a SubmitAndAwait workflow.
// POST /api/v1/workflows
func handleStartWorkflow(workflows WorkflowClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req startWorkflowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode workflow request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateWorkflowRequest(&req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.WorkflowID == "" {
			req.WorkflowID = fmt.Sprintf("submit-%d", time.Now().UnixNano())
		}

		runID, err := workflows.StartSubmitAndAwait(r.Context(), req.WorkflowID, req.SubmitAndAwaitInput)
		if err != nil {
			logger.Error("failed to start workflow", "workflow_id", req.WorkflowID, "error", err)
			writeError(w, "failed to start workflow", http.StatusInternalServerError)
			return
		}

		logger.Info("workflow started", "workflow_id", req.WorkflowID, "run_id", runID)
		writeJSON(w, map[string]string{
			"workflow_id": req.WorkflowID,
			"run_id":      runID,
		}, http.StatusAccepted)
	})
}

// handleGetWorkflow returns a handler that reports workflow status.
// GET /api/v1/workflows/{workflow_id}
func handleGetWorkflow(workflows WorkflowClient, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workflowID := r.PathValue("workflow_id")
		if err := validateWorkflowID(workflowID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		status, err := workflows.DescribeSubmitAndAwait(r.Context(), workflowID)
		if err != nil {
			logger.Warn("failed to describe workflow", "workflow_id", workflowID, "error", err)
			writeError(w, "workflow not found", http.StatusNotFound)
			return
		}

		writeJSON(w, status, http.StatusOK)
	})
}

func validateWorkflowRequest(req *startWorkflowRequest) error {
	if req.WorkflowID != "" {
		if err := validateWorkflowID(req.WorkflowID); err != nil {
			return err
		}
	}
	if len(req.Instructions) == 0 {
		return errorf("instructions are required")
	}
	if _, err := temporal.ToInstructions(req.Instructions); err != nil {
		return errorf("invalid instructions: %v", err)
	}
	if req.Await != nil {
		if err := validateAddress(req.Await.Address); err != nil {
			return errorf("invalid await address: %v", err)
		}
		if req.Await.Timeout < 0 {
			return errorf("await timeout cannot be negative")
		}
	}
	return nil
}

// submissionResponse is the JSON response format for a journal entry.
type submissionResponse struct {
	Signature            string    `json:"signature"`
	Payer                string    `json:"payer"`
	SignerKind           string    `json:"signer_kind"`
	Status               string    `json:"status"`
	Error                *string   `json:"error,omitempty"`
	Slot                 int64     `json:"slot"`
	Commitment           string    `json:"commitment"`
	LastValidBlockHeight int64     `json:"last_valid_block_height"`
	WorkflowID           *string   `json:"workflow_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func submissionToResponse(s *db.Submission) submissionResponse {
	return submissionResponse{
		Signature:            s.Signature,
		Payer:                s.Payer,
		SignerKind:           s.SignerKind,
		Status:               s.Status,
		Error:                s.Error,
		Slot:                 s.Slot,
		Commitment:           s.Commitment,
		LastValidBlockHeight: s.LastValidBlockHeight,
		WorkflowID:           s.WorkflowID,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address for security and format.
func validateAddress(address string) error {
	return validateBase58("address", address, maxAddressLength)
}

func validateSignature(signature string) error {
	return validateBase58("signature", signature, maxSignatureLength)
}

func validateBase58(field, value string, maxLength int) error {
	if value == "" {
		return errorf("%s is required", field)
	}

	if len(value) > maxLength {
		return errorf("%s too long: maximum length is %d characters", field, maxLength)
	}

	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validBase58Regex.MatchString(value) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}

	return nil
}

func validateWorkflowID(id string) error {
	if id == "" {
		return errorf("workflow_id is required")
	}
	if len(id) > maxWorkflowIDSize {
		return errorf("workflow_id too long: maximum length is %d characters", maxWorkflowIDSize)
	}
	if !validWorkflowIDRegex.MatchString(id) {
		return errorf("invalid workflow_id: only letters, digits and . _ : - are allowed")
	}
	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
