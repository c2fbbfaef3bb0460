package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskmasterpeace/lognog/internal/query"
	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
)

// queryRequestBody is the query endpoint's wire contract (spec.md §6).
type queryRequestBody struct {
	Query         string `json:"query"`
	Index         string `json:"index"`
	Earliest      string `json:"earliest"`
	Latest        string `json:"latest"`
	ExtractFields bool   `json:"extract_fields"`
}

// queryErrorBody is returned for any failure; Line/Column are only
// populated for a ParseError.
type queryErrorBody struct {
	Error   string `json:"error"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleQuery runs req.Query through the DSL engine and writes its
// Response, or a queryErrorBody with an HTTP status matching the typed
// error taxonomy (spec.md §7).
func (a *App) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body queryRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeQueryError(w, http.StatusBadRequest, &queryErrorBody{Error: "invalid_request_body", Message: err.Error()})
		return
	}

	resp, err := a.queryEngine.Execute(r.Context(), query.Request{
		Query:         body.Query,
		Index:         body.Index,
		Earliest:      body.Earliest,
		Latest:        body.Latest,
		ExtractFields: body.ExtractFields,
	})
	if err != nil {
		writeQueryError(w, statusForQueryError(err), queryErrorBodyFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func statusForQueryError(err error) int {
	var parseErr *lognogerrors.ParseError
	var validationErr *lognogerrors.ValidationError
	var deadlineErr *lognogerrors.DeadlineExceeded
	switch {
	case errors.As(err, &parseErr), errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &deadlineErr):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func queryErrorBodyFor(err error) *queryErrorBody {
	var parseErr *lognogerrors.ParseError
	if errors.As(err, &parseErr) {
		return &queryErrorBody{Error: "parse_error", Line: parseErr.Line, Column: parseErr.Column, Message: parseErr.Message}
	}

	var validationErr *lognogerrors.ValidationError
	if errors.As(err, &validationErr) {
		return &queryErrorBody{Error: "validation_error", Message: validationErr.Message}
	}

	return &queryErrorBody{Error: "internal_error", Message: err.Error()}
}

func writeQueryError(w http.ResponseWriter, status int, body *queryErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
