// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
)

var (
	// URL under which claim requests are matched and built.
	APIClaimsURL = "/v1/claims"
	// URL under which previously built claims are executed.
	APIExecuteClaimURL = "/v1/claims/execute"
)

// HTTP surface over the placement pipeline.
type API struct {
	Matcher  *Matcher
	Builder  *Builder
	Executor *Executor
}

type APIClaimsResponse struct {
	Claims []Claim `json:"claims"`
}

// Handle POST requests carrying a ClaimRequest: match the constraints,
// assemble claims, and return them without executing anything. An empty
// claim list means the request cannot be satisfied right now.
func (a *API) ClaimsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	var request ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	slog.Info(
		"handling POST request",
		"url", APIClaimsURL,
		"consumer", request.ConsumerUUID,
		"constraints", len(request.Constraints),
	)

	result, err := a.Matcher.Match(r.Context(), request)
	if err != nil {
		writeError(w, err)
		return
	}
	claims, err := a.Builder.Build(r.Context(), request, result)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(APIClaimsResponse{Claims: claims}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type APIExecuteClaimRequest struct {
	Claim        Claim  `json:"claim"`
	ConsumerName string `json:"consumerName,omitempty"`
}

// Handle POST requests carrying a previously built claim and feed it to
// the executor. The response echoes the claim with its resulting state.
func (a *API) ExecuteClaimHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	var request APIExecuteClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	slog.Info(
		"handling POST request",
		"url", APIExecuteClaimURL,
		"claim", request.Claim.UUID,
		"items", len(request.Claim.Items),
	)

	consumer := catalog.Consumer{
		UUID: request.Claim.ConsumerUUID,
		Name: request.ConsumerName,
	}
	claim := request.Claim
	if err := a.Executor.Execute(&consumer, &claim); err != nil {
		var conflict ConflictError
		var rejected RejectedError
		switch {
		case errors.As(err, &conflict):
			w.WriteHeader(http.StatusConflict)
		case errors.As(err, &rejected):
			w.WriteHeader(http.StatusUnprocessableEntity)
		default:
			writeError(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(claim); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var invalid InvalidConstraintError
	if errors.As(err, &invalid) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Error("placement request failed", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
