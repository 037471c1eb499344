package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mtlprog/tokenize/internal/deploy"
	"github.com/mtlprog/tokenize/internal/deployment"
	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/tokenomics"
)

const maxBodyBytes = 1 << 20

// Handler provides HTTP endpoints for the deployment API.
type Handler struct {
	deployments *deployment.Service
}

// NewHandler creates a new API handler.
func NewHandler(deployments *deployment.Service) *Handler {
	return &Handler{deployments: deployments}
}

// amount accepts a JSON number or a decimal string and keeps its exact text.
type amount string

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a number or a decimal string")
	}
	*a = amount(n)
	return nil
}

type quoteRequest struct {
	TotalValue    amount `json:"totalValue"`
	TotalSupply   amount `json:"totalSupply"`
	MinInvestment amount `json:"minInvestment"`
}

type deployRequest struct {
	AssetCode string `json:"assetCode"`
	quoteRequest
}

func (q quoteRequest) inputs() (tokenomics.Inputs, error) {
	return tokenomics.ParseInputs(string(q.TotalValue), string(q.TotalSupply), string(q.MinInvestment))
}

// CreateDeployment handles POST /api/v1/deployments. It blocks until the deployment reaches
// a terminal status.
func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := domain.ValidateAssetCode(req.AssetCode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.inputs()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := tokenomics.Compute(in.TotalValue, in.TotalSupply, in.MinInvestment); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The deployment outlives the request; the orchestrator enforces its own deadline.
	ctx := context.WithoutCancel(r.Context())
	res := h.deployments.Deploy(ctx, deploy.Params{
		AssetCode:     req.AssetCode,
		TotalValue:    in.TotalValue,
		TotalSupply:   in.TotalSupply,
		MinInvestment: in.MinInvestment,
	})

	writeJSON(w, deployStatusCode(res), res)
}

// deployStatusCode maps a deployment outcome to an HTTP status.
func deployStatusCode(res deploy.Result) int {
	switch res.Status {
	case domain.StatusConfirmed:
		return http.StatusCreated
	case domain.StatusIndeterminate:
		return http.StatusAccepted
	}
	if domain.IsValidation(res.Err) {
		return http.StatusBadRequest
	}
	if res.TransactionHash != "" && res.ErrorCode != "" {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// Quote handles POST /api/v1/tokenomics/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.inputs()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := tokenomics.Compute(in.TotalValue, in.TotalSupply, in.MinInvestment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetDeployment handles GET /api/v1/deployments/{id}.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	d, err := h.deployments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, deployment.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		slog.Error("failed to get deployment", "id", idStr, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListDeployments handles GET /api/v1/deployments.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 500
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxLimit)
		}
	}

	deployments, err := h.deployments.List(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list deployments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
