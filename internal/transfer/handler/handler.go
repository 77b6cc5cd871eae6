// Package handler exposes the transfer and compliance engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	rolemodels "pharmatrace/internal/roles/models"
	"pharmatrace/internal/transfer/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/httputil"
)

// Service is the slice of the transfer engine the transport needs.
type Service interface {
	SetTransferRule(ctx context.Context, fromType, toType rolemodels.RoleType, allowed, requiresAuthorization bool, maxTransferTime uint64) error
	InitiateTransfer(ctx context.Context, batchID id.TokenID, toEntity id.Principal, notes string) (id.TransferID, error)
	AuthorizeTransfer(ctx context.Context, transferID id.TransferID, approved bool, notes string) error
	FreezeBatch(ctx context.Context, batchID id.TokenID, reason string) error
	UnfreezeBatch(ctx context.Context, batchID id.TokenID, reason string) error
	IsBatchFrozen(ctx context.Context, batchID id.TokenID) (bool, error)
	GetTransfer(ctx context.Context, transferID id.TransferID) (*models.TransferRecord, error)
	GetTransferHistory(ctx context.Context, batchID id.TokenID) ([]*models.TransferRecord, error)
	GetCustodyChain(ctx context.Context, batchID id.TokenID) ([]id.Principal, error)
	GetComplianceStatus(ctx context.Context, batchID id.TokenID) (*models.ComplianceStatus, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the transfer engine routes.
func (h *Handler) Register(r chi.Router) {
	r.Put("/transfers/rules", h.handleSetRule)
	r.Post("/transfers", h.handleInitiate)
	r.Get("/transfers/{transferID}", h.handleGet)
	r.Post("/transfers/{transferID}/authorize", h.handleAuthorize)
	r.Post("/batches/{tokenID}/freeze", h.handleFreeze)
	r.Post("/batches/{tokenID}/unfreeze", h.handleUnfreeze)
	r.Get("/batches/{tokenID}/frozen", h.handleIsFrozen)
	r.Get("/batches/{tokenID}/transfers", h.handleHistory)
	r.Get("/batches/{tokenID}/custody", h.handleCustody)
	r.Get("/batches/{tokenID}/compliance", h.handleComplianceStatus)
}

type setRuleRequest struct {
	FromType              string `json:"from_type"`
	ToType                string `json:"to_type"`
	Allowed               bool   `json:"allowed"`
	RequiresAuthorization bool   `json:"requires_authorization"`
	MaxTransferTime       uint64 `json:"max_transfer_time"`
}

type initiateRequest struct {
	BatchID  uint64 `json:"batch_id"`
	ToEntity string `json:"to_entity"`
	Notes    string `json:"notes"`
}

type authorizeRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type transferResponse struct {
	ID                 uint64 `json:"id"`
	BatchID            uint64 `json:"batch_id"`
	From               string `json:"from"`
	To                 string `json:"to"`
	FromType           string `json:"from_type"`
	ToType             string `json:"to_type"`
	Timestamp          uint64 `json:"timestamp"`
	Status             string `json:"status"`
	ComplianceChecked  bool   `json:"compliance_checked"`
	Authorizer         string `json:"authorizer,omitempty"`
	AuthorizedAt       uint64 `json:"authorized_at,omitempty"`
	Notes              string `json:"notes,omitempty"`
	AuthorizationNotes string `json:"authorization_notes,omitempty"`
}

func (h *Handler) handleSetRule(w http.ResponseWriter, r *http.Request) {
	var req setRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	err := h.service.SetTransferRule(r.Context(),
		rolemodels.RoleType(req.FromType), rolemodels.RoleType(req.ToType),
		req.Allowed, req.RequiresAuthorization, req.MaxTransferTime)
	if err != nil {
		h.logger.WarnContext(r.Context(), "set transfer rule failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	transferID, err := h.service.InitiateTransfer(r.Context(), id.TokenID(req.BatchID), id.Principal(req.ToEntity), req.Notes)
	if err != nil {
		h.logger.WarnContext(r.Context(), "initiate transfer failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]uint64{"transfer_id": uint64(transferID)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	transferID, ok := transferIDParam(w, r)
	if !ok {
		return
	}
	record, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTransferResponse(record))
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	transferID, ok := transferIDParam(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.AuthorizeTransfer(r.Context(), transferID, req.Approved, req.Notes); err != nil {
		h.logger.WarnContext(r.Context(), "authorize transfer failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFreeze(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.FreezeBatch(r.Context(), tokenID, req.Reason); err != nil {
		h.logger.WarnContext(r.Context(), "freeze batch failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.UnfreezeBatch(r.Context(), tokenID, req.Reason); err != nil {
		h.logger.WarnContext(r.Context(), "unfreeze batch failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIsFrozen(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	frozen, err := h.service.IsBatchFrozen(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"frozen": frozen})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	history, err := h.service.GetTransferHistory(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]transferResponse, 0, len(history))
	for _, record := range history {
		out = append(out, toTransferResponse(record))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transfers": out})
}

func (h *Handler) handleCustody(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	chain, err := h.service.GetCustodyChain(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	holders := make([]string, 0, len(chain))
	for _, p := range chain {
		holders = append(holders, p.String())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"custody_chain": holders})
}

func (h *Handler) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	status, err := h.service.GetComplianceStatus(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"batch_id":                uint64(status.BatchID),
		"total_transfers":         status.TotalTransfers,
		"pending_authorizations":  status.PendingAuthorizations,
		"custody_length":          status.CustodyLength,
		"frozen":                  status.Frozen,
		"all_transfers_compliant": status.AllTransfersCompliant,
	})
}

func toTransferResponse(record *models.TransferRecord) transferResponse {
	return transferResponse{
		ID:                 uint64(record.ID),
		BatchID:            uint64(record.BatchID),
		From:               record.From.String(),
		To:                 record.To.String(),
		FromType:           string(record.FromType),
		ToType:             string(record.ToType),
		Timestamp:          record.Timestamp,
		Status:             string(record.Status),
		ComplianceChecked:  record.ComplianceChecked,
		Authorizer:         record.Authorizer.String(),
		AuthorizedAt:       record.AuthorizedAt,
		Notes:              record.Notes,
		AuthorizationNotes: record.AuthorizationNotes,
	}
}

func tokenIDParam(w http.ResponseWriter, r *http.Request) (id.TokenID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "token id must be a positive integer"))
		return 0, false
	}
	return id.TokenID(n), true
}

func transferIDParam(w http.ResponseWriter, r *http.Request) (id.TransferID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "transfer id must be a positive integer"))
		return 0, false
	}
	return id.TransferID(n), true
}
