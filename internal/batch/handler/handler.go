// Package handler exposes the batch registry over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pharmatrace/internal/batch/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/httputil"
)

// Service is the slice of the batch registry the transport needs.
type Service interface {
	MintBatch(ctx context.Context, drugName, batchID string, productionDate, expiryDate, quantity uint64) (id.TokenID, error)
	Transfer(ctx context.Context, tokenID id.TokenID, from, to id.Principal) error
	DeactivateBatch(ctx context.Context, tokenID id.TokenID) error
	GetBatchInfo(ctx context.Context, tokenID id.TokenID) (*models.Batch, error)
	GetOwner(ctx context.Context, tokenID id.TokenID) (id.Principal, error)
	IsBatchValid(ctx context.Context, tokenID id.TokenID) (bool, error)
	GetManufacturerBatches(ctx context.Context, manufacturer id.Principal) ([]*models.Batch, error)
	GetBatchByBatchID(ctx context.Context, batchID string) (*models.Batch, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the batch registry routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/batches", h.handleMint)
	r.Post("/batches/{tokenID}/transfer", h.handleTransfer)
	r.Post("/batches/{tokenID}/deactivate", h.handleDeactivate)
	r.Get("/batches/{tokenID}", h.handleGet)
	r.Get("/batches/{tokenID}/owner", h.handleGetOwner)
	r.Get("/batches/{tokenID}/valid", h.handleIsValid)
	r.Get("/batches", h.handleListByManufacturer)
	r.Get("/batches/lookup/{batchID}", h.handleLookup)
}

type mintRequest struct {
	DrugName       string `json:"drug_name"`
	BatchID        string `json:"batch_id"`
	ProductionDate uint64 `json:"production_date"`
	ExpiryDate     uint64 `json:"expiry_date"`
	Quantity       uint64 `json:"quantity"`
}

type batchResponse struct {
	TokenID        uint64 `json:"token_id"`
	BatchID        string `json:"batch_id"`
	DrugName       string `json:"drug_name"`
	Manufacturer   string `json:"manufacturer"`
	ProductionDate uint64 `json:"production_date"`
	ExpiryDate     uint64 `json:"expiry_date"`
	Quantity       uint64 `json:"quantity"`
	Active         bool   `json:"active"`
	Owner          string `json:"owner"`
}

func (h *Handler) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	tokenID, err := h.service.MintBatch(r.Context(), req.DrugName, req.BatchID, req.ProductionDate, req.ExpiryDate, req.Quantity)
	if err != nil {
		h.logger.WarnContext(r.Context(), "mint batch failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]uint64{"token_id": uint64(tokenID)})
}

type transferRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.Transfer(r.Context(), tokenID, id.Principal(req.From), id.Principal(req.To)); err != nil {
		h.logger.WarnContext(r.Context(), "transfer batch failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.DeactivateBatch(r.Context(), tokenID); err != nil {
		h.logger.WarnContext(r.Context(), "deactivate batch failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	batch, err := h.service.GetBatchInfo(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBatchResponse(batch))
}

func (h *Handler) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	owner, err := h.service.GetOwner(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"owner": owner.String()})
}

func (h *Handler) handleIsValid(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	valid, err := h.service.IsBatchValid(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (h *Handler) handleListByManufacturer(w http.ResponseWriter, r *http.Request) {
	manufacturer := id.Principal(r.URL.Query().Get("manufacturer"))
	if manufacturer.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "manufacturer query parameter is required"))
		return
	}
	batches, err := h.service.GetManufacturerBatches(r.Context(), manufacturer)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.GetBatchByBatchID(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toBatchResponse(batch))
}

func toBatchResponse(b *models.Batch) batchResponse {
	return batchResponse{
		TokenID:        uint64(b.TokenID),
		BatchID:        b.BatchID,
		DrugName:       b.DrugName,
		Manufacturer:   b.Manufacturer.String(),
		ProductionDate: b.ProductionDate,
		ExpiryDate:     b.ExpiryDate,
		Quantity:       b.Quantity,
		Active:         b.Active,
		Owner:          b.Owner.String(),
	}
}

func tokenIDParam(w http.ResponseWriter, r *http.Request) (id.TokenID, bool) {
	raw := chi.URLParam(r, "tokenID")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "token id must be a positive integer"))
		return 0, false
	}
	return id.TokenID(n), true
}
