// Package handler exposes the role registry over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pharmatrace/internal/roles/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/httputil"
)

// Service is the slice of the role registry the transport needs.
type Service interface {
	AddRegulator(ctx context.Context, principal id.Principal, name string) error
	RemoveRegulator(ctx context.Context, principal id.Principal) error
	RegisterManufacturer(ctx context.Context, principal id.Principal, name, licenseID string) error
	RegisterEntity(ctx context.Context, principal id.Principal, role models.RoleType, name, licenseID, location string) error
	ApproveManufacturer(ctx context.Context, principal id.Principal) error
	ApproveEntity(ctx context.Context, principal id.Principal) error
	RevokeManufacturer(ctx context.Context, principal id.Principal, reason string) error
	RevokeEntity(ctx context.Context, principal id.Principal, reason string) error
	GetLicense(ctx context.Context, principal id.Principal) (*models.License, error)
	ListLicenses(ctx context.Context, role models.RoleType) ([]*models.License, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the role registry routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/roles/regulators", h.handleAddRegulator)
	r.Delete("/roles/regulators/{principal}", h.handleRemoveRegulator)
	r.Post("/roles/manufacturers", h.handleRegisterManufacturer)
	r.Post("/roles/entities", h.handleRegisterEntity)
	r.Post("/roles/manufacturers/{principal}/approve", h.handleApproveManufacturer)
	r.Post("/roles/entities/{principal}/approve", h.handleApproveEntity)
	r.Post("/roles/manufacturers/{principal}/revoke", h.handleRevokeManufacturer)
	r.Post("/roles/entities/{principal}/revoke", h.handleRevokeEntity)
	r.Get("/roles/licenses/{principal}", h.handleGetLicense)
	r.Get("/roles/licenses", h.handleListLicenses)
}

type registerRequest struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	LicenseID string `json:"license_id"`
	Location  string `json:"location"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type licenseResponse struct {
	Principal    string `json:"principal"`
	Name         string `json:"name"`
	LicenseID    string `json:"license_id,omitempty"`
	Role         string `json:"role"`
	Location     string `json:"location,omitempty"`
	Status       string `json:"status"`
	Authorizer   string `json:"authorizer,omitempty"`
	RegisteredAt uint64 `json:"registered_at"`
	ApprovedAt   uint64 `json:"approved_at,omitempty"`
	RevokedAt    uint64 `json:"revoked_at,omitempty"`
	RevokeReason string `json:"revoke_reason,omitempty"`
}

func (h *Handler) handleAddRegulator(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.AddRegulator(r.Context(), id.Principal(req.Principal), req.Name); err != nil {
		h.logError(r.Context(), "add regulator failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleRemoveRegulator(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	if err := h.service.RemoveRegulator(r.Context(), principal); err != nil {
		h.logError(r.Context(), "remove regulator failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRegisterManufacturer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.RegisterManufacturer(r.Context(), id.Principal(req.Principal), req.Name, req.LicenseID); err != nil {
		h.logError(r.Context(), "register manufacturer failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleRegisterEntity(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.RegisterEntity(r.Context(), id.Principal(req.Principal), models.RoleType(req.Role), req.Name, req.LicenseID, req.Location); err != nil {
		h.logError(r.Context(), "register entity failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleApproveManufacturer(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	if err := h.service.ApproveManufacturer(r.Context(), principal); err != nil {
		h.logError(r.Context(), "approve manufacturer failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApproveEntity(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	if err := h.service.ApproveEntity(r.Context(), principal); err != nil {
		h.logError(r.Context(), "approve entity failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeManufacturer(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.RevokeManufacturer(r.Context(), principal, req.Reason); err != nil {
		h.logError(r.Context(), "revoke manufacturer failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeEntity(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.RevokeEntity(r.Context(), principal, req.Reason); err != nil {
		h.logError(r.Context(), "revoke entity failed", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	license, err := h.service.GetLicense(r.Context(), principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLicenseResponse(license))
}

func (h *Handler) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	role := models.RoleType(r.URL.Query().Get("role"))
	licenses, err := h.service.ListLicenses(r.Context(), role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]licenseResponse, 0, len(licenses))
	for _, l := range licenses {
		out = append(out, toLicenseResponse(l))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"licenses": out})
}

func toLicenseResponse(l *models.License) licenseResponse {
	return licenseResponse{
		Principal:    l.Principal.String(),
		Name:         l.Name,
		LicenseID:    l.LicenseID,
		Role:         string(l.Role),
		Location:     l.Location,
		Status:       string(l.Status),
		Authorizer:   l.Authorizer.String(),
		RegisteredAt: l.RegisteredAt,
		ApprovedAt:   l.ApprovedAt,
		RevokedAt:    l.RevokedAt,
		RevokeReason: l.RevokeReason,
	}
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, slog.String("error", err.Error()))
		return
	}
	h.logger.WarnContext(ctx, msg, slog.String("error", err.Error()))
}
