// Package handler exposes the oversight engine over HTTP, including the
// unauthenticated consumer verification endpoint.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"pharmatrace/internal/oversight/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/httputil"
	pkgstrings "pharmatrace/pkg/platform/strings"
)

// Service is the slice of the oversight engine the transport needs.
type Service interface {
	OpenInvestigation(ctx context.Context, batchID id.TokenID, severity models.Severity, title, description string, affected []id.Principal) (id.InvestigationID, error)
	CloseInvestigation(ctx context.Context, invID id.InvestigationID, resolution, evidenceHash string) error
	DismissInvestigation(ctx context.Context, invID id.InvestigationID, reason string) error
	GetInvestigation(ctx context.Context, invID id.InvestigationID) (*models.Investigation, error)
	CreateAlert(ctx context.Context, alertType string, severity models.Severity, batchID id.TokenID, entity id.Principal, message string) (id.AlertID, error)
	AcknowledgeAlert(ctx context.Context, alertID id.AlertID) error
	GetAlert(ctx context.Context, alertID id.AlertID) (*models.Alert, error)
	QuarantineBatch(ctx context.Context, batchID id.TokenID, reason string, investigationID id.InvestigationID) error
	ReleaseQuarantine(ctx context.Context, batchID id.TokenID, reason string) error
	GetQuarantine(ctx context.Context, batchID id.TokenID) (*models.QuarantineRecord, error)
	CreateAuditReport(ctx context.Context, reportType, scope, findings, recommendations string, score int, reviewedBatches []id.TokenID, reviewedEntities []id.Principal) (id.ReportID, error)
	GetAuditReport(ctx context.Context, reportID id.ReportID) (*models.AuditReport, error)
	FlagSuspiciousActivity(ctx context.Context, entity id.Principal, activityType string, investigationID id.InvestigationID) (*models.SuspiciousActivity, error)
	GetSuspiciousActivity(ctx context.Context, entity id.Principal) ([]*models.SuspiciousActivity, error)
	VerifyBatchAuthenticityPublic(ctx context.Context, batchIdentifier, requester, method, location string) (*models.VerificationResult, error)
	GetSystemOverview(ctx context.Context) (*models.SystemOverview, error)
	GetBatchFullTracking(ctx context.Context, batchID id.TokenID) (*models.BatchTracking, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the authenticated oversight routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/investigations", h.handleOpenInvestigation)
	r.Get("/investigations/{investigationID}", h.handleGetInvestigation)
	r.Post("/investigations/{investigationID}/close", h.handleCloseInvestigation)
	r.Post("/investigations/{investigationID}/dismiss", h.handleDismissInvestigation)
	r.Post("/alerts", h.handleCreateAlert)
	r.Get("/alerts/{alertID}", h.handleGetAlert)
	r.Post("/alerts/{alertID}/acknowledge", h.handleAcknowledgeAlert)
	r.Post("/batches/{tokenID}/quarantine", h.handleQuarantine)
	r.Post("/batches/{tokenID}/quarantine/release", h.handleReleaseQuarantine)
	r.Get("/batches/{tokenID}/quarantine", h.handleGetQuarantine)
	r.Get("/batches/{tokenID}/tracking", h.handleBatchTracking)
	r.Post("/reports", h.handleCreateReport)
	r.Get("/reports/{reportID}", h.handleGetReport)
	r.Post("/suspicious-activity", h.handleFlagSuspicious)
	r.Get("/suspicious-activity/{entity}", h.handleGetSuspicious)
	r.Get("/overview", h.handleOverview)
}

// RegisterPublic mounts the consumer verification endpoint. No auth.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/public/verify/{batchID}", h.handlePublicVerify)
}

type openInvestigationRequest struct {
	BatchID          uint64   `json:"batch_id"`
	Severity         int      `json:"severity"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	AffectedEntities []string `json:"affected_entities"`
}

type closeInvestigationRequest struct {
	Resolution   string `json:"resolution"`
	EvidenceHash string `json:"evidence_hash"`
}

type createAlertRequest struct {
	Type     string `json:"type"`
	Severity int    `json:"severity"`
	BatchID  uint64 `json:"batch_id"`
	Entity   string `json:"entity"`
	Message  string `json:"message"`
}

type quarantineRequest struct {
	Reason          string `json:"reason"`
	InvestigationID uint64 `json:"investigation_id"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type createReportRequest struct {
	Type             string   `json:"type"`
	Scope            string   `json:"scope"`
	Findings         string   `json:"findings"`
	Recommendations  string   `json:"recommendations"`
	ComplianceScore  int      `json:"compliance_score"`
	ReviewedBatches  []uint64 `json:"reviewed_batches"`
	ReviewedEntities []string `json:"reviewed_entities"`
}

type flagSuspiciousRequest struct {
	Entity          string `json:"entity"`
	ActivityType    string `json:"activity_type"`
	InvestigationID uint64 `json:"investigation_id"`
}

func (h *Handler) handleOpenInvestigation(w http.ResponseWriter, r *http.Request) {
	var req openInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	deduped := pkgstrings.DedupeAndTrim(req.AffectedEntities)
	affected := make([]id.Principal, 0, len(deduped))
	for _, p := range deduped {
		affected = append(affected, id.Principal(p))
	}
	invID, err := h.service.OpenInvestigation(r.Context(), id.TokenID(req.BatchID),
		models.Severity(req.Severity), req.Title, req.Description, affected)
	if err != nil {
		h.logger.WarnContext(r.Context(), "open investigation failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]uint64{"investigation_id": uint64(invID)})
}

func (h *Handler) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	invID, ok := investigationIDParam(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvestigation(r.Context(), invID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	affected := make([]string, 0, len(inv.AffectedEntities))
	for _, p := range inv.AffectedEntities {
		affected = append(affected, p.String())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":                uint64(inv.ID),
		"batch_id":          uint64(inv.BatchID),
		"investigator":      inv.Investigator.String(),
		"status":            string(inv.Status),
		"severity":          int(inv.Severity),
		"title":             inv.Title,
		"description":       inv.Description,
		"opened_at":         inv.OpenedAt,
		"closed_at":         inv.ClosedAt,
		"resolution":        inv.Resolution,
		"evidence_hash":     inv.EvidenceHash,
		"affected_entities": affected,
	})
}

func (h *Handler) handleCloseInvestigation(w http.ResponseWriter, r *http.Request) {
	invID, ok := investigationIDParam(w, r)
	if !ok {
		return
	}
	var req closeInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.CloseInvestigation(r.Context(), invID, req.Resolution, req.EvidenceHash); err != nil {
		h.logger.WarnContext(r.Context(), "close investigation failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDismissInvestigation(w http.ResponseWriter, r *http.Request) {
	invID, ok := investigationIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.DismissInvestigation(r.Context(), invID, req.Reason); err != nil {
		h.logger.WarnContext(r.Context(), "dismiss investigation failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	alertID, err := h.service.CreateAlert(r.Context(), req.Type, models.Severity(req.Severity),
		id.TokenID(req.BatchID), id.Principal(req.Entity), req.Message)
	if err != nil {
		h.logger.WarnContext(r.Context(), "create alert failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]uint64{"alert_id": uint64(alertID)})
}

func (h *Handler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alertID, ok := alertIDParam(w, r)
	if !ok {
		return
	}
	alert, err := h.service.GetAlert(r.Context(), alertID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":              uint64(alert.ID),
		"type":            alert.Type,
		"severity":        int(alert.Severity),
		"batch_id":        uint64(alert.BatchID),
		"entity":          alert.Entity.String(),
		"message":         alert.Message,
		"created_by":      alert.CreatedBy.String(),
		"created_at":      alert.CreatedAt,
		"acknowledged":    alert.Acknowledged,
		"acknowledged_by": alert.AcknowledgedBy.String(),
		"acknowledged_at": alert.AcknowledgedAt,
	})
}

func (h *Handler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID, ok := alertIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.AcknowledgeAlert(r.Context(), alertID); err != nil {
		h.logger.WarnContext(r.Context(), "acknowledge alert failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req quarantineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.QuarantineBatch(r.Context(), tokenID, req.Reason, id.InvestigationID(req.InvestigationID)); err != nil {
		h.logger.WarnContext(r.Context(), "quarantine batch failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := h.service.ReleaseQuarantine(r.Context(), tokenID, req.Reason); err != nil {
		h.logger.WarnContext(r.Context(), "release quarantine failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetQuarantine(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	record, err := h.service.GetQuarantine(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quarantineBody(record))
}

func (h *Handler) handleBatchTracking(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := tokenIDParam(w, r)
	if !ok {
		return
	}
	tracking, err := h.service.GetBatchFullTracking(r.Context(), tokenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body := map[string]any{
		"token_id":         uint64(tracking.TokenID),
		"batch_identifier": tracking.BatchIdentifier,
		"drug_name":        tracking.DrugName,
		"owner":            tracking.Owner.String(),
		"active":           tracking.Active,
		"frozen":           tracking.Frozen,
		"quarantined":      tracking.Quarantined,
		"total_transfers":  tracking.TotalTransfers,
		"custody_length":   tracking.CustodyLength,
		"all_compliant":    tracking.AllCompliant,
	}
	if tracking.Quarantine != nil {
		body["quarantine"] = quarantineBody(tracking.Quarantine)
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	batches := make([]id.TokenID, 0, len(req.ReviewedBatches))
	for _, b := range req.ReviewedBatches {
		batches = append(batches, id.TokenID(b))
	}
	reviewed := pkgstrings.DedupeAndTrim(req.ReviewedEntities)
	entities := make([]id.Principal, 0, len(reviewed))
	for _, e := range reviewed {
		entities = append(entities, id.Principal(e))
	}
	reportID, err := h.service.CreateAuditReport(r.Context(), req.Type, req.Scope, req.Findings,
		req.Recommendations, req.ComplianceScore, batches, entities)
	if err != nil {
		h.logger.WarnContext(r.Context(), "create audit report failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]uint64{"report_id": uint64(reportID)})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "reportID"), 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "report id must be a positive integer"))
		return
	}
	report, err := h.service.GetAuditReport(r.Context(), id.ReportID(n))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	batches := make([]uint64, 0, len(report.ReviewedBatches))
	for _, b := range report.ReviewedBatches {
		batches = append(batches, uint64(b))
	}
	entities := make([]string, 0, len(report.ReviewedEntities))
	for _, e := range report.ReviewedEntities {
		entities = append(entities, e.String())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":                uint64(report.ID),
		"auditor":           report.Auditor.String(),
		"type":              report.Type,
		"scope":             report.Scope,
		"findings":          report.Findings,
		"recommendations":   report.Recommendations,
		"compliance_score":  report.ComplianceScore,
		"reviewed_batches":  batches,
		"reviewed_entities": entities,
		"created_at":        report.CreatedAt,
	})
}

func (h *Handler) handleFlagSuspicious(w http.ResponseWriter, r *http.Request) {
	var req flagSuspiciousRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	activity, err := h.service.FlagSuspiciousActivity(r.Context(), id.Principal(req.Entity),
		req.ActivityType, id.InvestigationID(req.InvestigationID))
	if err != nil {
		h.logger.WarnContext(r.Context(), "flag suspicious activity failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, suspiciousBody(activity))
}

func (h *Handler) handleGetSuspicious(w http.ResponseWriter, r *http.Request) {
	entity := id.Principal(chi.URLParam(r, "entity"))
	activities, err := h.service.GetSuspiciousActivity(r.Context(), entity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(activities))
	for _, activity := range activities {
		out = append(out, suspiciousBody(activity))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"activities": out})
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.GetSystemOverview(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]uint64{
		"total_batches":        overview.TotalBatches,
		"total_transfers":      overview.TotalTransfers,
		"total_investigations": overview.TotalInvestigations,
		"total_alerts":         overview.TotalAlerts,
		"total_reports":        overview.TotalReports,
		"total_verifications":  overview.TotalVerifications,
		"active_quarantines":   overview.ActiveQuarantines,
	})
}

func (h *Handler) handlePublicVerify(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	requester := requesterAddr(r)
	method := verificationMethod(r.UserAgent())
	location := r.URL.Query().Get("location")

	result, err := h.service.VerifyBatchAuthenticityPublic(r.Context(), batchID, requester, method, location)
	if err != nil {
		h.logger.WarnContext(r.Context(), "public verification failed", slog.String("error", err.Error()))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"authentic":       result.Authentic,
		"found":           result.Found,
		"verification_id": result.VerificationID.String(),
		"timestamp":       result.Timestamp,
	})
}

func quarantineBody(record *models.QuarantineRecord) map[string]any {
	return map[string]any{
		"batch_id":         uint64(record.BatchID),
		"quarantined_by":   record.QuarantinedBy.String(),
		"date":             record.Date,
		"reason":           record.Reason,
		"investigation_id": uint64(record.InvestigationID),
		"released":         record.Released,
		"release_date":     record.ReleaseDate,
		"released_by":      record.ReleasedBy.String(),
		"release_reason":   record.ReleaseReason,
	}
}

func suspiciousBody(activity *models.SuspiciousActivity) map[string]any {
	return map[string]any{
		"entity":           activity.Entity.String(),
		"activity_type":    activity.ActivityType,
		"count":            activity.Count,
		"last_occurrence":  activity.LastOccurrence,
		"flagged":          activity.Flagged,
		"investigation_id": uint64(activity.InvestigationID),
	}
}

// verificationMethod classifies the client from its User-Agent so the
// access logs can distinguish mobile scans from desktop lookups.
func verificationMethod(rawUA string) string {
	if rawUA == "" {
		return "unknown"
	}
	ua := useragent.New(rawUA)
	if ua.Bot() {
		return "bot"
	}
	if ua.Mobile() {
		return "mobile"
	}
	name, _ := ua.Browser()
	if name == "" {
		return "api"
	}
	return "browser"
}

func requesterAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func tokenIDParam(w http.ResponseWriter, r *http.Request) (id.TokenID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "token id must be a positive integer"))
		return 0, false
	}
	return id.TokenID(n), true
}

func investigationIDParam(w http.ResponseWriter, r *http.Request) (id.InvestigationID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "investigationID"), 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "investigation id must be a positive integer"))
		return 0, false
	}
	return id.InvestigationID(n), true
}

func alertIDParam(w http.ResponseWriter, r *http.Request) (id.AlertID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil || n == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "alert id must be a positive integer"))
		return 0, false
	}
	return id.AlertID(n), true
}
