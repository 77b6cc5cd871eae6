// Package service implements the shared role registry. One registry
// serves all components: batch minting, transfer gating, and oversight
// all consult the same records through the Authority interface.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pharmatrace/internal/roles/models"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/audit"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/requestcontext"
)

var licensesRegistered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pharmatrace_licenses_registered_total",
	Help: "License records created, by role type",
}, []string{"role"})

// Store is the persistence contract for license records.
type Store interface {
	Create(ctx context.Context, license *models.License) error
	Get(ctx context.Context, principal id.Principal) (*models.License, error)
	Execute(ctx context.Context, principal id.Principal, validate func(*models.License) error, mutate func(*models.License)) (*models.License, error)
	Delete(ctx context.Context, principal id.Principal) error
	List(ctx context.Context, role models.RoleType) ([]*models.License, error)
}

// Authority is the capability-check surface the other components
// consume instead of keeping their own role stores.
type Authority interface {
	IsRegulator(ctx context.Context, principal id.Principal) (bool, error)
	IsManufacturerApproved(ctx context.Context, principal id.Principal) (bool, error)
	IsEntityLicensed(ctx context.Context, principal id.Principal) (bool, error)
	EntityType(ctx context.Context, principal id.Principal) (models.RoleType, error)
}

// Service orchestrates registration, approval, and revocation.
type Service struct {
	store     Store
	bootstrap id.Principal
	emitter   *audit.Emitter
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithEmitter(emitter *audit.Emitter) Option {
	return func(s *Service) { s.emitter = emitter }
}

func New(store Store, bootstrap id.Principal, opts ...Option) *Service {
	s := &Service{store: store, bootstrap: bootstrap}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AddRegulator grants the regulator capability. Bootstrap principal only.
// Duplicate adds fail with AlreadyExists; the registry treats regulator
// grants like every other duplicate registration.
func (s *Service) AddRegulator(ctx context.Context, principal id.Principal, name string) error {
	if requestcontext.Caller(ctx) != s.bootstrap {
		return dErrors.New(dErrors.CodeUnauthorized, "only the bootstrap principal may add regulators")
	}
	now := requestcontext.Clock(ctx)

	license, err := models.NewLicense(principal, models.RoleRegulator, strings.TrimSpace(name), "", "", now)
	if err != nil {
		return err
	}
	// Regulators are operational the moment they are added.
	license.ApplyApproval(s.bootstrap, now)

	if err := s.store.Create(ctx, license); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return dErrors.New(dErrors.CodeAlreadyExists, "principal is already registered")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to add regulator")
	}
	licensesRegistered.WithLabelValues(string(models.RoleRegulator)).Inc()

	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventRegulatorAdded,
		Actor:   requestcontext.Caller(ctx),
		Subject: principal.String(),
	})
}

// RemoveRegulator withdraws the regulator capability. Bootstrap only.
// The record is deleted rather than revoked so a regulator can be
// re-added later; supply-chain licenses never take this path.
func (s *Service) RemoveRegulator(ctx context.Context, principal id.Principal) error {
	if requestcontext.Caller(ctx) != s.bootstrap {
		return dErrors.New(dErrors.CodeUnauthorized, "only the bootstrap principal may remove regulators")
	}
	license, err := s.store.Get(ctx, principal)
	if err != nil {
		return translateStoreErr(err, "regulator")
	}
	if license.Role != models.RoleRegulator {
		return dErrors.New(dErrors.CodeInvalidInput, "principal is not a regulator")
	}
	if err := s.store.Delete(ctx, principal); err != nil {
		return translateStoreErr(err, "regulator")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  audit.EventRegulatorRemoved,
		Actor:   requestcontext.Caller(ctx),
		Subject: principal.String(),
	})
}

// RegisterManufacturer records a manufacturer pending approval.
// Regulator-only.
func (s *Service) RegisterManufacturer(ctx context.Context, principal id.Principal, name, licenseID string) error {
	return s.register(ctx, principal, models.RoleManufacturer, name, licenseID, "", audit.EventManufacturerRegistered)
}

// RegisterEntity records a supply-chain entity (manufacturer,
// distributor, or pharmacy) pending approval. Regulator-only.
func (s *Service) RegisterEntity(ctx context.Context, principal id.Principal, role models.RoleType, name, licenseID, location string) error {
	if !role.IsSupplyChain() {
		return dErrors.New(dErrors.CodeInvalidInput, "entity type must be manufacturer, distributor, or pharmacy")
	}
	return s.register(ctx, principal, role, name, licenseID, location, audit.EventEntityRegistered)
}

func (s *Service) register(ctx context.Context, principal id.Principal, role models.RoleType, name, licenseID, location, action string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	license, err := models.NewLicense(principal, role, strings.TrimSpace(name), strings.TrimSpace(licenseID), location, requestcontext.Clock(ctx))
	if err != nil {
		return err
	}
	if err := s.store.Create(ctx, license); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return dErrors.New(dErrors.CodeAlreadyExists, "principal is already registered")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register license")
	}
	licensesRegistered.WithLabelValues(string(role)).Inc()

	return s.emitter.Emit(ctx, audit.Event{
		Action:  action,
		Actor:   requestcontext.Caller(ctx),
		Subject: principal.String(),
		Extra:   map[string]string{"role": string(role), "license_id": licenseID},
	})
}

// ApproveManufacturer activates a registered manufacturer. Regulator-only.
func (s *Service) ApproveManufacturer(ctx context.Context, principal id.Principal) error {
	return s.approve(ctx, principal, models.RoleManufacturer, audit.EventManufacturerApproved)
}

// ApproveEntity activates a registered supply-chain entity. Regulator-only.
func (s *Service) ApproveEntity(ctx context.Context, principal id.Principal) error {
	return s.approve(ctx, principal, "", audit.EventEntityApproved)
}

func (s *Service) approve(ctx context.Context, principal id.Principal, wantRole models.RoleType, action string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)

	_, err := s.store.Execute(ctx, principal,
		func(l *models.License) error {
			if err := requireRole(l, wantRole); err != nil {
				return err
			}
			return l.CanApprove()
		},
		func(l *models.License) {
			l.ApplyApproval(caller, now)
		},
	)
	if err != nil {
		return translateStoreErr(err, "license")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  action,
		Actor:   caller,
		Subject: principal.String(),
	})
}

// RevokeManufacturer terminally revokes an approved manufacturer.
func (s *Service) RevokeManufacturer(ctx context.Context, principal id.Principal, reason string) error {
	return s.revoke(ctx, principal, models.RoleManufacturer, reason, audit.EventManufacturerRevoked)
}

// RevokeEntity terminally revokes an approved supply-chain entity.
func (s *Service) RevokeEntity(ctx context.Context, principal id.Principal, reason string) error {
	return s.revoke(ctx, principal, "", reason, audit.EventEntityRevoked)
}

func (s *Service) revoke(ctx context.Context, principal id.Principal, wantRole models.RoleType, reason, action string) error {
	if err := s.requireRegulator(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "revocation reason cannot be empty")
	}
	caller := requestcontext.Caller(ctx)
	now := requestcontext.Clock(ctx)

	_, err := s.store.Execute(ctx, principal,
		func(l *models.License) error {
			if err := requireRole(l, wantRole); err != nil {
				return err
			}
			return l.CanRevoke()
		},
		func(l *models.License) {
			l.ApplyRevocation(caller, reason, now)
		},
	)
	if err != nil {
		return translateStoreErr(err, "license")
	}
	return s.emitter.Emit(ctx, audit.Event{
		Action:  action,
		Actor:   caller,
		Subject: principal.String(),
		Reason:  reason,
	})
}

// GetLicense returns the record for a principal.
func (s *Service) GetLicense(ctx context.Context, principal id.Principal) (*models.License, error) {
	license, err := s.store.Get(ctx, principal)
	if err != nil {
		return nil, translateStoreErr(err, "license")
	}
	return license, nil
}

// ListLicenses returns all records, optionally filtered by role.
func (s *Service) ListLicenses(ctx context.Context, role models.RoleType) ([]*models.License, error) {
	licenses, err := s.store.List(ctx, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list licenses")
	}
	return licenses, nil
}

// IsRegulator reports whether the principal holds an active regulator grant.
func (s *Service) IsRegulator(ctx context.Context, principal id.Principal) (bool, error) {
	license, err := s.store.Get(ctx, principal)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check regulator")
	}
	return license.Role == models.RoleRegulator && license.IsLicensed(), nil
}

// IsManufacturerApproved reports approved AND not revoked for a manufacturer.
func (s *Service) IsManufacturerApproved(ctx context.Context, principal id.Principal) (bool, error) {
	license, err := s.store.Get(ctx, principal)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check manufacturer")
	}
	return license.Role == models.RoleManufacturer && license.IsLicensed(), nil
}

// IsEntityLicensed reports approved AND not revoked for any
// supply-chain entity type.
func (s *Service) IsEntityLicensed(ctx context.Context, principal id.Principal) (bool, error) {
	license, err := s.store.Get(ctx, principal)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check entity")
	}
	return license.Role.IsSupplyChain() && license.IsLicensed(), nil
}

// EntityType returns the role type of a licensed supply-chain entity.
func (s *Service) EntityType(ctx context.Context, principal id.Principal) (models.RoleType, error) {
	license, err := s.store.Get(ctx, principal)
	if err != nil {
		return "", translateStoreErr(err, "entity")
	}
	return license.Role, nil
}

func (s *Service) requireRegulator(ctx context.Context) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	ok, err := s.IsRegulator(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not a regulator")
	}
	return nil
}

// requireRole pins lifecycle transitions to the expected role: an empty
// wantRole accepts any supply-chain entity but never a regulator grant.
func requireRole(l *models.License, wantRole models.RoleType) error {
	if wantRole != "" {
		if l.Role != wantRole {
			return dErrors.Newf(dErrors.CodeInvalidInput, "principal is not a %s", wantRole)
		}
		return nil
	}
	if !l.Role.IsSupplyChain() {
		return dErrors.New(dErrors.CodeInvalidInput, "principal is not a supply-chain entity")
	}
	return nil
}

func translateStoreErr(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "%s not found", what)
	case errors.Is(err, sentinel.ErrDuplicate):
		return dErrors.Newf(dErrors.CodeAlreadyExists, "%s already exists", what)
	default:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "store operation failed")
	}
}
