package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

// DirectoryStore creates tenants and members.
type DirectoryStore interface {
	ProvisionCompany(ctx context.Context, company *models.Company, owner *models.User) error
	AddMember(ctx context.Context, member *models.User) error
}

// MemberLister pages through a company's users.
type MemberLister interface {
	ListByCompany(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// DirectoryService provisions tenants and manages company membership.
type DirectoryService struct {
	store     DirectoryStore
	members   MemberLister
	companies CompanyReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDirectoryService constructs a DirectoryService.
func NewDirectoryService(store DirectoryStore, members MemberLister, companies CompanyReader, validate *validator.Validate, logger *zap.Logger) *DirectoryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{store: store, members: members, companies: companies, validator: validate, logger: logger}
}

// ProvisionCompany creates a company with an owning admin who holds the full pool.
func (s *DirectoryService) ProvisionCompany(ctx context.Context, req dto.ProvisionCompanyRequest) (*dto.ProvisionCompanyResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.OwnerEmail = strings.ToLower(strings.TrimSpace(req.OwnerEmail))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid company payload")
	}

	company := &models.Company{Name: req.Name, TotalStorage: req.TotalStorage}
	owner := &models.User{Email: req.OwnerEmail, FullName: req.OwnerName, Plan: planOrFree(req.Plan)}
	if err := s.store.ProvisionCompany(ctx, company, owner); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "company name or owner email already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to provision company")
	}
	s.logger.Info("company provisioned",
		zap.String("company_id", company.ID),
		zap.String("owner_id", owner.ID),
		zap.Int64("total_storage", company.TotalStorage))
	return &dto.ProvisionCompanyResponse{Company: *company, Owner: *owner}, nil
}

// AddMember invites a regular user into the company. The member starts with no
// allocation.
func (s *DirectoryService) AddMember(ctx context.Context, companyID string, req dto.AddMemberRequest) (*models.User, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid member payload")
	}

	member := &models.User{Email: req.Email, FullName: req.FullName, Plan: planOrFree(req.Plan), CompanyID: &companyID}
	if err := s.store.AddMember(ctx, member); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "company not found or inactive")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add member")
	}
	s.logger.Info("company member added", zap.String("company_id", companyID), zap.String("user_id", member.ID))
	return member, nil
}

// ListMembers pages through a company's users, optionally by role.
func (s *DirectoryService) ListMembers(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if _, err := s.companies.FindByID(ctx, filter.CompanyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "company not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load company")
	}
	users, total, err := s.members.ListByCompany(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}
	return users, total, nil
}

func planOrFree(plan string) models.Plan {
	if models.Plan(plan) == models.PlanPro {
		return models.PlanPro
	}
	return models.PlanFree
}
