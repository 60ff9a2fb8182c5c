package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

const (
	nearLimitPercent = 80.0
	criticalPercent  = 95.0
)

// LedgerStore applies multi-row counter mutations atomically.
type LedgerStore interface {
	ApplyCompletedUpload(ctx context.Context, upload models.CompletedUpload) error
	ApplyDeletedFile(ctx context.Context, deleted models.DeletedFile) error
	SetCompanyTotal(ctx context.Context, companyID string, total int64, cascade bool) (*models.Company, error)
	SetUserAllocation(ctx context.Context, adminID, userID string, bytes int64) (*repository.Allocation, error)
	FixAllocations(ctx context.Context, companyID string) (*models.ReconcileReport, error)
	DeleteCompany(ctx context.Context, companyID string) ([]models.File, error)
}

// LedgerUserReader reads users and their live totals.
type LedgerUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Totals(ctx context.Context, userID string) (models.UserTotals, error)
	MemberUsage(ctx context.Context, companyID string) ([]models.MemberUsage, error)
}

// CompanyReader reads tenants.
type CompanyReader interface {
	FindByID(ctx context.Context, id string) (*models.Company, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// UsageReader reads and records the usage buckets.
type UsageReader interface {
	Daily(ctx context.Context, userID string, day time.Time) (models.DailyUsage, error)
	ByType(ctx context.Context, userID string) ([]models.TypeUsage, error)
	History(ctx context.Context, userID string) ([]models.DailyUsage, error)
	RecordDownload(ctx context.Context, userID string, at time.Time, size int64) error
}

// LedgerConfig tunes the ledger service.
type LedgerConfig struct {
	SnapshotTTL time.Duration
}

// LedgerService is the quota ledger: capacity checks, counter mutations and snapshots.
type LedgerService struct {
	store     LedgerStore
	users     LedgerUserReader
	companies CompanyReader
	usage     UsageReader
	policy    *QuotaPolicy
	objects   storage.ObjectStore
	cache     *CacheService
	logger    *zap.Logger
	config    LedgerConfig
	now       func() time.Time
}

// NewLedgerService constructs a LedgerService. objects may be nil when tenant
// deletion does not need to clean up the store.
func NewLedgerService(store LedgerStore, users LedgerUserReader, companies CompanyReader, usage UsageReader, policy *QuotaPolicy, objects storage.ObjectStore, cache *CacheService, logger *zap.Logger, cfg LedgerConfig) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		store:     store,
		users:     users,
		companies: companies,
		usage:     usage,
		policy:    policy,
		objects:   objects,
		cache:     cache,
		logger:    logger,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AvailableFor returns the capacity a user may still consume.
func (s *LedgerService) AvailableFor(user *models.User) int64 {
	return user.Available()
}

// ApplyCompletedUpload commits a finalized upload to every counter at once.
func (s *LedgerService) ApplyCompletedUpload(ctx context.Context, upload models.CompletedUpload) error {
	if upload.At.IsZero() {
		upload.At = s.now()
	}
	err := s.store.ApplyCompletedUpload(ctx, upload)
	if err == nil {
		s.invalidate(ctx, upload.UserID)
		return nil
	}

	var capacity *repository.CapacityError
	switch {
	case errors.Is(err, repository.ErrNotPending):
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, "upload already finalized")
	case errors.As(err, &capacity):
		return appErrors.QuotaExceeded("allocated storage exhausted", []models.Violation{AllocationViolation(capacity.Available)})
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply completed upload")
	}
}

// ApplyDeletedFile releases a soft-deleted file's size.
func (s *LedgerService) ApplyDeletedFile(ctx context.Context, deleted models.DeletedFile) error {
	if deleted.At.IsZero() {
		deleted.At = s.now()
	}
	if err := s.store.ApplyDeletedFile(ctx, deleted); err != nil {
		if errors.Is(err, repository.ErrNotDeletable) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release file storage")
	}
	s.invalidate(ctx, deleted.UserID)
	return nil
}

// AuthorizeCompany allows superAdmins everywhere and admins inside their own company.
func (s *LedgerService) AuthorizeCompany(actor *models.JWTClaims, companyID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch {
	case actor.Role == models.RoleSuperAdmin:
		return nil
	case actor.Role == models.RoleAdmin && actor.CompanyID == companyID:
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "not allowed to manage this company")
	}
}

// SetCompanyTotal changes a tenant's pool. The new total cascades to every
// admin when the actor is a superAdmin or the company owner.
func (s *LedgerService) SetCompanyTotal(ctx context.Context, actor *models.JWTClaims, companyID string, total int64) (*models.Company, error) {
	if err := s.AuthorizeCompany(actor, companyID); err != nil {
		return nil, err
	}
	if total < models.MinCompanyStorage {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "total storage is below the 100MiB minimum",
			map[string]interface{}{"minimum": models.MinCompanyStorage})
	}
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, mapNotFound(err, "company not found", "failed to load company")
	}
	cascade := actor.Role == models.RoleSuperAdmin || company.OwnedBy(actor.UserID)

	updated, err := s.store.SetCompanyTotal(ctx, companyID, total, cascade)
	if err != nil {
		var shortfall *repository.ShortfallError
		if errors.As(err, &shortfall) {
			return nil, appErrors.BelowAllocated(shortfall.Shortfall)
		}
		return nil, mapNotFound(err, "company not found", "failed to update company storage")
	}
	s.logger.Sugar().Infow("company storage updated", "company_id", companyID, "total", total, "cascade", cascade, "actor", actor.UserID)
	s.invalidateCompany(ctx, companyID)
	return updated, nil
}

// SetUserAllocation hands bytes of the acting admin's pool to a member.
func (s *LedgerService) SetUserAllocation(ctx context.Context, actor *models.JWTClaims, userID string, bytes int64) (*repository.Allocation, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only company admins allocate storage")
	}
	if bytes < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "allocation must not be negative")
	}

	result, err := s.store.SetUserAllocation(ctx, actor.UserID, userID, bytes)
	if err != nil {
		var capacity *repository.CapacityError
		var below *repository.BelowUsageError
		switch {
		case errors.As(err, &capacity):
			return nil, appErrors.InsufficientAdminCapacity(capacity.Available, bytes)
		case errors.As(err, &below):
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "allocation is below the member's current usage",
				map[string]interface{}{"used": below.Used})
		case errors.Is(err, repository.ErrNotCompanyMember):
			return nil, appErrors.Clone(appErrors.ErrForbidden, "user is not a member of your company")
		default:
			return nil, mapNotFound(err, "user not found", "failed to update allocation")
		}
	}
	s.invalidate(ctx, actor.UserID, userID)
	return result, nil
}

// FixAllocations recomputes a company's counters from first principles.
func (s *LedgerService) FixAllocations(ctx context.Context, companyID string) (*models.ReconcileReport, error) {
	report, err := s.store.FixAllocations(ctx, companyID)
	if err != nil {
		return nil, mapNotFound(err, "company not found", "failed to fix allocations")
	}
	if report.Drifted {
		s.logger.Sugar().Warnw("ledger drift repaired", "company_id", companyID, "changes", len(report.Changes))
		s.invalidateCompany(ctx, companyID)
	}
	return report, nil
}

// ActiveCompanies lists the tenants the sweeper repairs.
func (s *LedgerService) ActiveCompanies(ctx context.Context) ([]string, error) {
	ids, err := s.companies.ListActiveIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list companies")
	}
	return ids, nil
}

// Snapshot returns the user's quota picture. The boolean reports a cache hit.
// Snapshots are cached under the user's current generation, so a read that
// raced a mutation can only write to a generation nobody reads any more.
func (s *LedgerService) Snapshot(ctx context.Context, userID string) (*models.QuotaSnapshot, bool, error) {
	gen, genErr := s.cache.Generation(ctx, quotaGenerationKey(userID))
	key := quotaCacheKey(userID, gen)
	if genErr == nil {
		var cached models.QuotaSnapshot
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, false, mapNotFound(err, "user not found", "failed to load user")
	}
	totals, err := s.users.Totals(ctx, userID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file totals")
	}
	today, err := s.usage.Daily(ctx, userID, s.now())
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load daily usage")
	}
	byType, err := s.usage.ByType(ctx, userID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load type usage")
	}

	snapshot := buildSnapshot(user, totals, today, byType, s.policy.Limits(user.Plan))
	if genErr == nil {
		if err := s.cache.Set(ctx, key, snapshot, s.config.SnapshotTTL); err != nil {
			s.logger.Debug("cache quota snapshot", zap.Error(err))
		}
	}
	return &snapshot, false, nil
}

// PolicyContext gathers the ledger state the policy engine needs for user.
func (s *LedgerService) PolicyContext(ctx context.Context, user *models.User) (PolicyContext, error) {
	pctx := PolicyContext{Plan: user.Plan}
	totals, err := s.users.Totals(ctx, user.ID)
	if err != nil {
		return pctx, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file totals")
	}
	pctx.UserTotals = totals
	today, err := s.usage.Daily(ctx, user.ID, s.now())
	if err != nil {
		return pctx, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load daily usage")
	}
	pctx.UserToday = today

	if companyID := user.Company(); companyID != "" {
		company, err := s.companies.FindByID(ctx, companyID)
		if err != nil {
			return pctx, mapNotFound(err, "company not found", "failed to load company")
		}
		pctx.Company = &CompanyTotals{Used: company.UsedStorage, Total: company.TotalStorage}
	}
	return pctx, nil
}

// RecordDownload adds a download to the user's daily bucket.
func (s *LedgerService) RecordDownload(ctx context.Context, userID string, size int64) {
	if err := s.usage.RecordDownload(ctx, userID, s.now(), size); err != nil {
		s.logger.Warn("record download usage", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.invalidate(ctx, userID)
}

// CompanyOverview summarises a tenant's pool and members. Over-allocation is reported, not blocked.
func (s *LedgerService) CompanyOverview(ctx context.Context, companyID string) (*models.CompanyOverview, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, mapNotFound(err, "company not found", "failed to load company")
	}
	members, err := s.users.MemberUsage(ctx, companyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	if company.IsOverAllocated() {
		s.logger.Sugar().Warnw("company over allocated", "company_id", companyID, "used", company.UsedStorage, "total", company.TotalStorage)
	}
	return &models.CompanyOverview{
		Company:         *company,
		Available:       clampZero(company.TotalStorage - company.UsedStorage),
		Percentage:      percentOf(company.UsedStorage, company.TotalStorage),
		IsOverAllocated: company.IsOverAllocated(),
		Members:         members,
	}, nil
}

// UsageHistory returns a user's retained daily buckets.
func (s *LedgerService) UsageHistory(ctx context.Context, userID string) ([]models.DailyUsage, error) {
	history, err := s.usage.History(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load usage history")
	}
	return history, nil
}

// DeleteCompany removes a tenant with its members and files, then deletes the
// objects best-effort. Objects that fail to delete are logged and left behind.
func (s *LedgerService) DeleteCompany(ctx context.Context, companyID string) (int, error) {
	members, err := s.users.MemberUsage(ctx, companyID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	files, err := s.store.DeleteCompany(ctx, companyID)
	if err != nil {
		return 0, mapNotFound(err, "company not found", "failed to delete company")
	}

	if s.objects != nil {
		for _, file := range files {
			if file.IsMultipart() && file.UploadStatus != models.UploadCompleted {
				if err := s.objects.AbortMultipart(ctx, file.StorageKey, *file.UploadID); err != nil {
					s.logger.Warn("abort multipart after company delete", zap.String("file_id", file.ID), zap.String("key", file.StorageKey), zap.Error(err))
				}
			}
			if err := s.objects.Delete(ctx, file.StorageKey); err != nil {
				s.logger.Warn("delete object after company delete", zap.String("file_id", file.ID), zap.String("key", file.StorageKey), zap.Error(err))
			}
		}
	}

	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	s.invalidate(ctx, ids...)
	s.logger.Sugar().Infow("company deleted", "company_id", companyID, "files", len(files))
	return len(files), nil
}

func (s *LedgerService) invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, quotaGenerationKey(id))
	}
	_ = s.cache.Bump(ctx, keys...)
}

func (s *LedgerService) invalidateCompany(ctx context.Context, companyID string) {
	if !s.cache.Enabled() {
		return
	}
	members, err := s.users.MemberUsage(ctx, companyID)
	if err != nil {
		s.logger.Warn("load members for cache invalidation", zap.String("company_id", companyID), zap.Error(err))
		return
	}
	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID)
	}
	s.invalidate(ctx, ids...)
}

func buildSnapshot(user *models.User, totals models.UserTotals, today models.DailyUsage, byType []models.TypeUsage, limits models.PlanLimits) models.QuotaSnapshot {
	available := user.Available()
	committed := user.StorageAllocated - available
	storagePct := percentOf(committed, user.StorageAllocated)

	filesRemaining := limits.MaxFiles - totals.FileCount
	if filesRemaining < 0 {
		filesRemaining = 0
	}
	dailyPct := percentOf(today.UploadSize, limits.DailyUploadLimit)

	snapshot := models.QuotaSnapshot{
		Storage: models.StorageQuota{
			Used:        user.StorageUsed,
			Total:       user.StorageAllocated,
			Available:   available,
			Percentage:  storagePct,
			IsNearLimit: storagePct >= nearLimitPercent,
			IsCritical:  storagePct >= criticalPercent,
		},
		Files: models.FileQuota{
			Count:       totals.FileCount,
			Max:         limits.MaxFiles,
			Remaining:   filesRemaining,
			IsNearLimit: percentOf(int64(totals.FileCount), int64(limits.MaxFiles)) >= nearLimitPercent,
		},
		Daily: models.DailyQuota{
			Used:        today.UploadSize,
			Limit:       limits.DailyUploadLimit,
			Remaining:   clampZero(limits.DailyUploadLimit - today.UploadSize),
			Percentage:  dailyPct,
			IsNearLimit: dailyPct >= nearLimitPercent,
		},
		ByType: make(map[models.FileCategory]models.TypeQuota, len(models.Categories)),
	}
	for _, category := range models.Categories {
		snapshot.ByType[category] = models.TypeQuota{}
	}
	for _, row := range byType {
		snapshot.ByType[row.Category] = models.TypeQuota{Count: row.FileCount, Size: row.TotalSize}
	}
	return snapshot
}

// percentOf returns part/total as a percentage rounded to two decimals. A zero
// total with any usage reads as full.
func percentOf(part, total int64) float64 {
	if total <= 0 {
		if part > 0 {
			return 100
		}
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

func quotaCacheKey(userID string, gen int64) string {
	return "quota:" + userID + ":" + strconv.FormatInt(gen, 10)
}

func quotaGenerationKey(userID string) string {
	return "quota:gen:" + userID
}

func mapNotFound(err error, notFoundMessage, internalMessage string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFoundMessage)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internalMessage)
}
