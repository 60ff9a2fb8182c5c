package service

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/config"
)

// UploadRequest is what the policy engine judges.
type UploadRequest struct {
	Size     int64
	MimeType string
}

// CompanyTotals is the tenant pool the uploader draws from.
type CompanyTotals struct {
	Used  int64
	Total int64
}

// PolicyContext is the ledger state an upload is judged against.
type PolicyContext struct {
	Plan       models.Plan
	UserToday  models.DailyUsage
	UserTotals models.UserTotals
	Company    *CompanyTotals
}

// PolicyResult lists every violated rule. Allowed is true only when none failed.
type PolicyResult struct {
	Allowed    bool
	Violations []models.Violation
}

// QuotaPolicy evaluates plan limits. It holds no state beyond its configuration.
type QuotaPolicy struct {
	plans map[models.Plan]models.PlanLimits
}

// NewQuotaPolicy builds the engine from the free and pro plan limits.
func NewQuotaPolicy(free, pro models.PlanLimits) *QuotaPolicy {
	return &QuotaPolicy{plans: map[models.Plan]models.PlanLimits{
		models.PlanFree: free,
		models.PlanPro:  pro,
	}}
}

// PlanLimitsFromConfig converts a configured plan.
func PlanLimitsFromConfig(cfg config.PlanLimitsConfig) models.PlanLimits {
	allowed := make([]string, 0, len(cfg.AllowedMIMEs))
	for _, mimeType := range cfg.AllowedMIMEs {
		allowed = append(allowed, normalizeMIME(mimeType))
	}
	return models.PlanLimits{
		MaxStorage:       cfg.MaxStorage,
		MaxFiles:         cfg.MaxFiles,
		MaxFileSize:      cfg.MaxFileSize,
		DailyUploadLimit: cfg.DailyUploadLimit,
		AllowedMIMETypes: allowed,
	}
}

// Limits returns the limits of plan, falling back to the free plan.
func (p *QuotaPolicy) Limits(plan models.Plan) models.PlanLimits {
	if limits, ok := p.plans[plan]; ok {
		return limits
	}
	return p.plans[models.PlanFree]
}

// Evaluate runs every check and collects all violations.
func (p *QuotaPolicy) Evaluate(req UploadRequest, pctx PolicyContext) PolicyResult {
	limits := p.Limits(pctx.Plan)
	var violations []models.Violation

	if req.Size > limits.MaxFileSize {
		violations = append(violations, models.Violation{
			Reason:    models.ReasonFileSize,
			Message:   fmt.Sprintf("file is %s, the per-file limit is %s (%d bytes)", humanBytes(req.Size), humanBytes(limits.MaxFileSize), limits.MaxFileSize),
			Remaining: limits.MaxFileSize,
			Limit:     limits.MaxFileSize,
		})
	}

	if pctx.UserTotals.Used+req.Size > limits.MaxStorage {
		remaining := clampZero(limits.MaxStorage - pctx.UserTotals.Used)
		violations = append(violations, models.Violation{
			Reason:    models.ReasonStorage,
			Message:   fmt.Sprintf("storage limit reached: %s remaining (%d bytes)", humanBytes(remaining), remaining),
			Remaining: remaining,
			Limit:     limits.MaxStorage,
		})
	}

	if pctx.UserTotals.FileCount >= limits.MaxFiles {
		remaining := clampZero(int64(limits.MaxFiles - pctx.UserTotals.FileCount))
		violations = append(violations, models.Violation{
			Reason:    models.ReasonFileCount,
			Message:   fmt.Sprintf("file limit of %d reached: %d files remaining", limits.MaxFiles, remaining),
			Remaining: remaining,
			Limit:     int64(limits.MaxFiles),
		})
	}

	if pctx.UserToday.UploadSize+req.Size > limits.DailyUploadLimit {
		remaining := clampZero(limits.DailyUploadLimit - pctx.UserToday.UploadSize)
		violations = append(violations, models.Violation{
			Reason:    models.ReasonDaily,
			Message:   fmt.Sprintf("daily upload limit reached: %s remaining today (%d bytes)", humanBytes(remaining), remaining),
			Remaining: remaining,
			Limit:     limits.DailyUploadLimit,
		})
	}

	if !mimeAllowed(req.MimeType, limits.AllowedMIMETypes) {
		violations = append(violations, models.Violation{
			Reason:  models.ReasonFileType,
			Message: fmt.Sprintf("file type %q is not allowed", req.MimeType),
		})
	}

	if company := pctx.Company; company != nil && company.Used+req.Size > company.Total {
		remaining := clampZero(company.Total - company.Used)
		violations = append(violations, models.Violation{
			Reason:    models.ReasonCompanyStorage,
			Message:   fmt.Sprintf("company storage is full: %s remaining (%d bytes)", humanBytes(remaining), remaining),
			Remaining: remaining,
			Limit:     company.Total,
		})
	}

	return PolicyResult{Allowed: len(violations) == 0, Violations: violations}
}

// AllocationViolation is the storage violation raised when the ledger has less
// room than the policy allowed.
func AllocationViolation(available int64) models.Violation {
	return models.Violation{
		Reason:    models.ReasonStorage,
		Message:   fmt.Sprintf("allocated storage exhausted: %s remaining (%d bytes)", humanBytes(available), available),
		Remaining: available,
	}
}

func mimeAllowed(mimeType string, allowed []string) bool {
	mimeType = normalizeMIME(mimeType)
	if mimeType == "" {
		return false
	}
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	for _, candidate := range allowed {
		if candidate == mimeType {
			return true
		}
	}
	return false
}

func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func humanBytes(n int64) string {
	return units.BytesSize(float64(n))
}

func clampZero(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
