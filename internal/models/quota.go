package models

// PlanLimits are the policy constants of one plan.
type PlanLimits struct {
	MaxStorage       int64    `json:"max_storage"`
	MaxFiles         int      `json:"max_files"`
	MaxFileSize      int64    `json:"max_file_size"`
	DailyUploadLimit int64    `json:"daily_upload_limit"`
	AllowedMIMETypes []string `json:"allowed_mime_types"`
}

// Violation reason codes.
const (
	ReasonFileSize       = "fileSize"
	ReasonStorage        = "storage"
	ReasonFileCount      = "fileCount"
	ReasonDaily          = "daily"
	ReasonFileType       = "fileType"
	ReasonCompanyStorage = "companyStorage"
)

// Violation is one failed policy check. Remaining is bytes, or a count for fileCount.
type Violation struct {
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`
}

// StorageQuota is the storage section of a snapshot.
type StorageQuota struct {
	Used        int64   `json:"used"`
	Total       int64   `json:"total"`
	Available   int64   `json:"available"`
	Percentage  float64 `json:"percentage"`
	IsNearLimit bool    `json:"isNearLimit"`
	IsCritical  bool    `json:"isCritical"`
}

// FileQuota is the file-count section of a snapshot.
type FileQuota struct {
	Count       int  `json:"count"`
	Max         int  `json:"max"`
	Remaining   int  `json:"remaining"`
	IsNearLimit bool `json:"isNearLimit"`
}

// DailyQuota is the rolling daily upload section of a snapshot.
type DailyQuota struct {
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	Remaining   int64   `json:"remaining"`
	Percentage  float64 `json:"percentage"`
	IsNearLimit bool    `json:"isNearLimit"`
}

// TypeQuota is one per-category entry of a snapshot.
type TypeQuota struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// QuotaSnapshot is returned by init, finalize and the quota endpoint.
type QuotaSnapshot struct {
	Storage StorageQuota               `json:"storage"`
	Files   FileQuota                  `json:"files"`
	Daily   DailyQuota                 `json:"daily"`
	ByType  map[FileCategory]TypeQuota `json:"byType"`
}

// CounterDrift is one repaired counter of a reconcile run.
type CounterDrift struct {
	Subject string `json:"subject"`
	Field   string `json:"field"`
	Before  int64  `json:"before"`
	After   int64  `json:"after"`
}

// ReconcileReport summarises a fix-allocations run.
type ReconcileReport struct {
	CompanyID string         `json:"company_id"`
	Drifted   bool           `json:"drifted"`
	Changes   []CounterDrift `json:"changes"`
}
