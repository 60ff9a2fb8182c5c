package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// maxParts is the S3 ceiling on parts per multipart upload.
const maxParts = 10000

// FileRepository persists file rows for the upload protocol.
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error
	FindByID(ctx context.Context, id string) (*models.File, error)
	ListByOwner(ctx context.Context, filter models.FileFilter) ([]models.File, int, error)
	DeletePending(ctx context.Context, id string) (bool, error)
}

// UserFinder loads users.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// UploadConfig tunes the presigned upload protocol.
type UploadConfig struct {
	KeyFolder          string
	MultipartThreshold int64
	ChunkSize          int64
	UploadURLTTL       time.Duration
	PartURLTTL         time.Duration
	DownloadURLTTL     time.Duration
	// StaleAfter matches the sweeper window; older pending uploads cannot be finalized.
	StaleAfter         time.Duration
}

// UploadService runs the init, finalize and abort protocol. File bytes travel
// straight to the object store; this service only hands out URLs and verifies.
type UploadService struct {
	files     FileRepository
	users     UserFinder
	ledger    *LedgerService
	policy    *QuotaPolicy
	store     storage.ObjectStore
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    UploadConfig
	now       func() time.Time
}

// NewUploadService constructs an UploadService.
func NewUploadService(files FileRepository, users UserFinder, ledger *LedgerService, policy *QuotaPolicy, store storage.ObjectStore, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg UploadConfig) *UploadService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 5 << 20
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 50 << 20
	}
	if cfg.UploadURLTTL <= 0 {
		cfg.UploadURLTTL = 15 * time.Minute
	}
	if cfg.PartURLTTL <= 0 {
		cfg.PartURLTTL = time.Hour
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	return &UploadService{
		files:     files,
		users:     users,
		ledger:    ledger,
		policy:    policy,
		store:     store,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitUpload checks quota and opens a single or multipart upload session.
// A rejected request leaves no trace.
func (s *UploadService) InitUpload(ctx context.Context, actor *models.JWTClaims, req dto.InitUploadRequest) (*dto.InitUploadResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid upload payload")
	}
	user, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, mapNotFound(err, "user not found", "failed to load user")
	}

	pctx, err := s.ledger.PolicyContext(ctx, user)
	if err != nil {
		return nil, err
	}
	result := s.policy.Evaluate(UploadRequest{Size: req.Size, MimeType: req.MimeType}, pctx)
	violations := result.Violations
	if available := s.ledger.AvailableFor(user); req.Size > available && !hasReason(violations, models.ReasonStorage) {
		violations = append(violations, AllocationViolation(available))
	}
	if len(violations) > 0 {
		for _, v := range violations {
			s.metrics.UploadRejected("init", v.Reason)
		}
		return nil, appErrors.QuotaExceeded("upload rejected by quota policy", violations)
	}

	now := s.now()
	key := storage.MakeUniqueKey(user.ID, req.Filename, s.config.KeyFolder, now)
	file := &models.File{
		OriginalName:      req.Filename,
		Filename:          storage.SanitizeFilename(req.Filename),
		Size:              req.Size,
		MimeType:          req.MimeType,
		StorageType:       s.store.Provider(),
		StorageKey:        key,
		UploadStatus:      models.UploadPending,
		UploadInitiatedAt: now,
		UploadedBy:        user.ID,
		CompanyID:         user.CompanyID,
	}
	resp := &dto.InitUploadResponse{StorageKey: key}

	if req.Size >= s.config.MultipartThreshold {
		chunk := s.chunkSize(req.Size)
		uploadID, err := s.store.InitiateMultipart(ctx, key, req.MimeType)
		if err != nil {
			return nil, storageError("initiate multipart", err)
		}
		parts := partCount(req.Size, chunk)
		resp.Parts = make([]dto.PartURL, 0, parts)
		for n := 1; n <= parts; n++ {
			url, err := s.store.PresignPart(ctx, key, uploadID, n, s.config.PartURLTTL)
			if err != nil {
				s.abortQuietly(ctx, key, uploadID)
				return nil, storageError("presign part", err)
			}
			resp.Parts = append(resp.Parts, dto.PartURL{PartNumber: n, URL: url})
		}
		file.UploadID = &uploadID
		resp.Multipart = true
		resp.UploadID = uploadID
		resp.ChunkSize = chunk
		resp.ExpiresAt = now.Add(s.config.PartURLTTL)
	} else {
		url, err := s.store.PresignUpload(ctx, key, req.MimeType, s.config.UploadURLTTL)
		if err != nil {
			return nil, storageError("presign upload", err)
		}
		resp.UploadURL = url
		resp.ExpiresAt = now.Add(s.config.UploadURLTTL)
	}

	if err := s.files.Create(ctx, file); err != nil {
		if file.UploadID != nil {
			s.abortQuietly(ctx, key, *file.UploadID)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record upload")
	}
	resp.FileID = file.ID

	snapshot, _, err := s.ledger.Snapshot(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	resp.Quota = *snapshot
	s.metrics.UploadInitiated(resp.Multipart)
	s.logger.Sugar().Infow("upload initiated", "file_id", file.ID, "user_id", user.ID, "size", req.Size, "multipart", resp.Multipart)
	return resp, nil
}

// FinalizeUpload verifies the stored object and commits it to the ledger.
func (s *UploadService) FinalizeUpload(ctx context.Context, actor *models.JWTClaims, fileID string, req dto.FinalizeUploadRequest) (*dto.FinalizeUploadResponse, error) {
	file, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}
	if file.UploadStatus == models.UploadCompleted {
		return nil, appErrors.Clone(appErrors.ErrAlreadyFinalized, "upload already finalized")
	}
	if file.UploadStatus == models.UploadExpired || !s.now().Before(file.UploadInitiatedAt.Add(s.config.StaleAfter)) {
		s.metrics.UploadRejected("finalize", "expired")
		return nil, appErrors.Clone(appErrors.ErrUploadExpired, "upload session expired, start a new upload")
	}

	info, err := s.locateObject(ctx, file, req.Parts)
	if err != nil {
		return nil, err
	}
	if info.Size != file.Size {
		s.logger.Sugar().Warnw("upload size mismatch", "file_id", file.ID, "user_id", file.UploadedBy, "declared", file.Size, "actual", info.Size)
		return nil, s.rejectPending(ctx, file, "sizeMismatch", appErrors.SizeMismatch(file.Size, info.Size))
	}

	user, err := s.users.FindByID(ctx, file.UploadedBy)
	if err != nil {
		return nil, mapNotFound(err, "user not found", "failed to load user")
	}
	if available := s.ledger.AvailableFor(user); file.Size > available {
		return nil, s.rejectPending(ctx, file, models.ReasonStorage,
			appErrors.QuotaExceeded("allocated storage exhausted", []models.Violation{AllocationViolation(available)}))
	}

	completedAt := s.now()
	err = s.ledger.ApplyCompletedUpload(ctx, models.CompletedUpload{
		FileID:    file.ID,
		UserID:    file.UploadedBy,
		CompanyID: user.Company(),
		Size:      info.Size,
		ETag:      info.ETag,
		MimeType:  file.MimeType,
		At:        completedAt,
	})
	if err != nil {
		if errors.Is(err, appErrors.ErrQuotaExceeded) {
			return nil, s.rejectPending(ctx, file, models.ReasonStorage, err)
		}
		return nil, err
	}

	etag := info.ETag
	file.UploadStatus = models.UploadCompleted
	file.UploadCompletedAt = &completedAt
	file.ETag = &etag

	snapshot, _, err := s.ledger.Snapshot(ctx, file.UploadedBy)
	if err != nil {
		return nil, err
	}
	s.metrics.UploadFinalized(file.Size)
	s.logger.Sugar().Infow("upload finalized", "file_id", file.ID, "user_id", file.UploadedBy, "size", file.Size)
	return &dto.FinalizeUploadResponse{File: *file, Quota: *snapshot}, nil
}

// AbortUpload cancels a pending upload and releases store-side parts.
func (s *UploadService) AbortUpload(ctx context.Context, actor *models.JWTClaims, fileID string) error {
	file, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return err
	}
	if file.UploadStatus == models.UploadCompleted {
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, "upload already finalized")
	}
	if file.IsMultipart() {
		if err := s.store.AbortMultipart(ctx, file.StorageKey, *file.UploadID); err != nil {
			return storageError("abort multipart", err)
		}
	}
	s.deleteQuietly(ctx, file)
	if _, err := s.files.DeletePending(ctx, file.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove pending upload")
	}
	s.logger.Sugar().Infow("upload aborted", "file_id", file.ID, "user_id", file.UploadedBy)
	return nil
}

// DeleteFile soft-deletes a completed file and releases its quota at once. The
// object itself is purged by the sweeper after the retention window.
func (s *UploadService) DeleteFile(ctx context.Context, actor *models.JWTClaims, fileID string) error {
	file, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return err
	}
	if !file.Counts() {
		return appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return s.ledger.ApplyDeletedFile(ctx, models.DeletedFile{
		FileID:    file.ID,
		UserID:    file.UploadedBy,
		CompanyID: derefString(file.CompanyID),
		Size:      file.Size,
		MimeType:  file.MimeType,
		At:        s.now(),
	})
}

// DownloadURL presigns a GET for a live file. Company admins may fetch their members' files.
func (s *UploadService) DownloadURL(ctx context.Context, actor *models.JWTClaims, fileID string, attachment bool) (*dto.DownloadURLResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return nil, mapNotFound(err, "file not found", "failed to load file")
	}
	if !file.Counts() || !canRead(actor, file) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	url, err := s.store.PresignDownload(ctx, file.StorageKey, file.OriginalName, s.config.DownloadURLTTL, attachment)
	if err != nil {
		return nil, storageError("presign download", err)
	}
	s.ledger.RecordDownload(ctx, actor.UserID, file.Size)
	return &dto.DownloadURLResponse{URL: url, ExpiresAt: s.now().Add(s.config.DownloadURLTTL)}, nil
}

// ListFiles returns the actor's live files.
func (s *UploadService) ListFiles(ctx context.Context, actor *models.JWTClaims, filter models.FileFilter) ([]models.File, int, error) {
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}
	filter.OwnerID = actor.UserID
	files, total, err := s.files.ListByOwner(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	return files, total, nil
}

// locateObject heads the uploaded object. A multipart session is completed
// only when the object is not assembled yet, so a finalize retried after the
// store already completed the session goes straight to verification.
func (s *UploadService) locateObject(ctx context.Context, file *models.File, parts []storage.CompletedPart) (*storage.ObjectInfo, error) {
	info, err := s.store.Head(ctx, file.StorageKey)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, storageError("head object", err)
	}
	if !file.IsMultipart() {
		s.metrics.UploadRejected("finalize", "objectMissing")
		return nil, appErrors.Clone(appErrors.ErrObjectMissing, "uploaded object not found in storage")
	}

	if err := s.completeMultipart(ctx, file, parts); err != nil {
		return nil, err
	}
	info, err = s.store.Head(ctx, file.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.metrics.UploadRejected("finalize", "objectMissing")
			return nil, appErrors.Clone(appErrors.ErrObjectMissing, "uploaded object not found in storage")
		}
		return nil, storageError("head object", err)
	}
	return info, nil
}

// rejectPending deletes the object of a finalize that failed verification.
// If a concurrent finalize completed the row meanwhile the object stays and
// the caller reports ALREADY_FINALIZED.
func (s *UploadService) rejectPending(ctx context.Context, file *models.File, reason string, cause error) error {
	if current, err := s.files.FindByID(ctx, file.ID); err == nil && current.UploadStatus == models.UploadCompleted {
		return appErrors.Clone(appErrors.ErrAlreadyFinalized, "upload already finalized")
	}
	s.deleteQuietly(ctx, file)
	s.metrics.UploadRejected("finalize", reason)
	return cause
}

func (s *UploadService) completeMultipart(ctx context.Context, file *models.File, parts []storage.CompletedPart) error {
	if len(parts) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "parts are required to finalize a multipart upload")
	}
	for _, part := range parts {
		if err := s.validator.Struct(part); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid parts")
		}
	}
	sorted := append([]storage.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	expected := partCount(file.Size, s.chunkSize(file.Size))
	if len(sorted) != expected {
		return appErrors.WithDetails(appErrors.ErrValidation, "part count does not match the upload session",
			map[string]interface{}{"expected": expected, "received": len(sorted)})
	}
	for i, part := range sorted {
		if part.PartNumber != i+1 {
			return appErrors.WithDetails(appErrors.ErrValidation, "parts must be numbered 1..n without gaps",
				map[string]interface{}{"partNumber": part.PartNumber})
		}
	}
	if _, err := s.store.CompleteMultipart(ctx, file.StorageKey, *file.UploadID, sorted); err != nil {
		// A concurrent finalize may have consumed the session first.
		if current, ferr := s.files.FindByID(ctx, file.ID); ferr == nil && current.UploadStatus == models.UploadCompleted {
			return appErrors.Clone(appErrors.ErrAlreadyFinalized, "upload already finalized")
		}
		if _, herr := s.store.Head(ctx, file.StorageKey); herr == nil {
			return nil
		}
		return storageError("complete multipart", err)
	}
	return nil
}

func (s *UploadService) ownedFile(ctx context.Context, actor *models.JWTClaims, fileID string) (*models.File, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	if file.UploadedBy != actor.UserID || file.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return file, nil
}

// chunkSize grows the configured chunk when size would need more than maxParts parts.
func (s *UploadService) chunkSize(size int64) int64 {
	chunk := s.config.ChunkSize
	if floor := (size + maxParts - 1) / maxParts; floor > chunk {
		chunk = floor
	}
	return chunk
}

func (s *UploadService) deleteQuietly(ctx context.Context, file *models.File) {
	if err := s.store.Delete(ctx, file.StorageKey); err != nil {
		s.logger.Warn("delete object", zap.String("file_id", file.ID), zap.String("key", file.StorageKey), zap.Error(err))
	}
}

func (s *UploadService) abortQuietly(ctx context.Context, key, uploadID string) {
	if err := s.store.AbortMultipart(ctx, key, uploadID); err != nil {
		s.logger.Warn("abort multipart", zap.String("key", key), zap.String("upload_id", uploadID), zap.Error(err))
	}
}

func partCount(size, chunk int64) int {
	n := int((size + chunk - 1) / chunk)
	if n < 1 {
		n = 1
	}
	return n
}

func canRead(actor *models.JWTClaims, file *models.File) bool {
	switch {
	case file.UploadedBy == actor.UserID:
		return true
	case actor.Role == models.RoleSuperAdmin:
		return true
	case actor.Role == models.RoleAdmin:
		return actor.CompanyID != "" && actor.CompanyID == derefString(file.CompanyID)
	default:
		return false
	}
}

func hasReason(violations []models.Violation, reason string) bool {
	for _, v := range violations {
		if v.Reason == reason {
			return true
		}
	}
	return false
}

func storageError(op string, err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.StorageProvider(op, err)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
