package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/dto"
	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

func soloUser(env *testEnv, allocated int64) models.User {
	user := models.User{ID: "u1", Email: "solo@example.test", Role: models.RoleUser, StorageAllocated: allocated}
	env.db.addUser(user)
	return user
}

func partsFor(n int) []storage.CompletedPart {
	parts := make([]storage.CompletedPart, 0, n)
	for i := n; i >= 1; i-- {
		parts = append(parts, storage.CompletedPart{PartNumber: i, ETag: fmt.Sprintf("etag-%d", i)})
	}
	return parts
}

func violationsOf(t *testing.T, err error) []models.Violation {
	t.Helper()
	appErr := requireAppError(t, err, appErrors.ErrQuotaExceeded)
	violations, ok := appErr.Details["violations"].([]models.Violation)
	require.True(t, ok)
	return violations
}

func TestMultipartUploadChargesLedger(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "Quarterly Report.pdf", Size: 100 * mib, MimeType: "application/pdf"})
	require.NoError(t, err)
	assert.True(t, initResp.Multipart)
	assert.Equal(t, 5*mib, initResp.ChunkSize)
	require.Len(t, initResp.Parts, 20)
	assert.Equal(t, 1, initResp.Parts[0].PartNumber)
	assert.NotEmpty(t, initResp.UploadID)
	assert.Equal(t, 5*gib, initResp.Quota.Storage.Available)

	file, ok := env.db.file(initResp.FileID)
	require.True(t, ok)
	assert.Equal(t, models.UploadPending, file.UploadStatus)
	assert.Equal(t, "fake", file.StorageType)

	env.store.stage(initResp.UploadID, 100*mib)
	final, err := env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: partsFor(20)})
	require.NoError(t, err)
	assert.Equal(t, models.UploadCompleted, final.File.UploadStatus)
	require.NotNil(t, final.File.ETag)

	stored := env.db.user(user.ID)
	assert.Equal(t, 100*mib, stored.StorageUsed)
	assert.Equal(t, 5*gib-100*mib, env.ledger.AvailableFor(&stored))
	assert.Equal(t, 5*gib-100*mib, final.Quota.Storage.Available)
	assert.Equal(t, 1, final.Quota.Files.Count)
	assert.Equal(t, 100*mib, final.Quota.Daily.Used)
	assert.Equal(t, models.TypeQuota{Count: 1, Size: 100 * mib}, final.Quota.ByType[models.CategoryPDFs])
}

func TestFinalizeTwiceDoesNotDoubleCount(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "notes.txt", Size: 1000, MimeType: "text/plain"})
	require.NoError(t, err)
	assert.False(t, initResp.Multipart)
	assert.Contains(t, initResp.UploadURL, initResp.StorageKey)

	env.store.put(initResp.StorageKey, 1000)
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	require.NoError(t, err)

	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	requireAppError(t, err, appErrors.ErrAlreadyFinalized)
	assert.EqualValues(t, 1000, env.db.user(user.ID).StorageUsed)
}

func TestFinalizeRejectsTamperedSize(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "notes.txt", Size: 1000, MimeType: "text/plain"})
	require.NoError(t, err)
	env.store.put(initResp.StorageKey, 2000)

	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	appErr := requireAppError(t, err, appErrors.ErrSizeMismatch)
	assert.EqualValues(t, 1000, appErr.Details["declared"])
	assert.EqualValues(t, 2000, appErr.Details["actual"])

	assert.False(t, env.store.has(initResp.StorageKey))
	assert.Zero(t, env.db.user(user.ID).StorageUsed)
	file, _ := env.db.file(initResp.FileID)
	assert.Equal(t, models.UploadPending, file.UploadStatus)
}

func TestFinalizeWithoutObject(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "notes.txt", Size: 1000, MimeType: "text/plain"})
	require.NoError(t, err)

	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	requireAppError(t, err, appErrors.ErrObjectMissing)
}

func TestFinalizeOtherUsersFile(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	env.db.addUser(models.User{ID: "u2", Role: models.RoleUser, StorageAllocated: gib})
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "notes.txt", Size: 10, MimeType: "text/plain"})
	require.NoError(t, err)
	env.store.put(initResp.StorageKey, 10)

	_, err = env.uploads.FinalizeUpload(ctx, &models.JWTClaims{UserID: "u2", Role: models.RoleUser}, initResp.FileID, dto.FinalizeUploadRequest{})
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestInitRejectionLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)

	_, err := env.uploads.InitUpload(context.Background(), claimsFor(user), dto.InitUploadRequest{Filename: "movie.mkv", Size: 200 * mib, MimeType: "video/x-matroska"})
	violations := violationsOf(t, err)
	assert.Equal(t, []string{models.ReasonFileSize, models.ReasonFileType}, reasons(violations))

	env.db.mu.Lock()
	defer env.db.mu.Unlock()
	assert.Empty(t, env.db.files)
	assert.Empty(t, env.store.sessions)
}

func TestInitRejectsBeyondAllocation(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 10*mib)

	_, err := env.uploads.InitUpload(context.Background(), claimsFor(user), dto.InitUploadRequest{Filename: "scan.pdf", Size: 20 * mib, MimeType: "application/pdf"})
	violations := violationsOf(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, models.ReasonStorage, violations[0].Reason)
	assert.Equal(t, 10*mib, violations[0].Remaining)
}

func TestInitValidatesPayload(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)

	_, err := env.uploads.InitUpload(context.Background(), claimsFor(user), dto.InitUploadRequest{Filename: "", Size: 0, MimeType: "text/plain"})
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = env.uploads.InitUpload(context.Background(), nil, dto.InitUploadRequest{Filename: "a.txt", Size: 1, MimeType: "text/plain"})
	requireAppError(t, err, appErrors.ErrUnauthorized)
}

func TestConcurrentFinalizeNeverOverdraws(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 1500)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: fmt.Sprintf("part-%d.txt", i), Size: 1000, MimeType: "text/plain"})
		require.NoError(t, err)
		env.store.put(initResp.StorageKey, 1000)
		ids = append(ids, initResp.FileID)
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.uploads.FinalizeUpload(ctx, claimsFor(user), id, dto.FinalizeUploadRequest{})
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireAppError(t, err, appErrors.ErrQuotaExceeded)
	}
	assert.Equal(t, 1, succeeded)

	stored := env.db.user(user.ID)
	assert.EqualValues(t, 1000, stored.StorageUsed)
	assert.LessOrEqual(t, stored.StorageUsed, stored.StorageAllocated)
}

func TestFinalizeMultipartValidatesParts(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "scan.tiff", Size: 60 * mib, MimeType: "image/tiff"})
	require.NoError(t, err)
	require.Len(t, initResp.Parts, 12)
	env.store.stage(initResp.UploadID, 60*mib)

	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: partsFor(11)})
	appErr := requireAppError(t, err, appErrors.ErrValidation)
	assert.Equal(t, 12, appErr.Details["expected"])

	gapped := partsFor(12)
	gapped[0].PartNumber = 13
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: gapped})
	requireAppError(t, err, appErrors.ErrValidation)

	blank := partsFor(12)
	blank[3].ETag = ""
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: blank})
	requireAppError(t, err, appErrors.ErrValidation)

	assert.Zero(t, env.db.user(user.ID).StorageUsed)
}

func TestAbortMultipartUpload(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "big.png", Size: 60 * mib, MimeType: "image/png"})
	require.NoError(t, err)

	require.NoError(t, env.uploads.AbortUpload(ctx, claimsFor(user), initResp.FileID))
	assert.Contains(t, env.store.aborted, initResp.UploadID)
	_, ok := env.db.file(initResp.FileID)
	assert.False(t, ok)

	err = env.uploads.AbortUpload(ctx, claimsFor(user), initResp.FileID)
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestDeleteFileReleasesQuotaAndHidesDownloads(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "notes.txt", Size: 500, MimeType: "text/plain"})
	require.NoError(t, err)
	env.store.put(initResp.StorageKey, 500)
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	require.NoError(t, err)

	link, err := env.uploads.DownloadURL(ctx, claimsFor(user), initResp.FileID, true)
	require.NoError(t, err)
	assert.Contains(t, link.URL, initResp.StorageKey)

	files, total, err := env.uploads.ListFiles(ctx, claimsFor(user), models.FileFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, initResp.FileID, files[0].ID)

	require.NoError(t, env.uploads.DeleteFile(ctx, claimsFor(user), initResp.FileID))
	assert.Zero(t, env.db.user(user.ID).StorageUsed)
	assert.True(t, env.store.has(initResp.StorageKey))

	_, err = env.uploads.DownloadURL(ctx, claimsFor(user), initResp.FileID, false)
	requireAppError(t, err, appErrors.ErrNotFound)
	err = env.uploads.DeleteFile(ctx, claimsFor(user), initResp.FileID)
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestDownloadURLAccess(t *testing.T) {
	env := newTestEnv(t)
	admin, member := seedCompany(env, 10*gib)
	_, err := env.ledger.SetUserAllocation(context.Background(), claimsFor(admin), member.ID, gib)
	require.NoError(t, err)
	env.db.addUser(models.User{ID: "stranger", Role: models.RoleUser, StorageAllocated: gib})
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(member), dto.InitUploadRequest{Filename: "plan.pdf", Size: 4096, MimeType: "application/pdf"})
	require.NoError(t, err)
	env.store.put(initResp.StorageKey, 4096)
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(member), initResp.FileID, dto.FinalizeUploadRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, env.db.company("c1").UsedStorage)

	_, err = env.uploads.DownloadURL(ctx, claimsFor(env.db.user(admin.ID)), initResp.FileID, false)
	require.NoError(t, err)

	_, err = env.uploads.DownloadURL(ctx, &models.JWTClaims{UserID: "stranger", Role: models.RoleUser}, initResp.FileID, false)
	requireAppError(t, err, appErrors.ErrNotFound)

	history, err := env.ledger.UsageHistory(ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 4096, history[0].DownloadSize)
}

func TestChunkSizeStaysUnderPartCeiling(t *testing.T) {
	env := newTestEnv(t)

	chunk := env.uploads.chunkSize(5 * mib * 3)
	assert.Equal(t, 5*mib, chunk)

	huge := 100 * gib
	chunk = env.uploads.chunkSize(huge)
	assert.Greater(t, chunk, 5*mib)
	assert.LessOrEqual(t, partCount(huge, chunk), maxParts)
}

func TestFinalizeRetryAfterSessionCompleted(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "backup.tar", Size: 100 * mib, MimeType: "application/x-tar"})
	require.NoError(t, err)
	env.store.stage(initResp.UploadID, 100*mib)
	// the session completes, then the verifying head fails once
	env.store.headErrs[initResp.StorageKey] = []error{nil, errors.New("connection reset")}

	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: partsFor(20)})
	requireAppError(t, err, appErrors.ErrStorageProvider)
	assert.Zero(t, env.db.user(user.ID).StorageUsed)

	final, err := env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: partsFor(20)})
	require.NoError(t, err)
	assert.Equal(t, models.UploadCompleted, final.File.UploadStatus)
	assert.Equal(t, 100*mib, env.db.user(user.ID).StorageUsed)
	assert.True(t, env.store.has(initResp.StorageKey))
}

func TestFinalizeAfterSessionConsumedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "video.mp4", Size: 60 * mib, MimeType: "video/mp4"})
	require.NoError(t, err)
	env.store.stage(initResp.UploadID, 60*mib)
	_, err = env.store.CompleteMultipart(ctx, initResp.StorageKey, initResp.UploadID, partsFor(12))
	require.NoError(t, err)
	// head raced ahead of the other completion
	env.store.headErrs[initResp.StorageKey] = []error{storage.ErrObjectNotFound}

	final, err := env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: partsFor(12)})
	require.NoError(t, err)
	assert.Equal(t, models.UploadCompleted, final.File.UploadStatus)
	assert.Equal(t, 60*mib, env.db.user(user.ID).StorageUsed)
}

func TestConcurrentMultipartFinalizeReportsAlreadyFinalized(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, 5*gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "dataset.csv", Size: 60 * mib, MimeType: "text/csv"})
	require.NoError(t, err)
	env.store.stage(initResp.UploadID, 60*mib)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{Parts: partsFor(12)})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireAppError(t, err, appErrors.ErrAlreadyFinalized)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 60*mib, env.db.user(user.ID).StorageUsed)
	assert.True(t, env.store.has(initResp.StorageKey))
}

func TestFinalizeRejectsExpiredUpload(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	ctx := context.Background()

	initResp, err := env.uploads.InitUpload(ctx, claimsFor(user), dto.InitUploadRequest{Filename: "late.txt", Size: 1000, MimeType: "text/plain"})
	require.NoError(t, err)
	env.store.put(initResp.StorageKey, 1000)

	env.uploads.now = func() time.Time { return env.now.Add(24 * time.Hour) }
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	requireAppError(t, err, appErrors.ErrUploadExpired)
	assert.Zero(t, env.db.user(user.ID).StorageUsed)

	env.uploads.now = func() time.Time { return env.now }
	env.db.mu.Lock()
	env.db.files[initResp.FileID].UploadStatus = models.UploadExpired
	env.db.mu.Unlock()
	_, err = env.uploads.FinalizeUpload(ctx, claimsFor(user), initResp.FileID, dto.FinalizeUploadRequest{})
	requireAppError(t, err, appErrors.ErrUploadExpired)
}
