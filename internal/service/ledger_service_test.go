package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

// seedCompany creates company c1 owned by admin a1 with one member u1.
func seedCompany(env *testEnv, total int64) (models.User, models.User) {
	created := env.now.Add(-48 * time.Hour)
	env.db.addCompany(models.Company{ID: "c1", Name: "Acme", OwnerID: strPtr("a1"), TotalStorage: total})
	admin := models.User{ID: "a1", Email: "admin@acme.test", Role: models.RoleAdmin, CompanyID: strPtr("c1"), StorageAllocated: total, CreatedAt: created}
	member := models.User{ID: "u1", Email: "member@acme.test", Role: models.RoleUser, CompanyID: strPtr("c1"), CreatedAt: created.Add(time.Hour)}
	env.db.addUser(admin)
	env.db.addUser(member)
	return admin, member
}

func requireAppError(t *testing.T, err error, sentinel *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, sentinel), "expected %s, got %v", sentinel.Code, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	return appErr
}

func TestSetUserAllocationCarvesAdminPool(t *testing.T) {
	env := newTestEnv(t)
	admin, member := seedCompany(env, 10*gib)

	result, err := env.ledger.SetUserAllocation(context.Background(), claimsFor(admin), member.ID, 3*gib)
	require.NoError(t, err)
	assert.Equal(t, 3*gib, result.Member.StorageAllocated)
	assert.Equal(t, 3*gib, result.Admin.AllocatedToUsers)

	stored := env.db.user(admin.ID)
	assert.Equal(t, 3*gib, stored.AllocatedToUsers)
	assert.Equal(t, 7*gib, env.ledger.AvailableFor(&stored))
	assert.Equal(t, 3*gib, env.db.user(member.ID).StorageAllocated)
	assert.Equal(t, 3*gib, env.db.company("c1").AllocatedToUsers)

	// Shrinking hands the difference back.
	_, err = env.ledger.SetUserAllocation(context.Background(), claimsFor(admin), member.ID, gib)
	require.NoError(t, err)
	assert.Equal(t, gib, env.db.user(admin.ID).AllocatedToUsers)
	assert.Equal(t, gib, env.db.company("c1").AllocatedToUsers)
}

func TestSetUserAllocationRejectsMoreThanAdminHolds(t *testing.T) {
	env := newTestEnv(t)
	admin, member := seedCompany(env, 10*gib)

	_, err := env.ledger.SetUserAllocation(context.Background(), claimsFor(admin), member.ID, 11*gib)
	appErr := requireAppError(t, err, appErrors.ErrInsufficientAdminCapacity)
	assert.Equal(t, 10*gib, appErr.Details["available"])
	assert.Equal(t, 11*gib, appErr.Details["requested"])

	assert.Zero(t, env.db.user(admin.ID).AllocatedToUsers)
	assert.Zero(t, env.db.user(member.ID).StorageAllocated)
}

func TestSetUserAllocationGuards(t *testing.T) {
	env := newTestEnv(t)
	admin, member := seedCompany(env, 10*gib)
	env.db.addCompany(models.Company{ID: "c2", Name: "Other", TotalStorage: gib})
	env.db.addUser(models.User{ID: "x1", Role: models.RoleUser, CompanyID: strPtr("c2")})
	ctx := context.Background()

	_, err := env.ledger.SetUserAllocation(ctx, claimsFor(member), admin.ID, gib)
	requireAppError(t, err, appErrors.ErrForbidden)

	_, err = env.ledger.SetUserAllocation(ctx, claimsFor(admin), "x1", gib)
	requireAppError(t, err, appErrors.ErrForbidden)

	_, err = env.ledger.SetUserAllocation(ctx, claimsFor(admin), "missing", gib)
	requireAppError(t, err, appErrors.ErrNotFound)

	_, err = env.ledger.SetUserAllocation(ctx, claimsFor(admin), member.ID, -1)
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = env.ledger.SetUserAllocation(ctx, nil, member.ID, gib)
	requireAppError(t, err, appErrors.ErrUnauthorized)
}

func TestSetUserAllocationBelowMemberUsage(t *testing.T) {
	env := newTestEnv(t)
	admin, member := seedCompany(env, 10*gib)
	ctx := context.Background()

	_, err := env.ledger.SetUserAllocation(ctx, claimsFor(admin), member.ID, 2*gib)
	require.NoError(t, err)
	env.db.mu.Lock()
	env.db.users[member.ID].StorageUsed = gib + 1
	env.db.mu.Unlock()

	_, err = env.ledger.SetUserAllocation(ctx, claimsFor(admin), member.ID, gib)
	appErr := requireAppError(t, err, appErrors.ErrValidation)
	assert.Equal(t, gib+1, appErr.Details["used"])
	assert.Equal(t, 2*gib, env.db.user(member.ID).StorageAllocated)
}

func TestSetCompanyTotalBelowAllocatedChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	seedCompany(env, 10*gib)
	env.db.mu.Lock()
	env.db.companies["c1"].AllocatedToUsers = 7 * gib
	env.db.users["a1"].AllocatedToUsers = 7 * gib
	env.db.mu.Unlock()
	root := &models.JWTClaims{UserID: "root", Role: models.RoleSuperAdmin}

	_, err := env.ledger.SetCompanyTotal(context.Background(), root, "c1", 5*gib)
	appErr := requireAppError(t, err, appErrors.ErrBelowAllocated)
	assert.Equal(t, 2*gib, appErr.Details["shortfall"])

	company := env.db.company("c1")
	assert.Equal(t, 10*gib, company.TotalStorage)
	assert.Equal(t, 7*gib, company.AllocatedToUsers)
	assert.Equal(t, 10*gib, env.db.user("a1").StorageAllocated)
}

func TestSetCompanyTotalCascadesForOwner(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := seedCompany(env, 10*gib)
	env.db.addUser(models.User{ID: "a2", Role: models.RoleAdmin, CompanyID: strPtr("c1"), StorageAllocated: 2 * gib})

	company, err := env.ledger.SetCompanyTotal(context.Background(), claimsFor(admin), "c1", 20*gib)
	require.NoError(t, err)
	assert.Equal(t, 20*gib, company.TotalStorage)
	assert.Equal(t, 20*gib, env.db.user("a1").StorageAllocated)
	assert.Equal(t, 20*gib, env.db.user("a2").StorageAllocated)
}

func TestSetCompanyTotalWithoutCascadeForNonOwnerAdmin(t *testing.T) {
	env := newTestEnv(t)
	seedCompany(env, 10*gib)
	second := models.User{ID: "a2", Role: models.RoleAdmin, CompanyID: strPtr("c1"), StorageAllocated: 2 * gib}
	env.db.addUser(second)

	_, err := env.ledger.SetCompanyTotal(context.Background(), claimsFor(second), "c1", 12*gib)
	require.NoError(t, err)
	assert.Equal(t, 12*gib, env.db.company("c1").TotalStorage)
	assert.Equal(t, 10*gib, env.db.user("a1").StorageAllocated)
	assert.Equal(t, 2*gib, env.db.user("a2").StorageAllocated)
}

func TestSetCompanyTotalValidation(t *testing.T) {
	env := newTestEnv(t)
	admin, member := seedCompany(env, 10*gib)
	ctx := context.Background()

	_, err := env.ledger.SetCompanyTotal(ctx, claimsFor(admin), "c1", models.MinCompanyStorage-1)
	requireAppError(t, err, appErrors.ErrValidation)

	_, err = env.ledger.SetCompanyTotal(ctx, claimsFor(member), "c1", 20*gib)
	requireAppError(t, err, appErrors.ErrForbidden)

	_, err = env.ledger.SetCompanyTotal(ctx, claimsFor(admin), "c2", 20*gib)
	requireAppError(t, err, appErrors.ErrForbidden)

	root := &models.JWTClaims{UserID: "root", Role: models.RoleSuperAdmin}
	_, err = env.ledger.SetCompanyTotal(ctx, root, "missing", 20*gib)
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestSnapshotThresholds(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser(models.User{ID: "u1", Role: models.RoleUser, StorageAllocated: 1000, StorageUsed: 800})
	env.db.addUser(models.User{ID: "u2", Role: models.RoleUser, StorageAllocated: 1000, StorageUsed: 950})
	env.db.addUser(models.User{ID: "u3", Role: models.RoleUser, StorageAllocated: 1000, StorageUsed: 799})
	ctx := context.Background()

	snap, cached, err := env.ledger.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 80.0, snap.Storage.Percentage)
	assert.True(t, snap.Storage.IsNearLimit)
	assert.False(t, snap.Storage.IsCritical)
	assert.EqualValues(t, 200, snap.Storage.Available)

	snap, _, err = env.ledger.Snapshot(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, snap.Storage.IsCritical)

	snap, _, err = env.ledger.Snapshot(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 79.9, snap.Storage.Percentage)
	assert.False(t, snap.Storage.IsNearLimit)

	assert.Len(t, snap.ByType, len(models.Categories))
	assert.Equal(t, 100, snap.Files.Max)
	assert.Equal(t, 100, snap.Files.Remaining)
}

func TestSnapshotCountsAdminSubAllocations(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser(models.User{ID: "a1", Role: models.RoleAdmin, StorageAllocated: 10 * gib, StorageUsed: gib, AllocatedToUsers: 7 * gib})

	snap, _, err := env.ledger.Snapshot(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, gib, snap.Storage.Used)
	assert.Equal(t, 2*gib, snap.Storage.Available)
	assert.Equal(t, 80.0, snap.Storage.Percentage)
	assert.True(t, snap.Storage.IsNearLimit)
}

func TestSnapshotMissingUser(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.ledger.Snapshot(context.Background(), "ghost")
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestFixAllocationsRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	_, member := seedCompany(env, 10*gib)
	env.db.mu.Lock()
	env.db.users[member.ID].StorageAllocated = 2 * gib
	env.db.users[member.ID].StorageUsed = 999
	env.db.users["a1"].AllocatedToUsers = 5 * gib
	env.db.companies["c1"].UsedStorage = 12345
	env.db.mu.Unlock()
	env.db.addFile(models.File{ID: "f1", UploadedBy: member.ID, CompanyID: strPtr("c1"), Size: 300, UploadStatus: models.UploadCompleted})
	env.db.addFile(models.File{ID: "f2", UploadedBy: member.ID, CompanyID: strPtr("c1"), Size: 700, UploadStatus: models.UploadCompleted, IsDeleted: true})

	report, err := env.ledger.FixAllocations(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, report.Drifted)

	assert.EqualValues(t, 300, env.db.user(member.ID).StorageUsed)
	assert.Equal(t, 2*gib, env.db.user("a1").AllocatedToUsers)
	company := env.db.company("c1")
	assert.EqualValues(t, 300, company.UsedStorage)
	assert.Equal(t, 2*gib, company.AllocatedToUsers)

	report, err = env.ledger.FixAllocations(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, report.Drifted)
}

func TestCompanyOverviewFlagsOverAllocation(t *testing.T) {
	env := newTestEnv(t)
	seedCompany(env, models.MinCompanyStorage)
	env.db.mu.Lock()
	env.db.companies["c1"].UsedStorage = models.MinCompanyStorage + mib
	env.db.mu.Unlock()

	overview, err := env.ledger.CompanyOverview(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, overview.IsOverAllocated)
	assert.Zero(t, overview.Available)
	assert.Len(t, overview.Members, 2)
}

func TestDeleteCompanyRemovesObjects(t *testing.T) {
	env := newTestEnv(t)
	_, member := seedCompany(env, 10*gib)
	env.db.addFile(models.File{ID: "f1", UploadedBy: member.ID, CompanyID: strPtr("c1"), StorageKey: "uploads/u1/a.pdf", UploadStatus: models.UploadCompleted})
	env.db.addFile(models.File{ID: "f2", UploadedBy: member.ID, CompanyID: strPtr("c1"), StorageKey: "uploads/u1/b.bin", UploadStatus: models.UploadPending, UploadID: strPtr("mpu-9")})
	env.store.put("uploads/u1/a.pdf", 10)
	env.store.failDelete["uploads/u1/b.bin"] = errors.New("store down")

	removed, err := env.ledger.DeleteCompany(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, env.store.has("uploads/u1/a.pdf"))
	assert.Contains(t, env.store.aborted, "mpu-9")

	_, err = env.ledger.DeleteCompany(context.Background(), "c1")
	requireAppError(t, err, appErrors.ErrNotFound)
}

func TestApplyDeletedFileReleasesQuotaOnce(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser(models.User{ID: "u1", Role: models.RoleUser, StorageAllocated: gib, StorageUsed: 500})
	env.db.addFile(models.File{ID: "f1", UploadedBy: "u1", Size: 500, MimeType: "text/plain", UploadStatus: models.UploadCompleted})
	deleted := models.DeletedFile{FileID: "f1", UserID: "u1", Size: 500, MimeType: "text/plain"}

	require.NoError(t, env.ledger.ApplyDeletedFile(context.Background(), deleted))
	assert.Zero(t, env.db.user("u1").StorageUsed)
	file, _ := env.db.file("f1")
	assert.True(t, file.IsDeleted)
	require.NotNil(t, file.DeletedAt)

	err := env.ledger.ApplyDeletedFile(context.Background(), deleted)
	requireAppError(t, err, appErrors.ErrNotFound)
	assert.Zero(t, env.db.user("u1").StorageUsed)
}

func TestRecordDownloadCountsAgainstActor(t *testing.T) {
	env := newTestEnv(t)
	env.db.addUser(models.User{ID: "u1", Role: models.RoleUser, StorageAllocated: gib})

	env.ledger.RecordDownload(context.Background(), "u1", 2048)
	env.ledger.RecordDownload(context.Background(), "u1", 1024)

	history, err := env.ledger.UsageHistory(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.EqualValues(t, 3072, history[0].DownloadSize)
	assert.Equal(t, 2, history[0].DownloadCount)
	assert.Equal(t, models.Day(env.now), history[0].Day)
}

// memCacheRepo is an in-process stand-in for the Redis cache repository.
type memCacheRepo struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{values: map[string][]byte{}}
}

func (r *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = raw
	return nil
}

func (r *memCacheRepo) Incr(ctx context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	if raw, ok := r.values[key]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
	}
	n++
	r.values[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (r *memCacheRepo) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (r *memCacheRepo) ReleaseLock(ctx context.Context, key, token string) error { return nil }

func TestSnapshotIgnoresWriteFromBeforeMutation(t *testing.T) {
	env := newTestEnv(t)
	user := soloUser(env, gib)
	repo := newMemCacheRepo()
	env.ledger.cache = NewCacheService(repo, nil, time.Minute, nil, true)
	ctx := context.Background()

	stale, cached, err := env.ledger.Snapshot(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	_, cached, err = env.ledger.Snapshot(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, cached)

	env.db.addFile(models.File{ID: "f1", UploadedBy: user.ID, StorageKey: "uploads/u1/a.txt", Size: 1000, MimeType: "text/plain", UploadStatus: models.UploadPending, UploadInitiatedAt: env.now})
	require.NoError(t, env.ledger.ApplyCompletedUpload(ctx, models.CompletedUpload{FileID: "f1", UserID: user.ID, Size: 1000, ETag: "etag", MimeType: "text/plain", At: env.now}))

	// a read computed before the upload lands its write after the bump
	require.NoError(t, repo.Set(ctx, quotaCacheKey(user.ID, 0), stale, time.Minute))

	fresh, cached, err := env.ledger.Snapshot(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.EqualValues(t, 1000, fresh.Storage.Used)
	assert.Equal(t, 1, fresh.Files.Count)
}
