package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/internal/repository"
)

// memDB is an in-memory stand-in for the Postgres tables. Every mutation runs
// under one mutex, which gives the same all-or-nothing behaviour as the
// conditional UPDATEs of LedgerRepository.
type memDB struct {
	mu        sync.Mutex
	users     map[string]*models.User
	companies map[string]*models.Company
	files     map[string]*models.File
	order     []string
	daily     map[string]*models.DailyUsage
	types     map[string]*models.TypeUsage
}

func newMemDB() *memDB {
	return &memDB{
		users:     map[string]*models.User{},
		companies: map[string]*models.Company{},
		files:     map[string]*models.File{},
		daily:     map[string]*models.DailyUsage{},
		types:     map[string]*models.TypeUsage{},
	}
}

func (db *memDB) addUser(u models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.Plan == "" {
		u.Plan = models.PlanFree
	}
	u.Active = true
	db.users[u.ID] = &u
}

func (db *memDB) addCompany(c models.Company) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c.IsActive = true
	db.companies[c.ID] = &c
}

func (db *memDB) addFile(f models.File) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.files[f.ID] = &f
	db.order = append(db.order, f.ID)
}

func (db *memDB) user(id string) models.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.users[id]
}

func (db *memDB) company(id string) models.Company {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.companies[id]
}

func (db *memDB) file(id string) (models.File, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	f, ok := db.files[id]
	if !ok {
		return models.File{}, false
	}
	return *f, true
}

func dailyKey(userID string, day time.Time) string {
	return userID + "|" + models.Day(day).Format("2006-01-02")
}

func (db *memDB) pruneDaily(userID string, day time.Time) {
	cutoff := models.Day(day).AddDate(0, 0, -(models.DailyUsageRetention - 1))
	for key, bucket := range db.daily {
		if bucket.UserID == userID && bucket.Day.Before(cutoff) {
			delete(db.daily, key)
		}
	}
}

type memLedger struct{ db *memDB }

func (m memLedger) ApplyCompletedUpload(ctx context.Context, upload models.CompletedUpload) error {
	db := m.db
	db.mu.Lock()
	defer db.mu.Unlock()

	file, ok := db.files[upload.FileID]
	if !ok || (file.UploadStatus != models.UploadPending && file.UploadStatus != models.UploadUploading) {
		return repository.ErrNotPending
	}
	user, ok := db.users[upload.UserID]
	if !ok {
		return sql.ErrNoRows
	}
	if upload.Size > user.Available() {
		return &repository.CapacityError{Available: user.Available()}
	}

	at := upload.At
	etag := upload.ETag
	file.UploadStatus = models.UploadCompleted
	file.UploadCompletedAt = &at
	file.ETag = &etag
	file.Size = upload.Size
	user.StorageUsed += upload.Size
	if company, ok := db.companies[upload.CompanyID]; ok {
		company.UsedStorage += upload.Size
	}

	category := models.CategoryFor(upload.MimeType)
	typeKey := upload.UserID + "|" + string(category)
	row, ok := db.types[typeKey]
	if !ok {
		row = &models.TypeUsage{UserID: upload.UserID, Category: category}
		db.types[typeKey] = row
	}
	row.FileCount++
	row.TotalSize += upload.Size

	key := dailyKey(upload.UserID, upload.At)
	bucket, ok := db.daily[key]
	if !ok {
		bucket = &models.DailyUsage{UserID: upload.UserID, Day: models.Day(upload.At)}
		db.daily[key] = bucket
	}
	bucket.UploadSize += upload.Size
	bucket.UploadCount++
	db.pruneDaily(upload.UserID, upload.At)
	return nil
}

func (m memLedger) ApplyDeletedFile(ctx context.Context, deleted models.DeletedFile) error {
	db := m.db
	db.mu.Lock()
	defer db.mu.Unlock()

	file, ok := db.files[deleted.FileID]
	if !ok || !file.Counts() {
		return repository.ErrNotDeletable
	}
	at := deleted.At
	file.IsDeleted = true
	file.DeletedAt = &at
	if user, ok := db.users[deleted.UserID]; ok {
		user.StorageUsed = clampZero(user.StorageUsed - deleted.Size)
	}
	if company, ok := db.companies[deleted.CompanyID]; ok {
		company.UsedStorage = clampZero(company.UsedStorage - deleted.Size)
	}
	if row, ok := db.types[deleted.UserID+"|"+string(models.CategoryFor(deleted.MimeType))]; ok {
		if row.FileCount > 0 {
			row.FileCount--
		}
		row.TotalSize = clampZero(row.TotalSize - deleted.Size)
	}
	return nil
}

func (m memLedger) SetCompanyTotal(ctx context.Context, companyID string, total int64, cascade bool) (*models.Company, error) {
	db := m.db
	db.mu.Lock()
	defer db.mu.Unlock()

	company, ok := db.companies[companyID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	var admins []models.User
	for _, u := range db.users {
		if u.Company() == companyID && u.Role == models.RoleAdmin {
			admins = append(admins, *u)
		}
	}
	if committed := models.CommittedCapacity(*company, admins); total < committed {
		return nil, &repository.ShortfallError{Shortfall: committed - total}
	}
	company.TotalStorage = total
	if cascade {
		for _, u := range db.users {
			if u.Company() == companyID && u.Role == models.RoleAdmin {
				u.StorageAllocated = total
			}
		}
	}
	out := *company
	return &out, nil
}

func (m memLedger) SetUserAllocation(ctx context.Context, adminID, userID string, bytes int64) (*repository.Allocation, error) {
	db := m.db
	db.mu.Lock()
	defer db.mu.Unlock()

	admin, okAdmin := db.users[adminID]
	member, okMember := db.users[userID]
	if !okAdmin || !okMember {
		return nil, sql.ErrNoRows
	}
	if !admin.IsAdmin() || member.Role != models.RoleUser || admin.Company() == "" || admin.Company() != member.Company() {
		return nil, repository.ErrNotCompanyMember
	}
	if bytes < member.StorageUsed {
		return nil, &repository.BelowUsageError{Used: member.StorageUsed}
	}
	delta := bytes - member.StorageAllocated
	if available := admin.Available(); delta > available {
		return nil, &repository.CapacityError{Available: available}
	}
	admin.AllocatedToUsers = clampZero(admin.AllocatedToUsers + delta)
	if company, ok := db.companies[admin.Company()]; ok {
		company.AllocatedToUsers = clampZero(company.AllocatedToUsers + delta)
	}
	member.StorageAllocated = bytes
	return &repository.Allocation{Admin: *admin, Member: *member}, nil
}

func (m memLedger) FixAllocations(ctx context.Context, companyID string) (*models.ReconcileReport, error) {
	db := m.db
	db.mu.Lock()
	defer db.mu.Unlock()

	company, ok := db.companies[companyID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	var members []models.User
	for _, u := range db.users {
		if u.Company() == companyID {
			members = append(members, *u)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	used := map[string]int64{}
	for _, f := range db.files {
		if f.Counts() {
			used[f.UploadedBy] += f.Size
		}
	}
	report := models.Reconcile(company, members, used)
	for i := range members {
		*db.users[members[i].ID] = members[i]
	}
	return &report, nil
}

func (m memLedger) DeleteCompany(ctx context.Context, companyID string) ([]models.File, error) {
	db := m.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.companies[companyID]; !ok {
		return nil, sql.ErrNoRows
	}
	var files []models.File
	for id, f := range db.files {
		if f.CompanyID != nil && *f.CompanyID == companyID {
			files = append(files, *f)
			delete(db.files, id)
		}
	}
	for id, u := range db.users {
		if u.Company() == companyID {
			delete(db.users, id)
		}
	}
	delete(db.companies, companyID)
	return files, nil
}

type memUsers struct{ db *memDB }

func (m memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	u, ok := m.db.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *u
	return &out, nil
}

func (m memUsers) Totals(ctx context.Context, userID string) (models.UserTotals, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var totals models.UserTotals
	for _, f := range m.db.files {
		if f.UploadedBy == userID && f.Counts() {
			totals.Used += f.Size
			totals.FileCount++
		}
	}
	return totals, nil
}

func (m memUsers) MemberUsage(ctx context.Context, companyID string) ([]models.MemberUsage, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var rows []models.MemberUsage
	for _, u := range m.db.users {
		if u.Company() != companyID {
			continue
		}
		row := models.MemberUsage{
			ID:               u.ID,
			Email:            u.Email,
			FullName:         u.FullName,
			Role:             u.Role,
			StorageAllocated: u.StorageAllocated,
			StorageUsed:      u.StorageUsed,
			AllocatedToUsers: u.AllocatedToUsers,
		}
		for _, f := range m.db.files {
			if f.UploadedBy == u.ID && f.Counts() {
				row.FileCount++
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Email < rows[j].Email })
	return rows, nil
}

type memCompanies struct{ db *memDB }

func (m memCompanies) FindByID(ctx context.Context, id string) (*models.Company, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.companies[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *c
	return &out, nil
}

func (m memCompanies) ListActiveIDs(ctx context.Context) ([]string, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var ids []string
	for id, c := range m.db.companies {
		if c.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memUsage struct{ db *memDB }

func (m memUsage) Daily(ctx context.Context, userID string, day time.Time) (models.DailyUsage, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if bucket, ok := m.db.daily[dailyKey(userID, day)]; ok {
		return *bucket, nil
	}
	return models.DailyUsage{UserID: userID, Day: models.Day(day)}, nil
}

func (m memUsage) ByType(ctx context.Context, userID string) ([]models.TypeUsage, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var rows []models.TypeUsage
	for _, row := range m.db.types {
		if row.UserID == userID {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func (m memUsage) History(ctx context.Context, userID string) ([]models.DailyUsage, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var rows []models.DailyUsage
	for _, bucket := range m.db.daily {
		if bucket.UserID == userID {
			rows = append(rows, *bucket)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day.After(rows[j].Day) })
	return rows, nil
}

func (m memUsage) RecordDownload(ctx context.Context, userID string, at time.Time, size int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	key := dailyKey(userID, at)
	bucket, ok := m.db.daily[key]
	if !ok {
		bucket = &models.DailyUsage{UserID: userID, Day: models.Day(at)}
		m.db.daily[key] = bucket
	}
	bucket.DownloadSize += size
	bucket.DownloadCount++
	m.db.pruneDaily(userID, at)
	return nil
}

type memFiles struct{ db *memDB }

func (m memFiles) Create(ctx context.Context, file *models.File) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	m.db.addFile(*file)
	return nil
}

func (m memFiles) FindByID(ctx context.Context, id string) (*models.File, error) {
	f, ok := m.db.file(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &f, nil
}

func (m memFiles) ListByOwner(ctx context.Context, filter models.FileFilter) ([]models.File, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []models.File
	for _, id := range m.db.order {
		f, ok := m.db.files[id]
		if !ok || f.UploadedBy != filter.OwnerID || !f.Counts() {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(f.OriginalName), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *f)
	}
	return out, len(out), nil
}

func (m memFiles) ExpirePending(ctx context.Context, id string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	f, ok := m.db.files[id]
	if !ok || f.UploadStatus == models.UploadCompleted {
		return false, nil
	}
	f.UploadStatus = models.UploadExpired
	return true, nil
}

func (m memFiles) DeletePending(ctx context.Context, id string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	f, ok := m.db.files[id]
	if !ok || f.UploadStatus == models.UploadCompleted {
		return false, nil
	}
	delete(m.db.files, id)
	return true, nil
}

func (m memFiles) HardDelete(ctx context.Context, id string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.files[id]; !ok {
		return false, nil
	}
	delete(m.db.files, id)
	return true, nil
}

func (m memFiles) ListStalePending(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.File, error) {
	return m.page(afterID, limit, func(f *models.File) bool {
		return f.UploadStatus != models.UploadCompleted && f.UploadInitiatedAt.Before(cutoff)
	}), nil
}

func (m memFiles) ListPurgeable(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]models.File, error) {
	return m.page(afterID, limit, func(f *models.File) bool {
		return f.IsDeleted && f.DeletedAt != nil && f.DeletedAt.Before(cutoff)
	}), nil
}

func (m memFiles) page(afterID string, limit int, match func(*models.File) bool) []models.File {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	ids := make([]string, 0, len(m.db.files))
	for id := range m.db.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []models.File
	for _, id := range ids {
		if id <= afterID {
			continue
		}
		f := m.db.files[id]
		if !match(f) {
			continue
		}
		out = append(out, *f)
		if len(out) == limit {
			break
		}
	}
	return out
}
