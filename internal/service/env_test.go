package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// fakeObjectStore keeps object sizes in memory. Single uploads are simulated
// with put, multipart part uploads with stage.
type fakeObjectStore struct {
	mu         sync.Mutex
	objects    map[string]int64
	sessions   map[string]string
	staged     map[string]int64
	deleted    []string
	aborted    []string
	failDelete map[string]error
	// headErrs queues results for successive Head calls on a key; nil passes through.
	headErrs map[string][]error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		objects:    map[string]int64{},
		sessions:   map[string]string{},
		staged:     map[string]int64{},
		failDelete: map[string]error{},
		headErrs:   map[string][]error{},
	}
}

// stage records uploaded parts totalling size for a multipart session.
func (s *fakeObjectStore) stage(uploadID string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[uploadID] = size
}

func (s *fakeObjectStore) put(key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = size
}

func (s *fakeObjectStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeObjectStore) Provider() string { return "fake" }

func (s *fakeObjectStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "https://store.test/put/" + key, nil
}

func (s *fakeObjectStore) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration, attachment bool) (string, error) {
	return "https://store.test/get/" + key, nil
}

func (s *fakeObjectStore) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("mpu-%d", len(s.sessions)+1)
	s.sessions[id] = key
	return id, nil
}

func (s *fakeObjectStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://store.test/part/%s/%s/%d", key, uploadID, partNumber), nil
}

func (s *fakeObjectStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[uploadID] != key {
		return "", storage.ErrUnknownUpload
	}
	delete(s.sessions, uploadID)
	if size, ok := s.staged[uploadID]; ok {
		s.objects[key] = size
		delete(s.staged, uploadID)
	}
	return key, nil
}

func (s *fakeObjectStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
	delete(s.staged, uploadID)
	s.aborted = append(s.aborted, uploadID)
	return nil
}

func (s *fakeObjectStore) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if queued := s.headErrs[key]; len(queued) > 0 {
		s.headErrs[key] = queued[1:]
		if queued[0] != nil {
			return nil, queued[0]
		}
	}
	size, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{Key: key, Size: size, ETag: "etag-" + key}, nil
}

func (s *fakeObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failDelete[key]; err != nil {
		return err
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

type testEnv struct {
	db      *memDB
	store   *fakeObjectStore
	ledger  *LedgerService
	uploads *UploadService
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newMemDB()
	store := newFakeObjectStore()
	policy := newTestPolicy()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ledger := NewLedgerService(memLedger{db}, memUsers{db}, memCompanies{db}, memUsage{db}, policy, store, nil, nil, LedgerConfig{})
	ledger.now = func() time.Time { return now }
	uploads := NewUploadService(memFiles{db}, memUsers{db}, ledger, policy, store, nil, nil, nil, UploadConfig{KeyFolder: "uploads"})
	uploads.now = func() time.Time { return now }

	return &testEnv{db: db, store: store, ledger: ledger, uploads: uploads, now: now}
}

func claimsFor(u models.User) *models.JWTClaims {
	return &models.JWTClaims{UserID: u.ID, Role: u.Role, CompanyID: u.Company(), Email: u.Email}
}

func strPtr(s string) *string { return &s }
