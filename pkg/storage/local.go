package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderLocal tags files stored by LocalStore.
const ProviderLocal = "local"

// ErrInvalidKey is returned for keys that would resolve outside the base directory.
var ErrInvalidKey = errors.New("invalid object key")

// ErrUnknownUpload is returned for multipart operations on a missing session.
var ErrUnknownUpload = errors.New("unknown multipart upload")

// LocalStore persists objects on disk and issues HMAC-signed URLs served by the
// API itself. It exists for development and tests where no S3 endpoint is around.
type LocalStore struct {
	baseDir string
	baseURL string
	signer  *SignedURLSigner
}

type objectMeta struct {
	ContentType string `json:"contentType"`
	ETag        string `json:"etag"`
}

type multipartSession struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

// NewLocalStore ensures the base directory exists and returns a handle.
func NewLocalStore(baseDir, publicBaseURL string, signer *SignedURLSigner) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = "./objects"
	}
	if signer == nil {
		return nil, fmt.Errorf("local store requires a signer")
	}
	for _, dir := range []string{"objects", "meta", "multipart"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	return &LocalStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		signer:  signer,
	}, nil
}

// Provider implements ObjectStore.
func (s *LocalStore) Provider() string { return ProviderLocal }

// Signer exposes the grant verifier used by the object HTTP handler.
func (s *LocalStore) Signer() *SignedURLSigner { return s.signer }

// PresignUpload implements ObjectStore.
func (s *LocalStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.signedURL(Grant{Op: OpPut, Key: key, ContentType: contentType}, ttl)
}

// PresignDownload implements ObjectStore.
func (s *LocalStore) PresignDownload(ctx context.Context, key, filename string, ttl time.Duration, attachment bool) (string, error) {
	return s.signedURL(Grant{Op: OpGet, Key: key, Filename: filename, Attachment: attachment}, ttl)
}

// PresignPart implements ObjectStore.
func (s *LocalStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error) {
	if _, err := s.loadSession(uploadID); err != nil {
		return "", err
	}
	return s.signedURL(Grant{Op: OpPutPart, Key: key, UploadID: uploadID, PartNumber: partNumber}, ttl)
}

// InitiateMultipart implements ObjectStore.
func (s *LocalStore) InitiateMultipart(ctx context.Context, key, contentType string) (string, error) {
	if _, err := s.objectPath(key); err != nil {
		return "", err
	}
	uploadID := uuid.NewString()
	dir := s.sessionDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create multipart session: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "session.json"), multipartSession{Key: key, ContentType: contentType}); err != nil {
		return "", err
	}
	return uploadID, nil
}

// CompleteMultipart stitches the listed parts, in order, into the final object.
func (s *LocalStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	session, err := s.loadSession(uploadID)
	if err != nil {
		return "", err
	}
	if session.Key != key {
		return "", fmt.Errorf("multipart session %s belongs to a different key", uploadID)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("multipart completion requires parts")
	}
	target, err := s.objectPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("prepare object directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".assemble-*")
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	digests := md5.New()
	prev := 0
	for _, part := range parts {
		if part.PartNumber <= prev {
			tmp.Close() //nolint:errcheck
			return "", fmt.Errorf("parts must be in ascending order")
		}
		prev = part.PartNumber
		sum, err := appendPart(tmp, s.partPath(uploadID, part.PartNumber))
		if err != nil {
			tmp.Close() //nolint:errcheck
			return "", fmt.Errorf("part %d: %w", part.PartNumber, err)
		}
		if hex.EncodeToString(sum) != NormalizeETag(part.ETag) {
			tmp.Close() //nolint:errcheck
			return "", fmt.Errorf("part %d: etag mismatch", part.PartNumber)
		}
		_, _ = digests.Write(sum)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("publish object: %w", err)
	}
	etag := fmt.Sprintf("%s-%d", hex.EncodeToString(digests.Sum(nil)), len(parts))
	if err := s.writeMeta(key, objectMeta{ContentType: session.ContentType, ETag: etag}); err != nil {
		return "", err
	}
	_ = os.RemoveAll(s.sessionDir(uploadID))
	return key, nil
}

// AbortMultipart discards a session and its parts. Unknown sessions are a no-op.
func (s *LocalStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if uploadID == "" || strings.ContainsAny(uploadID, `/\.`) {
		return nil
	}
	if err := os.RemoveAll(s.sessionDir(uploadID)); err != nil {
		return fmt.Errorf("abort multipart: %w", err)
	}
	return nil
}

// Head implements ObjectStore.
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	path, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	meta, _ := s.readMeta(key)
	return &ObjectInfo{
		Key:          key,
		Size:         info.Size(),
		ETag:         meta.ETag,
		ContentType:  meta.ContentType,
		LastModified: info.ModTime(),
	}, nil
}

// Delete removes an object if present.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object metadata: %w", err)
	}
	return nil
}

// Put writes a full object from r and returns its etag.
func (s *LocalStore) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	target, err := s.objectPath(key)
	if err != nil {
		return "", err
	}
	sum, err := writeFileAtomic(target, r)
	if err != nil {
		return "", err
	}
	etag := hex.EncodeToString(sum)
	if err := s.writeMeta(key, objectMeta{ContentType: contentType, ETag: etag}); err != nil {
		return "", err
	}
	return etag, nil
}

// PutPart stores one multipart chunk and returns its etag.
func (s *LocalStore) PutPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader) (string, error) {
	session, err := s.loadSession(uploadID)
	if err != nil {
		return "", err
	}
	if session.Key != key {
		return "", fmt.Errorf("multipart session %s belongs to a different key", uploadID)
	}
	if partNumber < 1 {
		return "", fmt.Errorf("invalid part number %d", partNumber)
	}
	sum, err := writeFileAtomic(s.partPath(uploadID, partNumber), r)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Open returns a read handle and metadata for an object.
func (s *LocalStore) Open(ctx context.Context, key string) (*os.File, *ObjectInfo, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	path, _ := s.objectPath(key)
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	return file, info, nil
}

func (s *LocalStore) signedURL(grant Grant, ttl time.Duration) (string, error) {
	if _, err := s.objectPath(grant.Key); err != nil {
		return "", err
	}
	token, _, err := s.signer.Sign(grant, ttl)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/storage/objects?token=" + url.QueryEscape(token), nil
}

func (s *LocalStore) objectPath(key string) (string, error) {
	return s.within("objects", key)
}

func (s *LocalStore) metaPath(key string) string {
	path, _ := s.within("meta", key+".json")
	return path
}

func (s *LocalStore) within(area, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	root := filepath.Join(s.baseDir, area)
	path := filepath.Join(root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}

func (s *LocalStore) sessionDir(uploadID string) string {
	return filepath.Join(s.baseDir, "multipart", filepath.Base(uploadID))
}

func (s *LocalStore) partPath(uploadID string, partNumber int) string {
	return filepath.Join(s.sessionDir(uploadID), strconv.Itoa(partNumber)+".part")
}

func (s *LocalStore) loadSession(uploadID string) (*multipartSession, error) {
	if uploadID == "" {
		return nil, ErrUnknownUpload
	}
	raw, err := os.ReadFile(filepath.Join(s.sessionDir(uploadID), "session.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnknownUpload
		}
		return nil, fmt.Errorf("read multipart session: %w", err)
	}
	var session multipartSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode multipart session: %w", err)
	}
	return &session, nil
}

func (s *LocalStore) readMeta(key string) (objectMeta, error) {
	var meta objectMeta
	raw, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(raw, &meta)
	return meta, err
}

func (s *LocalStore) writeMeta(key string, meta objectMeta) error {
	path := s.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare metadata directory: %w", err)
	}
	return writeJSON(path, meta)
}

func writeJSON(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeFileAtomic streams r into path via a temp file and returns the MD5 digest.
func writeFileAtomic(path string, r io.Reader) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare object directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create object: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), r); err != nil {
		tmp.Close() //nolint:errcheck
		return nil, fmt.Errorf("write object stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("publish object: %w", err)
	}
	return hash.Sum(nil), nil
}

func appendPart(dst io.Writer, partPath string) ([]byte, error) {
	src, err := os.Open(partPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("part not uploaded")
		}
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(dst, hash), src); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}
