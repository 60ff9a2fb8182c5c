// Package uploader drives the client side of the direct-to-store upload
// protocol: bytes go straight to presigned URLs, never through the API.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// RetryPolicy bounds per-part retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a Task carries a zero policy.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempt := 0
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return p.Backoff(attempt), false
	})
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), next)
}

// Part is one chunk of the source and the presigned URL it goes to.
type Part struct {
	Number int
	URL    string
	Offset int64
	Size   int64
}

// Progress is emitted after each part lands.
type Progress struct {
	PartNumber int
	BytesDone  int64
	BytesTotal int64
}

// PartUploadFailedError reports a part that exhausted its attempts or hit a
// non-retryable response.
type PartUploadFailedError struct {
	PartNumber int
	Attempts   int
	Err        error
}

func (e *PartUploadFailedError) Error() string {
	return fmt.Sprintf("part %d failed after %d attempts: %v", e.PartNumber, e.Attempts, e.Err)
}

func (e *PartUploadFailedError) Unwrap() error { return e.Err }

// Is lets callers match the API error code.
func (e *PartUploadFailedError) Is(target error) bool {
	return appErrors.ErrPartUploadFailed.Is(target)
}

// AppError converts the failure to the typed API error.
func (e *PartUploadFailedError) AppError() *appErrors.Error {
	return appErrors.PartUploadFailed(e.PartNumber, e.Attempts, e.Err)
}

// ErrURLExpired marks a 403 from the store; the upload has to be re-initialised.
var ErrURLExpired = errors.New("presigned url rejected or expired")

// Task uploads parts of Source concurrently.
type Task struct {
	Source      io.ReaderAt
	Parts       []Part
	Concurrency int
	Retry       RetryPolicy
	Client      *http.Client
	OnProgress  func(Progress)
	// OnAbort runs once when the task fails; use it to release the store session.
	OnAbort func(ctx context.Context, cause error)
}

// PlanParts splits size bytes into chunkSize parts matched with urls in order.
func PlanParts(size, chunkSize int64, urls []string) ([]Part, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	expected := int((size + chunkSize - 1) / chunkSize)
	if expected == 0 {
		expected = 1
	}
	if len(urls) != expected {
		return nil, fmt.Errorf("expected %d part urls, got %d", expected, len(urls))
	}
	parts := make([]Part, 0, expected)
	for i, u := range urls {
		offset := int64(i) * chunkSize
		length := chunkSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, Part{Number: i + 1, URL: u, Offset: offset, Size: length})
	}
	return parts, nil
}

// Run uploads every part and returns them ordered by part number for finalize.
func (t *Task) Run(ctx context.Context) ([]storage.CompletedPart, error) {
	if t.Source == nil || len(t.Parts) == 0 {
		return nil, fmt.Errorf("nothing to upload")
	}
	policy := t.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	limit := t.Concurrency
	if limit <= 0 {
		limit = 4
	}

	var total int64
	for _, part := range t.Parts {
		total += part.Size
	}
	var done atomic.Int64
	completed := make([]storage.CompletedPart, len(t.Parts))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i, part := range t.Parts {
		i, part := i, part
		group.Go(func() error {
			etag, err := t.uploadPart(groupCtx, client, policy, part)
			if err != nil {
				return err
			}
			completed[i] = storage.CompletedPart{PartNumber: part.Number, ETag: etag}
			if t.OnProgress != nil {
				t.OnProgress(Progress{PartNumber: part.Number, BytesDone: done.Add(part.Size), BytesTotal: total})
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		if t.OnAbort != nil {
			t.OnAbort(context.WithoutCancel(ctx), err)
		}
		return nil, err
	}

	sort.Slice(completed, func(a, b int) bool { return completed[a].PartNumber < completed[b].PartNumber })
	return completed, nil
}

func (t *Task) uploadPart(ctx context.Context, client *http.Client, policy RetryPolicy, part Part) (string, error) {
	attempts := 0
	var etag string
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		body := io.NewSectionReader(t.Source, part.Offset, part.Size)
		tag, err := Put(ctx, client, part.URL, "", body, part.Size)
		if err != nil {
			if !retryable(err) {
				return err
			}
			return retry.RetryableError(err)
		}
		etag = tag
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &PartUploadFailedError{PartNumber: part.Number, Attempts: attempts, Err: err}
	}
	return etag, nil
}

// Put uploads body to a presigned URL and returns the store's ETag.
func Put(ctx context.Context, client *http.Client, url, contentType string, body io.Reader, size int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return "", ErrURLExpired
	case resp.StatusCode >= 300:
		return "", &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return storage.NormalizeETag(resp.Header.Get("ETag")), nil
}

// StatusError is an unexpected HTTP status from the store.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "store responded " + e.Status }

func retryable(err error) bool {
	if errors.Is(err, ErrURLExpired) || errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= http.StatusInternalServerError || status.Code == http.StatusTooManyRequests
	}
	return true
}
