package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrServiceUnavailable = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable")

	ErrQuotaExceeded             = New("QUOTA_EXCEEDED", http.StatusRequestEntityTooLarge, "storage quota exceeded")
	ErrObjectMissing             = New("OBJECT_MISSING", http.StatusConflict, "uploaded object not found in storage")
	ErrSizeMismatch              = New("SIZE_MISMATCH", http.StatusUnprocessableEntity, "uploaded size does not match declared size")
	ErrAlreadyFinalized          = New("ALREADY_FINALIZED", http.StatusConflict, "upload already finalized")
	ErrUploadExpired             = New("UPLOAD_EXPIRED", http.StatusGone, "upload session expired")
	ErrBelowAllocated            = New("BELOW_ALLOCATED", http.StatusConflict, "storage total is below allocated capacity")
	ErrInsufficientAdminCapacity = New("INSUFFICIENT_ADMIN_CAPACITY", http.StatusConflict, "insufficient admin capacity")
	ErrPartUploadFailed          = New("PART_UPLOAD_FAILED", http.StatusBadGateway, "multipart part upload failed")
	ErrStorageProvider           = New("STORAGE_PROVIDER_ERROR", http.StatusBadGateway, "storage provider error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	if err.Details != nil {
		clone.Details = make(map[string]interface{}, len(err.Details))
		for k, v := range err.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// WithDetails returns a copy of err carrying the supplied machine-readable details.
func WithDetails(err *Error, message string, details map[string]interface{}) *Error {
	clone := Clone(err, message)
	if clone == nil {
		return nil
	}
	if clone.Details == nil {
		clone.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return clone
}

// QuotaExceeded reports every violated quota rule; violations must carry remaining capacity.
func QuotaExceeded(message string, violations interface{}) *Error {
	return WithDetails(ErrQuotaExceeded, message, map[string]interface{}{"violations": violations})
}

// SizeMismatch reports a declared/actual size divergence detected at finalize.
func SizeMismatch(declared, actual int64) *Error {
	return WithDetails(ErrSizeMismatch,
		fmt.Sprintf("declared size %d bytes does not match uploaded size %d bytes", declared, actual),
		map[string]interface{}{"declared": declared, "actual": actual})
}

// BelowAllocated rejects a company total that would undercut existing allocations.
func BelowAllocated(shortfall int64) *Error {
	return WithDetails(ErrBelowAllocated,
		fmt.Sprintf("new total is %d bytes below capacity already allocated", shortfall),
		map[string]interface{}{"shortfall": shortfall})
}

// InsufficientAdminCapacity rejects a sub-allocation larger than the admin's free capacity.
func InsufficientAdminCapacity(available, requested int64) *Error {
	return WithDetails(ErrInsufficientAdminCapacity,
		fmt.Sprintf("requested %d bytes but only %d bytes are available to allocate", requested, available),
		map[string]interface{}{"available": available, "requested": requested})
}

// PartUploadFailed reports a multipart chunk that exhausted its retries.
func PartUploadFailed(partNumber, attempts int, err error) *Error {
	e := WithDetails(ErrPartUploadFailed,
		fmt.Sprintf("part %d failed after %d attempts", partNumber, attempts),
		map[string]interface{}{"partNumber": partNumber, "attempts": attempts})
	e.Err = err
	return e
}

// StorageProvider wraps a failing object store call.
func StorageProvider(op string, err error) *Error {
	e := Clone(ErrStorageProvider, fmt.Sprintf("storage provider %s failed", op))
	e.Err = err
	return e
}
