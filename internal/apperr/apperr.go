// Package apperr defines the error taxonomy shared by the API and the worker.
// Every error carries a stable machine-readable code; HTTPStatus maps the
// error kind to a response status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindForbidden
	KindQuotaExceeded
	KindFileTooLarge
	KindProcessing
	KindTimeout
	KindNotFound
	KindExpired
	KindRateLimited
)

const (
	CodeInvalidFileType     = "INVALID_FILE_TYPE"
	CodeContentTypeMismatch = "CONTENT_TYPE_MISMATCH"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeTooManyFiles        = "TOO_MANY_FILES"
	CodeNoFiles             = "NO_FILES"
	CodeTooFewFiles         = "TOO_FEW_FILES"
	CodeInvalidQuality      = "INVALID_QUALITY"
	CodeInvalidPageSize     = "INVALID_PAGE_SIZE"
	CodeInvalidTargetSize   = "INVALID_TARGET_SIZE"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeAPIKeyInvalid       = "API_KEY_INVALID"
	CodeProRequired         = "PRO_REQUIRED"
	CodeOriginRejected      = "ORIGIN_REJECTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeProcessingFailed    = "PROCESSING_FAILED"
	CodeProcessingTimeout   = "PROCESSING_TIMEOUT"
	CodeJobAbandoned        = "JOB_ABANDONED"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeFileNotFound        = "FILE_NOT_FOUND"
	CodeJobExpired          = "JOB_EXPIRED"
	CodeKeyNotFound         = "KEY_NOT_FOUND"
	CodeKeyLimitReached     = "KEY_LIMIT_REACHED"
	CodeInternal            = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Limit and Used are set for quota and size errors so clients can render
	// upgrade messaging. Sizes are in bytes.
	Limit int64
	Used  int64
	Tool  string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, msg string) *Error {
	return New(KindValidation, code, msg)
}

func Authentication(code, msg string) *Error {
	return New(KindAuthentication, code, msg)
}

func Forbidden(code, msg string) *Error {
	return New(KindForbidden, code, msg)
}

func NotFound(code, msg string) *Error {
	return New(KindNotFound, code, msg)
}

func Expired(msg string) *Error {
	return New(KindExpired, CodeJobExpired, msg)
}

// QuotaExceeded reports that tool's daily limit has been reached.
func QuotaExceeded(tool string, used, limit int) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("daily limit of %d for %s reached, upgrade to Pro for unlimited usage", limit, tool),
		Limit:   int64(limit),
		Used:    int64(used),
		Tool:    tool,
	}
}

// FileTooLarge reports an upload that crossed limit bytes; seen is how many
// bytes had been read when the stream was aborted.
func FileTooLarge(limit, seen int64) *Error {
	return &Error{
		Kind:    KindFileTooLarge,
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("file exceeds the %d MB limit", limit/(1<<20)),
		Limit:   limit,
		Used:    seen,
	}
}

func Processing(msg string, err error) *Error {
	return &Error{Kind: KindProcessing, Code: CodeProcessingFailed, Message: msg, Err: err}
}

func Timeout(msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Code: CodeProcessingTimeout, Message: msg, Err: err}
}

// Abandoned reports a job the stale sweep failed because no worker finished it.
func Abandoned(msg string) *Error {
	return &Error{Kind: KindProcessing, Code: CodeJobAbandoned, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}

// As returns the *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

func IsKind(err error, kind Kind) bool {
	e := As(err)
	return e != nil && e.Kind == kind
}

func HTTPStatus(err error) int {
	e := As(err)
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindQuotaExceeded, KindRateLimited:
		return http.StatusTooManyRequests
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Sanitize removes absolute occurrences of roots (and their cleaned forms)
// from msg so internal paths never reach a client.
func Sanitize(msg string, roots ...string) string {
	for _, root := range roots {
		if root == "" {
			continue
		}
		clean := filepath.Clean(root)
		msg = strings.ReplaceAll(msg, clean+string(filepath.Separator), "")
		msg = strings.ReplaceAll(msg, clean, "")
	}
	return msg
}
