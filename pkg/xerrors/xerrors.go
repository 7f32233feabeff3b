package xerrors

import (
	"context"
	"errors"
	iofs "io/fs"
	"net/http"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Kind classifies storage errors.
type Kind int

const (
	KindInvalid Kind = iota
	KindNotFound
	KindAlreadyExists
	KindPermission
	KindTimeout
	KindNotSupported
	KindInternal
)

// Error wraps an underlying error with additional metadata.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := kindString(e.Kind)
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Path != "" {
		base += " " + e.Path
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string { return kindString(k) }

func kindString(kind Kind) string {
	switch kind {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindPermission:
		return "permission denied"
	case KindTimeout:
		return "timeout"
	case KindNotSupported:
		return "not supported"
	case KindInternal:
		return "internal error"
	default:
		return "invalid"
	}
}

// Wrap annotates err with the given metadata. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// E creates a new error with the provided metadata (no underlying error).
func E(kind Kind, op, path string) error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
// Errors returned by the blob service are classified by HTTP status.
func KindOf(err error) Kind {
	if err == nil {
		return KindInvalid
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return kindForStatus(respErr.StatusCode)
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist),
		errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, iofs.ErrExist),
		errors.Is(err, os.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, iofs.ErrPermission),
		errors.Is(err, os.ErrPermission):
		return KindPermission
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, iofs.ErrInvalid):
		return KindInvalid
	default:
		return KindInternal
	}
}

// IsNotFound reports whether err classifies as KindNotFound.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindPermission
	case http.StatusConflict:
		return KindAlreadyExists
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadRequest, http.StatusRequestedRangeNotSatisfiable:
		return KindInvalid
	case http.StatusNotImplemented, http.StatusMethodNotAllowed:
		return KindNotSupported
	default:
		return KindInternal
	}
}
