package xerrors

import (
	"context"
	"errors"
	iofs "io/fs"
	"net/http"
	"os"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestKindOf(t *testing.T) {
	wrapped := Wrap(KindPermission, "op", "", errors.New("boom"))
	notFound := &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}
	forbidden := &azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: http.StatusForbidden}

	testcases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "nil", err: nil, kind: KindInvalid},
		{name: "wrapped error", err: wrapped, kind: KindPermission},
		{name: "blob not found", err: notFound, kind: KindNotFound},
		{name: "authorization failure", err: forbidden, kind: KindPermission},
		{name: "service conflict", err: &azcore.ResponseError{StatusCode: http.StatusConflict}, kind: KindAlreadyExists},
		{name: "server error", err: &azcore.ResponseError{StatusCode: http.StatusInternalServerError}, kind: KindInternal},
		{name: "iofs permission", err: iofs.ErrPermission, kind: KindPermission},
		{name: "iofs exist", err: iofs.ErrExist, kind: KindAlreadyExists},
		{name: "iofs invalid", err: iofs.ErrInvalid, kind: KindInvalid},
		{name: "os not exist", err: os.ErrNotExist, kind: KindNotFound},
		{name: "context deadline", err: context.DeadlineExceeded, kind: KindTimeout},
		{name: "unknown error defaults internal", err: errors.New("other"), kind: KindInternal},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("KindOf() = %v, want %v", got, tc.kind)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := E(KindInvalid, "azureblob.client", "account_name")
	if got := err.Error(); got != "azureblob.client: invalid account_name" {
		t.Fatalf("unexpected message %q", got)
	}
	err = Wrap(KindNotFound, "filesystem.Open", "a.txt", os.ErrNotExist)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped error to unwrap to os.ErrNotExist")
	}
	if Wrap(KindInternal, "op", "", nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}
