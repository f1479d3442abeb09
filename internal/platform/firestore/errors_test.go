package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.PermissionDenied},
	}

	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := WrapError("products.get", status.Error(tc.code, "boom"))
			var classified *Error
			if !assert.ErrorAs(t, err, &classified) {
				return
			}
			assert.Equal(t, tc.notFound, classified.IsNotFound())
			assert.Equal(t, tc.conflict, classified.IsConflict())
			assert.Equal(t, tc.unavailable, classified.IsUnavailable())
			assert.Contains(t, err.Error(), "products.get")
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
	assert.ErrorIs(t, WrapError("op", fmt.Errorf("wrapped: %w", context.Canceled)), context.Canceled)
	assert.ErrorIs(t, WrapError("op", status.Error(codes.DeadlineExceeded, "slow")), context.DeadlineExceeded)
	assert.ErrorIs(t, WrapError("op", status.Error(codes.Canceled, "gone")), context.Canceled)
}

func TestWrapErrorKeepsClassifiedErrors(t *testing.T) {
	inner := NotFound("", "product %s not found", "prod_1")
	err := WrapError("products.find", fmt.Errorf("lookup: %w", inner))

	var classified *Error
	assert.True(t, errors.As(err, &classified))
	assert.True(t, classified.IsNotFound())
	assert.Contains(t, err.Error(), "products.find")

	conflict := Conflict("products.create_variants", "combination %s exists", "red-s")
	assert.True(t, conflict.(*Error).IsConflict())
}
