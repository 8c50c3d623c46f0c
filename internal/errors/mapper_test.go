package errors_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	svcErr "github.com/chirper/feedsync/internal/errors"
)

func TestMap(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("get users/u1: %w", svcErr.ErrNotFound), codes.NotFound},
		{"gorm not found", gorm.ErrRecordNotFound, codes.NotFound},
		{"exists", svcErr.ErrAlreadyExists, codes.AlreadyExists},
		{"banned", svcErr.ErrBanned, codes.Unauthenticated},
		{"exhausted", svcErr.ErrProvisioningExhausted, codes.ResourceExhausted},
		{"in flight", svcErr.ErrInFlight, codes.Aborted},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", fmt.Errorf("boom"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, status.Code(svcErr.Map(tc.err)))
		})
	}
	assert.NoError(t, svcErr.Map(nil))
}

func TestFromStatus(t *testing.T) {
	err := svcErr.FromStatus(status.Error(codes.NotFound, "no such doc"))
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	err = svcErr.FromStatus(status.Error(codes.AlreadyExists, "exists"))
	assert.ErrorIs(t, err, svcErr.ErrAlreadyExists)

	err = svcErr.FromStatus(status.Error(codes.PermissionDenied, "rules"))
	assert.ErrorIs(t, err, svcErr.ErrPermissionDenied)

	plain := fmt.Errorf("plain")
	assert.Equal(t, plain, svcErr.FromStatus(plain))
	assert.NoError(t, svcErr.FromStatus(nil))
}
