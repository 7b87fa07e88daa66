package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
		msg  string
	}{
		{nil, codes.OK, ""},
		{common.ErrInvalidCredentials, codes.Unauthenticated, "unauthenticated"},
		{fmt.Errorf("resolve: %w", common.ErrTokenExpired), codes.Unauthenticated, "unauthenticated"},
		{common.ErrTokenBlocked, codes.Unauthenticated, "unauthenticated"},
		{fmt.Errorf("%w: bad hex", common.ErrMalformedLocator), codes.Unauthenticated, "unauthenticated"},
		{fmt.Errorf("%w: only admins are authorized", common.ErrAccessDenied), codes.PermissionDenied, "access denied: only admins are authorized"},
		{fmt.Errorf("%w: project is locked", common.ErrProjectNotFunctional), codes.FailedPrecondition, "project not functional: project is locked"},
		{context.Canceled, codes.Canceled, "canceled"},
		{errors.New("db error: boom"), codes.Internal, "internal error"},
	}

	for _, tt := range tests {
		err := toStatus(context.Background(), nopLogger(), tt.err)
		if tt.err == nil {
			assert.NoError(t, err)
			continue
		}
		st := status.Convert(err)
		assert.Equal(t, tt.code, st.Code(), tt.err.Error())
		assert.Equal(t, tt.msg, st.Message())
	}
}
