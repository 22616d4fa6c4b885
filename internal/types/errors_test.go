package types

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingDelta, http.StatusBadRequest},
		{ErrCodeValidationDateOrder, http.StatusBadRequest},
		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodePermissionRole, http.StatusForbidden},
		{ErrCodeLimitSMS, http.StatusForbidden},
		{ErrCodeLimitWhatsapp, http.StatusForbidden},
		{ErrCodeNotFoundUser, http.StatusNotFound},
		{ErrCodeNotFoundPlan, http.StatusNotFound},
		{ErrCodeConflictLimitSource, http.StatusConflict},
		{ErrCodeConflictConcurrent, http.StatusConflict},
		{ErrCodeUpstreamLedger, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalDB, "failed to load subscription", cause)

	assert.Equal(t, "internal_database_error: failed to load subscription", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_ErrorAs(t *testing.T) {
	var err error = NewAppError(ErrCodeNotFoundUser, "no subscriptions for login", nil)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeNotFoundUser, appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus())
}

func TestAppError_WithDetails(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeLimitSMS, "sms quota exhausted", nil,
		map[string]any{"limit": 100})

	enriched := base.WithDetails(map[string]any{"used": 100, "requested": 5})

	// Original is not mutated.
	assert.Len(t, base.Details, 1)
	assert.Len(t, enriched.Details, 3)
	assert.Equal(t, 100, enriched.Details["limit"])
	assert.Equal(t, 5, enriched.Details["requested"])
}
