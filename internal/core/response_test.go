package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tahye23/servicessms-sub002/internal/types"
)

func TestJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	JSON(w, r, http.StatusOK, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, w.Body.String())
}

func TestError(t *testing.T) {
	t.Run("app error maps code to status", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		r = r.WithContext(types.WithRequestID(r.Context(), "req-123"))
		w := httptest.NewRecorder()

		Error(w, r, types.NewAppError(types.ErrCodeNotFoundUser, "no subscriptions found", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		var resp APIErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_found_user", resp.Error.Code)
		assert.Equal(t, "req-123", resp.Error.RequestID)
	})

	t.Run("limit exceeded is 403", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		Error(w, r, types.NewAppError(types.ErrCodeLimitSMS, "sms limit exceeded", nil))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("generic error is an opaque 500", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		Error(w, r, assert.AnError)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid body decodes", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":"acme"}`))
		w := httptest.NewRecorder()

		var p payload
		require.NoError(t, DecodeJSON(w, r, &p))
		assert.Equal(t, "acme", p.Name)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":"acme","extra":1}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSON(w, r, &p)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeValidationInvalidJSON, appErr.Code)
	})

	t.Run("empty body rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(""))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSON(w, r, &p)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Message, "empty")
	})

	t.Run("trailing JSON value rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":"a"}{"name":"b"}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSON(w, r, &p)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Message, "single JSON object")
	})

	t.Run("type mismatch names the field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"name":42}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSON(w, r, &p)

		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "name", appErr.Details["field"])
	})
}
