package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestJSON(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		data         any
		expectedBody string
	}{
		{name: "map", code: http.StatusOK, data: map[string]string{"message": "success"}, expectedBody: `{"message":"success"}`},
		{name: "struct", code: http.StatusCreated, data: struct{ ID int }{ID: 123}, expectedBody: `{"ID":123}`},
		{name: "nil", code: http.StatusNoContent, data: nil, expectedBody: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			JSON(w, tt.code, tt.data)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.expectedBody, strings.TrimSpace(w.Body.String()))
		})
	}
}

func TestNoStore(t *testing.T) {
	w := httptest.NewRecorder()
	NoStore(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
}

func TestError_RedactsSecrets(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadGateway, errors.New("post https://hooks.slack.com/services/T000/B000/XXXX: refused"))

	body := decode(t, w)
	assert.NotContains(t, body["error"], "T000/B000")
	assert.Contains(t, body["error"], "hooks.slack.com/services/****")
}

func TestSafeError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		err     error
		want    int
		wantMsg string
	}{
		{
			name:    "client error passes through",
			code:    http.StatusNotFound,
			err:     errors.New("unknown resource"),
			want:    http.StatusNotFound,
			wantMsg: "unknown resource",
		},
		{
			name:    "server error is hidden",
			code:    http.StatusInternalServerError,
			err:     errors.New("dial tcp postgres://app:secret@db:5432: refused"),
			want:    http.StatusInternalServerError,
			wantMsg: "internal server error",
		},
		{
			name:    "app error uses its own status and message",
			code:    http.StatusInternalServerError,
			err:     fmt.Errorf("wrapped: %w", NewAppError(http.StatusConflict, "refresh already running", errors.New("cas failed"))),
			want:    http.StatusConflict,
			wantMsg: "refresh already running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SafeError(w, tt.code, tt.err)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.wantMsg, decode(t, w)["error"])
		})
	}
}

func TestSafeError_NilWritesNothing(t *testing.T) {
	w := httptest.NewRecorder()
	SafeError(w, http.StatusInternalServerError, nil)
	assert.Zero(t, w.Body.Len())
}

func TestAppError(t *testing.T) {
	inner := errors.New("inner")
	err := NewAppError(http.StatusBadRequest, "bad input", inner)

	assert.Equal(t, "inner", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "bad input", NewAppError(http.StatusBadRequest, "bad input", nil).Error())
}
