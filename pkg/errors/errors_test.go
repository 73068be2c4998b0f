package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("loading item x: %w", ErrNotFound), http.StatusNotFound},
		{"invalid grade", ErrInvalidGrade, http.StatusBadRequest},
		{"index not ready", ErrIndexNotReady, http.StatusServiceUnavailable},
		{"upstream", fmt.Errorf("fetch: %w", ErrUpstream), http.StatusServiceUnavailable},
		{"session done", ErrSessionDone, http.StatusConflict},
		{"app error wins", New(ErrNotFound, http.StatusGone, "gone"), http.StatusGone},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "limit %d out of range", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "invalid input: limit 0 out of range", err.Error())
}
