package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	var cases = []struct {
		name string
		in   error
		out  bool
	}{
		{"not found", &StatusError{Code: http.StatusNotFound}, false},
		{"forbidden", &StatusError{Code: http.StatusForbidden}, false},
		{"unauthorised", fmt.Errorf("listing: %w", &StatusError{Code: http.StatusUnauthorized}), false},
		{"rate limited", &StatusError{Code: http.StatusTooManyRequests}, true},
		{"server error", &StatusError{Code: http.StatusBadGateway}, true},
		{"wrapped not found", fmt.Errorf("%w: foo", ErrNotFound), false},
		{"cancelled", context.Canceled, false},
		{"wrong kind", ErrUnsupportedKind, false},
		{"network", errors.New("connection reset by peer"), true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualValues(t, tt.out, IsTransient(tt.in))
		})
	}
}

func TestStatusError(t *testing.T) {
	assert.ErrorIs(t, &StatusError{URL: "https://example.org", Code: http.StatusNotFound}, ErrNotFound)
	assert.NotErrorIs(t, &StatusError{URL: "https://example.org", Code: http.StatusForbidden}, ErrNotFound)
	assert.EqualValues(t, "unexpected response from https://example.org: 403 Forbidden", (&StatusError{URL: "https://example.org", Code: http.StatusForbidden}).Error())
}

func TestCheckKind(t *testing.T) {
	assert.NoError(t, checkKind(RestoreDescriptor{Kind: KindS3}, KindS3))
	assert.ErrorIs(t, checkKind(RestoreDescriptor{Kind: KindS3}, KindHTTP), ErrUnsupportedKind)
}
