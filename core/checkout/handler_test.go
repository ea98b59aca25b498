package checkout

import (
	"errors"
	"net/http"
	"testing"

	"github.com/dmaretti/storefront/api/weberr"
	"github.com/dmaretti/storefront/core/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"verification", &VerificationError{Err: errors.New("mismatch")}, http.StatusBadGateway},
		{"timeout", &TimeoutError{Op: "verification"}, http.StatusGatewayTimeout},
		{"session creation", &SessionCreationError{Err: errors.New("down")}, http.StatusBadGateway},
		{"provider", &ProviderError{Reason: "declined"}, http.StatusBadGateway},
		{"empty cart", ErrEmptyCart, http.StatusUnprocessableEntity},
		{"in progress", ErrFlowInProgress, http.StatusConflict},
		{"not cancellable", ErrNotCancellable, http.StatusConflict},
		{"no session", ErrNoSession, http.StatusNotFound},
		{"unknown address", address.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, status, ok := weberr.Response(respondErr(tc.err))
			require.True(t, ok)
			assert.Equal(t, tc.status, status)
			assert.NotNil(t, body)
		})
	}
}

func TestRespondErrVerificationMessageDirectsToSupport(t *testing.T) {
	err := respondErr(&VerificationError{Err: errors.New("mismatch")})

	body, _, ok := weberr.Response(err)
	require.True(t, ok)

	resp, ok := body.(*weberr.ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, resp.Error, "contact support")
	assert.Contains(t, resp.Error, "do not retry")
}

func TestRespondErrPassesThroughUnknown(t *testing.T) {
	sentinel := errors.New("boom")
	err := respondErr(sentinel)

	_, _, ok := weberr.Response(err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, sentinel)
}
