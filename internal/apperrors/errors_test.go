package apperrors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidArgument:       http.StatusBadRequest,
		CodeSessionNotFound:       http.StatusNotFound,
		CodeDeveloperNotConnected: http.StatusBadGateway,
		CodeTimeout:               http.StatusGatewayTimeout,
		CodeBackpressure:          http.StatusServiceUnavailable,
		CodeOversize:              http.StatusRequestEntityTooLarge,
	}
	for code, want := range cases {
		err := New(code, "boom")
		assert.Equal(t, want, err.StatusCode, code)
	}
}

func TestWrapCarriesCause(t *testing.T) {
	cause := assertErr("disk full")
	err := Wrap(CodeInternal, "failed to persist", cause)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, err.Unwrap())
}

func TestToResponse(t *testing.T) {
	err := SessionNotFound("abc-def")
	resp := err.ToResponse()
	assert.Equal(t, CodeSessionNotFound, resp.Code)
	assert.Contains(t, resp.Message, "abc-def")
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error {
	return simpleErr(msg)
}
