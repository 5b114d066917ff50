package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsTrace(t *testing.T) {
	tcs := []struct {
		name     string
		err      *PinErr
		expected string
	}{
		{
			name:     "ErrWithoutCause",
			err:      ErrNotImplemented(),
			expected: "Not implemented",
		},
		{
			name: "ErrWithCauses",
			err: &PinErr{
				msg: "foo",
				cause: &PinErr{
					msg:   "bar",
					cause: &PinErr{msg: "qux"},
				},
			},
			expected: "foo\n\tCaused by: bar\n\t\tCaused by: qux",
		},
		{
			name:     "ErrWithPlainCause",
			err:      ErrServiceFailure("could not save pin").WithCause(fmt.Errorf("connection reset")),
			expected: "could not save pin\n\tCaused by: connection reset",
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			actual := c.err.Trace()
			assert.Equal(t, c.expected, actual, "unexpected error trace")
		})
	}
}

func TestErrorsMessageHidesCause(t *testing.T) {
	err := ErrServiceFailure("could not save pin").WithCause(fmt.Errorf("pq: relation does not exist"))
	assert.Equal(t, "could not save pin", err.Error())
}

func TestErrorsStatusCode(t *testing.T) {
	tcs := []struct {
		err          *PinErr
		expectedCode int
	}{
		{
			err:          ErrServiceFailure("fake"),
			expectedCode: http.StatusInternalServerError,
		},
		{
			err:          ErrNotFound("fake"),
			expectedCode: http.StatusNotFound,
		},
		{
			err:          ErrBadInput("fake"),
			expectedCode: http.StatusBadRequest,
		},
		{
			err:          ErrUnauthorized("fake"),
			expectedCode: http.StatusUnauthorized,
		},
		{
			err:          ErrNotConfigured("fake"),
			expectedCode: http.StatusServiceUnavailable,
		},
		{
			err:          ErrDependencyFailure("fake"),
			expectedCode: http.StatusBadGateway,
		},
	}
	for _, c := range tcs {
		code := c.err.StatusCode()
		assert.Equal(t, c.expectedCode, code, "unexpected status code")
	}
}

func TestErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("listing pins: %w", ErrNotFound("pin not found"))
	assert.True(t, Is(wrapped, ErrCodeNotFound))
	assert.False(t, Is(wrapped, ErrCodeServiceFailure))
	assert.False(t, Is(fmt.Errorf("plain"), ErrCodeNotFound))
}
