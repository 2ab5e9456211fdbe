package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid api key"), false},
		{"explicit", NewTransientError(errors.New("busy"), 503), true},
		{"wrapped", fmt.Errorf("outer: %w", NewTransientError(errors.New("busy"), 429)), true},
		{"eris wrapped", eris.Wrap(NewTransientError(errors.New("busy"), 502), "chatapi: post"), true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", timeoutErr{}, true},
		{"pattern", errors.New("read tcp: i/o timeout"), true},
		{"eof pattern", errors.New("stream: unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError("bocha", 429, " slow down ")
	var te *TransientError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, 429, te.StatusCode)
	assert.Equal(t, "bocha: status 429: slow down", err.Error())

	err = StatusError("chatapi", 401, "unauthorized")
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "status 401")

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Less(t, len(StatusError("x", 400, string(long)).Error()), 600)
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 500)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "inner", te.Error())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "ok", Classify(nil))
	assert.Equal(t, "circuit_open", Classify(eris.Wrap(ErrCircuitOpen, "resilience: m")))
	assert.Equal(t, "rate_limited", Classify(NewTransientError(errors.New("x"), 429)))
	assert.Equal(t, "http_503", Classify(NewTransientError(errors.New("x"), 503)))
	assert.Equal(t, "transient", Classify(NewTransientError(errors.New("x"), 0)))
	assert.Equal(t, "transient", Classify(errors.New("broken pipe")))
	assert.Equal(t, "permanent", Classify(errors.New("bad json")))
}
