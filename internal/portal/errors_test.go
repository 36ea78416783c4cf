package portal

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	te := &TransientFetchError{Attempts: 3, LastStatus: 503, Err: errors.New("boom")}
	assert.True(t, IsTransient(te))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", te)))

	assert.True(t, IsTransient(fmt.Errorf("dial: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("no such column")))
	assert.False(t, IsTransient(&PermanentFetchError{Status: 404, Err: errors.New("gone")}))
}

func TestIsPermanent(t *testing.T) {
	pe := &PermanentFetchError{Status: 400, Err: errors.New("bad request")}
	assert.True(t, IsPermanent(pe))
	assert.True(t, IsPermanent(fmt.Errorf("search: %w", pe)))
	assert.False(t, IsPermanent(errors.New("other")))
	assert.False(t, IsPermanent(nil))
}

func TestErrorMessages(t *testing.T) {
	te := &TransientFetchError{Attempts: 3, LastStatus: 502, Err: errors.New("bad gateway")}
	assert.Contains(t, te.Error(), "3 attempts")
	assert.Contains(t, te.Error(), "502")

	pe := &PermanentFetchError{Status: 404, Err: errors.New("not found")}
	assert.Contains(t, pe.Error(), "404")

	capErr := &PermanentFetchError{Err: errors.New("cap exceeded")}
	assert.NotContains(t, capErr.Error(), "status 0")
}

func TestIsTransientStatus(t *testing.T) {
	for _, s := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, isTransientStatus(s), "status %d", s)
	}
	for _, s := range []int{200, 301, 400, 401, 403, 404, 410} {
		assert.False(t, isTransientStatus(s), "status %d", s)
	}
}
