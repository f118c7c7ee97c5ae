package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTypes(t *testing.T) {
	base := errors.New("manifest not found")
	runtimeErr := NewRuntimeError(base)
	assert.Equal(t, "runtime error: manifest not found", runtimeErr.Error())
	assert.True(t, errors.Is(runtimeErr, base))
	assert.True(t, IsRuntimeError(fmt.Errorf("wrapped: %w", runtimeErr)))
	assert.False(t, IsRuntimeError(base))
	assert.False(t, IsRuntimeError(nil))

	testErr := NewTestFailureError("2 tests failed")
	assert.Equal(t, "test failure: 2 tests failed", testErr.Error())
	assert.True(t, IsTestFailureError(fmt.Errorf("wrapped: %w", testErr)))
	assert.False(t, IsTestFailureError(runtimeErr))

	envErr := NewEnvironmentFailureError("redis did not start")
	assert.Equal(t, "environment failure: redis did not start", envErr.Error())
	assert.True(t, IsEnvironmentFailureError(errors.Join(base, envErr)))
	assert.False(t, IsEnvironmentFailureError(testErr))
}
