package cluster

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := newError(CodeFrozen, "Example Repository", "previous write interrupted")
	assert.Equal(t, `FROZEN: repository "Example Repository": previous write interrupted`, err.Error())

	bare := newError(CodeProgrammer, "", "no write in progress")
	assert.Equal(t, "PROGRAMMER: no write in progress", bare.Error())
}

func TestError_Helpers(t *testing.T) {
	tests := []struct {
		err  error
		want func(error) bool
	}{
		{newError(CodeTransient, "r", "m"), IsTransient},
		{newError(CodeFrozen, "r", "m"), IsFrozen},
		{newError(CodeConfig, "r", "m"), IsConfig},
		{newError(CodeLeaderLost, "r", "m"), IsLeaderLost},
		{newError(CodeNotInitialized, "r", "m"), IsNotInitialized},
		{newError(CodeUnsupported, "r", "m"), IsUnsupported},
		{newError(CodeProgrammer, "r", "m"), IsProgrammer},
	}

	for _, tt := range tests {
		assert.True(t, tt.want(tt.err), "helper rejected %v", tt.err)
		assert.False(t, IsFrozen(errors.New("plain")), "plain errors match nothing")
	}
}

func TestError_MatchesThroughWrapping(t *testing.T) {
	inner := newError(CodeTransient, "r", "lock wait exceeded")
	wrapped := fmt.Errorf("entry point failed: %w", inner)
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsFrozen(wrapped))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapError(CodeTransient, "r", cause, "fetch failed")
	assert.ErrorIs(t, err, cause)
}
