package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentError(t *testing.T) {
	cause := errors.New("exit status 128")
	err := NewAgentError(AgentComponentRepository, AgentOperationFetching, cause, true).
		WithContext("target", "api@main")

	assert.Equal(t, "[repository:fetching] exit status 128 (context: map[target:api@main])", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.True(t, IsRetryable(fmt.Errorf("cycle: %w", err)))

	fatal := NewAgentError(AgentComponentRepository, AgentOperationCloningRepo, cause, false)
	assert.False(t, IsRetryable(fatal))
	assert.False(t, IsRetryable(cause))
	assert.Equal(t, "[repository:cloning-repository] exit status 128", fatal.Error())
}

func TestAgentError_WithContextDoesNotAlias(t *testing.T) {
	base := NewAgentError(AgentComponentBuild, AgentOperationBuilding, errors.New("boom"), true).
		WithContext("a", 1)
	derived := base.WithContext("b", 2)

	assert.Len(t, base.Context, 1)
	assert.Len(t, derived.Context, 2)
}
