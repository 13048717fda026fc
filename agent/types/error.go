package types

import (
	"errors"
	"fmt"
)

type AgentComponent string

const (
	AgentComponentConfig     AgentComponent = "config"
	AgentComponentRepository AgentComponent = "repository"
	AgentComponentBuild      AgentComponent = "build"
	AgentComponentUpload     AgentComponent = "upload"
	AgentComponentDatabase   AgentComponent = "database"
)

type AgentOperation string

const (
	AgentOperationReadingConfig    AgentOperation = "reading-config"
	AgentOperationValidatingConfig AgentOperation = "validating-config"
	AgentOperationOpeningRepo      AgentOperation = "opening-repository"
	AgentOperationCloningRepo      AgentOperation = "cloning-repository"
	AgentOperationFetching         AgentOperation = "fetching"
	AgentOperationResetting        AgentOperation = "resetting"
	AgentOperationReadingHead      AgentOperation = "reading-head"
	AgentOperationBuilding         AgentOperation = "building"
	AgentOperationUploading        AgentOperation = "uploading"
	AgentOperationDatabaseRead     AgentOperation = "database-read"
	AgentOperationDatabaseWrite    AgentOperation = "database-write"
)

// AgentError provides structured error handling
type AgentError struct {
	Component AgentComponent
	Operation AgentOperation
	Err       error
	Retryable bool
	Context   map[string]interface{}
}

func (e AgentError) Error() string {
	if len(e.Context) > 0 {
		return fmt.Sprintf("[%s:%s] %v (context: %v)", e.Component, e.Operation, e.Err, e.Context)
	}
	return fmt.Sprintf("[%s:%s] %v", e.Component, e.Operation, e.Err)
}

func (e AgentError) Unwrap() error {
	return e.Err
}

func NewAgentError(component AgentComponent, operation AgentOperation, err error, retryable bool) AgentError {
	return AgentError{
		Component: component,
		Operation: operation,
		Err:       err,
		Retryable: retryable,
	}
}

func (e AgentError) WithContext(key string, value interface{}) AgentError {
	ctx := make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// IsRetryable reports whether err carries an AgentError marked retryable.
func IsRetryable(err error) bool {
	var agentErr AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Retryable
	}
	return false
}
