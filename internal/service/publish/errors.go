package publish

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Update when the task has no repository yet.
var ErrNotFound = errors.New("repository not found")

// Step names one provider interaction of a publish attempt.
type Step string

// Publish steps in the order they run.
const (
	StepResolveAccount   Step = "resolve_account"
	StepCreateRepository Step = "create_repository"
	StepGetRepository    Step = "get_repository"
	StepGetContents      Step = "get_contents"
	StepWriteFile        Step = "write_file"
	StepEnablePages      Step = "enable_pages"
	StepLatestCommit     Step = "latest_commit"
)

// StepFatal reports whether a failure in step aborts the publish attempt.
// Only pages enablement is tolerated: hosting may lag repository creation.
func StepFatal(step Step) bool {
	return step != StepEnablePages
}

// ProviderError is a rejected provider call.
type ProviderError struct {
	Op     Step
	Path   string
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("github %s", e.Op)
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failed step aborts the publish attempt.
func (e *ProviderError) Fatal() bool {
	return StepFatal(e.Op)
}
