package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Record statuses. A run in progress has no record at all.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrInvalidRequest marks a request that is well-formed JSON but unusable.
var ErrInvalidRequest = errors.New("invalid deployment request")

// DeploymentRequest is the webhook body submitted by the evaluator.
type DeploymentRequest struct {
	Task          string `json:"task"`
	Round         int    `json:"round"`
	Brief         string `json:"brief"`
	Email         string `json:"email"`
	EvaluationURL string `json:"evaluation_url,omitempty"`
	Nonce         string `json:"nonce"`
	Secret        string `json:"secret,omitempty"`
}

// Normalize applies defaults that the wire format leaves implicit.
func (r *DeploymentRequest) Normalize() {
	r.Task = strings.TrimSpace(r.Task)
	r.EvaluationURL = strings.TrimSpace(r.EvaluationURL)
	if r.Round == 0 {
		r.Round = 1
	}
}

// Validate checks the fields the pipeline cannot run without.
func (r DeploymentRequest) Validate() error {
	if r.Task == "" {
		return fmt.Errorf("%w: task is required", ErrInvalidRequest)
	}
	if r.Round < 1 {
		return fmt.Errorf("%w: round must be a positive integer", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Brief) == "" {
		return fmt.Errorf("%w: brief is required", ErrInvalidRequest)
	}
	return nil
}

// IsUpdate reports whether the request targets an existing repository.
func (r DeploymentRequest) IsUpdate() bool {
	return r.Round > 1
}

// RepoName maps a task ID onto its repository name. Distinct task IDs that
// differ only by case or by '_' versus '-' map to the same repository.
func RepoName(task string) string {
	return strings.ReplaceAll(strings.ToLower("llm-app-"+task), "_", "-")
}

// FileSet maps a relative path to full file content.
type FileSet map[string]string

// PublishResult describes the published repository.
type PublishResult struct {
	RepoURL   string `json:"repo_url"`
	PagesURL  string `json:"pages_url"`
	CommitSHA string `json:"commit_sha"`
}

// DeploymentRecord is the terminal outcome of the latest run for a task.
type DeploymentRecord struct {
	Status    string         `json:"status"`
	Round     int            `json:"round"`
	Timestamp time.Time      `json:"timestamp"`
	Result    *PublishResult `json:"github_result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Completed builds a success record.
func Completed(round int, result PublishResult, at time.Time) DeploymentRecord {
	return DeploymentRecord{Status: StatusCompleted, Round: round, Timestamp: at.UTC(), Result: &result}
}

// Failed builds a failure record carrying the error text.
func Failed(round int, err error, at time.Time) DeploymentRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return DeploymentRecord{Status: StatusFailed, Round: round, Timestamp: at.UTC(), Error: msg}
}

// Notification is the payload delivered to the evaluation callback.
type Notification struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}
