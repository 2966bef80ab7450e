package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/splax/pagesmith/internal/domain"
	"github.com/splax/pagesmith/internal/repository"
	"github.com/splax/pagesmith/internal/service/catalog"
	"github.com/splax/pagesmith/internal/service/notify"
	"github.com/splax/pagesmith/internal/service/publish"
)

// Broadcaster receives every record write.
type Broadcaster interface {
	Broadcast(task string, payload []byte)
}

// Generator renders the file set for a brief.
type Generator func(brief string) domain.FileSet

// Service runs deployment requests end to end: generate, publish, record and
// notify. Runs are independent; two runs for the same task race and the last
// record write wins.
type Service struct {
	generate  Generator
	publisher publish.Publisher
	notifier  notify.Notifier
	store     repository.DeploymentStore
	events    Broadcaster
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a deployment service. events may be nil.
func New(generate Generator, publisher publish.Publisher, notifier notify.Notifier, store repository.DeploymentStore, events Broadcaster, logger *slog.Logger) *Service {
	initMetrics()
	return &Service{
		generate:  generate,
		publisher: publisher,
		notifier:  notifier,
		store:     store,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit starts a run on a detached goroutine and returns immediately. The
// run is never awaited or cancelled.
func (s *Service) Submit(req domain.DeploymentRequest) {
	go s.Run(context.Background(), req)
}

// Run executes one request and returns the record it wrote. Panics are
// recovered into a failed record.
func (s *Service) Run(ctx context.Context, req domain.DeploymentRequest) (rec domain.DeploymentRecord) {
	started := time.Now()
	kind := roundKind(req)
	logger := s.logger.With("task", req.Task, "round", req.Round, "run_id", uuid.NewString())

	defer func() {
		if p := recover(); p != nil {
			logger.Error("deployment panicked", "panic", p, "stack", string(debug.Stack()))
			rec = s.recordAfterPanic(ctx, logger, req.Task, domain.Failed(req.Round, fmt.Errorf("internal error: %v", p), s.now()))
		}
		recordRun(rec.Status, kind, time.Since(started))
	}()

	logger.Info("deployment started", "kind", kind, "category", catalog.Category(req.Brief))
	result, err := s.publish(ctx, req, logger)
	if err != nil {
		logger.Error("deployment failed", "error", err)
		return s.record(ctx, req.Task, domain.Failed(req.Round, err, s.now()))
	}

	rec = s.record(ctx, req.Task, domain.Completed(req.Round, result, s.now()))
	logger.Info("deployment completed", "repo_url", result.RepoURL, "pages_url", result.PagesURL, "commit_sha", result.CommitSHA)

	if req.EvaluationURL == "" {
		return rec
	}
	delivered := s.notifier.Notify(ctx, req.EvaluationURL, domain.Notification{
		Email:     req.Email,
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		RepoURL:   result.RepoURL,
		CommitSHA: result.CommitSHA,
		PagesURL:  result.PagesURL,
	})
	if !delivered {
		logger.Warn("evaluation callback not delivered", "url", req.EvaluationURL)
	}
	return rec
}

func (s *Service) publish(ctx context.Context, req domain.DeploymentRequest, logger *slog.Logger) (domain.PublishResult, error) {
	if req.IsUpdate() {
		return s.publisher.Update(ctx, req.Task, req.Brief, req.Email, req.Round)
	}
	files := s.generate(req.Brief)
	logger.Debug("files generated", "count", len(files))
	return s.publisher.Create(ctx, req.Task, files, req.Email)
}

// record stores rec and broadcasts it. Store errors are logged only: the run
// has already finished and there is nobody to report to.
func (s *Service) record(ctx context.Context, task string, rec domain.DeploymentRecord) domain.DeploymentRecord {
	if err := s.store.Put(ctx, task, rec); err != nil {
		s.logger.Error("status record write failed", "task", task, "status", rec.Status, "error", err)
	}
	if s.events != nil {
		payload, err := json.Marshal(struct {
			Task string `json:"task"`
			domain.DeploymentRecord
		}{Task: task, DeploymentRecord: rec})
		if err == nil {
			s.events.Broadcast(task, payload)
		}
	}
	return rec
}

// recordAfterPanic is record for the recover path. A store or broadcaster
// that panics again is logged and the record is returned unwritten.
func (s *Service) recordAfterPanic(ctx context.Context, logger *slog.Logger, task string, rec domain.DeploymentRecord) (out domain.DeploymentRecord) {
	out = rec
	defer func() {
		if p := recover(); p != nil {
			logger.Error("failed record write panicked", "panic", p)
		}
	}()
	return s.record(ctx, task, rec)
}

// Status returns the latest record for task.
func (s *Service) Status(ctx context.Context, task string) (domain.DeploymentRecord, error) {
	return s.store.Get(ctx, task)
}

func roundKind(req domain.DeploymentRequest) string {
	if req.IsUpdate() {
		return "update"
	}
	return "create"
}
