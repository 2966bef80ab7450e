package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v66/github"
	"github.com/sony/gobreaker"

	"github.com/splax/pagesmith/internal/domain"
)

const (
	defaultBranch    = "main"
	pagesBuildType   = "legacy"
	briefPreviewRune = 50
)

// Publisher creates and updates the repository backing a task.
type Publisher interface {
	Create(ctx context.Context, task string, files domain.FileSet, email string) (domain.PublishResult, error)
	Update(ctx context.Context, task, brief, email string, round int) (domain.PublishResult, error)
	Account() string
	Configured() bool
}

// Options configures the GitHub publisher.
type Options struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// Generate renders the file set for update rounds.
	Generate func(brief string) domain.FileSet
}

// GitHub publishes file sets to repositories owned by the token's user.
type GitHub struct {
	client   *github.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	login    string
	generate func(string) domain.FileSet
}

var _ Publisher = (*GitHub)(nil)

// NewGitHub builds a publisher and resolves the authenticated account. A
// missing or rejected token is returned as an error so callers can refuse to
// start.
func NewGitHub(ctx context.Context, opts Options) (*GitHub, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("github token required")
	}
	if opts.Generate == nil {
		return nil, errors.New("file set generator required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := github.NewClient(&http.Client{Timeout: timeout}).WithAuthToken(opts.Token)
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = base
	}
	p := newGitHub(client, opts.Logger, opts.Generate)
	if err := p.resolveLogin(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func newGitHub(client *github.Client, logger *slog.Logger, generate func(string) domain.FileSet) *GitHub {
	if logger == nil {
		logger = slog.Default()
	}
	p := &GitHub{client: client, logger: logger, generate: generate}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "github-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

func (p *GitHub) resolveLogin(ctx context.Context) error {
	var user *github.User
	err := p.call(StepResolveAccount, "", func() (*github.Response, error) {
		u, resp, err := p.client.Users.Get(ctx, "")
		user = u
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("resolve github account: %w", err)
	}
	p.login = user.GetLogin()
	if p.login == "" {
		return errors.New("resolve github account: empty login")
	}
	return nil
}

// Account returns the login repositories are created under.
func (p *GitHub) Account() string {
	return p.login
}

// Configured reports whether an account was resolved.
func (p *GitHub) Configured() bool {
	return p.login != ""
}

// Create makes a new public repository for task and commits every file.
// The requester email is accepted for parity with the webhook payload and is
// not written anywhere.
func (p *GitHub) Create(ctx context.Context, task string, files domain.FileSet, _ string) (domain.PublishResult, error) {
	name := domain.RepoName(task)

	var repo *github.Repository
	err := p.call(StepCreateRepository, name, func() (*github.Response, error) {
		r, resp, err := p.client.Repositories.Create(ctx, "", &github.Repository{
			Name:        github.String(name),
			Description: github.String("LLM-generated app for " + task),
			Private:     github.Bool(false),
			AutoInit:    github.Bool(false),
		})
		repo = r
		return resp, err
	})
	if err != nil {
		return domain.PublishResult{}, err
	}
	p.logger.Info("repository created", "task", task, "repo", repo.GetFullName())

	message := "Initial commit for " + task
	for _, path := range sortedPaths(files) {
		if err := p.createFile(ctx, name, path, files[path], message); err != nil {
			return domain.PublishResult{}, err
		}
	}

	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = defaultBranch
	}
	if err := p.enablePages(ctx, name, branch); err != nil {
		p.logger.Warn("pages enablement failed", "task", task, "repo", name, "error", err)
	}

	return p.result(ctx, name, repo.GetHTMLURL())
}

// Update rewrites the files of an existing repository for a later round.
// Files that exist are updated in place using their blob SHA; new files are
// created.
func (p *GitHub) Update(ctx context.Context, task, brief, _ string, round int) (domain.PublishResult, error) {
	name := domain.RepoName(task)

	var repo *github.Repository
	err := p.call(StepGetRepository, name, func() (*github.Response, error) {
		r, resp, err := p.client.Repositories.Get(ctx, p.login, name)
		repo = r
		return resp, err
	})
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
			return domain.PublishResult{}, fmt.Errorf("%w: %s/%s", ErrNotFound, p.login, name)
		}
		return domain.PublishResult{}, err
	}
	p.logger.Info("repository found", "task", task, "repo", repo.GetFullName(), "round", round)

	files := p.generate(brief)
	message := fmt.Sprintf("Round %d update: %s...", round, truncateRunes(brief, briefPreviewRune))
	for _, path := range sortedPaths(files) {
		sha, exists, err := p.fileSHA(ctx, name, path)
		if err != nil {
			return domain.PublishResult{}, err
		}
		if !exists {
			if err := p.createFile(ctx, name, path, files[path], message); err != nil {
				return domain.PublishResult{}, err
			}
			continue
		}
		if err := p.updateFile(ctx, name, path, files[path], message, sha); err != nil {
			return domain.PublishResult{}, err
		}
	}

	return p.result(ctx, name, repo.GetHTMLURL())
}

func (p *GitHub) createFile(ctx context.Context, repo, path, content, message string) error {
	err := p.call(StepWriteFile, path, func() (*github.Response, error) {
		_, resp, err := p.client.Repositories.CreateFile(ctx, p.login, repo, path, &github.RepositoryContentFileOptions{
			Message: github.String(message),
			Content: []byte(content),
		})
		return resp, err
	})
	if err == nil {
		p.logger.Debug("file created", "repo", repo, "path", path)
	}
	return err
}

func (p *GitHub) updateFile(ctx context.Context, repo, path, content, message, sha string) error {
	err := p.call(StepWriteFile, path, func() (*github.Response, error) {
		_, resp, err := p.client.Repositories.UpdateFile(ctx, p.login, repo, path, &github.RepositoryContentFileOptions{
			Message: github.String(message),
			Content: []byte(content),
			SHA:     github.String(sha),
		})
		return resp, err
	})
	if err == nil {
		p.logger.Debug("file updated", "repo", repo, "path", path)
	}
	return err
}

// fileSHA returns the blob SHA of path, or exists=false when it is absent.
func (p *GitHub) fileSHA(ctx context.Context, repo, path string) (string, bool, error) {
	var file *github.RepositoryContent
	err := p.call(StepGetContents, path, func() (*github.Response, error) {
		f, _, resp, err := p.client.Repositories.GetContents(ctx, p.login, repo, path, nil)
		file = f
		return resp, err
	})
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if file == nil || file.GetSHA() == "" {
		return "", false, &ProviderError{Op: StepGetContents, Path: path, Err: errors.New("path is not a file")}
	}
	return file.GetSHA(), true, nil
}

func (p *GitHub) enablePages(ctx context.Context, repo, branch string) error {
	return p.call(StepEnablePages, repo, func() (*github.Response, error) {
		_, resp, err := p.client.Repositories.EnablePages(ctx, p.login, repo, &github.Pages{
			BuildType: github.String(pagesBuildType),
			Source: &github.PagesSource{
				Branch: github.String(branch),
				Path:   github.String("/"),
			},
		})
		return resp, err
	})
}

func (p *GitHub) result(ctx context.Context, repo, htmlURL string) (domain.PublishResult, error) {
	var commits []*github.RepositoryCommit
	err := p.call(StepLatestCommit, repo, func() (*github.Response, error) {
		c, resp, err := p.client.Repositories.ListCommits(ctx, p.login, repo, &github.CommitsListOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		commits = c
		return resp, err
	})
	if err != nil {
		return domain.PublishResult{}, err
	}
	if len(commits) == 0 {
		return domain.PublishResult{}, &ProviderError{Op: StepLatestCommit, Path: repo, Err: errors.New("repository has no commits")}
	}
	return domain.PublishResult{
		RepoURL:   htmlURL,
		PagesURL:  PagesURL(p.login, repo),
		CommitSHA: commits[0].GetSHA(),
	}, nil
}

// call runs one provider request through the circuit breaker. Only transport
// failures and 5xx responses count against the breaker.
func (p *GitHub) call(step Step, path string, fn func() (*github.Response, error)) error {
	var (
		status  int
		callErr error
	)
	_, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := fn()
		if resp != nil && resp.Response != nil {
			status = resp.StatusCode
		}
		callErr = err
		if err != nil && status != 0 && status < http.StatusInternalServerError {
			return nil, nil
		}
		return nil, err
	})
	if err == nil {
		err = callErr
	}
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		recordStepFailure(step)
	}
	return &ProviderError{Op: step, Path: path, Status: status, Err: err}
}

// PagesURL derives the hosted pages address; it is never verified.
func PagesURL(login, repo string) string {
	return fmt.Sprintf("https://%s.github.io/%s", login, repo)
}

func sortedPaths(files domain.FileSet) []string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
