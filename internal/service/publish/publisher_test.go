package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-github/v66/github"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/pagesmith/internal/domain"
)

type fileWrite struct {
	Repo    string
	Path    string
	Message string
	SHA     string
	Content string
}

type fakeGitHub struct {
	mu          sync.Mutex
	login       string
	auth        string
	repos       map[string]bool
	files       map[string]map[string]string
	writes      []fileWrite
	pagesCalls  int
	pagesStatus int
	failWrite   string
	created     map[string]any
	repoStatus  int
	repoGets    int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		login: "octo",
		repos: map[string]bool{},
		files: map[string]map[string]string{},
	}
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.mu.Unlock()
		writeFakeJSON(w, http.StatusOK, map[string]any{"login": f.login})
	})
	mux.HandleFunc("POST /user/repos", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		name, _ := body["name"].(string)
		f.mu.Lock()
		f.repos[name] = true
		f.created = body
		f.mu.Unlock()
		writeFakeJSON(w, http.StatusCreated, f.repoJSON(name))
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("repo")
		f.mu.Lock()
		f.repoGets++
		exists, status := f.repos[name], f.repoStatus
		f.mu.Unlock()
		if status != 0 {
			writeFakeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		if !exists {
			writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeFakeJSON(w, http.StatusOK, f.repoJSON(name))
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		repo, path := r.PathValue("repo"), r.PathValue("path")
		f.mu.Lock()
		sha, ok := f.files[repo][path]
		f.mu.Unlock()
		if !ok {
			writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{"type": "file", "name": path, "path": path, "sha": sha})
	})
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		repo, path := r.PathValue("repo"), r.PathValue("path")
		var body struct {
			Message string `json:"message"`
			Content []byte `json:"content"`
			SHA     string `json:"sha"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if path == f.failWrite {
			writeFakeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}
		f.writes = append(f.writes, fileWrite{Repo: repo, Path: path, Message: body.Message, SHA: body.SHA, Content: string(body.Content)})
		if f.files[repo] == nil {
			f.files[repo] = map[string]string{}
		}
		sha := fmt.Sprintf("blob-%d", len(f.writes))
		f.files[repo][path] = sha
		writeFakeJSON(w, http.StatusCreated, map[string]any{
			"content": map[string]any{"path": path, "sha": sha},
			"commit":  map[string]any{"sha": fmt.Sprintf("commit-%d", len(f.writes))},
		})
	})
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pagesCalls++
		status := f.pagesStatus
		f.mu.Unlock()
		if status != 0 {
			writeFakeJSON(w, status, map[string]string{"message": "pages unavailable"})
			return
		}
		writeFakeJSON(w, http.StatusCreated, map[string]any{"status": "queued"})
	})
	mux.HandleFunc("GET /repos/{owner}/{repo}/commits", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := len(f.writes)
		f.mu.Unlock()
		writeFakeJSON(w, http.StatusOK, []map[string]any{{"sha": fmt.Sprintf("commit-%d", n)}})
	})
	return mux
}

func (f *fakeGitHub) failRepoGets(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repoStatus = status
}

func (f *fakeGitHub) repoGetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repoGets
}

func (f *fakeGitHub) repoJSON(name string) map[string]any {
	return map[string]any{
		"name":           name,
		"full_name":      f.login + "/" + name,
		"html_url":       "https://github.com/" + f.login + "/" + name,
		"default_branch": "main",
	}
}

func writeFakeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func stubFiles(brief string) domain.FileSet {
	return domain.FileSet{
		"index.html": "<p>" + brief + "</p>",
		"README.md":  "# readme",
	}
}

func newTestPublisher(t *testing.T, fake *fakeGitHub) *GitHub {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	p, err := NewGitHub(context.Background(), Options{
		Token:    "test-token",
		BaseURL:  srv.URL,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Generate: stubFiles,
	})
	require.NoError(t, err)
	return p
}

func TestNewGitHubResolvesAccount(t *testing.T) {
	fake := newFakeGitHub()
	p := newTestPublisher(t, fake)

	assert.Equal(t, "octo", p.Account())
	assert.True(t, p.Configured())
	assert.Equal(t, "Bearer test-token", fake.auth)
}

func TestNewGitHubRequiresToken(t *testing.T) {
	_, err := NewGitHub(context.Background(), Options{Generate: stubFiles})
	require.Error(t, err)
}

func TestNewGitHubRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
	}))
	defer srv.Close()

	_, err := NewGitHub(context.Background(), Options{Token: "bad", BaseURL: srv.URL, Generate: stubFiles})
	require.Error(t, err)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StepResolveAccount, perr.Op)
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
}

func TestCreatePublishesFilesInPathOrder(t *testing.T) {
	fake := newFakeGitHub()
	p := newTestPublisher(t, fake)

	files := domain.FileSet{
		"index.html": "<html></html>",
		"README.md":  "# abc",
		"LICENSE":    "MIT",
	}
	res, err := p.Create(context.Background(), "abc_1", files, "dev@example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/octo/llm-app-abc-1", res.RepoURL)
	assert.Equal(t, "https://octo.github.io/llm-app-abc-1", res.PagesURL)
	assert.Equal(t, "commit-3", res.CommitSHA)

	assert.Equal(t, "llm-app-abc-1", fake.created["name"])
	assert.Equal(t, "LLM-generated app for abc_1", fake.created["description"])
	assert.Equal(t, false, fake.created["private"])
	assert.Equal(t, false, fake.created["auto_init"])

	require.Len(t, fake.writes, 3)
	paths := []string{fake.writes[0].Path, fake.writes[1].Path, fake.writes[2].Path}
	assert.Equal(t, []string{"LICENSE", "README.md", "index.html"}, paths)
	for _, w := range fake.writes {
		assert.Equal(t, "Initial commit for abc_1", w.Message)
		assert.Equal(t, files[w.Path], w.Content)
		assert.Empty(t, w.SHA)
	}
	assert.Equal(t, 1, fake.pagesCalls)
}

func TestCreateToleratesPagesFailure(t *testing.T) {
	fake := newFakeGitHub()
	fake.pagesStatus = http.StatusUnprocessableEntity
	p := newTestPublisher(t, fake)

	res, err := p.Create(context.Background(), "abc_1", stubFiles("hi"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://octo.github.io/llm-app-abc-1", res.PagesURL)
	assert.Equal(t, 1, fake.pagesCalls)
}

func TestCreateStopsOnFileWriteFailure(t *testing.T) {
	fake := newFakeGitHub()
	fake.failWrite = "index.html"
	p := newTestPublisher(t, fake)

	_, err := p.Create(context.Background(), "abc_1", stubFiles("hi"), "")
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StepWriteFile, perr.Op)
	assert.Equal(t, "index.html", perr.Path)
	assert.Equal(t, http.StatusInternalServerError, perr.Status)
	assert.True(t, perr.Fatal())

	require.Len(t, fake.writes, 1)
	assert.Equal(t, "README.md", fake.writes[0].Path)
	assert.Zero(t, fake.pagesCalls)
}

func TestUpdateUnknownRepository(t *testing.T) {
	fake := newFakeGitHub()
	p := newTestPublisher(t, fake)

	_, err := p.Update(context.Background(), "ghost", "brief", "", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, fake.writes)
}

func TestUpdateRewritesExistingAndCreatesMissing(t *testing.T) {
	fake := newFakeGitHub()
	fake.repos["llm-app-abc-1"] = true
	fake.files["llm-app-abc-1"] = map[string]string{"index.html": "old-index"}
	p := newTestPublisher(t, fake)

	res, err := p.Update(context.Background(), "abc_1", "make it blue", "", 2)
	require.NoError(t, err)
	assert.Equal(t, "commit-2", res.CommitSHA)
	assert.Equal(t, "https://octo.github.io/llm-app-abc-1", res.PagesURL)

	require.Len(t, fake.writes, 2)
	assert.Equal(t, "README.md", fake.writes[0].Path)
	assert.Empty(t, fake.writes[0].SHA)
	assert.Equal(t, "index.html", fake.writes[1].Path)
	assert.Equal(t, "old-index", fake.writes[1].SHA)
	assert.Equal(t, "<p>make it blue</p>", fake.writes[1].Content)
	for _, w := range fake.writes {
		assert.Equal(t, "Round 2 update: make it blue...", w.Message)
	}
	assert.Zero(t, fake.pagesCalls)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 50))
	assert.Equal(t, "héllo", truncateRunes("héllo wörld", 5))
}

func TestStepFatal(t *testing.T) {
	for _, step := range []Step{StepResolveAccount, StepCreateRepository, StepGetRepository, StepGetContents, StepWriteFile, StepLatestCommit} {
		assert.True(t, StepFatal(step), step)
	}
	assert.False(t, StepFatal(StepEnablePages))
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{Op: StepWriteFile, Path: "index.html", Status: 500, Err: errors.New("boom")}
	assert.Equal(t, "github write_file index.html (status 500): boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	fake := newFakeGitHub()
	p := newTestPublisher(t, fake)

	for i := 0; i < 6; i++ {
		_, err := p.Update(context.Background(), "ghost", "brief", "", 2)
		require.ErrorIs(t, err, ErrNotFound)
	}
	fake.failRepoGets(http.StatusUnprocessableEntity)
	for i := 0; i < 6; i++ {
		_, err := p.Update(context.Background(), "ghost", "brief", "", 2)
		var perr *ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, http.StatusUnprocessableEntity, perr.Status)
	}

	assert.Equal(t, gobreaker.StateClosed, p.breaker.State())
	assert.Equal(t, 12, fake.repoGetCount())
}

func TestBreakerOpensAfterConsecutiveServerErrors(t *testing.T) {
	fake := newFakeGitHub()
	fake.repoStatus = http.StatusInternalServerError
	p := newTestPublisher(t, fake)

	for i := 0; i < 5; i++ {
		_, err := p.Update(context.Background(), "abc_1", "brief", "", 2)
		var perr *ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, http.StatusInternalServerError, perr.Status)
	}
	assert.Equal(t, gobreaker.StateOpen, p.breaker.State())

	_, err := p.Update(context.Background(), "abc_1", "brief", "", 2)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StepGetRepository, perr.Op)
	assert.True(t, perr.Fatal())
	assert.Equal(t, 5, fake.repoGetCount())
}

func TestBreakerOpensAfterTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := github.NewClient(nil)
	base, err := client.BaseURL.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	p := newGitHub(client, slog.New(slog.NewTextHandler(io.Discard, nil)), stubFiles)
	p.login = "octo"

	for i := 0; i < 5; i++ {
		_, err := p.Update(context.Background(), "abc_1", "brief", "", 2)
		var perr *ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Zero(t, perr.Status)
	}

	_, err = p.Update(context.Background(), "abc_1", "brief", "", 2)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestStepFailureMetricSkipsNotFound(t *testing.T) {
	initMetrics()
	getRepo := stepFailures.WithLabelValues(string(StepGetRepository))

	fake := newFakeGitHub()
	p := newTestPublisher(t, fake)

	before := testutil.ToFloat64(getRepo)
	_, err := p.Update(context.Background(), "ghost", "brief", "", 2)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before, testutil.ToFloat64(getRepo))

	fake.failRepoGets(http.StatusBadGateway)
	_, err = p.Update(context.Background(), "ghost", "brief", "", 2)
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(getRepo))
}
