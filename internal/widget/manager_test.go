// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
	"github.com/jeranaias/sitechat/internal/content"
	"github.com/jeranaias/sitechat/internal/kvstore"
	"github.com/jeranaias/sitechat/internal/provider"
)

// =============================================================================
// FAKES
// =============================================================================

type chatRequest struct {
	apiKey     string
	providerID string
	modelID    string
	messages   []provider.Message
}

type fakeChat struct {
	mu       sync.Mutex
	requests []chatRequest
	result   *provider.ChatResult
	err      error
	models   []provider.ModelInfo
}

func (f *fakeChat) SendChat(_ context.Context, apiKey, providerID, modelID string, messages []provider.Message) (*provider.ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]provider.Message, len(messages))
	copy(msgs, messages)
	f.requests = append(f.requests, chatRequest{apiKey, providerID, modelID, msgs})
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		r := *f.result
		return &r, nil
	}
	return &provider.ChatResult{AssistantMessage: "ok", TotalTokenCount: 1}, nil
}

func (f *fakeChat) FetchOpenRouterModels(context.Context) ([]provider.ModelInfo, error) {
	if f.models == nil {
		return nil, errors.New("no catalog")
	}
	return f.models, nil
}

func (f *fakeChat) lastRequest(t *testing.T) chatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no chat requests recorded")
	}
	return f.requests[len(f.requests)-1]
}

type fakeGithub struct {
	mu sync.Mutex

	posts    []content.PostSummary
	postsErr error

	repos    []content.RepoSummary
	reposErr error

	items    []content.ContentItem
	itemsErr error

	postContent map[string]string
	fileContent map[string]string
	fileErrs    map[string]error
	contentErr  error

	postCalls  int
	repoCalls  int
	itemCalls  int
	itemsPaths []string
}

func (f *fakeGithub) FetchPosts(context.Context, config.Settings) ([]content.PostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	return f.posts, f.postsErr
}

func (f *fakeGithub) FetchRepositories(context.Context, string, bool) ([]content.RepoSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repoCalls++
	return f.repos, f.reposErr
}

func (f *fakeGithub) FetchRepositoryContent(_ context.Context, _, _, path string) ([]content.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCalls++
	f.itemsPaths = append(f.itemsPaths, path)
	return f.items, f.itemsErr
}

func (f *fakeGithub) FetchPostContent(_ context.Context, postURL string, _ config.Settings) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.postContent[postURL], nil
}

func (f *fakeGithub) FetchFileContent(_ context.Context, fileURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fileErrs[fileURL]; err != nil {
		return "", err
	}
	if f.contentErr != nil {
		return "", f.contentErr
	}
	return f.fileContent[fileURL], nil
}

type fakeSitemap struct {
	mu    sync.Mutex
	posts []content.PostSummary
	err   error
	calls int
}

func (f *fakeSitemap) FetchPosts(context.Context, *cache.Cache, config.Settings) ([]content.PostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.posts, f.err
}

type fixture struct {
	m       *Manager
	cache   *cache.Cache
	chat    *fakeChat
	github  *fakeGithub
	sitemap *fakeSitemap
}

func newFixture() *fixture {
	c := cache.New(kvstore.NewMemoryStore(0))
	chat := &fakeChat{}
	gh := &fakeGithub{}
	sm := &fakeSitemap{}
	return &fixture{
		m:       NewManager(c, chat, gh, sm, "test-post"),
		cache:   c,
		chat:    chat,
		github:  gh,
		sitemap: sm,
	}
}

// unlock populates the owner setting so credential entry works, then stores a
// provider API key.
func (f *fixture) unlock(t *testing.T) {
	t.Helper()
	f.m.ApplySettings(config.Settings{Owner: "alice", Repo: "site"})
	f.m.SetAPIKeyInput("sk-test")
	f.m.ConfirmAPIKey()
	if f.m.Snapshot().APIKey != "sk-test" {
		t.Fatal("fixture failed to store the API key")
	}
}

// =============================================================================
// TAB ACTIVATION
// =============================================================================

func TestSetActiveTab_LazyLoadIsIdempotent(t *testing.T) {
	f := newFixture()
	f.github.posts = []content.PostSummary{{Name: "[blog] a", URL: "u"}}

	ctx := context.Background()
	f.m.SetActiveTab(ctx, TabContent)
	f.m.SetActiveTab(ctx, TabChat)
	f.m.SetActiveTab(ctx, TabContent)

	if f.github.postCalls != 1 {
		t.Fatalf("posts fetched %d times, want 1", f.github.postCalls)
	}
	if got := f.m.Snapshot().Posts; len(got) != 1 {
		t.Fatalf("posts = %+v", got)
	}
}

func TestSetActiveTab_CodeLoadsRepositories(t *testing.T) {
	f := newFixture()
	f.github.repos = []content.RepoSummary{{Name: "site"}}

	f.m.SetActiveTab(context.Background(), TabCode)

	if f.github.repoCalls != 1 {
		t.Fatalf("repos fetched %d times, want 1", f.github.repoCalls)
	}
}

// =============================================================================
// SELECTION CAPS
// =============================================================================

func TestSelectPosts_CapRejectsNotTruncates(t *testing.T) {
	f := newFixture()

	three := []string{"a", "b", "c"}
	f.m.SelectPosts(three)
	f.m.SelectPosts([]string{"a", "b", "c", "d"})

	got := f.m.Snapshot().SelectedPosts
	if len(got) != 3 {
		t.Fatalf("selection = %v, want the prior 3 unchanged", got)
	}
	for i, name := range three {
		if got[i] != name {
			t.Fatalf("selection mutated: %v", got)
		}
	}
}

func TestSelectCodeFiles_CapRejectsNotTruncates(t *testing.T) {
	f := newFixture()

	ten := []string{"f0", "f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8", "f9"}
	f.m.SelectCodeFiles(ten)
	f.m.SelectCodeFiles(append(append([]string{}, ten...), "f10"))

	got := f.m.Snapshot().SelectedCodeFiles
	if len(got) != 10 {
		t.Fatalf("selection has %d entries, want the prior 10 unchanged", len(got))
	}
}

func TestTogglePostSelection(t *testing.T) {
	f := newFixture()

	f.m.SelectPosts([]string{"a", "b", "c"})
	f.m.TogglePostSelection("d")
	if got := f.m.Snapshot().SelectedPosts; len(got) != 3 {
		t.Fatalf("toggle past the cap must be rejected: %v", got)
	}

	f.m.TogglePostSelection("b")
	f.m.TogglePostSelection("d")
	got := f.m.Snapshot().SelectedPosts
	if len(got) != 3 || got[0] != "a" || got[1] != "c" || got[2] != "d" {
		t.Fatalf("selection = %v", got)
	}
}

func TestToggleCodeFileSelection_PersistsSession(t *testing.T) {
	f := newFixture()

	f.m.ToggleCodeFileSelection("main.go")

	if got := f.m.Snapshot().SelectedCodeFiles; len(got) != 1 || got[0] != "main.go" {
		t.Fatalf("selection = %v", got)
	}
	cs, ok := f.cache.CodeSessionSnapshot()
	if !ok || len(cs.SelectedCodeFiles) != 1 {
		t.Fatalf("persisted session = %+v", cs)
	}
}

// =============================================================================
// POSTS FALLBACK CHAIN
// =============================================================================

func TestLoadPosts_PrimaryWins(t *testing.T) {
	f := newFixture()
	f.github.posts = []content.PostSummary{{Name: "[blog] a"}}

	f.m.LoadPosts(context.Background())

	s := f.m.Snapshot()
	if len(s.Posts) != 1 || s.Posts[0].Name != "[blog] a" {
		t.Fatalf("posts = %+v", s.Posts)
	}
	if s.PostsError != "" {
		t.Fatalf("unexpected error %q", s.PostsError)
	}
	if f.sitemap.calls != 0 {
		t.Fatal("fallback must not run when the primary succeeds")
	}
}

func TestLoadPosts_EmptyPrimaryFallsBack(t *testing.T) {
	f := newFixture()
	f.sitemap.posts = []content.PostSummary{{Name: "[blog] from-sitemap"}}

	f.m.LoadPosts(context.Background())

	s := f.m.Snapshot()
	if f.sitemap.calls != 1 {
		t.Fatal("empty primary listing must invoke the fallback")
	}
	if len(s.Posts) != 1 || s.Posts[0].Name != "[blog] from-sitemap" {
		t.Fatalf("posts = %+v", s.Posts)
	}
}

func TestLoadPosts_BothFailuresConcatenated(t *testing.T) {
	f := newFixture()
	f.github.postsErr = errors.New("rate limit exceeded")
	f.sitemap.err = errors.New("sitemap 404")

	f.m.LoadPosts(context.Background())

	s := f.m.Snapshot()
	if s.LoadingPosts {
		t.Fatal("loading flag stuck")
	}
	if !strings.Contains(s.PostsError, "rate limit exceeded") {
		t.Fatalf("primary failure missing from %q", s.PostsError)
	}
	if !strings.Contains(s.PostsError, "sitemap 404") {
		t.Fatalf("fallback failure missing from %q", s.PostsError)
	}
}

func TestLoadPosts_PrimaryErrorFallbackSucceeds(t *testing.T) {
	f := newFixture()
	f.github.postsErr = errors.New("boom")
	f.sitemap.posts = []content.PostSummary{{Name: "[blog] rescued"}}

	f.m.LoadPosts(context.Background())

	s := f.m.Snapshot()
	if len(s.Posts) != 1 {
		t.Fatalf("posts = %+v", s.Posts)
	}
	// The primary failure stays visible even though the fallback rescued the list.
	if !strings.Contains(s.PostsError, "GitHub API failed: boom") {
		t.Fatalf("PostsError = %q", s.PostsError)
	}
}

// =============================================================================
// CODE BROWSING
// =============================================================================

func TestSelectRepository_ResetsAndLoadsRoot(t *testing.T) {
	f := newFixture()
	f.github.items = []content.ContentItem{{Name: "src", Type: "dir", Path: "src"}}
	f.m.SelectCodeFiles([]string{"main.go"})

	f.m.SelectRepository(context.Background(), "site")

	s := f.m.Snapshot()
	if s.SelectedRepository != "site" || s.CurrentPath != "" {
		t.Fatalf("repo/path = %q/%q", s.SelectedRepository, s.CurrentPath)
	}
	if len(s.SelectedCodeFiles) != 0 {
		t.Fatal("file selection must reset on repository switch")
	}
	if len(s.RepositoryContent) != 1 {
		t.Fatalf("content = %+v", s.RepositoryContent)
	}
}

func TestNavigate_CoupledTransition(t *testing.T) {
	f := newFixture()
	f.github.items = []content.ContentItem{{Name: "a.go", Type: "file", Path: "src/a.go"}}
	f.m.SelectRepository(context.Background(), "site")

	f.m.NavigateToPath(context.Background(), "src")

	s := f.m.Snapshot()
	if s.CurrentPath != "src" {
		t.Fatalf("CurrentPath = %q", s.CurrentPath)
	}
	if got := f.github.itemsPaths[len(f.github.itemsPaths)-1]; got != "src" {
		t.Fatalf("reload path = %q, want src", got)
	}
	if cs, ok := f.cache.CodeSessionSnapshot(); !ok || cs.CurrentPath != "src" {
		t.Fatalf("persisted session = %+v", cs)
	}

	f.m.NavigateUp(context.Background())
	if got := f.m.Snapshot().CurrentPath; got != "" {
		t.Fatalf("after NavigateUp, CurrentPath = %q", got)
	}
}

func TestLoadRepositories_ErrorSurfaced(t *testing.T) {
	f := newFixture()
	f.github.reposErr = errors.New("user 'ghost' not found on GitHub")

	f.m.LoadRepositories(context.Background())

	s := f.m.Snapshot()
	if !strings.Contains(s.RepositoriesError, "ghost") {
		t.Fatalf("RepositoriesError = %q", s.RepositoriesError)
	}
	if s.LoadingRepositories {
		t.Fatal("loading flag stuck")
	}
}

// =============================================================================
// SETTINGS AND CREDENTIALS
// =============================================================================

func TestOwnerSetting_FollowsIntoUsername(t *testing.T) {
	f := newFixture()

	f.m.ApplySettings(config.Settings{Owner: "alice"})
	if got := f.m.Snapshot().Username; got != "alice" {
		t.Fatalf("Username = %q, want alice", got)
	}

	// Direct edit breaks the link permanently.
	f.m.SetUsername("bob")
	f.m.ApplySettings(config.Settings{Owner: "carol"})
	if got := f.m.Snapshot().Username; got != "bob" {
		t.Fatalf("Username = %q, want bob after direct edit", got)
	}
}

func TestCredentialGating(t *testing.T) {
	f := newFixture()

	if f.m.Snapshot().CredentialsUnlocked() {
		t.Fatal("credentials must start locked")
	}

	f.m.SetGithubToken("ghp_x")
	f.m.SetAPIKeyInput("sk-x")
	f.m.ConfirmAPIKey()

	s := f.m.Snapshot()
	if s.GithubToken != "" || s.APIKey != "" {
		t.Fatal("locked credential writes must be no-ops")
	}

	f.m.ApplySettings(config.Settings{Owner: "alice"})
	if !f.m.Snapshot().CredentialsUnlocked() {
		t.Fatal("owner setting must unlock credentials")
	}
	f.m.SetGithubToken("ghp_x")
	if f.m.Snapshot().GithubToken != "ghp_x" {
		t.Fatal("token write should succeed once unlocked")
	}
	if f.cache.GithubToken() != "ghp_x" {
		t.Fatal("token not persisted")
	}
}

func TestApplySettings_EnablesEncryption(t *testing.T) {
	f := newFixture()
	f.m.ApplySettings(config.Settings{Owner: "alice"})
	if !f.cache.EncryptionEnabled() {
		t.Fatal("owner setting must seed the credential cipher")
	}
}

// =============================================================================
// PROVIDER / MODEL SELECTION
// =============================================================================

func TestSetProvider_DefaultsModelAndPersists(t *testing.T) {
	f := newFixture()

	f.m.SetProvider(context.Background(), provider.OpenAI)

	s := f.m.Snapshot()
	if s.SelectedProvider != provider.OpenAI {
		t.Fatalf("provider = %q", s.SelectedProvider)
	}
	if s.SelectedModel != "gpt-4o-mini" {
		t.Fatalf("model = %q, want the provider's first model", s.SelectedModel)
	}

	sel, ok := f.cache.SelectedModelFor("test-post")
	if !ok || sel.Provider != provider.OpenAI || sel.Model != "gpt-4o-mini" {
		t.Fatalf("persisted selection = %+v", sel)
	}
}

func TestSetProvider_UnknownIgnored(t *testing.T) {
	f := newFixture()
	before := f.m.Snapshot().SelectedProvider
	f.m.SetProvider(context.Background(), "mystery")
	if got := f.m.Snapshot().SelectedProvider; got != before {
		t.Fatalf("provider changed to %q", got)
	}
}

func TestSetProvider_OpenRouterLoadsCatalog(t *testing.T) {
	f := newFixture()
	f.chat.models = []provider.ModelInfo{
		{ID: "z/model", Name: "Zeta"},
		{ID: "a/model", Name: "Alpha"},
	}

	f.m.SetProvider(context.Background(), provider.OpenRouter)

	s := f.m.Snapshot()
	if len(s.OpenRouterModels) != 2 {
		t.Fatalf("catalog = %+v", s.OpenRouterModels)
	}
	if s.OpenRouterModels[0].Name != "Alpha" {
		t.Fatal("catalog not sorted by display name")
	}
	if s.SelectedModel != "a/model" {
		t.Fatalf("model = %q, want the first catalog entry", s.SelectedModel)
	}
	if _, ok := f.cache.OpenRouterModels(); !ok {
		t.Fatal("catalog not cached")
	}
}

func TestMount_RestoresPersistedState(t *testing.T) {
	store := kvstore.NewMemoryStore(0)
	c := cache.New(store)
	c.SetWidgetSettings(config.Settings{Owner: "alice", Repo: "site"})
	c.EnableEncryption("alice")
	c.SetAPIKey(provider.OpenAI, "sk-persisted")
	c.SetSelectedModelFor("test-post", cache.SelectedModel{Provider: provider.OpenAI, Model: "o3"})
	c.SetMetaPrompt("remembered style")

	gh := &fakeGithub{}
	m := NewManager(c, &fakeChat{}, gh, &fakeSitemap{}, "test-post")
	m.Mount(context.Background())

	s := m.Snapshot()
	if s.SelectedProvider != provider.OpenAI || s.SelectedModel != "o3" {
		t.Fatalf("selection = %s/%s", s.SelectedProvider, s.SelectedModel)
	}
	if s.APIKey != "sk-persisted" || s.ShowAPIKeySection {
		t.Fatalf("api key not restored: %q / show=%v", s.APIKey, s.ShowAPIKeySection)
	}
	if s.MetaPrompt != "remembered style" {
		t.Fatalf("meta prompt = %q", s.MetaPrompt)
	}
	if s.Username != "alice" {
		t.Fatalf("username = %q", s.Username)
	}
}
