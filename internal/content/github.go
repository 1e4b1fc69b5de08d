// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
)

// Default GitHub endpoints.
const (
	DefaultAPIBaseURL = "https://api.github.com"
	DefaultRawBaseURL = "https://raw.githubusercontent.com"
)

// maxBodySize limits fetched bodies; repository files beyond this are not
// useful as chat attachments anyway.
const maxBodySize = 10 * 1024 * 1024

// GitHubClient lists and retrieves site content and repository files through
// the GitHub API, cache-first.
type GitHubClient struct {
	apiBaseURL string
	rawBaseURL string
	httpClient *http.Client
	cache      *cache.Cache

	// tokenFn supplies the personal-access token; empty means
	// unauthenticated requests against public endpoints.
	tokenFn func() string

	// limiter keeps request bursts under GitHub's unauthenticated quota.
	limiter *rate.Limiter
}

// NewGitHubClient creates a client over the shared cache. tokenFn may be nil.
func NewGitHubClient(c *cache.Cache, tokenFn func() string) *GitHubClient {
	if tokenFn == nil {
		tokenFn = func() string { return "" }
	}
	return &GitHubClient{
		apiBaseURL: DefaultAPIBaseURL,
		rawBaseURL: DefaultRawBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      c,
		tokenFn:    tokenFn,
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

// WithBaseURLs overrides the API and raw-content hosts. Intended for tests.
func (g *GitHubClient) WithBaseURLs(apiBaseURL, rawBaseURL string) *GitHubClient {
	g.apiBaseURL = strings.TrimSuffix(apiBaseURL, "/")
	g.rawBaseURL = strings.TrimSuffix(rawBaseURL, "/")
	return g
}

// RawBaseURL returns the raw-content host, used for source routing.
func (g *GitHubClient) RawBaseURL() string {
	return g.rawBaseURL
}

// headers returns the common request headers, attaching the token when set.
func (g *GitHubClient) headers() map[string]string {
	h := map[string]string{
		"Accept": "application/vnd.github.v3+json",
	}
	if token := g.tokenFn(); token != "" {
		h["Authorization"] = "token " + token
	}
	return h
}

// apiGet performs a rate-limited GET and returns the body of a 2xx response.
// Non-2xx statuses come back classified (rate-limit / not-found / generic).
func (g *GitHubClient) apiGet(ctx context.Context, url string, withHeaders bool) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if withHeaders {
		for k, v := range g.headers() {
			req.Header.Set(k, v)
		}
	}

	log.Printf("github: GET %s", req.URL.Path)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode)
	}
	return body, nil
}

// =============================================================================
// POSTS
// =============================================================================

// ghDirEntry is one entry of a contents-API directory listing.
type ghDirEntry struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	Content     string `json:"content"`
}

// FetchPosts lists the site's posts from the GitHub contents API, one request
// per configured post type fanned out in parallel. Entries are post
// directories; the "images" directory is skipped. Any per-type failure fails
// the whole listing so the caller can fall back to the sitemap.
func (g *GitHubClient) FetchPosts(ctx context.Context, settings config.Settings) ([]PostSummary, error) {
	timeID := cache.PostsTimeID("github")
	if !g.cache.IsExpired(timeID) {
		var posts []PostSummary
		if g.cache.GetJSON(cache.NSPostsList, &posts, "github") {
			return posts, nil
		}
	}

	results := make([][]PostSummary, len(settings.PostTypes))
	errs := make([]error, len(settings.PostTypes))

	var wg sync.WaitGroup
	for i, postType := range settings.PostTypes {
		wg.Add(1)
		go func(i int, postType string) {
			defer wg.Done()
			results[i], errs[i] = g.fetchPostType(ctx, settings, postType)
		}(i, postType)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var posts []PostSummary
	for _, r := range results {
		posts = append(posts, r...)
	}

	g.cache.SetJSON(cache.NSPostsList, posts, "github")
	g.cache.Touch(timeID)
	return posts, nil
}

// fetchPostType lists one content-type subdirectory.
func (g *GitHubClient) fetchPostType(ctx context.Context, settings config.Settings, postType string) ([]PostSummary, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s/%s?ref=%s",
		g.apiBaseURL, settings.Owner, settings.Repo, settings.ContentPath, postType, settings.Branch)

	body, err := g.apiGet(ctx, url, true)
	if err != nil {
		return nil, err
	}

	var entries []ghDirEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		// A file path yields an object, not an array; treat as no posts.
		return nil, nil
	}

	var posts []PostSummary
	for _, e := range entries {
		if e.Type != "dir" || e.Name == "images" {
			continue
		}
		path := fmt.Sprintf("%s/%s/%s/index.md", settings.ContentPath, postType, e.Name)
		posts = append(posts, PostSummary{
			URL:  fmt.Sprintf("%s/%s/%s/%s/%s", g.rawBaseURL, settings.Owner, settings.Repo, settings.Branch, path),
			Name: fmt.Sprintf("[%s] %s", postType, e.Name),
			Type: postType,
			Path: path,
		})
	}
	return posts, nil
}

// =============================================================================
// REPOSITORIES
// =============================================================================

// ghRepo is one entry of a repository listing.
type ghRepo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Language      string `json:"language"`
	UpdatedAt     string `json:"updated_at"`
	DefaultBranch string `json:"default_branch"`
	Fork          bool   `json:"fork"`
}

// FetchRepositories lists a user's repositories, newest-updated first. With a
// token configured the authenticated endpoint is used so private
// repositories appear.
func (g *GitHubClient) FetchRepositories(ctx context.Context, username string, includeForks bool) ([]RepoSummary, error) {
	timeID := cache.RepositoriesTimeID(username, includeForks)
	rType := "_owner"
	if includeForks {
		rType = "_all"
	}
	if !g.cache.IsExpired(timeID) {
		var repos []RepoSummary
		if g.cache.GetJSON(cache.NSRepositoriesList, &repos, username, rType) {
			return repos, nil
		}
	}

	path := fmt.Sprintf("users/%s/repos", username)
	if g.tokenFn() != "" {
		path = "user/repos"
	}
	repoType := "owner"
	if includeForks {
		repoType = "all"
	}
	url := fmt.Sprintf("%s/%s?sort=updated&per_page=100&type=%s", g.apiBaseURL, path, repoType)

	body, err := g.apiGet(ctx, url, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("user '%s' %w on GitHub", username, ErrNotFound)
		}
		return nil, err
	}

	var raw []ghRepo
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.New("invalid response from GitHub API")
	}

	repos := make([]RepoSummary, 0, len(raw))
	for _, r := range raw {
		if !includeForks && r.Fork {
			continue
		}
		desc := r.Description
		lang := r.Language
		if lang == "" {
			lang = "Unknown"
		}
		repos = append(repos, RepoSummary{
			Name:          r.Name,
			FullName:      r.FullName,
			Description:   desc,
			Language:      lang,
			UpdatedAt:     r.UpdatedAt,
			DefaultBranch: r.DefaultBranch,
		})
	}
	sort.SliceStable(repos, func(i, j int) bool {
		return repoUpdated(repos[i]).After(repoUpdated(repos[j]))
	})

	g.cache.SetJSON(cache.NSRepositoriesList, repos, username, rType)
	g.cache.Touch(timeID)
	return repos, nil
}

func repoUpdated(r RepoSummary) time.Time {
	t, err := time.Parse(time.RFC3339, r.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FetchRepositoryContent lists one directory of a repository, directories
// before files, each group sorted by name. Validity follows the parent
// repository list: the entry is served while either the all-repos or
// owner-repos group for the user is fresh.
func (g *GitHubClient) FetchRepositoryContent(ctx context.Context, username, repository, path string) ([]ContentItem, error) {
	fresh := !g.cache.IsExpired(cache.RepositoriesTimeID(username, true)) ||
		!g.cache.IsExpired(cache.RepositoriesTimeID(username, false))
	keyParts := []string{username, "_", repository, "_", cache.EncodeKeyPart(path)}
	if fresh {
		var items []ContentItem
		if g.cache.GetJSON(cache.NSRepositoryContent, &items, keyParts...) {
			return items, nil
		}
	}

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.apiBaseURL, username, repository, path)
	body, err := g.apiGet(ctx, url, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("path '%s' %w in repository '%s'", path, ErrNotFound, repository)
		}
		return nil, err
	}

	var entries []ghDirEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		// A file path returns a single object.
		var single ghDirEntry
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, errors.New("invalid response from GitHub API")
		}
		entries = []ghDirEntry{single}
	}

	items := make([]ContentItem, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" && e.Type != "dir" {
			continue
		}
		items = append(items, ContentItem{
			Name:        e.Name,
			Type:        e.Type,
			Path:        e.Path,
			Size:        e.Size,
			DownloadURL: e.DownloadURL,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Type != items[j].Type {
			return items[i].Type == "dir"
		}
		return items[i].Name < items[j].Name
	})

	g.cache.SetJSON(cache.NSRepositoryContent, items, keyParts...)
	return items, nil
}

// =============================================================================
// FILE AND POST CONTENT
// =============================================================================

// FetchFileContent retrieves one file's text. Raw-host URLs with a token
// configured route through the authenticated contents API so private
// repositories work; everything else is a plain GET. The routing decision is
// per request: the same call serves public and private repositories.
func (g *GitHubClient) FetchFileContent(ctx context.Context, fileURL string) (string, error) {
	fromGithub := strings.Contains(fileURL, g.rawBaseURL)

	if fromGithub && g.tokenFn() != "" {
		return g.fetchPrivateContent(ctx, fileURL)
	}

	body, err := g.apiGet(ctx, fileURL, fromGithub)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// fetchPrivateContent reads a file through the contents API and decodes its
// base64 payload.
func (g *GitHubClient) fetchPrivateContent(ctx context.Context, fileURL string) (string, error) {
	body, err := g.apiGet(ctx, g.privateAPIURL(fileURL), true)
	if err != nil {
		return "", err
	}

	var entry ghDirEntry
	if err := json.Unmarshal(body, &entry); err != nil || entry.Content == "" {
		return "", errors.New("empty content from GitHub API")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(entry.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode file content: %w", err)
	}
	return string(decoded), nil
}

// privateAPIURL maps a raw-content URL onto its contents-API equivalent.
func (g *GitHubClient) privateAPIURL(fileURL string) string {
	rest := strings.TrimPrefix(fileURL, g.rawBaseURL+"/")
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) < 4 {
		return fileURL
	}
	owner, repo, branch, path := parts[0], parts[1], parts[2], parts[3]
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", g.apiBaseURL, owner, repo, path, branch)
}

// FetchPostContent retrieves one post's text, cache-first. GitHub-sourced
// posts are raw markdown; sitemap-sourced posts are HTML reduced to the
// configured content element's text.
func (g *GitHubClient) FetchPostContent(ctx context.Context, postURL string, settings config.Settings) (string, error) {
	source := "sitemap"
	if strings.Contains(postURL, g.rawBaseURL) {
		source = "github"
	}

	keyParts := []string{source, "_", cache.EncodeKeyPart(postURL)}
	if !g.cache.IsExpired(cache.PostsTimeID(source)) {
		var cached string
		if g.cache.GetJSON(cache.NSPostContent, &cached, keyParts...) {
			return cached, nil
		}
	}

	raw, err := g.FetchFileContent(ctx, postURL)
	if err != nil {
		return "", err
	}

	processed := raw
	if source == "sitemap" {
		processed = ExtractContent(raw, settings.ContentSelector)
	}

	g.cache.SetJSON(cache.NSPostContent, processed, keyParts...)
	return processed, nil
}
