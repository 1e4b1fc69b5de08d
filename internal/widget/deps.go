// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package widget

import (
	"context"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
	"github.com/jeranaias/sitechat/internal/content"
	"github.com/jeranaias/sitechat/internal/provider"
)

// ChatClient is the provider adapter surface the orchestrator depends on.
// Satisfied by *provider.Client.
type ChatClient interface {
	SendChat(ctx context.Context, apiKey, providerID, modelID string, messages []provider.Message) (*provider.ChatResult, error)
	FetchOpenRouterModels(ctx context.Context) ([]provider.ModelInfo, error)
}

// GithubFetcher is the primary content-discovery surface. Satisfied by
// *content.GitHubClient.
type GithubFetcher interface {
	FetchPosts(ctx context.Context, settings config.Settings) ([]content.PostSummary, error)
	FetchRepositories(ctx context.Context, username string, includeForks bool) ([]content.RepoSummary, error)
	FetchRepositoryContent(ctx context.Context, username, repository, path string) ([]content.ContentItem, error)
	FetchPostContent(ctx context.Context, postURL string, settings config.Settings) (string, error)
	FetchFileContent(ctx context.Context, fileURL string) (string, error)
}

// SitemapFetcher is the fallback post-discovery surface. Satisfied by
// *content.SitemapClient.
type SitemapFetcher interface {
	FetchPosts(ctx context.Context, c *cache.Cache, settings config.Settings) ([]content.PostSummary, error)
}
