// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package content discovers and retrieves the attachable context the widget
// offers: prior writing samples (posts) and source files from GitHub
// repositories.
//
// Two backends exist. The primary lists posts through the GitHub contents
// API; the fallback parses the site's sitemap and extracts post text from the
// published HTML. Every listing and content call is cache-first: a fresh
// cache entry short-circuits the network entirely, and cache validity for
// per-item entries is tied to the parent list's expiry group (see the cache
// package).
//
// GitHub errors are classified so the orchestrator can tell a rate limit
// (HTTP 403) from a missing user or path (HTTP 404) from everything else.
package content
