// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package content

import (
	"errors"
	"fmt"
)

// PostSummary is one attachable writing sample discovered from either source.
type PostSummary struct {
	URL  string `json:"url"`
	Name string `json:"name"` // display name: "[type] slug"
	Type string `json:"type"` // the post type it was listed under
	Path string `json:"path"`
}

// RepoSummary is one repository in the browse list.
type RepoSummary struct {
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	Description   string `json:"description"`
	Language      string `json:"language"`
	UpdatedAt     string `json:"updatedAt"`
	DefaultBranch string `json:"defaultBranch"`
}

// ContentItem is one entry in a repository directory listing. Directories are
// navigable; files are selectable.
type ContentItem struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "file" or "dir"
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl"`
}

// Error categories the orchestrator dispatches on.
var (
	// ErrRateLimited is an HTTP 403 from the GitHub API.
	ErrRateLimited = errors.New("GitHub API rate limit exceeded. Please try again later or use a GitHub token for higher limits")

	// ErrNotFound is an HTTP 404 from the GitHub API.
	ErrNotFound = errors.New("not found")
)

// StatusError is any other non-2xx response.
type StatusError struct {
	Status int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Status)
}

// classifyStatus maps a non-2xx status onto the error taxonomy.
func classifyStatus(status int) error {
	switch status {
	case 403:
		return ErrRateLimited
	case 404:
		return ErrNotFound
	default:
		return &StatusError{Status: status}
	}
}
