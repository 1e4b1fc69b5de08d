// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides typed accessors over the flat string key-value
// store, with per-resource-group expiry bookkeeping.
//
// Expiry is tracked in a side timestamps table keyed by logical resource id
// (for example "posts_github" or "repositories_<user>_all"), decoupled from
// the data keys. One list-level timestamp validates every derived per-item
// entry fetched under it: a post-content entry is only served while its
// parent post list is fresh.
//
// Every operation is total. Read or write failures (store quota, corrupt
// JSON, missing keys) degrade to cache-miss behavior and never reach the
// caller, so cache faults cannot block the chat or browse workflows.
//
// Credentials (per-provider API keys, GitHub token) are stored encrypted at
// rest once EnableEncryption has been called with the site-owner passphrase;
// see crypt.go.
package cache
