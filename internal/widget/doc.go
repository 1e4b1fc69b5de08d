// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package widget is the state manager at the heart of the chat widget. It
// owns the single WidgetState record, sequences asynchronous loads against
// the provider adapter and content fetchers, enforces selection limits,
// drives the chat-turn lifecycle and history archival, and mirrors derived
// state back into the persistent cache.
//
// The presentation layer is an external collaborator: it registers an
// OnChange callback and renders each State snapshot it receives. Nothing
// flows backward from rendering into state except through the transition
// methods defined here.
package widget
