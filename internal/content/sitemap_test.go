// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package content

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/kvstore"
)

func TestSitemapFetchPosts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/</loc></url>
  <url><loc>%[1]s/blog/</loc></url>
  <url><loc>%[1]s/blog/first-post/</loc></url>
  <url><loc>%[1]s/project/widget-build</loc></url>
  <url><loc>%[1]s/about/</loc></url>
</urlset>`, "http://example.com")
	}))
	defer server.Close()

	s := NewSitemapClient(server.URL + "/entries/page/index")
	c := cache.New(kvstore.NewMemoryStore(0))

	settings := testSettings()
	settings.SitemapXMLPath = "/sitemap.xml"

	posts, err := s.FetchPosts(context.Background(), c, settings)
	if err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}

	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2: %+v", len(posts), posts)
	}
	// postTypes order is project, blog.
	if posts[0].Name != "[project] widget-build" {
		t.Fatalf("posts[0].Name = %q", posts[0].Name)
	}
	if posts[1].Name != "[blog] first-post" {
		t.Fatalf("posts[1].Name = %q", posts[1].Name)
	}
	if posts[1].URL != "http://example.com/blog/first-post/" {
		t.Fatalf("posts[1].URL = %q", posts[1].URL)
	}
}

func TestSitemapFetchPosts_CacheFirst(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `<urlset><url><loc>http://example.com/blog/one/</loc></url></urlset>`)
	}))
	defer server.Close()

	s := NewSitemapClient(server.URL)
	c := cache.New(kvstore.NewMemoryStore(0))
	settings := testSettings()
	settings.SitemapXMLPath = "/sitemap.xml"

	if _, err := s.FetchPosts(context.Background(), c, settings); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := s.FetchPosts(context.Background(), c, settings); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("network called %d times, want 1", calls.Load())
	}
}

func TestSitemapFetchPosts_RelativePathResolution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			t.Errorf("resolved to %s, want /sitemap.xml", r.URL.Path)
		}
		fmt.Fprint(w, `<urlset></urlset>`)
	}))
	defer server.Close()

	// "../sitemap.xml" relative to /admin/index resolves to /sitemap.xml.
	s := NewSitemapClient(server.URL + "/admin/index")
	c := cache.New(kvstore.NewMemoryStore(0))
	settings := testSettings() // default SitemapXMLPath is ../sitemap.xml

	if _, err := s.FetchPosts(context.Background(), c, settings); err != nil {
		t.Fatalf("FetchPosts: %v", err)
	}
}

// =============================================================================
// HTML EXTRACTION
// =============================================================================

func TestExtractContent(t *testing.T) {
	page := `<html><head><style>.x{}</style></head><body>
		<div class="header">Menu</div>
		<article class="post post__content">
			<h1>Title</h1>
			<p>One   two.</p>
			<script>ignore()</script>
			<p></p>
			<p>Three.</p>
		</article>
	</body></html>`

	got := ExtractContent(page, ".post__content")
	want := "Title\nOne   two.\nThree."
	if got != want {
		t.Fatalf("ExtractContent = %q, want %q", got, want)
	}
}

func TestExtractContent_NoMatchFallsBackToDocument(t *testing.T) {
	got := ExtractContent("<p>only text</p>", ".missing")
	if got != "only text" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractContent_InvalidSelectorKeepsDocumentText(t *testing.T) {
	got := ExtractContent("<div><p>a</p><p>b</p></div>", "")
	if got != "a\nb" {
		t.Fatalf("got %q", got)
	}
}
