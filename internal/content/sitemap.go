// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package content

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/jeranaias/sitechat/internal/cache"
	"github.com/jeranaias/sitechat/internal/config"
)

// SitemapClient discovers posts from the site's own sitemap. It is the
// fallback source when the GitHub listing fails: posts it returns point at
// published HTML pages rather than raw markdown.
type SitemapClient struct {
	httpClient *http.Client

	// siteURL is the base the sitemap path resolves against, normally the
	// origin of the page embedding the widget.
	siteURL string
}

// NewSitemapClient creates a client resolving sitemap paths against siteURL.
func NewSitemapClient(siteURL string) *SitemapClient {
	return &SitemapClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		siteURL:    siteURL,
	}
}

// sitemapURLSet is the urlset document of a standard XML sitemap.
type sitemapURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// FetchPosts parses the sitemap and keeps the page URLs whose path contains a
// configured post type segment. The slug is the last path element.
func (s *SitemapClient) FetchPosts(ctx context.Context, c *cache.Cache, settings config.Settings) ([]PostSummary, error) {
	timeID := cache.PostsTimeID("sitemap")
	if !c.IsExpired(timeID) {
		var posts []PostSummary
		if c.GetJSON(cache.NSPostsList, &posts, "sitemap") {
			return posts, nil
		}
	}

	sitemapURL, err := s.resolve(settings.SitemapXMLPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Printf("sitemap: GET %s", req.URL.Path)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap: %w", err)
	}

	var posts []PostSummary
	for _, postType := range settings.PostTypes {
		marker := "/" + postType + "/"
		for _, u := range set.URLs {
			parsed, err := url.Parse(u.Loc)
			if err != nil {
				continue
			}
			path := strings.TrimSuffix(parsed.Path, "/")
			if !strings.Contains(path+"/", marker) {
				continue
			}
			slug := path[strings.LastIndex(path, "/")+1:]
			if slug == "" || slug == postType {
				continue
			}
			posts = append(posts, PostSummary{
				URL:  u.Loc,
				Name: fmt.Sprintf("[%s] %s", postType, slug),
				Type: postType,
				Path: parsed.Path,
			})
		}
	}

	c.SetJSON(cache.NSPostsList, posts, "sitemap")
	c.Touch(timeID)
	return posts, nil
}

// resolve joins a possibly relative sitemap path with the site base URL.
func (s *SitemapClient) resolve(sitemapPath string) (string, error) {
	base, err := url.Parse(s.siteURL)
	if err != nil {
		return "", fmt.Errorf("invalid site URL: %w", err)
	}
	ref, err := url.Parse(sitemapPath)
	if err != nil {
		return "", fmt.Errorf("invalid sitemap path: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// =============================================================================
// HTML EXTRACTION
// =============================================================================

// ExtractContent reduces an HTML page to the text of the first element
// matching the class selector (".post__content" matches class="post__content").
// Lines are trimmed and blank lines dropped. An empty selector, or no match,
// falls back to the whole document's text.
func ExtractContent(page, selector string) string {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return page
	}

	target := root
	if class := strings.TrimPrefix(selector, "."); class != "" {
		if n := findByClass(root, class); n != nil {
			target = n
		}
	}

	var sb strings.Builder
	collectText(target, &sb)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// findByClass walks the tree for the first element carrying the class token.
func findByClass(n *html.Node, class string) *html.Node {
	if n.Type == html.ElementNode {
		for _, attr := range n.Attr {
			if attr.Key != "class" {
				continue
			}
			for _, token := range strings.Fields(attr.Val) {
				if token == class {
					return n
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

// collectText appends the text content of n, skipping script and style.
func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
		if n.Type == html.ElementNode && isBlock(c) {
			sb.WriteString("\n")
		}
	}
}

// isBlock reports whether the node renders as its own line.
func isBlock(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "pre", "tr", "section", "article", "ul", "ol":
		return true
	}
	return false
}
