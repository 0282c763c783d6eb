// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/poiesic/newsrag/core"
)

const (
	DefaultFeedURL = "https://feeds.bbci.co.uk/news/rss.xml"

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 8 << 20
	userAgent      = "newsrag/1.0 (+https://github.com/poiesic/newsrag)"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
	Content     string `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
}

// RSS fetches an RSS 2.0 feed over HTTP. Items whose description is shorter
// than MinContentLength are completed by extracting the linked page with
// readability; items still too short afterwards are dropped.
type RSS struct {
	feedURL   string
	client    *http.Client
	logger    *slog.Logger
	minLength int
	now       func() time.Time
}

var _ Source = (*RSS)(nil)

// Option configures an RSS source.
type Option func(*RSS) error

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *RSS) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		r.client = client
		return nil
	}
}

// WithMinContentLength overrides MinContentLength.
func WithMinContentLength(n int) Option {
	return func(r *RSS) error {
		r.minLength = n
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *RSS) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "feed")
		return nil
	}
}

// NewRSS creates a source for the feed at feedURL.
func NewRSS(feedURL string, opts ...Option) (*RSS, error) {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	if _, err := url.ParseRequestURI(feedURL); err != nil {
		return nil, fmt.Errorf("invalid feed url %q: %w", feedURL, err)
	}
	r := &RSS{
		feedURL:   feedURL,
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    slog.Default().With("component", "feed"),
		minLength: MinContentLength,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *RSS) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// Fetch downloads and parses the feed.
func (r *RSS) Fetch(ctx context.Context, limit int) ([]core.FeedItem, error) {
	body, err := r.get(ctx, r.feedURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFeed, err)
	}

	items := make([]core.FeedItem, 0, len(doc.Channel.Items))
	for _, raw := range doc.Channel.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := r.convert(ctx, raw)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	r.logger.Debug("feed fetched", "url", r.feedURL, "entries", len(doc.Channel.Items), "items", len(items))
	return items, nil
}

func (r *RSS) convert(ctx context.Context, raw rssItem) (core.FeedItem, bool) {
	item := core.FeedItem{
		GUID:        strings.TrimSpace(raw.GUID),
		URL:         strings.TrimSpace(raw.Link),
		Title:       cleanText(raw.Title),
		PublishedAt: parsePubDate(raw.PubDate, r.now()),
		RawText:     cleanText(raw.Content),
	}
	if item.RawText == "" {
		item.RawText = cleanText(raw.Description)
	}
	if item.URL == "" {
		return item, false
	}

	if utf8.RuneCountInString(item.RawText) < r.minLength {
		text, err := r.extract(ctx, item.URL)
		if err != nil {
			r.logger.Debug("article extraction failed", "url", item.URL, "err", err)
		} else if utf8.RuneCountInString(text) > utf8.RuneCountInString(item.RawText) {
			item.RawText = text
		}
	}
	if utf8.RuneCountInString(item.RawText) < r.minLength {
		r.logger.Debug("dropping short item", "url", item.URL)
		return item, false
	}
	if item.Title == "" {
		item.Title = item.URL
	}
	return item, true
}

// extract fetches the linked page and returns its readable text.
func (r *RSS) extract(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	body, err := r.get(ctx, link)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", err
	}
	return normalizeSpace(article.TextContent), nil
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

// parsePubDate parses an RSS date. Unparseable or missing dates become fallback.
func parsePubDate(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// cleanText strips markup and entities and collapses whitespace.
func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(html.UnescapeString(s), " ")
	return normalizeSpace(s)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
