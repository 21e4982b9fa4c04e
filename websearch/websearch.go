// Package websearch fetches quick factual snippets from free public
// endpoints: the DuckDuckGo Instant Answer API and Wikipedia page
// summaries. No API keys are required.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultDuckURL = "https://api.duckduckgo.com/"
	defaultWikiURL = "https://%s.wikipedia.org/api/rest_v1/page/summary/"

	requestTimeout = 6 * time.Second
	maxResults     = 3
)

// Result is one snippet returned by a search source.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Client queries the free search endpoints. The zero value is not
// usable; construct with NewClient.
type Client struct {
	http    *http.Client
	duckURL string
	wikiURL string
}

func NewClient() *Client {
	return NewClientWithEndpoints(defaultDuckURL, defaultWikiURL)
}

// NewClientWithEndpoints overrides the source URLs, used for tests.
// The wiki URL may contain a %s that receives the language code.
func NewClientWithEndpoints(duckURL, wikiURL string) *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		duckURL: duckURL,
		wikiURL: wikiURL,
	}
}

type duckResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// DuckInstant queries the DuckDuckGo Instant Answer API. A query with
// no instant answer yields an empty slice, not an error.
func (c *Client) DuckInstant(ctx context.Context, query string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	var dr duckResponse
	if err := c.getJSON(ctx, c.duckURL+"?"+q.Encode(), &dr); err != nil {
		return nil, err
	}

	var results []Result
	if dr.Answer != "" {
		results = append(results, Result{Title: dr.Heading, Snippet: dr.Answer, URL: dr.AbstractURL})
	} else if dr.AbstractText != "" {
		results = append(results, Result{Title: dr.Heading, Snippet: dr.AbstractText, URL: dr.AbstractURL})
	}
	for _, rt := range dr.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if rt.Text == "" {
			continue
		}
		results = append(results, Result{Title: topicTitle(rt.Text), Snippet: rt.Text, URL: rt.FirstURL})
	}
	return results, nil
}

type wikiSummary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	Content struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// WikiSummary fetches the REST summary for a page title in the given
// language wiki ("ru", "en"). A missing page yields nil, nil.
func (c *Client) WikiSummary(ctx context.Context, title, lang string) (*Result, error) {
	base := c.wikiURL
	if strings.Contains(base, "%s") {
		base = fmt.Sprintf(base, lang)
	}
	u := base + url.PathEscape(strings.ReplaceAll(title, " ", "_"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wikipedia status %d", resp.StatusCode)
	}
	var ws wikiSummary
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ws); err != nil {
		return nil, err
	}
	if ws.Extract == "" {
		return nil, nil
	}
	return &Result{Title: ws.Title, Snippet: ws.Extract, URL: ws.Content.Desktop.Page}, nil
}

// Aggregate tries DuckDuckGo first, then a Wikipedia summary for the
// raw query. It returns whatever it could collect; only when every
// source failed does it return an error.
func (c *Client) Aggregate(ctx context.Context, query, lang string) ([]Result, error) {
	var results []Result
	var lastErr error

	ddg, err := c.DuckInstant(ctx, query)
	if err != nil {
		log.Printf("[WebSearch] DuckDuckGo failed: %v", err)
		lastErr = err
	} else {
		results = append(results, ddg...)
	}

	if len(results) < maxResults {
		wiki, err := c.WikiSummary(ctx, query, lang)
		if err != nil {
			log.Printf("[WebSearch] Wikipedia failed: %v", err)
			lastErr = err
		} else if wiki != nil {
			results = append(results, *wiki)
		}
	}

	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// FormatContext renders results as plain text for inclusion in a model
// prompt.
func FormatContext(results []Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s", i+1, r.Snippet)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// FormatSources renders the source list appended to the final answer.
// Plain text only: answers are HTML-escaped before delivery, so any
// markup here would reach the user as literal tags. Results without
// URLs are skipped.
func FormatSources(results []Result) string {
	var lines []string
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		if r.Title != "" {
			lines = append(lines, fmt.Sprintf("%s — %s", r.Title, r.URL))
		} else {
			lines = append(lines, r.URL)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Источники:\n" + strings.Join(lines, "\n")
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// topicTitle extracts the leading phrase of a related-topic text, which
// DuckDuckGo formats as "Title - description".
func topicTitle(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return text
}
