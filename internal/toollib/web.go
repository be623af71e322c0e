package toollib

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/toolset"
	"golang.org/x/net/html"
)

// ExaAPIKey is the Exa AI search API key, provided into the Injector as
// its own named type so it doesn't collide with any other string
// dependency in the type-keyed lookup.
type ExaAPIKey string

const noSearchResults = "No results found."

// WebFetchArgs are the arguments to the WebFetch tool.
type WebFetchArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// NewWebFetchFactory builds the WebFetch tool: fetches a URL and returns
// cleaned text, caching results in the shared web cache.
func NewWebFetchFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		cache := toolset.MustGet[*store.Cache](inj)
		client := &http.Client{Timeout: 15 * time.Second}

		def := toolset.Definition{
			Name:        "WebFetch",
			Description: "Fetch a URL and return its content as cleaned text (HTML tags, scripts, and styles stripped). Results are cached.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url":       {"type": "string", "description": "The URL to fetch."},
					"max_chars": {"type": "integer", "description": "Maximum characters to return. Default: 10000"}
				},
				"required": ["url"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args WebFetchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			if args.URL == "" {
				return toolset.Errorf("url is required"), nil
			}
			if args.MaxChars <= 0 {
				args.MaxChars = 10000
			}

			if cached, ok := cache.GetFetch(args.URL); ok {
				log.Debug().Str("url", args.URL).Msg("toollib: WebFetch cache hit")
				return toolset.Text(truncateChars(cached, args.MaxChars)), nil
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
			if err != nil {
				return toolset.Errorf("bad URL: %v", err), nil
			}
			req.Header.Set("User-Agent", "symbcore/0.1")
			req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

			resp, err := client.Do(req)
			if err != nil {
				return toolset.Errorf("fetch failed: %v", err), nil
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return toolset.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status), nil
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return toolset.Errorf("read failed: %v", err), nil
			}

			var text string
			if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
				text = extractText(body)
			} else {
				text = string(body)
			}

			cache.SetFetch(args.URL, text)
			return toolset.Text(truncateChars(text, args.MaxChars)), nil
		}

		return def, handler, nil
	}
}

// WebSearchArgs are the arguments to the WebSearch tool.
type WebSearchArgs struct {
	Query          string   `json:"query"`
	NumResults     int      `json:"num_results,omitempty"`
	Type           string   `json:"type,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type exaSearchRequest struct {
	Query          string            `json:"query"`
	Type           string            `json:"type"`
	NumResults     int               `json:"numResults"`
	Contents       exaSearchContents `json:"contents"`
	IncludeDomains []string          `json:"includeDomains,omitempty"`
}

type exaSearchContents struct {
	Text exaTextOptions `json:"text"`
}

type exaTextOptions struct {
	MaxCharacters int `json:"maxCharacters"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Text          string `json:"text"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

const exaDefaultEndpoint = "https://api.exa.ai/search"

// NewWebSearchFactory builds the WebSearch tool: queries the Exa AI
// search API, caching both exact-query and fuzzy-content hits.
func NewWebSearchFactory() toolset.Factory {
	return func(inj *toolset.Injector) (toolset.Definition, toolset.Handler, error) {
		cache := toolset.MustGet[*store.Cache](inj)
		apiKey, _ := toolset.Get[ExaAPIKey](inj)
		client := &http.Client{Timeout: 15 * time.Second}

		def := toolset.Definition{
			Name:        "WebSearch",
			Description: "Search the web using Exa AI. Use this to look up documentation, APIs, libraries, or current information. Results are cached.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query":           {"type": "string", "description": "Search query."},
					"num_results":     {"type": "integer", "description": "Number of results to return. Default: 5"},
					"type":            {"type": "string", "description": "Search type: \"auto\" (default), \"fast\", or \"deep\".", "enum": ["auto", "fast", "deep"]},
					"include_domains": {"type": "array", "items": {"type": "string"}, "description": "Only include results from these domains."}
				},
				"required": ["query"]
			}`),
		}

		handler := func(ctx context.Context, raw json.RawMessage) (*toolset.Result, error) {
			var args WebSearchArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolset.Errorf("invalid arguments: %v", err), nil
			}
			if args.Query == "" {
				return toolset.Errorf("query is required"), nil
			}
			if apiKey == "" {
				return toolset.Errorf("Exa AI API key not configured"), nil
			}
			if args.NumResults <= 0 {
				args.NumResults = 5
			}
			if args.Type == "" {
				args.Type = "auto"
			}

			exactKey := fmt.Sprintf("%s|n=%d|t=%s|d=%s",
				args.Query, args.NumResults, args.Type, strings.Join(args.IncludeDomains, ","))

			if cached, ok := cache.GetSearch(exactKey); ok {
				log.Debug().Str("query", args.Query).Msg("toollib: WebSearch exact cache hit")
				return toolset.Text(cached), nil
			}
			if cached, ok := cache.SearchCachedContent(args.Query); ok {
				log.Debug().Str("query", args.Query).Msg("toollib: WebSearch content cache hit")
				return toolset.Text(cached), nil
			}

			body := exaSearchRequest{
				Query:          args.Query,
				Type:           args.Type,
				NumResults:     args.NumResults,
				Contents:       exaSearchContents{Text: exaTextOptions{MaxCharacters: 2000}},
				IncludeDomains: args.IncludeDomains,
			}
			bodyJSON, err := json.Marshal(body)
			if err != nil {
				return toolset.Errorf("marshal failed: %v", err), nil
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, exaDefaultEndpoint, bytes.NewReader(bodyJSON))
			if err != nil {
				return toolset.Errorf("request failed: %v", err), nil
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-api-key", string(apiKey))

			resp, err := client.Do(req)
			if err != nil {
				return toolset.Errorf("search failed: %v", err), nil
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return toolset.Errorf("read response failed: %v", err), nil
			}
			if resp.StatusCode >= 400 {
				return toolset.Errorf("Exa API error %d: %s", resp.StatusCode, string(respBody)), nil
			}

			var exaResp exaSearchResponse
			if err := json.Unmarshal(respBody, &exaResp); err != nil {
				return toolset.Errorf("parse response failed: %v", err), nil
			}

			result := formatSearchResults(exaResp.Results)
			cache.SetSearch(exactKey, result)
			return toolset.Text(result), nil
		}

		return def, handler, nil
	}
}

func formatSearchResults(results []exaResult) string {
	if len(results) == 0 {
		return noSearchResults
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- %d. %s ---\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n", r.URL)
		if r.PublishedDate != "" {
			fmt.Fprintf(&b, "Published: %s\n", r.PublishedDate)
		}
		if r.Text != "" {
			b.WriteString(r.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func isSkipTag(tag string) bool {
	return tag == "script" || tag == "style" || tag == "noscript"
}

// extractText parses HTML and returns visible text, stripping script,
// style, and noscript elements.
func extractText(data []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return collapseWhitespace(b.String())
		}
		tn, _ := tokenizer.TagName()
		tag := string(tn)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if isSkipTag(tag) {
				skip++
			}
			if isBlockElement(tag) && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if isSkipTag(tag) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "tr", "td", "th", "blockquote", "pre", "hr",
		"header", "footer", "section", "article", "nav", "main":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blanks++
			if blanks <= 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[Truncated]"
}
