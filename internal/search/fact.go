// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"fmt"
	"strings"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// FactMaxResults is the number of results requested from Tavily.
const FactMaxResults = 5

// Fact is the fact-verification adapter backed by Tavily.
type Fact struct {
	client
}

// NewFact creates a Tavily adapter.
func NewFact(opts ...Option) *Fact {
	return &Fact{client: newClient("Tavily", "tavily", DefaultTavilyURL, opts)}
}

// Provider implements Searcher.
func (f *Fact) Provider() string { return f.provider }

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Results runs a basic-depth search and returns normalized hits.
func (f *Fact) Results(ctx context.Context, query, apiKey string) ([]Result, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errNoAPIKey
	}

	req := tavilyRequest{
		APIKey:      apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  FactMaxResults,
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	var resp tavilyResponse
	if err := f.post(ctx, req, headers, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{
			Title:   f.clean(r.Title),
			URL:     strings.TrimSpace(r.URL),
			Content: f.clean(r.Content),
		})
	}
	return results, nil
}

// Search implements Searcher. Each hit renders as
//
//	Source: <url>
//	Content: <content>
func (f *Fact) Search(ctx context.Context, query, apiKey string) string {
	results, err := f.Results(ctx, query, apiKey)
	if err != nil {
		f.logger.Warn().Err(err).Str("query", query).Msg("fact search failed")
		return f.errorText(err)
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Source: %s\nContent: %s", r.URL, r.Content))
	}
	f.logger.Debug().Str("query", query).Int("results", len(results)).Msg("fact search complete")
	return joinBlocks(blocks)
}
