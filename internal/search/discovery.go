// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/deepresearch/internal/util"
)

// DefaultExaURL is the Exa search endpoint.
const DefaultExaURL = "https://api.exa.ai/search"

const (
	// DiscoveryNumResults is the number of results requested from Exa.
	DiscoveryNumResults = 3

	// DiscoveryContentLimit is the rune prefix kept from each result's text.
	DiscoveryContentLimit = 500
)

// Discovery is the broad semantic search adapter backed by Exa.
type Discovery struct {
	client
}

// NewDiscovery creates an Exa adapter.
func NewDiscovery(opts ...Option) *Discovery {
	return &Discovery{client: newClient("Exa", "exa", DefaultExaURL, opts)}
}

// Provider implements Searcher.
func (d *Discovery) Provider() string { return d.provider }

type exaRequest struct {
	Query         string      `json:"query"`
	Type          string      `json:"type"`
	UseAutoprompt bool        `json:"useAutoprompt"`
	NumResults    int         `json:"numResults"`
	Contents      exaContents `json:"contents"`
}

type exaContents struct {
	Text bool `json:"text"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// Results runs an auto-typed search with query expansion and returns
// normalized hits.
func (d *Discovery) Results(ctx context.Context, query, apiKey string) ([]Result, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errNoAPIKey
	}

	req := exaRequest{
		Query:         query,
		Type:          "auto",
		UseAutoprompt: true,
		NumResults:    DiscoveryNumResults,
		Contents:      exaContents{Text: true},
	}
	headers := map[string]string{"x-api-key": apiKey}

	var resp exaResponse
	if err := d.post(ctx, req, headers, &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{
			Title:   d.clean(r.Title),
			URL:     strings.TrimSpace(r.URL),
			Content: d.clean(r.Text),
		})
	}
	return results, nil
}

// Search implements Searcher. Each hit renders as
//
//	Title: <title>
//	Source: <url>
//	Content: <first 500 runes>...
func (d *Discovery) Search(ctx context.Context, query, apiKey string) string {
	results, err := d.Results(ctx, query, apiKey)
	if err != nil {
		d.logger.Warn().Err(err).Str("query", query).Msg("discovery search failed")
		return d.errorText(err)
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		content := util.TruncateRunes(r.Content, DiscoveryContentLimit)
		blocks = append(blocks, fmt.Sprintf("Title: %s\nSource: %s\nContent: %s...", r.Title, r.URL, content))
	}
	d.logger.Debug().Str("query", query).Int("results", len(results)).Msg("discovery search complete")
	return joinBlocks(blocks)
}
