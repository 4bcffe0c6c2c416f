// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports reports as a JSON document.
type JSONExporter struct {
	options *Options
	now     func() time.Time
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts, now: time.Now}
}

// Report is the JSON export document.
type Report struct {
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	Generated time.Time `json:"generated"`
	Content   string    `json:"content"`
}

// Export converts report text to JSON format.
func (e *JSONExporter) Export(text string) ([]byte, error) {
	return json.MarshalIndent(Report{
		Title:     Title(text),
		Model:     e.options.Model,
		Generated: e.now().UTC(),
		Content:   text,
	}, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
