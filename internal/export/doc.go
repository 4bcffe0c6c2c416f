// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders research reports into downloadable documents.
//
// # Key Types
//
//   - Exporter: converts report text to a document
//   - Options: export configuration options
//
// # Supported Formats
//
//   - PDF: paginated report with header and page footer
//   - Markdown: report text with YAML front matter
//   - JSON: report text with metadata
//
// # Usage
//
//	exporter := export.NewPDFExporter(opts)
//	data, err := exporter.Export(reportText)
//
// Export to a timestamped file:
//
//	path, err := export.ExportToFile(reportText, exporter, opts)
package export
