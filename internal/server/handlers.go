// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/deepresearch/internal/cloud"
	"github.com/jeranaias/deepresearch/internal/export"
	"github.com/jeranaias/deepresearch/internal/react"
)

// ============================================================================
// REQUEST TYPES
// ============================================================================

// ResearchRequest is the body of POST /api/research.
type ResearchRequest struct {
	Messages react.Conversation `json:"messages"`
	// Tools enables web search; defaults to true
	Tools *bool `json:"tools"`
}

// ReportRequest is the body of POST /api/report.pdf and /api/report.md.
type ReportRequest struct {
	Text     string `json:"text" binding:"required"`
	Filename string `json:"filename"`
}

// DefaultReportName is the download name when the request gives none.
const DefaultReportName = "deep_research_report"

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// ============================================================================
// RESEARCH
// ============================================================================

func (s *Server) handleResearch(c *gin.Context) {
	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) > MaxMessageCount {
		abortError(c, http.StatusBadRequest, fmt.Sprintf("too many messages (max %d)", MaxMessageCount))
		return
	}
	if err := req.Messages.Validate(); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Messages[len(req.Messages)-1].Role != react.RoleUser {
		abortError(c, http.StatusBadRequest, "conversation must end with a user message")
		return
	}

	st := s.state.Load()
	model, err := s.newModel(st.cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, cloud.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		abortError(c, status, "model unavailable: "+err.Error())
		return
	}

	opts := []react.Option{
		react.WithMaxSteps(st.cfg.Research.MaxSteps),
		react.WithTimeout(st.cfg.ResearchTimeout()),
		react.WithLimitNotice(st.cfg.Research.ShowLimitNotice),
		react.WithLogger(s.logger),
		react.WithSearchers(st.discovery, st.fact),
	}
	if s.limiter != nil {
		opts = append(opts, react.WithLimiter(s.limiter))
	}
	controller := react.NewController(model, opts...)

	var tools react.ToolConfig
	if req.Tools == nil || *req.Tools {
		tools = react.ToolConfig{
			DiscoveryKey: st.cfg.Search.ExaKey,
			FactKey:      st.cfg.Search.TavilyKey,
		}
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	start := time.Now()
	var transcript react.Conversation
	written := 0
	// The request context ends when the client disconnects, which cancels the run.
	for fragment := range controller.Run(c.Request.Context(), req.Messages, tools, react.WithTranscript(func(t react.Conversation) {
		transcript = t
	})) {
		n, err := io.WriteString(c.Writer, fragment)
		written += n
		if err != nil {
			break
		}
		c.Writer.Flush()
	}

	s.logger.Info().
		Str("request_id", c.GetString(RequestIDKey)).
		Int("messages", len(req.Messages)).
		Bool("tools", tools.Enabled()).
		Int("searches", transcript.Observations()).
		Int("bytes", written).
		Dur("duration", time.Since(start)).
		Bool("cancelled", c.Request.Context().Err() != nil).
		Msg("research finished")
}

// ============================================================================
// REPORT EXPORT
// ============================================================================

func (s *Server) handleReport(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		cfg := s.Config()
		opts := export.DefaultOptions()
		opts.FontPath = cfg.Export.FontPath
		opts.Model = cfg.Model.Name

		exporter, err := export.ForFormat(format, opts)
		if err != nil {
			abortError(c, http.StatusBadRequest, err.Error())
			return
		}
		data, err := exporter.Export(req.Text)
		if err != nil {
			s.logger.Error().Err(err).Str("format", format).Msg("report export failed")
			abortError(c, http.StatusInternalServerError, "export failed")
			return
		}

		name := downloadName(req.Filename, exporter.FileExtension())
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.Data(http.StatusOK, exporter.MimeType(), data)
	}
}

// downloadName reduces a requested file name to a safe base name with ext.
func downloadName(requested, ext string) string {
	requested = strings.TrimSuffix(strings.TrimSpace(requested), ext)
	var b strings.Builder
	for _, r := range requested {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = DefaultReportName
	}
	return name + ext
}

// ============================================================================
// USAGE / HEALTH
// ============================================================================

func (s *Server) handleUsage(c *gin.Context) {
	cfg := s.Config()
	if s.limiter == nil {
		c.JSON(http.StatusOK, gin.H{"enforced": false, "backend": cfg.Usage.Backend, "providers": []any{}})
		return
	}
	statuses, err := s.limiter.Snapshot(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("usage snapshot failed")
		abortError(c, http.StatusServiceUnavailable, "usage ledger unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"enforced": true, "backend": cfg.Usage.Backend, "providers": statuses})
}

func (s *Server) handleHealth(c *gin.Context) {
	cfg := s.Config()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"model":            cfg.Model.Name,
		"model_configured": cfg.Model.OpenRouterKey != "",
		"tools": gin.H{
			"discovery": cfg.Search.ExaKey != "",
			"fact":      cfg.Search.TavilyKey != "",
		},
		"quota_enforced": s.limiter != nil,
		"uptime_secs":    int(time.Since(s.started).Seconds()),
	})
}
