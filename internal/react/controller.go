// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/deepresearch/internal/logging"
	"github.com/jeranaias/deepresearch/internal/search"
	"github.com/jeranaias/deepresearch/internal/usage"
)

// MaxSteps is the default bound on model invocations per run.
const MaxSteps = 5

// Progress markers streamed between model fragments.
const (
	markerSearchFmt   = "\n\n> 🔍 **Executing %s:** %s\n\n"
	markerObservation = "\n\n> ✅ **Observation obtained**\n\n"
	markerBlockedFmt  = "\n\n> ⛔ **Search blocked:** %s\n\n"
	markerUnavailFmt  = "\n\n> ⚠️ **Tool unavailable:** %s has no API key configured\n\n"
	markerStepLimit   = "\n\n> ⏹️ **Research step limit reached**\n\n"
)

// ObservationPrefix starts every observation turn.
const ObservationPrefix = "Observation: "

// ToolConfig carries per-run search credentials. A tool is available only
// when its key is non-empty.
type ToolConfig struct {
	DiscoveryKey string `json:"discovery_key,omitempty"`
	FactKey      string `json:"fact_key,omitempty"`
}

// Key returns the credential for tool.
func (t ToolConfig) Key(tool ToolName) string {
	switch tool {
	case ToolDiscovery:
		return t.DiscoveryKey
	case ToolFact:
		return t.FactKey
	}
	return ""
}

// Available reports whether tool has a credential.
func (t ToolConfig) Available(tool ToolName) bool {
	return t.Key(tool) != ""
}

// Enabled reports whether any tool is available.
func (t ToolConfig) Enabled() bool {
	return t.DiscoveryKey != "" || t.FactKey != ""
}

// Limiter gates search calls. *usage.Limiter satisfies it.
type Limiter interface {
	CheckAndConsume(ctx context.Context, provider string) error
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs research loops. It holds no per-run state and is safe
// for concurrent use.
type Controller struct {
	model           Model
	parser          Parser
	searchers       map[ToolName]search.Searcher
	limiter         Limiter
	maxSteps        int
	timeout         time.Duration
	showLimitNotice bool
	logger          zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithParser replaces the action grammar.
func WithParser(p Parser) Option {
	return func(c *Controller) { c.parser = p }
}

// WithSearchers sets the discovery and fact adapters.
func WithSearchers(discovery, fact search.Searcher) Option {
	return func(c *Controller) {
		c.searchers[ToolDiscovery] = discovery
		c.searchers[ToolFact] = fact
	}
}

// WithLimiter enforces search quotas. Without it searches are unmetered.
func WithLimiter(l Limiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithMaxSteps bounds model invocations per run.
func WithMaxSteps(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithTimeout bounds one run end to end. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithLimitNotice controls the marker streamed when the step bound cuts off
// a pending tool request.
func WithLimitNotice(show bool) Option {
	return func(c *Controller) { c.showLimitNotice = show }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger.With().Str("component", "react").Logger() }
}

// NewController creates a controller over model. Searchers default to the
// Exa and Tavily adapters.
func NewController(model Model, opts ...Option) *Controller {
	c := &Controller{
		model:  model,
		parser: TextParser{},
		searchers: map[ToolName]search.Searcher{
			ToolDiscovery: search.NewDiscovery(),
			ToolFact:      search.NewFact(),
		},
		maxSteps:        MaxSteps,
		showLimitNotice: true,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxSteps returns the configured step bound.
func (c *Controller) MaxSteps() int { return c.maxSteps }

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	transcript func(Conversation)
}

// WithTranscript receives the run's final conversation: the tool
// description, every assistant turn and observation, and the closing
// answer. It is called once when the run ends, unless the consumer stopped
// iterating.
func WithTranscript(fn func(Conversation)) RunOption {
	return func(o *runOptions) { o.transcript = fn }
}

// Termination reasons, logged when a run ends.
const (
	endAnswered    = "answered"
	endNoTools     = "no_tools"
	endUnavailable = "tool_unavailable"
	endStepLimit   = "step_limit"
	endFailed      = "model_error"
	endAbandoned   = "abandoned"
)

// Run returns the fragment stream for one research request. conv is not
// modified. The sequence runs once; iterating it again yields nothing.
func (c *Controller) Run(ctx context.Context, conv Conversation, tools ToolConfig, opts ...RunOption) iter.Seq[string] {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	var started atomic.Bool
	return func(yield func(string) bool) {
		if !started.CompareAndSwap(false, true) {
			return
		}

		var (
			runCtx context.Context
			cancel context.CancelFunc
		)
		if c.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		} else {
			runCtx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		r := &run{
			Controller: c,
			tools:      tools,
			yield:      yield,
			cancel:     cancel,
		}
		runCtx, finish := logging.StartSpan(runCtx, c.logger, "research", map[string]any{
			"run_id":    uuid.NewString(),
			"discovery": tools.Available(ToolDiscovery),
			"fact":      tools.Available(ToolFact),
		})
		r.logger = logging.FromContext(runCtx, c.logger)

		final, reason, err := r.execute(runCtx, conv)
		r.logger.Info().Str("reason", reason).Int("steps", r.steps).Msg("research finished")
		finish(err)

		if ro.transcript != nil && reason != endAbandoned {
			ro.transcript(final)
		}
	}
}

// run is the state of one research request.
type run struct {
	*Controller
	tools   ToolConfig
	yield   func(string) bool
	cancel  context.CancelFunc
	logger  zerolog.Logger
	steps   int
	stopped bool
}

// emit streams s unless the consumer has stopped. It reports whether the
// consumer still wants output.
func (r *run) emit(s string) bool {
	if r.stopped {
		return false
	}
	if !r.yield(s) {
		r.stopped = true
		r.cancel()
	}
	return !r.stopped
}

func (r *run) execute(ctx context.Context, conv Conversation) (Conversation, string, error) {
	if r.tools.Enabled() {
		conv = withToolDescription(conv)
	} else {
		conv = conv.Clone()
	}

	for r.steps < r.maxSteps {
		r.steps++
		r.logger.Debug().Int("step", r.steps).Int("messages", len(conv)).Msg("calling model")

		var full strings.Builder
		err := r.model.Stream(ctx, conv, func(fragment string) {
			if r.stopped {
				return
			}
			full.WriteString(fragment)
			r.emit(fragment)
		})
		response := full.String()

		if r.stopped {
			return conv, endAbandoned, nil
		}
		if err != nil {
			r.emit("Error: " + describeModelError(ctx, err))
			return conv, endFailed, err
		}

		if !r.tools.Enabled() {
			return append(conv, Message{Role: RoleAssistant, Content: response}), endNoTools, nil
		}

		action, ok := r.parser.Parse(response)
		if !ok {
			return append(conv, Message{Role: RoleAssistant, Content: response}), endAnswered, nil
		}

		if !r.tools.Available(action.Tool) {
			r.logger.Warn().Str("tool", string(action.Tool)).Msg("model requested unavailable tool")
			r.emit(fmt.Sprintf(markerUnavailFmt, action.Tool.Label()))
			return append(conv, Message{Role: RoleAssistant, Content: response}), endUnavailable, nil
		}

		if r.steps >= r.maxSteps {
			// No model turn follows, so the search result would be unused
			if r.showLimitNotice {
				r.emit(markerStepLimit)
			}
			return append(conv, Message{Role: RoleAssistant, Content: response}), endStepLimit, nil
		}

		observation, ok := r.dispatch(ctx, action)
		if !ok {
			return conv, endAbandoned, nil
		}
		conv = append(conv,
			Message{Role: RoleAssistant, Content: response},
			Message{Role: RoleUser, Content: ObservationPrefix + observation},
		)
	}

	return conv, endStepLimit, nil
}

// dispatch runs action and returns the observation text. ok is false when
// the consumer stopped iterating.
func (r *run) dispatch(ctx context.Context, action Action) (observation string, ok bool) {
	searcher := r.searchers[action.Tool]
	if searcher == nil {
		return fmt.Sprintf("%s %s is not supported", search.ErrorPrefix, action.Tool.Label()), true
	}

	log := r.logger.With().Str("tool", string(action.Tool)).Str("query", action.Input).Int("step", r.steps).Logger()

	if !r.emit(fmt.Sprintf(markerSearchFmt, action.Tool.Label(), action.Input)) {
		return "", false
	}

	if r.limiter != nil {
		if err := r.limiter.CheckAndConsume(ctx, searcher.Provider()); err != nil {
			reason := blockedReason(err)
			log.Warn().Err(err).Msg("search blocked")
			if !r.emit(fmt.Sprintf(markerBlockedFmt, reason)) {
				return "", false
			}
			return fmt.Sprintf("%s %s", search.ErrorPrefix, reason), true
		}
	}

	start := time.Now()
	observation = searcher.Search(ctx, action.Input, r.tools.Key(action.Tool))
	log.Info().Dur("duration", time.Since(start)).Bool("error", search.IsError(observation)).Int("bytes", len(observation)).Msg("search complete")

	if !r.emit(markerObservation) {
		return "", false
	}
	return observation, true
}

// blockedReason renders a limiter rejection for the caller and the model.
func blockedReason(err error) string {
	var limitErr *usage.LimitExceededError
	if errors.As(err, &limitErr) {
		return fmt.Sprintf("%s %s limit of %d searches reached", limitErr.Provider, limitErr.Period, limitErr.Limit)
	}
	return fmt.Sprintf("usage ledger unavailable (%v)", err)
}

func describeModelError(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "research timed out"
	case errors.Is(err, context.Canceled):
		return "research cancelled"
	}
	return err.Error()
}

// Collect drains seq into one string.
func Collect(seq iter.Seq[string]) string {
	var b strings.Builder
	for s := range seq {
		b.WriteString(s)
	}
	return b.String()
}
