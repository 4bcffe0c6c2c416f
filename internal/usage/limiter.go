// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Provider names used as ledger keys.
const (
	ProviderTavily = "tavily"
	ProviderExa    = "exa"
)

// KnownProviders lists the providers reported even before their first call.
var KnownProviders = []string{ProviderTavily, ProviderExa}

// Default quotas.
const (
	DefaultDailyLimit   = 30
	DefaultMonthlyLimit = 1000
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

var (
	// ErrLimitExceeded matches every quota rejection.
	ErrLimitExceeded = errors.New("usage limit exceeded")

	// ErrUnknownProvider is returned for an empty provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// =============================================================================
// RECORDS
// =============================================================================

// Record is the persisted usage state for one provider.
type Record struct {
	Day          string `json:"day"`   // 2006-01-02
	Month        string `json:"month"` // 2006-01
	DailyCount   int    `json:"daily_count"`
	MonthlyCount int    `json:"monthly_count"`
}

// Records maps provider name to its record.
type Records map[string]*Record

// Clone returns a deep copy.
func (r Records) Clone() Records {
	out := make(Records, len(r))
	for k, v := range r {
		if v == nil {
			continue
		}
		rec := *v
		out[k] = &rec
	}
	return out
}

// rollover resets counters whose period has passed. A month change implies
// a day change, so both counters reset and both periods are adopted.
func (r *Record) rollover(day, month string) {
	switch {
	case r.Month != month:
		r.Day, r.Month = day, month
		r.DailyCount, r.MonthlyCount = 0, 0
	case r.Day != day:
		r.Day = day
		r.DailyCount = 0
	}
}

// Limits are the quotas applied to one provider.
type Limits struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// LimitExceededError describes a rejected call.
type LimitExceededError struct {
	Provider string
	Period   string // "daily" or "monthly"
	Count    int
	Limit    int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s %s search limit reached (%d/%d)", e.Provider, e.Period, e.Count, e.Limit)
}

// Is reports whether target is ErrLimitExceeded.
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// =============================================================================
// LIMITER
// =============================================================================

// Clock returns the current wall-clock time.
type Clock func() time.Time

// Limiter gates provider calls against per-provider quotas.
type Limiter struct {
	store    Store
	defaults Limits
	limits   map[string]Limits
	now      Clock
	logger   zerolog.Logger

	// mu serializes callers within this process; the store serializes
	// across processes.
	mu sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithDefaultLimits sets the quotas for providers without an override.
func WithDefaultLimits(l Limits) Option {
	return func(lim *Limiter) { lim.defaults = l }
}

// WithProviderLimits overrides the quotas for one provider.
func WithProviderLimits(provider string, l Limits) Option {
	return func(lim *Limiter) { lim.limits[provider] = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(c Clock) Option {
	return func(lim *Limiter) { lim.now = c }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(lim *Limiter) { lim.logger = logger.With().Str("component", "usage").Logger() }
}

// NewLimiter creates a limiter backed by store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		defaults: Limits{Daily: DefaultDailyLimit, Monthly: DefaultMonthlyLimit},
		limits:   make(map[string]Limits),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LimitsFor returns the quotas applied to provider.
func (l *Limiter) LimitsFor(provider string) Limits {
	if lim, ok := l.limits[provider]; ok {
		return lim
	}
	return l.defaults
}

func (l *Limiter) period() (day, month string) {
	now := l.now()
	return now.Format(dayLayout), now.Format(monthLayout)
}

// CheckAndConsume permits one call for provider, or returns an error.
//
// A quota rejection is a *LimitExceededError (errors.Is ErrLimitExceeded)
// and changes nothing. Any other error means the ledger could not be read
// or written; the call must be treated as not permitted.
func (l *Limiter) CheckAndConsume(ctx context.Context, provider string) error {
	if provider == "" {
		return ErrUnknownProvider
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	day, month := l.period()
	lim := l.LimitsFor(provider)

	var daily, monthly int
	err := l.store.Transact(ctx, func(recs Records) error {
		rec := recs[provider]
		if rec == nil {
			rec = &Record{Day: day, Month: month}
			recs[provider] = rec
		}
		rec.rollover(day, month)

		// Monthly takes priority
		if rec.MonthlyCount >= lim.Monthly {
			return &LimitExceededError{Provider: provider, Period: "monthly", Count: rec.MonthlyCount, Limit: lim.Monthly}
		}
		if rec.DailyCount >= lim.Daily {
			return &LimitExceededError{Provider: provider, Period: "daily", Count: rec.DailyCount, Limit: lim.Daily}
		}

		rec.DailyCount++
		rec.MonthlyCount++
		daily, monthly = rec.DailyCount, rec.MonthlyCount
		return nil
	})

	switch {
	case err == nil:
		l.logger.Debug().Str("provider", provider).Int("daily", daily).Int("monthly", monthly).Msg("search permitted")
	case errors.Is(err, ErrLimitExceeded):
		l.logger.Warn().Str("provider", provider).Err(err).Msg("search blocked")
	default:
		l.logger.Error().Str("provider", provider).Err(err).Msg("usage ledger unavailable")
	}
	return err
}

// Status is a provider's usage as of now.
type Status struct {
	Provider string `json:"provider"`
	Record
	Limits           Limits `json:"limits"`
	DailyRemaining   int    `json:"daily_remaining"`
	MonthlyRemaining int    `json:"monthly_remaining"`
}

// Snapshot reports usage for every known or recorded provider, with rollover
// applied to the reported values only. Nothing is written.
func (l *Limiter) Snapshot(ctx context.Context) ([]Status, error) {
	day, month := l.period()

	var recs Records
	if err := l.store.View(ctx, func(r Records) error {
		recs = r.Clone()
		return nil
	}); err != nil {
		return nil, err
	}

	for _, p := range KnownProviders {
		if recs[p] == nil {
			recs[p] = &Record{Day: day, Month: month}
		}
	}

	out := make([]Status, 0, len(recs))
	for provider, rec := range recs {
		rec.rollover(day, month)
		lim := l.LimitsFor(provider)
		out = append(out, Status{
			Provider:         provider,
			Record:           *rec,
			Limits:           lim,
			DailyRemaining:   max(0, min(lim.Daily-rec.DailyCount, lim.Monthly-rec.MonthlyCount)),
			MonthlyRemaining: max(0, lim.Monthly-rec.MonthlyCount),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// Reset zeroes the counters for provider, or for every provider when
// provider is empty.
func (l *Limiter) Reset(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day, month := l.period()
	return l.store.Transact(ctx, func(recs Records) error {
		if provider == "" {
			for p := range recs {
				recs[p] = &Record{Day: day, Month: month}
			}
			return nil
		}
		recs[provider] = &Record{Day: day, Month: month}
		return nil
	})
}

// Close closes the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
