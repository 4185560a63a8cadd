package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Caller invokes the agent with auth-profile failover and bounded
// retry. One Caller is shared by all sessions; it holds no per-session
// state.
type Caller struct {
	profiles    []AuthProfile
	factory     ProviderCreator
	maxRetries  int
	callTimeout time.Duration
	logger      zerolog.Logger
}

// CallerConfig holds caller configuration.
type CallerConfig struct {
	Profiles    []AuthProfile
	Factory     ProviderCreator
	MaxRetries  int
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// NewCaller creates a Caller.
func NewCaller(cfg CallerConfig) (*Caller, error) {
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	factory := cfg.Factory
	if factory == nil {
		factory = &Factory{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}

	profiles := make([]AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	return &Caller{
		profiles:    profiles,
		factory:     factory,
		maxRetries:  cfg.MaxRetries,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Call tries each profile in priority order; within a profile transient
// errors are retried with exponential backoff. Permanent errors surface
// immediately.
func (c *Caller) Call(ctx context.Context, request Request) (*Response, error) {
	var lastErr error

	for _, profile := range c.profiles {
		provider, err := c.factory.NewProvider(profile)
		if err != nil {
			c.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		response, err := c.callWithRetry(ctx, provider, request)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		c.logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")
	}

	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func (c *Caller) callWithRetry(ctx context.Context, provider Provider, request Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		response, err := provider.Call(callCtx, request)
		cancel()
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == c.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s.
		delay := time.Duration(1<<attempt) * time.Second
		c.logger.Info().
			Str("provider", provider.Name()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying agent call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}
