package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/config"
	"github.com/aymenesoualem/bookingagent/internal/httpapi"
	"github.com/aymenesoualem/bookingagent/internal/logging"
	"github.com/aymenesoualem/bookingagent/internal/notify"
	"github.com/aymenesoualem/bookingagent/internal/observability"
	"github.com/aymenesoualem/bookingagent/internal/outbound"
	"github.com/aymenesoualem/bookingagent/internal/profile"
	"github.com/aymenesoualem/bookingagent/internal/realtime"
	"github.com/aymenesoualem/bookingagent/internal/search"
	"github.com/aymenesoualem/bookingagent/internal/session"
	"github.com/aymenesoualem/bookingagent/internal/tools"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Calls    *session.Manager
	Store    booking.Store
	Tools    *tools.Registry
	Notifier *notify.Service
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to flush notifications and release the store and cache.
	Cleanup func() error
}

// Build wires every collaborator of the HTTP server from cfg.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := logging.WithComponent("app")
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := booking.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("booking store init failed: %w", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; using seeded in-memory booking store")
	}
	closers := []func() error{store.Close}

	profiles, err := profile.Load(cfg.ProfilesPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("profiles init failed: %w", err)
	}

	var twilioClient *twilio.Client
	if cfg.TwilioConfigured() {
		twilioClient, err = twilio.New(twilio.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			MaxRetries: cfg.TwilioMaxRetries,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("twilio client init failed: %w", err)
		}
	} else {
		logger.Info().Msg("twilio credentials missing; sms and outbound calls disabled")
	}

	var sms notify.SMSSender
	if twilioClient != nil {
		sms = twilioClient
	}
	notifier := notify.New(notify.Config{
		HotelPhoneNumber: cfg.HotelPhoneNumber,
		SMTPHost:         cfg.SMTPHost,
		SMTPPort:         cfg.SMTPPort,
		FromEmail:        cfg.FromEmail,
		EmailPassword:    cfg.EmailPassword,
		HotelGroupEmail:  cfg.HotelGroupEmail,
		BannerPath:       cfg.EmailBannerPath,
	}, sms, logging.WithComponent("notify"), metrics)
	closers = append([]func() error{func() error { notifier.Wait(); return nil }}, closers...)

	var searcher tools.Searcher
	if cfg.SearchAPIKey != "" {
		cache, closeCache := buildSearchCache(ctx, cfg, logger)
		if closeCache != nil {
			closers = append(closers, closeCache)
		}
		searcher = search.NewClient(search.Config{
			APIKey:   cfg.SearchAPIKey,
			BaseURL:  cfg.SearchAPIURL,
			CacheTTL: cfg.SearchCacheTTL,
		}, cache, logging.WithComponent("search"))
	} else {
		logger.Info().Msg("SEARCH_API_KEY not set; recommendations disabled")
	}

	registry := tools.NewRegistry(logging.WithComponent("tools"), metrics)
	if err := registry.Register(tools.BookingTools(store, notifier, searcher)...); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("tool registry init failed: %w", err)
	}

	calls := session.NewManager()
	calls.SetEndHook(func(c *session.Call) {
		logger.Info().
			Str("call_id", c.ID).
			Int("interruptions", c.Interruptions).
			Int("tool_calls", c.ToolCalls).
			Dur("duration", c.EndedAt.Sub(c.StartedAt)).
			Msg("call ended")
	})

	deps := httpapi.Deps{
		Calls:    calls,
		Store:    store,
		Profiles: profiles,
		Tools:    registry,
		Model: realtime.NewClient(realtime.Config{
			APIKey:      cfg.OpenAIAPIKey,
			URL:         cfg.RealtimeURL,
			Voice:       cfg.RealtimeVoice,
			Temperature: cfg.RealtimeTemperature,
		}),
		Metrics: metrics,
		Logger:  logging.WithComponent("httpapi"),
	}
	if twilioClient != nil {
		deps.Outbound = outbound.NewCaller(twilioClient, cfg.PublicDomain, logging.WithComponent("outbound"))
	}

	cleanup := func() error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      httpapi.New(cfg, deps),
		Calls:    calls,
		Store:    store,
		Tools:    registry,
		Notifier: notifier,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}

// buildSearchCache prefers Redis when configured and falls back to an
// in-process cache when it is unset or unreachable.
func buildSearchCache(ctx context.Context, cfg config.Config, logger zerolog.Logger) (search.Cache, func() error) {
	if cfg.RedisAddr == "" {
		return search.NewMemoryCache(), nil
	}
	cache, err := search.NewRedisCache(ctx, search.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logging.WithComponent("search_cache"))
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; caching search results in memory")
		return search.NewMemoryCache(), nil
	}
	return cache, cache.Close
}
