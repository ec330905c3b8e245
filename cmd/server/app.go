// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/civitashq/civitas/internal/api"
	"github.com/civitashq/civitas/internal/auth"
	"github.com/civitashq/civitas/internal/bridge"
	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/config"
	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/maintenance"
	"github.com/civitashq/civitas/internal/metrics"
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/optimistic"
	"github.com/civitashq/civitas/internal/realtime"
	"github.com/civitashq/civitas/internal/store"
	"github.com/civitashq/civitas/internal/supervisor"
	"github.com/civitashq/civitas/internal/supervisor/services"
	ws "github.com/civitashq/civitas/internal/websocket"
)

// App holds the assembled components and their supervisor tree.
type App struct {
	cfg     *config.Config
	tree    *supervisor.SupervisorTree
	cache   *cache.Store
	gateway store.Gateway
	manager *realtime.Manager
}

// buildApp wires every component and registers the supervised services.
func buildApp(cfg *config.Config) (*App, error) {
	cacheStore := cache.New(cache.Options{
		StaleAfter:      cfg.Cache.StaleAfter,
		GCAfter:         cfg.Cache.GCAfter,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})

	provider, natsRunner, err := buildRealtimeProvider(cfg)
	if err != nil {
		cacheStore.Close()
		return nil, err
	}
	manager := realtime.NewManager(provider, realtime.ManagerConfig{
		ReconnectInitial: cfg.Realtime.ReconnectInitialDelay,
		ReconnectMax:     cfg.Realtime.ReconnectMaxDelay,
	})

	// The gateway publishes an event for every successful write; routing
	// them through the realtime manager is what lets other sessions see
	// this instance's mutations.
	gateway, err := buildGateway(cfg, manager)
	if err != nil {
		cacheStore.Close()
		return nil, err
	}

	coordinator := optimistic.New(cacheStore, optimistic.Config{
		SendTimeout: cfg.Mutation.SendTimeout,
	})
	coordinator.OnSettle(func(kind string, _ []string, outcome optimistic.Outcome) {
		metrics.RecordMutation(kind, string(outcome), 0)
	})

	recBridge := bridge.New(cacheStore, coordinator, bridge.Config{
		DedupWindow: cfg.Realtime.DedupWindow,
	})
	recBridge.AttachTo(coordinator)

	hub := ws.NewHub()

	// Inbound realtime events flow to both consumers: the bridge folds them
	// into the cache, the hub forwards them to connected browsers.
	for _, table := range []string{models.TableCampaigns, models.TableComments, models.TableWonders} {
		if _, err := manager.SubscribeToEntity(table, func(ev realtime.Event) {
			metrics.RecordRealtimeEvent(ev.Table, string(ev.Type))
			recBridge.HandleEvent(ev)
			hub.BroadcastEvent(ev)
		}); err != nil {
			cacheStore.Close()
			_ = gateway.Close()
			return nil, fmt.Errorf("subscribe to %s events: %w", table, err)
		}
	}

	manager.OnConnectionChange(func(connected bool) {
		metrics.SetRealtimeConnected(connected)
		hub.BroadcastStatus(manager.Status())
	})

	cacheStore.SetRefetcher(newRefetcher(cfg, cacheStore, gateway))

	maint := maintenance.New(cacheStore, maintenance.Config{
		SweepInterval:    cfg.Maintenance.SweepInterval,
		StaleFor:         cfg.Maintenance.StaleFor,
		RefetchPerSecond: cfg.Maintenance.RefetchPerSecond,
		RefetchBurst:     cfg.Maintenance.RefetchBurst,
	})
	registerPrefetches(cfg, maint, cacheStore, gateway)

	users := auth.NewRegistry()
	if err := seedAdmin(cfg, users); err != nil {
		cacheStore.Close()
		_ = gateway.Close()
		return nil, err
	}
	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		cacheStore.Close()
		_ = gateway.Close()
		return nil, err
	}

	handler := api.NewHandler(cfg, cacheStore, gateway, coordinator, manager, recBridge, hub, maint, users, jwtManager)
	httpServer := api.NewServer(handler)

	tree, err := supervisor.NewSupervisorTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.DefaultTreeConfig(),
	)
	if err != nil {
		cacheStore.Close()
		_ = gateway.Close()
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}

	if natsRunner != nil {
		tree.AddMessagingService(services.NewNATSService(natsRunner, cfg.Server.ShutdownTimeout))
	}
	tree.AddMessagingService(manager)
	tree.AddService(hub)
	tree.AddService(maint)
	tree.AddService(&metricsSync{cache: cacheStore})
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	return &App{
		cfg:     cfg,
		tree:    tree,
		cache:   cacheStore,
		gateway: gateway,
		manager: manager,
	}, nil
}

// Serve runs the supervisor tree until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	logging.Info().Str("addr", a.cfg.Server.Address()).Msg("civitas serving")
	err := a.tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases resources not owned by a supervised service.
func (a *App) Close() {
	if report, err := a.tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, s := range report {
			logging.Warn().Str("service", s.Name).Msg("service did not stop in time")
		}
	}
	a.cache.Close()
	if err := a.gateway.Close(); err != nil {
		logging.Error().Err(err).Msg("gateway close failed")
	}
	if err := a.manager.Close(); err != nil {
		logging.Error().Err(err).Msg("realtime close failed")
	}
	logging.Info().Msg("civitas stopped")
}

// buildGateway creates the configured store backend wrapped in the shared
// retry policy and circuit breaker.
func buildGateway(cfg *config.Config, sink store.EventSink) (store.Gateway, error) {
	var (
		backend store.Gateway
		err     error
	)
	switch cfg.Store.Backend {
	case "memory":
		backend = store.NewMemory(sink)
	case "badger":
		backend, err = store.OpenBadger(cfg.Store.Path, sink)
		if err != nil {
			return nil, fmt.Errorf("open badger store at %s: %w", cfg.Store.Path, err)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	policy := store.Policy{
		MaxAttempts:     cfg.Store.RetryAttempts,
		InitialInterval: cfg.Store.RetryInitialInterval,
		MaxInterval:     cfg.Store.RetryMaxInterval,
	}
	breakerCfg := store.DefaultBreakerConfig()
	breakerCfg.FailureThreshold = cfg.Store.BreakerFailureThreshold
	breakerCfg.Timeout = cfg.Store.BreakerOpenFor
	return store.NewResilient(backend, policy, store.NewBreaker(breakerCfg)), nil
}

// buildRealtimeProvider selects the realtime transport. With the NATS
// provider and NATS_EMBEDDED=true it also returns a supervised runner for the
// in-process server; the manager's backoff loop covers the window before the
// server accepts connections.
func buildRealtimeProvider(cfg *config.Config) (realtime.Provider, services.NATSRunner, error) {
	switch cfg.Realtime.Provider {
	case "channel":
		return realtime.NewChannelProvider(), nil, nil
	case "nats":
		if !cfg.NATS.Enabled {
			return nil, nil, fmt.Errorf("realtime provider is nats but NATS_ENABLED=false")
		}
		provider := realtime.NewNATSProvider(cfg.NATS.URL)
		if !cfg.NATS.EmbeddedServer {
			return provider, nil, nil
		}
		runner := &embeddedNATSRunner{cfg: realtime.EmbeddedServerConfig{
			Host:      "127.0.0.1",
			Port:      4222,
			StoreDir:  cfg.NATS.StoreDir,
			MaxMemory: cfg.NATS.MaxMemory,
			MaxStore:  cfg.NATS.MaxStore,
		}}
		return provider, runner, nil
	default:
		return nil, nil, fmt.Errorf("unknown realtime provider %q", cfg.Realtime.Provider)
	}
}

// embeddedNATSRunner adapts the embedded NATS server to the supervised
// NATSRunner lifecycle.
type embeddedNATSRunner struct {
	cfg    realtime.EmbeddedServerConfig
	server *realtime.EmbeddedServer
}

func (r *embeddedNATSRunner) Start(context.Context) error {
	srv, err := realtime.NewEmbeddedServer(r.cfg)
	if err != nil {
		return err
	}
	r.server = srv
	logging.Info().Str("url", srv.ClientURL()).Msg("embedded NATS server started")
	return nil
}

func (r *embeddedNATSRunner) Shutdown(ctx context.Context) {
	if r.server == nil {
		return
	}
	if err := r.server.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("embedded NATS shutdown failed")
	}
	r.server = nil
}

func (r *embeddedNATSRunner) IsRunning() bool {
	return r.server != nil && r.server.IsRunning()
}

// seedAdmin creates the bootstrap admin account when configured.
func seedAdmin(cfg *config.Config, users *auth.Registry) error {
	if cfg.Security.AdminUsername == "" && cfg.Security.AdminPassword == "" {
		logging.Warn().Msg("no admin account configured (ADMIN_USERNAME/ADMIN_PASSWORD)")
		return nil
	}
	if _, err := users.AddUser(cfg.Security.AdminUsername, cfg.Security.AdminPassword, auth.RoleAdmin); err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}
	logging.Info().Str("username", cfg.Security.AdminUsername).Msg("admin account created")
	return nil
}

// newRefetcher maps invalidated cache keys back to store reads. Search keys
// embed an input fingerprint and cannot be reversed; they refresh on the next
// request instead.
func newRefetcher(cfg *config.Config, cacheStore *cache.Store, gateway store.Gateway) cache.Refetcher {
	campaignPrefix := models.TableCampaigns + ":id:"
	commentListPrefix := models.TableComments + ":list:"
	wonderPrefix := models.TableWonders + ":id:"

	return func(key string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		switch {
		case strings.HasPrefix(key, campaignPrefix):
			id := strings.TrimPrefix(key, campaignPrefix)
			_, err = cacheStore.Fetch(ctx, key, func(fctx context.Context) (interface{}, error) {
				c, gerr := gateway.GetCampaign(fctx, id)
				if gerr != nil {
					return nil, gerr
				}
				return *c, nil
			})
		case strings.HasPrefix(key, commentListPrefix):
			campaignID := strings.TrimPrefix(key, commentListPrefix)
			_, err = cacheStore.Fetch(ctx, key, func(fctx context.Context) (interface{}, error) {
				list, gerr := gateway.ListComments(fctx, campaignID, cfg.API.DefaultPageSize, 0)
				if gerr != nil {
					return nil, gerr
				}
				return *list, nil
			})
		case strings.HasPrefix(key, wonderPrefix):
			id := strings.TrimPrefix(key, wonderPrefix)
			_, err = cacheStore.Fetch(ctx, key, func(fctx context.Context) (interface{}, error) {
				w, gerr := gateway.GetWonder(fctx, id)
				if gerr != nil {
					return nil, gerr
				}
				return *w, nil
			})
		default:
			return
		}
		if err != nil && !errors.Is(err, cache.ErrSuperseded) {
			logging.Debug().Err(err).Str("key", key).Msg("background refetch failed")
		}
	}
}

// registerPrefetches warms the queries most sessions hit first.
func registerPrefetches(cfg *config.Config, maint *maintenance.Manager, cacheStore *cache.Store, gateway store.Gateway) {
	defaultCampaigns := store.SearchCampaignsInput{Limit: cfg.API.DefaultPageSize}
	maint.RegisterPrefetch("campaigns-front-page", func(ctx context.Context) error {
		_, err := cacheStore.Fetch(ctx, models.CampaignSearchKey(defaultCampaigns), func(fctx context.Context) (interface{}, error) {
			list, gerr := gateway.SearchCampaigns(fctx, defaultCampaigns)
			if gerr != nil {
				return nil, gerr
			}
			return *list, nil
		})
		return err
	})

	defaultWonders := store.SearchWondersInput{Limit: cfg.API.DefaultPageSize}
	maint.RegisterPrefetch("wonders-feed", func(ctx context.Context) error {
		_, err := cacheStore.Fetch(ctx, models.WonderSearchKey(defaultWonders), func(fctx context.Context) (interface{}, error) {
			list, gerr := gateway.SearchWonders(fctx, defaultWonders)
			if gerr != nil {
				return nil, gerr
			}
			return *list, nil
		})
		return err
	})
}

// metricsSync periodically copies cache counters into the Prometheus
// collectors.
type metricsSync struct {
	cache  *cache.Store
	syncer metrics.CacheStatsSyncer
}

func (m *metricsSync) Serve(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := m.cache.GetStats()
			m.syncer.Sync(st.Hits, st.Misses, st.Evictions, st.Invalidations, st.CancelledFetches, st.Entries)
		}
	}
}

func (m *metricsSync) String() string { return "metrics-sync" }
