/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the rounds service together: database, cache, event
// bus, per-brand window schedulers, background jobs, and the HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/api"
	"github.com/friendsincode/muninn_rounds/internal/assign"
	"github.com/friendsincode/muninn_rounds/internal/cache"
	"github.com/friendsincode/muninn_rounds/internal/catalog"
	"github.com/friendsincode/muninn_rounds/internal/config"
	"github.com/friendsincode/muninn_rounds/internal/db"
	"github.com/friendsincode/muninn_rounds/internal/eventbus"
	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/journal"
	"github.com/friendsincode/muninn_rounds/internal/leadership"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/preload"
	"github.com/friendsincode/muninn_rounds/internal/reports"
	"github.com/friendsincode/muninn_rounds/internal/storage"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
	"github.com/friendsincode/muninn_rounds/internal/version"
	"github.com/friendsincode/muninn_rounds/internal/window"
)

// electionKey is the Redis lease key shared by all instances competing to
// run singleton jobs (daily reports).
const electionKey = "muninn:leader:rounds"

// Server owns every long-lived component of the rounds service.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     *chi.Mux
	httpServer *http.Server
	metricsSrv *http.Server
	closers    []func() error

	db            *gorm.DB
	cache         *cache.Cache
	bus           eventbus.Bus
	resolver      *assign.Resolver
	registry      *window.Registry
	warmer        *preload.Warmer
	reportsSvc    *reports.Service
	catalogSvc    *catalog.Service
	store         storage.ObjectStore
	election      *leadership.Election
	updateChecker *version.Checker
	journalBuf    *journal.Buffer
	api           *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, journalBuf *journal.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("muninn-rounds-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for WebSocket upgrades; the event stream is
	// a long-lived connection.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		router:     router,
		registry:   window.NewRegistry(),
		journalBuf: journalBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: srv.router,
		// Keep the header deadline to protect against slowloris, but leave
		// body deadlines to the middleware timeout so the WebSocket event
		// stream is never cut mid-connection.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsBind != "" && cfg.MetricsBind != cfg.HTTPAddr() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsSrv = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for resolved assignments. Failure to connect downgrades
	// to direct database reads rather than blocking startup.
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		assignmentCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = assignmentCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	bus, err := s.initBus()
	if err != nil {
		return err
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	store := assign.NewGormStore(database, s.logger)
	s.resolver = assign.NewResolver(store, s.logger)
	s.resolver.SetRecorder(store)
	s.resolver.SetBus(s.bus)
	if s.cache != nil {
		s.resolver.SetCache(s.cache)
	}

	s.warmer = preload.New(database, s.resolver, s.cfg.PreloadWorkers, s.logger)

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:       s.cfg.RedisAddr,
			RedisPassword:   s.cfg.RedisPassword,
			RedisDB:         s.cfg.RedisDB,
			ElectionKey:     electionKey,
			LeaseDuration:   15 * time.Second,
			RenewalInterval: 5 * time.Second,
			RetryInterval:   2 * time.Second,
			InstanceID:      s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return err
		}
		s.election = election
		s.DeferClose(election.Stop)
	}

	if s.cfg.ReportsEnabled {
		objectStore, err := s.initObjectStore()
		if err != nil {
			return err
		}
		s.store = objectStore
		s.reportsSvc = reports.New(database, objectStore, s.cfg.ReportHour, s.logger)
		s.reportsSvc.SetBus(s.bus)
		if s.election != nil {
			s.reportsSvc.SetLeaderCheck(s.election.IsLeader)
		}
	}

	s.catalogSvc = catalog.New(database, s.logger)
	s.catalogSvc.SetBus(s.bus)

	s.updateChecker = version.NewChecker(s.logger)

	s.api = api.New(database, s.resolver, s.registry, s.bus, s.journalBuf, s.logger)
	if s.cache != nil {
		s.api.SetCache(s.cache)
	}
	s.api.SetCatalogService(s.catalogSvc)
	if s.reportsSvc != nil {
		s.api.SetReportsService(s.reportsSvc, s.store)
	}
	if s.election != nil {
		s.api.SetLeaderCheck(s.election.IsLeader)
	}

	return nil
}

// initBus selects the event bus backend. Memory is single-instance;
// Redis and NATS fan events out to every instance.
func (s *Server) initBus() (eventbus.Bus, error) {
	switch s.cfg.EventsBackend {
	case config.EventsRedis:
		busCfg := eventbus.DefaultRedisConfig()
		busCfg.Addr = s.cfg.RedisAddr
		busCfg.Password = s.cfg.RedisPassword
		busCfg.DB = s.cfg.RedisDB
		return eventbus.NewRedisBus(busCfg, s.nodeID(), s.logger)
	case config.EventsNATS:
		busCfg := eventbus.DefaultNATSConfig()
		busCfg.URL = s.cfg.NATSURL
		busCfg.Token = s.cfg.NATSToken
		return eventbus.NewNATSBus(busCfg, s.nodeID(), s.logger)
	default:
		return eventbus.NewMemory(), nil
	}
}

func (s *Server) nodeID() string {
	if s.cfg.InstanceID != "" {
		return s.cfg.InstanceID
	}
	host, err := os.Hostname()
	if err != nil {
		return uuid.NewString()
	}
	return host
}

func (s *Server) initObjectStore() (storage.ObjectStore, error) {
	if s.cfg.ReportStorage == config.StorageS3 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3Store(ctx, storage.S3Config{
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			Endpoint:        s.cfg.S3Endpoint,
			PublicBaseURL:   s.cfg.S3PublicBaseURL,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
	}
	return storage.NewFSStore(s.cfg.ReportsDir)
}

// HTTPServer returns the configured HTTP server for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	// Shut the metrics listener down before stopping background workers;
	// its serve goroutine is tracked by the worker wait group.
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("metrics listener shutdown error")
		}
		cancel()
	}
	s.stopBackgroundWorkers()
	if s.registry != nil {
		s.registry.StopAll()
		telemetry.SchedulersActive.Set(0)
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("starting leader election")
		}
	}

	s.initSchedulers(ctx)

	// Daily report loop
	if s.reportsSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.reportsSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("report loop exited")
			}
		}()
	}

	// Database pool metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.updateChecker != nil {
		s.updateChecker.Start(ctx)
	}

	// Cache invalidation and scheduler rebuild listener
	if s.bus != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runInvalidationListener(ctx)
		}()
	}

	// Dedicated metrics listener
	if s.metricsSrv != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.logger.Info().Str("addr", s.metricsSrv.Addr).Msg("metrics listener started")
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener exited")
			}
		}()
	}
}

// initSchedulers starts one window scheduler per active brand that has at
// least one active brand-level window.
func (s *Server) initSchedulers(ctx context.Context) {
	var brands []models.Brand
	if err := s.db.Where("active = ?", true).Find(&brands).Error; err != nil {
		s.logger.Error().Err(err).Msg("loading brands for window schedulers")
		return
	}

	for _, brand := range brands {
		var configs []models.WindowConfig
		if err := s.db.Where("brand_id = ? AND active = ?", brand.ID, true).Find(&configs).Error; err != nil {
			s.logger.Error().Err(err).Uint("brand_id", brand.ID).Msg("loading window configs")
			continue
		}
		windows := window.FromConfigs(configs)
		if len(windows) == 0 {
			s.logger.Debug().Uint("brand_id", brand.ID).Msg("brand has no active windows, scheduler not started")
			continue
		}
		if err := s.startBrandScheduler(ctx, brand.ID, windows); err != nil {
			s.logger.Error().Err(err).Uint("brand_id", brand.ID).Msg("starting window scheduler")
		}
	}

	telemetry.SchedulersActive.Set(float64(s.registry.Len()))
	s.logger.Info().Int("schedulers", s.registry.Len()).Msg("window schedulers started")
}

// startBrandScheduler builds a scheduler for one brand and registers it,
// replacing (and stopping) any previous scheduler for that brand.
func (s *Server) startBrandScheduler(ctx context.Context, brandID uint, windows []window.Window) error {
	tz := s.brandTimezone(brandID)
	sched := window.New(window.Config{
		Location:    tz,
		PreloadLead: s.cfg.PreloadLead,
	}, s.logger.With().Uint("brand_id", brandID).Logger())

	if err := sched.Init(windows); err != nil {
		return err
	}

	sched.OnSlotChange(func(current, previous models.SlotType) {
		telemetry.SlotTransitionsTotal.WithLabelValues(slotLabel(current)).Inc()
		s.bus.Publish(events.EventSlotChanged, events.Payload{
			"brand_id": brandID,
			"slot":     string(current),
			"previous": string(previous),
			"date":     time.Now().In(tz).Format("2006-01-02"),
		})
	})

	sched.OnPreload(func(next models.SlotType) {
		telemetry.SlotPreloadsTotal.WithLabelValues(slotLabel(next)).Inc()
		date := time.Now().In(tz).Format("2006-01-02")
		s.bus.Publish(events.EventSlotPreload, events.Payload{
			"brand_id": brandID,
			"slot":     string(next),
			"date":     date,
		})
		if s.warmer == nil {
			return
		}
		go func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.warmer.WarmBrand(ctx, brandID, date, next); err != nil {
				s.logger.Error().Err(err).Uint("brand_id", brandID).Msg("preload warm failed")
			}
		}()
	})

	s.registry.Put(brandID, sched)
	return nil
}

// syncBrandScheduler reconciles one brand's scheduler with the database:
// started when windows exist, removed when the brand is gone, inactive, or
// has no active windows.
func (s *Server) syncBrandScheduler(ctx context.Context, brandID uint) {
	var brand models.Brand
	err := s.db.Where("id = ? AND active = ?", brandID, true).First(&brand).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error().Err(err).Uint("brand_id", brandID).Msg("loading brand for scheduler sync")
			return
		}
		s.registry.Remove(brandID)
		telemetry.SchedulersActive.Set(float64(s.registry.Len()))
		return
	}

	var configs []models.WindowConfig
	if err := s.db.Where("brand_id = ? AND active = ?", brandID, true).Find(&configs).Error; err != nil {
		s.logger.Error().Err(err).Uint("brand_id", brandID).Msg("loading window configs for scheduler sync")
		return
	}
	windows := window.FromConfigs(configs)
	if len(windows) == 0 {
		s.registry.Remove(brandID)
		telemetry.SchedulersActive.Set(float64(s.registry.Len()))
		return
	}

	if err := s.startBrandScheduler(ctx, brandID, windows); err != nil {
		s.logger.Error().Err(err).Uint("brand_id", brandID).Msg("rebuilding window scheduler")
		return
	}
	telemetry.SchedulersActive.Set(float64(s.registry.Len()))
	s.logger.Info().Uint("brand_id", brandID).Int("windows", len(windows)).Msg("window scheduler rebuilt")
}

// rebuildAllSchedulers tears down every scheduler and restarts from the
// database. Used after catalog imports, which can touch many brands at once.
func (s *Server) rebuildAllSchedulers(ctx context.Context) {
	s.registry.StopAll()
	s.initSchedulers(ctx)
}

// brandTimezone picks the timezone shared by most of a brand's active
// locations, falling back to UTC. Slot events and preload dates follow it.
func (s *Server) brandTimezone(brandID uint) *time.Location {
	var rows []struct {
		Timezone string
		N        int64
	}
	err := s.db.Model(&models.Location{}).
		Select("timezone, COUNT(*) AS n").
		Where("brand_id = ? AND active = ?", brandID, true).
		Group("timezone").
		Order("n DESC, timezone ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 || rows[0].Timezone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(rows[0].Timezone)
	if err != nil {
		s.logger.Warn().Uint("brand_id", brandID).Str("timezone", rows[0].Timezone).Msg("invalid brand timezone, using UTC")
		return time.UTC
	}
	return loc
}

// runInvalidationListener subscribes to change events and keeps the cache
// and the per-brand schedulers consistent. Events may originate on another
// instance when a distributed bus is configured.
func (s *Server) runInvalidationListener(ctx context.Context) {
	brandUpdated := s.bus.Subscribe(events.EventBrandUpdated)
	locationUpdated := s.bus.Subscribe(events.EventLocationUpdated)
	taskCreated := s.bus.Subscribe(events.EventTaskCreated)
	taskUpdated := s.bus.Subscribe(events.EventTaskUpdated)
	taskDeleted := s.bus.Subscribe(events.EventTaskDeleted)
	windowUpdated := s.bus.Subscribe(events.EventWindowUpdated)
	catalogImported := s.bus.Subscribe(events.EventCatalogImported)

	defer func() {
		s.bus.Unsubscribe(events.EventBrandUpdated, brandUpdated)
		s.bus.Unsubscribe(events.EventLocationUpdated, locationUpdated)
		s.bus.Unsubscribe(events.EventTaskCreated, taskCreated)
		s.bus.Unsubscribe(events.EventTaskUpdated, taskUpdated)
		s.bus.Unsubscribe(events.EventTaskDeleted, taskDeleted)
		s.bus.Unsubscribe(events.EventWindowUpdated, windowUpdated)
		s.bus.Unsubscribe(events.EventCatalogImported, catalogImported)
	}()

	s.logger.Info().Msg("invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("invalidation listener stopped")
			return

		case payload := <-brandUpdated:
			if brandID, ok := payloadBrandID(payload); ok {
				s.invalidateBrand(ctx, brandID)
				s.syncBrandScheduler(ctx, brandID)
			}

		case payload := <-locationUpdated:
			if s.cache != nil {
				if locationID, ok := payload["location_id"].(string); ok {
					if err := s.cache.InvalidateLocation(ctx, locationID); err != nil {
						s.logger.Debug().Err(err).Msg("location cache invalidation failed")
					}
				}
			}
			if brandID, ok := payloadBrandID(payload); ok {
				s.invalidateBrand(ctx, brandID)
			}

		case payload := <-taskCreated:
			s.invalidateTaskScope(ctx, payload)

		case payload := <-taskUpdated:
			s.invalidateTaskScope(ctx, payload)

		case payload := <-taskDeleted:
			s.invalidateTaskScope(ctx, payload)

		case payload := <-windowUpdated:
			if s.cache != nil {
				if err := s.cache.InvalidateWindows(ctx); err != nil {
					s.logger.Debug().Err(err).Msg("window cache invalidation failed")
				}
			}
			if brandID, ok := payloadBrandID(payload); ok {
				s.syncBrandScheduler(ctx, brandID)
			}

		case <-catalogImported:
			if s.cache != nil {
				if err := s.cache.FlushAll(ctx); err != nil {
					s.logger.Debug().Err(err).Msg("cache flush failed")
				}
			}
			s.rebuildAllSchedulers(ctx)
		}
	}
}

func (s *Server) invalidateBrand(ctx context.Context, brandID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBrandAssignments(ctx, brandID); err != nil {
		s.logger.Debug().Err(err).Uint("brand_id", brandID).Msg("brand cache invalidation failed")
	}
}

// invalidateTaskScope drops cached assignments for the task's brand, or all
// cached assignments for globally scoped tasks.
func (s *Server) invalidateTaskScope(ctx context.Context, payload events.Payload) {
	if s.cache == nil {
		return
	}
	if brandID, ok := payloadBrandID(payload); ok {
		s.invalidateBrand(ctx, brandID)
		return
	}
	if err := s.cache.InvalidateAssignments(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("assignment cache invalidation failed")
	}
}

// payloadBrandID extracts the brand ID from an event payload. Distributed
// buses round-trip payloads through JSON, so numbers arrive as float64.
func payloadBrandID(payload events.Payload) (uint, bool) {
	switch v := payload["brand_id"].(type) {
	case uint:
		return v, true
	case int:
		if v >= 0 {
			return uint(v), true
		}
	case int64:
		if v >= 0 {
			return uint(v), true
		}
	case float64:
		if v >= 0 {
			return uint(v), true
		}
	}
	return 0, false
}

func slotLabel(slot models.SlotType) string {
	if slot == models.SlotNone {
		return "none"
	}
	return string(slot)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}
