/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/assign"
	"github.com/friendsincode/muninn_rounds/internal/cache"
	"github.com/friendsincode/muninn_rounds/internal/catalog"
	"github.com/friendsincode/muninn_rounds/internal/eventbus"
	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/journal"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/reports"
	"github.com/friendsincode/muninn_rounds/internal/storage"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
	"github.com/friendsincode/muninn_rounds/internal/version"
	"github.com/friendsincode/muninn_rounds/internal/window"
	ws "nhooyr.io/websocket"
)

// API exposes HTTP handlers.
type API struct {
	db          *gorm.DB
	resolver    *assign.Resolver
	schedulers  *window.Registry
	cache       *cache.Cache
	catalogSvc  *catalog.Service
	reportsSvc  *reports.Service
	store       storage.ObjectStore
	bus         eventbus.Bus
	journal     *journal.Buffer
	leaderCheck func() bool
	logger      zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, resolver *assign.Resolver, schedulers *window.Registry, bus eventbus.Bus, journalBuf *journal.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:         db,
		resolver:   resolver,
		schedulers: schedulers,
		bus:        bus,
		journal:    journalBuf,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetCache attaches the assignment cache for write-path invalidation.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// SetCatalogService enables the catalog import endpoint.
func (a *API) SetCatalogService(svc *catalog.Service) {
	a.catalogSvc = svc
}

// SetReportsService enables the report endpoints.
func (a *API) SetReportsService(svc *reports.Service, store storage.ObjectStore) {
	a.reportsSvc = svc
	a.store = store
}

// SetLeaderCheck surfaces leader election status on the health endpoint.
func (a *API) SetLeaderCheck(isLeader func() bool) {
	a.leaderCheck = isLeader
}

type brandCreateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type brandUpdateRequest struct {
	Name   *string `json:"name"`
	Slug   *string `json:"slug"`
	Active *bool   `json:"active"`
}

type locationCreateRequest struct {
	BrandID  uint   `json:"brand_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Timezone string `json:"timezone"`
}

type locationUpdateRequest struct {
	Name     *string `json:"name"`
	Slug     *string `json:"slug"`
	Timezone *string `json:"timezone"`
	Active   *bool   `json:"active"`
}

type taskRequest struct {
	Title           string            `json:"title"`
	Details         string            `json:"details"`
	BrandID         *uint             `json:"brand_id"`
	LocationID      *string           `json:"location_id"`
	IsRoutine       bool              `json:"is_routine"`
	Weight          int               `json:"weight"`
	FixedWeekdays   []int             `json:"fixed_weekdays"`
	FixedSlots      []models.SlotType `json:"fixed_slots"`
	ApplicableSlots []models.SlotType `json:"applicable_slots"`
	Announced       *bool             `json:"announced"`
	ExecuteDate     *string           `json:"execute_date"`
	ExecuteSlot     *models.SlotType  `json:"execute_slot"`
}

type windowSetRequest struct {
	Windows []windowEntry `json:"windows"`
}

type windowEntry struct {
	Slot       models.SlotType `json:"slot"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	LocationID *string         `json:"location_id,omitempty"`
}

type reportRunRequest struct {
	BrandID uint   `json:"brand_id"`
	Date    string `json:"date"`
}

type resolveResponse struct {
	LocationID string                   `json:"location_id"`
	BrandID    uint                     `json:"brand_id"`
	Date       string                   `json:"date"`
	Slot       models.SlotType          `json:"slot"`
	Outcome    models.AssignmentOutcome `json:"outcome"`
	Tier       models.ResolutionTier    `json:"tier"`
	Task       *models.Task             `json:"task,omitempty"`
	Seed       *uint32                  `json:"seed,omitempty"`
	FromCache  bool                     `json:"from_cache"`
}

type locationWindowResponse struct {
	LocationID  string          `json:"location_id"`
	BrandID     uint            `json:"brand_id"`
	Timezone    string          `json:"timezone"`
	CurrentSlot models.SlotType `json:"current_slot"`
	InWindow    bool            `json:"in_window"`
	Windows     []window.Window `json:"windows"`
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealthz)
		r.Get("/resolve", a.handleResolve)
		r.Get("/events/ws", a.handleEvents)

		r.Route("/brands", func(r chi.Router) {
			r.Get("/", a.handleBrandsList)
			r.Post("/", a.handleBrandsCreate)
			r.Route("/{brandID}", func(r chi.Router) {
				r.Get("/", a.handleBrandsGet)
				r.Patch("/", a.handleBrandsUpdate)
				r.Get("/windows", a.handleBrandWindowsGet)
				r.Put("/windows", a.handleBrandWindowsPut)
			})
		})

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", a.handleLocationsList)
			r.Post("/", a.handleLocationsCreate)
			r.Route("/{locationID}", func(r chi.Router) {
				r.Get("/", a.handleLocationsGet)
				r.Patch("/", a.handleLocationsUpdate)
				r.Get("/window", a.handleLocationWindow)
				r.Route("/journal", func(jr chi.Router) {
					jr.Get("/", a.handleLocationJournal)
					jr.Get("/components", a.handleLocationJournalComponents)
					jr.Get("/stats", a.handleLocationJournalStats)
				})
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", a.handleTasksList)
			r.Post("/", a.handleTasksCreate)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", a.handleTasksGet)
				r.Put("/", a.handleTasksUpdate)
				r.Delete("/", a.handleTasksDelete)
			})
		})

		r.Get("/assignments", a.handleAssignmentsList)

		r.Route("/reports", func(r chi.Router) {
			r.Post("/run", a.handleReportsRun)
			r.Get("/", a.handleReportsList)
			r.Get("/{brandID}/{date}", a.handleReportsDownload)
			r.Delete("/{brandID}/{date}", a.handleReportsDelete)
		})

		r.Route("/journal", func(r chi.Router) {
			r.Get("/", a.handleJournalQuery)
			r.Get("/components", a.handleJournalComponents)
			r.Get("/stats", a.handleJournalStats)
			r.Delete("/", a.handleJournalClear)
		})

		r.Post("/catalog/import", a.handleCatalogImport)
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": version.Version}
	if a.leaderCheck != nil {
		resp["leader"] = a.leaderCheck()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := a.db.DB()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleResolve runs the assignment cascade for one (location, slot, date).
// Date defaults to today in the location's timezone; slot defaults to the
// location's currently open window.
func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("location_id")
	if locationID == "" {
		writeError(w, http.StatusBadRequest, "location_id_required")
		return
	}

	var loc models.Location
	result := a.db.WithContext(r.Context()).First(&loc, "id = ? AND active = ?", locationID, true)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "location_not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("resolve location lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	tz := time.UTC
	if loc.Timezone != "" {
		if parsed, err := time.LoadLocation(loc.Timezone); err == nil {
			tz = parsed
		}
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().In(tz).Format("2006-01-02")
	}

	slot := models.SlotType(r.URL.Query().Get("slot"))
	if slot == models.SlotNone {
		if sched, ok := a.schedulers.Get(loc.BrandID); ok {
			slot = sched.CurrentSlot()
		}
		if slot == models.SlotNone {
			writeError(w, http.StatusConflict, "no_open_window")
			return
		}
	}

	res, err := a.resolver.Resolve(r.Context(), assign.Request{
		LocationID: locationID,
		Slot:       slot,
		Date:       date,
	})
	if err != nil {
		switch {
		case errors.Is(err, assign.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "invalid_request")
		case errors.Is(err, assign.ErrLocationUnknown):
			writeError(w, http.StatusNotFound, "location_not_found")
		default:
			a.logger.Error().Err(err).
				Str("location_id", locationID).
				Str("slot", string(slot)).
				Msg("resolve failed")
			writeError(w, http.StatusInternalServerError, "resolve_failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		LocationID: locationID,
		BrandID:    res.BrandID,
		Date:       date,
		Slot:       slot,
		Outcome:    res.Outcome,
		Tier:       res.Tier,
		Task:       res.Task,
		Seed:       res.Seed,
		FromCache:  res.FromCache,
	})
}

// handleLocationWindow reports the effective window set for a location and
// which slot, if any, is open right now.
func (a *API) handleLocationWindow(w http.ResponseWriter, r *http.Request) {
	locationID := chi.URLParam(r, "locationID")
	if locationID == "" {
		writeError(w, http.StatusBadRequest, "location_id_required")
		return
	}

	var loc models.Location
	result := a.db.WithContext(r.Context()).First(&loc, "id = ?", locationID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("location window lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	effective, ok := a.cachedWindows(r.Context(), loc.ID)
	if !ok {
		var configs []models.WindowConfig
		if err := a.db.WithContext(r.Context()).
			Where("brand_id = ? AND active = ?", loc.BrandID, true).
			Find(&configs).Error; err != nil {
			a.logger.Error().Err(err).Msg("window config lookup failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		effective = window.Effective(configs, loc.ID)
		a.storeWindows(r.Context(), loc.ID, effective)
	}

	tz := time.UTC
	if loc.Timezone != "" {
		if parsed, err := time.LoadLocation(loc.Timezone); err == nil {
			tz = parsed
		}
	}
	current := window.SlotAt(effective, time.Now().In(tz).Format("15:04:05"))

	writeJSON(w, http.StatusOK, locationWindowResponse{
		LocationID:  loc.ID,
		BrandID:     loc.BrandID,
		Timezone:    loc.Timezone,
		CurrentSlot: current,
		InWindow:    current != models.SlotNone,
		Windows:     effective,
	})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{events.EventSlotChanged, events.EventAssignmentResolved, events.EventSlotPreload}
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Error().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Error().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func (a *API) publish(eventType events.EventType, payload events.Payload) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(eventType, payload)
}

// cachedWindows returns the location's effective window set from the cache.
func (a *API) cachedWindows(ctx context.Context, locationID string) ([]window.Window, bool) {
	if a.cache == nil {
		return nil, false
	}
	entries, ok := a.cache.GetWindows(ctx, locationID)
	if !ok {
		return nil, false
	}
	windows := make([]window.Window, 0, len(entries))
	for _, e := range entries {
		windows = append(windows, window.Window{Slot: e.Slot, Start: e.Start, End: e.End})
	}
	return windows, true
}

func (a *API) storeWindows(ctx context.Context, locationID string, windows []window.Window) {
	if a.cache == nil {
		return
	}
	entries := make([]cache.CachedWindow, 0, len(windows))
	for _, win := range windows {
		entries = append(entries, cache.CachedWindow{Slot: win.Slot, Start: win.Start, End: win.End})
	}
	if err := a.cache.SetWindows(ctx, locationID, entries); err != nil {
		a.logger.Debug().Err(err).Str("location_id", locationID).Msg("windows cache store failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
