package preload

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/assign"
	"github.com/friendsincode/muninn_rounds/internal/models"
)

type fakeResolver struct {
	mu       sync.Mutex
	calls    []string
	inFlight int
	maxSeen  int
	delay    time.Duration
	fail     map[string]bool
	none     map[string]bool
}

func (f *fakeResolver) Resolve(_ context.Context, req assign.Request) (*assign.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.LocationID)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.fail[req.LocationID] {
		return nil, assign.ErrStoreQuery
	}
	if f.none[req.LocationID] {
		return &assign.Result{Outcome: models.OutcomeNone, Tier: models.TierNone}, nil
	}
	return &assign.Result{Outcome: models.OutcomeAssigned, Tier: models.TierWeighted}, nil
}

func setupWarmerDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Location{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedWarmerLocation(t *testing.T, db *gorm.DB, brandID uint, active bool) string {
	t.Helper()
	loc := models.Location{
		ID:      uuid.NewString(),
		BrandID: brandID,
		Name:    "Location " + uuid.NewString()[:8],
		Active:  true,
	}
	if err := db.Create(&loc).Error; err != nil {
		t.Fatalf("seed location: %v", err)
	}
	if !active {
		if err := db.Model(&models.Location{}).Where("id = ?", loc.ID).Update("active", false).Error; err != nil {
			t.Fatalf("deactivate location: %v", err)
		}
	}
	return loc.ID
}

func TestWarmBrandResolvesEveryActiveLocation(t *testing.T) {
	db := setupWarmerDB(t)
	want := []string{
		seedWarmerLocation(t, db, 42, true),
		seedWarmerLocation(t, db, 42, true),
		seedWarmerLocation(t, db, 42, true),
	}
	seedWarmerLocation(t, db, 42, false)
	seedWarmerLocation(t, db, 7, true)

	resolver := &fakeResolver{}
	w := New(db, resolver, 2, zerolog.Nop())

	stats, err := w.WarmBrand(context.Background(), 42, "2025-03-15", models.SlotLunchOpen)
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if stats.Locations != 3 || stats.Warmed != 3 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	sort.Strings(want)
	got := append([]string(nil), resolver.calls...)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("expected %d resolutions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected resolutions for %v, got %v", want, got)
		}
	}
}

func TestWarmBrandCountsOutcomes(t *testing.T) {
	db := setupWarmerDB(t)
	okLoc := seedWarmerLocation(t, db, 42, true)
	noneLoc := seedWarmerLocation(t, db, 42, true)
	failLoc := seedWarmerLocation(t, db, 42, true)
	_ = okLoc

	resolver := &fakeResolver{
		none: map[string]bool{noneLoc: true},
		fail: map[string]bool{failLoc: true},
	}
	w := New(db, resolver, 4, zerolog.Nop())

	stats, err := w.WarmBrand(context.Background(), 42, "2025-03-15", models.SlotDinnerClose)
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if stats.Warmed != 1 || stats.NoTask != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestWarmBrandBoundsConcurrency(t *testing.T) {
	db := setupWarmerDB(t)
	for i := 0; i < 8; i++ {
		seedWarmerLocation(t, db, 42, true)
	}

	resolver := &fakeResolver{delay: 10 * time.Millisecond}
	w := New(db, resolver, 2, zerolog.Nop())

	if _, err := w.WarmBrand(context.Background(), 42, "2025-03-15", models.SlotLunchOpen); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if resolver.maxSeen > 2 {
		t.Fatalf("expected at most 2 concurrent resolutions, saw %d", resolver.maxSeen)
	}
	if len(resolver.calls) != 8 {
		t.Fatalf("expected 8 resolutions, got %d", len(resolver.calls))
	}
}

func TestWarmBrandWithNoLocations(t *testing.T) {
	db := setupWarmerDB(t)
	resolver := &fakeResolver{}
	w := New(db, resolver, 2, zerolog.Nop())

	stats, err := w.WarmBrand(context.Background(), 42, "2025-03-15", models.SlotLunchOpen)
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if stats.Locations != 0 || len(resolver.calls) != 0 {
		t.Fatalf("expected no work, got %+v with %d calls", stats, len(resolver.calls))
	}
}
