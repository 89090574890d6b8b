package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/storage"
)

func setupReportDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Brand{}, &models.Assignment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedAssignment(t *testing.T, db *gorm.DB, brandID uint, locationID string, slot models.SlotType, taskTitle string, createdAt time.Time) {
	t.Helper()
	taskID := uuid.NewString()
	a := models.Assignment{
		ID:         uuid.NewString(),
		Date:       "2025-03-15",
		BrandID:    brandID,
		LocationID: locationID,
		Slot:       slot,
		TaskID:     &taskID,
		TaskTitle:  taskTitle,
		Outcome:    models.OutcomeAssigned,
		Tier:       models.TierWeighted,
		CreatedAt:  createdAt,
	}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
}

func TestGenerateUploadsCSV(t *testing.T) {
	db := setupReportDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc := New(db, store, 3, zerolog.Nop())

	base := time.Date(2025, 3, 15, 11, 0, 0, 0, time.UTC)
	locA := "0338b9a3-33a0-4d42-a9ac-81fa1c68e0a1"
	locB := "a96bd344-bbcf-40b7-bd1c-4bf57e936917"
	seedAssignment(t, db, 42, locB, models.SlotDinnerOpen, "Count till", base.Add(6*time.Hour))
	seedAssignment(t, db, 42, locA, models.SlotLunchOpen, "Wipe menus", base)
	seedAssignment(t, db, 7, locA, models.SlotLunchOpen, "Other brand", base)

	report, err := svc.Generate(context.Background(), 42, "2025-03-15")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Rows != 2 {
		t.Fatalf("expected 2 rows, got %d", report.Rows)
	}
	if report.Key != "reports/42/2025-03-15.csv" {
		t.Fatalf("unexpected key: %s", report.Key)
	}

	data, err := store.Read(context.Background(), report.Key)
	if err != nil {
		t.Fatalf("read stored report: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "date" || records[0][7] != "task_title" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	// Rows sort by location then slot, so locA's lunch task comes first.
	if records[1][7] != "Wipe menus" || records[2][7] != "Count till" {
		t.Fatalf("unexpected row order: %v / %v", records[1], records[2])
	}
	if records[1][1] != "42" {
		t.Fatalf("expected brand 42, got %v", records[1])
	}
}

func TestGenerateEmptyDateStillProducesHeader(t *testing.T) {
	db := setupReportDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc := New(db, store, 3, zerolog.Nop())

	report, err := svc.Generate(context.Background(), 42, "2025-03-16")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Rows != 0 {
		t.Fatalf("expected 0 rows, got %d", report.Rows)
	}

	data, err := store.Read(context.Background(), report.Key)
	if err != nil {
		t.Fatalf("read stored report: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected header only, got %d records", len(records))
	}
}

func TestGeneratePublishesEvent(t *testing.T) {
	db := setupReportDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc := New(db, store, 3, zerolog.Nop())

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventReportUploaded)
	defer bus.Unsubscribe(events.EventReportUploaded, sub)
	svc.SetBus(bus)

	if _, err := svc.Generate(context.Background(), 42, "2025-03-15"); err != nil {
		t.Fatalf("generate: %v", err)
	}

	select {
	case payload := <-sub:
		if payload["key"] != "reports/42/2025-03-15.csv" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected report uploaded event")
	}
}

func TestRunDailyCoversActiveBrands(t *testing.T) {
	db := setupReportDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	svc := New(db, store, 3, zerolog.Nop())

	brands := []models.Brand{
		{Name: "Fresh Bowl", Slug: "fresh-bowl", Active: true},
		{Name: "Retired Chain", Slug: "retired-chain", Active: true},
	}
	for i := range brands {
		if err := db.Create(&brands[i]).Error; err != nil {
			t.Fatalf("seed brand: %v", err)
		}
	}
	if err := db.Model(&models.Brand{}).Where("id = ?", brands[1].ID).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate brand: %v", err)
	}
	seedAssignment(t, db, brands[0].ID, "0338b9a3-33a0-4d42-a9ac-81fa1c68e0a1", models.SlotLunchOpen, "Wipe menus", time.Now())

	if err := svc.RunDaily(context.Background(), "2025-03-15"); err != nil {
		t.Fatalf("run daily: %v", err)
	}

	keys, err := store.List(context.Background(), "reports")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one report for the active brand, got %v", keys)
	}
	if keys[0] != Key(brands[0].ID, "2025-03-15") {
		t.Fatalf("unexpected key: %s", keys[0])
	}
}

func TestNextRunAt(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{
			name: "before the hour runs today",
			now:  time.Date(2025, 3, 15, 1, 30, 0, 0, loc),
			hour: 3,
			want: time.Date(2025, 3, 15, 3, 0, 0, 0, loc),
		},
		{
			name: "after the hour runs tomorrow",
			now:  time.Date(2025, 3, 15, 3, 0, 1, 0, loc),
			hour: 3,
			want: time.Date(2025, 3, 16, 3, 0, 0, 0, loc),
		},
		{
			name: "exactly on the hour runs tomorrow",
			now:  time.Date(2025, 3, 15, 3, 0, 0, 0, loc),
			hour: 3,
			want: time.Date(2025, 3, 16, 3, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextRunAt(tt.now, tt.hour); !got.Equal(tt.want) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
