package assign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

func setupStoreDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Brand{},
		&models.Location{},
		&models.Task{},
		&models.Assignment{},
	); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

// seedTask writes a task with an explicit creation time so ordering
// assertions do not depend on wall-clock resolution.
func seedTask(t *testing.T, db *gorm.DB, task models.Task, createdAt time.Time) models.Task {
	t.Helper()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Normalize()
	task.Active = true
	task.CreatedAt = createdAt

	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("failed to seed task %s: %v", task.Title, err)
	}
	return task
}

func deactivate(t *testing.T, db *gorm.DB, task models.Task) {
	t.Helper()
	// Zero bool values are skipped on create when the column carries a
	// default, so flipping active off needs an explicit update.
	if err := db.Model(&models.Task{}).Where("id = ?", task.ID).Update("active", false).Error; err != nil {
		t.Fatalf("failed to deactivate task: %v", err)
	}
}

func seedLocation(t *testing.T, db *gorm.DB, loc models.Location) models.Location {
	t.Helper()
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	loc.Active = true
	if err := db.Create(&loc).Error; err != nil {
		t.Fatalf("failed to seed location: %v", err)
	}
	return loc
}

func taskIDs(tasks []models.Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func TestGormStoreLocation(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	loc := seedLocation(t, db, models.Location{BrandID: testBrandID, Name: "Harbor Street"})

	closed := seedLocation(t, db, models.Location{BrandID: testBrandID, Name: "Closed Down"})
	if err := db.Model(&models.Location{}).Where("id = ?", closed.ID).Update("active", false).Error; err != nil {
		t.Fatalf("failed to deactivate location: %v", err)
	}

	got, err := store.Location(ctx, loc.ID)
	if err != nil {
		t.Fatalf("Location() error = %v", err)
	}
	if got.ID != loc.ID || got.BrandID != testBrandID {
		t.Errorf("Location() = %+v, want id %s brand %d", got, loc.ID, testBrandID)
	}

	if _, err := store.Location(ctx, closed.ID); !errors.Is(err, ErrLocationUnknown) {
		t.Errorf("inactive location error = %v, want ErrLocationUnknown", err)
	}
	if _, err := store.Location(ctx, uuid.NewString()); !errors.Is(err, ErrLocationUnknown) {
		t.Errorf("missing location error = %v, want ErrLocationUnknown", err)
	}
}

func TestGormStoreAdHocTasks(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	locationID := uuid.NewString()
	otherLocation := uuid.NewString()
	otherBrand := uint(7)
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	adHoc := func(title string) models.Task {
		return models.Task{
			Title:       title,
			Announced:   true,
			ExecuteDate: strPtr(testDate),
			ExecuteSlot: slotPtr(models.SlotLunchOpen),
		}
	}

	global := seedTask(t, db, adHoc("global"), base)

	brandTask := adHoc("brand")
	brandTask.BrandID = uintPtr(testBrandID)
	brand := seedTask(t, db, brandTask, base.Add(1*time.Minute))

	localTask := adHoc("local")
	localTask.BrandID = uintPtr(testBrandID)
	localTask.LocationID = strPtr(locationID)
	local := seedTask(t, db, localTask, base.Add(2*time.Minute))

	// None of these may surface.
	foreignLocation := adHoc("other location")
	foreignLocation.BrandID = uintPtr(testBrandID)
	foreignLocation.LocationID = strPtr(otherLocation)
	seedTask(t, db, foreignLocation, base)

	foreignBrand := adHoc("other brand")
	foreignBrand.BrandID = uintPtr(otherBrand)
	seedTask(t, db, foreignBrand, base)

	unannounced := adHoc("unannounced")
	unannounced.Announced = false
	seedTask(t, db, unannounced, base)

	wrongDate := adHoc("wrong date")
	wrongDate.ExecuteDate = strPtr("2025-03-16")
	seedTask(t, db, wrongDate, base)

	wrongSlot := adHoc("wrong slot")
	wrongSlot.ExecuteSlot = slotPtr(models.SlotDinnerOpen)
	seedTask(t, db, wrongSlot, base)

	routineFlagged := adHoc("routine flag set")
	routineFlagged.IsRoutine = true
	routineFlagged.ApplicableSlots = []models.SlotType{models.SlotLunchOpen}
	seedTask(t, db, routineFlagged, base)

	retired := seedTask(t, db, adHoc("retired"), base)
	deactivate(t, db, retired)

	got, err := store.AdHocTasks(ctx, testDate, models.SlotLunchOpen, testBrandID, locationID)
	if err != nil {
		t.Fatalf("AdHocTasks() error = %v", err)
	}

	want := []string{global.ID, brand.ID, local.ID}
	if len(got) != len(want) {
		t.Fatalf("AdHocTasks() returned %d tasks %v, want %d", len(got), taskIDs(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("AdHocTasks()[%d] = %s, want %s (creation order)", i, got[i].Title, id)
		}
	}
}

func TestGormStoreFixedRoutineTasks(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	const saturday = 6

	pinned := func(title string, weekdays []int, slots []models.SlotType) models.Task {
		return models.Task{
			Title:         title,
			IsRoutine:     true,
			FixedWeekdays: weekdays,
			FixedSlots:    slots,
		}
	}

	brandPinned := pinned("brand saturday", []int{saturday}, []models.SlotType{models.SlotLunchOpen})
	brandPinned.BrandID = uintPtr(testBrandID)
	second := seedTask(t, db, brandPinned, base.Add(time.Hour))

	// Created later but earlier created_at, so it must sort first.
	first := seedTask(t, db,
		pinned("global weekend", []int{0, saturday}, []models.SlotType{models.SlotLunchOpen, models.SlotLunchClose}),
		base)

	seedTask(t, db, pinned("sunday only", []int{0}, []models.SlotType{models.SlotLunchOpen}), base)
	seedTask(t, db, pinned("close only", []int{saturday}, []models.SlotType{models.SlotLunchClose}), base)

	locationPinned := pinned("location pinned", []int{saturday}, []models.SlotType{models.SlotLunchOpen})
	locationPinned.BrandID = uintPtr(testBrandID)
	locationPinned.LocationID = strPtr(uuid.NewString())
	seedTask(t, db, locationPinned, base)

	foreignPinned := pinned("other brand", []int{saturday}, []models.SlotType{models.SlotLunchOpen})
	foreignPinned.BrandID = uintPtr(99)
	seedTask(t, db, foreignPinned, base)

	got, err := store.FixedRoutineTasks(ctx, saturday, models.SlotLunchOpen, testBrandID)
	if err != nil {
		t.Fatalf("FixedRoutineTasks() error = %v", err)
	}

	want := []string{first.ID, second.ID}
	if len(got) != len(want) {
		t.Fatalf("FixedRoutineTasks() returned %v, want 2 tasks", taskIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("FixedRoutineTasks()[%d] = %s, want %s", i, got[i].Title, id)
		}
	}
}

func TestGormStoreWeightedRoutineTasks(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	eligible := func(title string, slots ...models.SlotType) models.Task {
		return models.Task{Title: title, IsRoutine: true, ApplicableSlots: slots}
	}

	first := seedTask(t, db, eligible("sweep walk-in", models.SlotDinnerClose), base)

	branded := eligible("count till", models.SlotLunchOpen, models.SlotDinnerClose)
	branded.BrandID = uintPtr(testBrandID)
	second := seedTask(t, db, branded, base.Add(time.Minute))

	seedTask(t, db, eligible("lunch only", models.SlotLunchOpen), base)

	scoped := eligible("location scoped", models.SlotDinnerClose)
	scoped.BrandID = uintPtr(testBrandID)
	scoped.LocationID = strPtr(uuid.NewString())
	seedTask(t, db, scoped, base)

	foreign := eligible("other brand", models.SlotDinnerClose)
	foreign.BrandID = uintPtr(3)
	seedTask(t, db, foreign, base)

	got, err := store.WeightedRoutineTasks(ctx, models.SlotDinnerClose, testBrandID)
	if err != nil {
		t.Fatalf("WeightedRoutineTasks() error = %v", err)
	}

	want := []string{first.ID, second.ID}
	if len(got) != len(want) {
		t.Fatalf("WeightedRoutineTasks() returned %v, want 2 tasks", taskIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("WeightedRoutineTasks()[%d] = %s, want %s", i, got[i].Title, id)
		}
	}
}

func TestGormStoreDefaultsWeightOnWrite(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	seedTask(t, db, models.Task{
		Title:           "unweighted",
		IsRoutine:       true,
		ApplicableSlots: []models.SlotType{models.SlotLunchOpen},
	}, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))

	got, err := store.WeightedRoutineTasks(ctx, models.SlotLunchOpen, testBrandID)
	if err != nil {
		t.Fatalf("WeightedRoutineTasks() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("returned %d tasks, want 1", len(got))
	}
	if got[0].Weight != models.DefaultTaskWeight {
		t.Errorf("Weight = %d, want default %d applied at write time", got[0].Weight, models.DefaultTaskWeight)
	}
}

func TestGormStoreRecordAssignment(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	taskID := uuid.NewString()
	seed := int64(1204616256)
	record := &models.Assignment{
		ID:         uuid.NewString(),
		Date:       testDate,
		BrandID:    testBrandID,
		LocationID: testLocationID,
		Slot:       models.SlotLunchOpen,
		TaskID:     &taskID,
		TaskTitle:  "count till",
		Outcome:    models.OutcomeAssigned,
		Tier:       models.TierWeighted,
		Seed:       &seed,
	}

	if err := store.RecordAssignment(ctx, record); err != nil {
		t.Fatalf("RecordAssignment() error = %v", err)
	}

	var got models.Assignment
	if err := db.First(&got, "id = ?", record.ID).Error; err != nil {
		t.Fatalf("failed to load recorded assignment: %v", err)
	}
	if got.Tier != models.TierWeighted || got.TaskTitle != "count till" {
		t.Errorf("loaded assignment = %+v, want weighted count till", got)
	}
	if got.Seed == nil || *got.Seed != seed {
		t.Errorf("loaded seed = %v, want %d", got.Seed, seed)
	}
}

// TestGormStoreResolveEndToEnd runs the full cascade against the real store
// to prove the seeded draw is stable through SQL and JSON round-trips.
func TestGormStoreResolveEndToEnd(t *testing.T) {
	db := setupStoreDB(t)
	store := NewGormStore(db, zerolog.Nop())
	ctx := context.Background()

	loc := seedLocation(t, db, models.Location{BrandID: testBrandID, Name: "Harbor Street"})
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	weightedRoutine := func(title string, weight int) models.Task {
		return models.Task{
			Title:           title,
			IsRoutine:       true,
			Weight:          weight,
			ApplicableSlots: []models.SlotType{models.SlotLunchOpen},
		}
	}
	a := seedTask(t, db, weightedRoutine("a", 1), base)
	seedTask(t, db, weightedRoutine("b", 1), base.Add(time.Minute))
	seedTask(t, db, weightedRoutine("c", 2), base.Add(2*time.Minute))

	resolver := NewResolver(store, zerolog.Nop())
	result, err := resolver.Resolve(ctx, Request{
		LocationID: loc.ID,
		Slot:       models.SlotLunchOpen,
		Date:       testDate,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if result.Tier != models.TierWeighted {
		t.Fatalf("Tier = %q, want %q", result.Tier, models.TierWeighted)
	}
	if result.Task.ID != a.ID {
		t.Errorf("Task = %s, want a (seed 1204616256 draws below the first cumulative weight)", result.Task.Title)
	}
}
