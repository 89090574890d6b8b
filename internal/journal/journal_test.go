package journal

import (
	"testing"
	"time"
)

func entryAt(level, message, component, locationID string, ts time.Time) Entry {
	e := Entry{
		Timestamp: ts,
		Level:     level,
		Message:   message,
		Component: component,
	}
	if locationID != "" {
		e.Fields = map[string]interface{}{"location_id": locationID}
	}
	return e
}

func TestBufferWrapsAtCapacity(t *testing.T) {
	b := New(3)
	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	for i, msg := range []string{"one", "two", "three", "four", "five"} {
		b.Add(entryAt("info", msg, "", "", base.Add(time.Duration(i)*time.Second)))
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries after wrap, got %d", len(all))
	}
	for i, want := range []string{"three", "four", "five"} {
		if all[i].Message != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, all[i].Message)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(16)
	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	b.Add(entryAt("info", "slot changed", "window", "", base))
	b.Add(entryAt("error", "store query failed", "resolver", "loc-1", base.Add(time.Second)))
	b.Add(entryAt("info", "assignment resolved", "resolver", "loc-1", base.Add(2*time.Second)))
	b.Add(entryAt("info", "assignment resolved", "resolver", "loc-2", base.Add(3*time.Second)))

	tests := []struct {
		name   string
		params QueryParams
		want   int
	}{
		{"all", QueryParams{}, 4},
		{"by level", QueryParams{Level: "error"}, 1},
		{"by component", QueryParams{Component: "resolver"}, 3},
		{"by location", QueryParams{LocationID: "loc-1"}, 2},
		{"by search", QueryParams{Search: "RESOLVED"}, 2},
		{"search matches field value", QueryParams{Search: "loc-2"}, 1},
		{"since", QueryParams{Since: base.Add(2 * time.Second)}, 2},
		{"combined", QueryParams{Component: "resolver", LocationID: "loc-1", Level: "info"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Query(tt.params)
			if len(got) != tt.want {
				t.Fatalf("expected %d entries, got %d", tt.want, len(got))
			}
		})
	}
}

func TestQueryDescendingAndLimit(t *testing.T) {
	b := New(8)
	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	for i, msg := range []string{"first", "second", "third"} {
		b.Add(entryAt("info", msg, "", "", base.Add(time.Duration(i)*time.Second)))
	}

	got := b.Query(QueryParams{Descending: true, Limit: 2})
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Message != "third" || got[1].Message != "second" {
		t.Fatalf("unexpected order: %q, %q", got[0].Message, got[1].Message)
	}
}

func TestWriterCapturesLogLines(t *testing.T) {
	b := New(8)
	w := NewWriter(b, nil)

	line := []byte(`{"level":"info","message":"assignment resolved","component":"resolver","location_id":"loc-1","tier":"weighted","time":1742040000}`)
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}

	all := b.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	entry := all[0]
	if entry.Level != "info" || entry.Message != "assignment resolved" || entry.Component != "resolver" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.locationID() != "loc-1" {
		t.Fatalf("expected location_id field, got %v", entry.Fields)
	}
	if entry.Fields["tier"] != "weighted" {
		t.Fatalf("expected tier field to survive, got %v", entry.Fields)
	}
	if entry.Timestamp != time.Unix(1742040000, 0) {
		t.Fatalf("expected unix timestamp to parse, got %s", entry.Timestamp)
	}
}

func TestWriterIgnoresNonJSON(t *testing.T) {
	b := New(8)
	w := NewWriter(b, nil)

	n, err := w.Write([]byte("plain text line\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n == 0 {
		t.Fatal("expected write to report bytes consumed")
	}
	if len(b.GetAll()) != 0 {
		t.Fatal("expected non-JSON lines to be skipped")
	}
}

func TestStatsAndComponentsPerLocation(t *testing.T) {
	b := New(16)
	base := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	b.Add(entryAt("info", "resolved", "resolver", "loc-1", base))
	b.Add(entryAt("error", "store query failed", "resolver", "loc-1", base))
	b.Add(entryAt("info", "slot changed", "window", "loc-2", base))

	stats := b.Stats("loc-1")
	if stats.Count != 2 {
		t.Fatalf("expected 2 entries for loc-1, got %d", stats.Count)
	}
	if stats.LevelCount["error"] != 1 {
		t.Fatalf("expected 1 error for loc-1, got %d", stats.LevelCount["error"])
	}

	all := b.Stats("")
	if all.Count != 3 {
		t.Fatalf("expected 3 entries overall, got %d", all.Count)
	}

	components := b.Components("loc-1")
	if len(components) != 1 || components[0] != "resolver" {
		t.Fatalf("unexpected components for loc-1: %v", components)
	}
}
