package settings

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(nil, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStore_defaults(t *testing.T) {
	store := testStore(t)

	if got := store.Int("alarmVolume"); got != 20 {
		t.Errorf("alarmVolume default: expected 20, got %d", got)
	}
	if got := store.Int("minutesBetweenCheck"); got != 1 {
		t.Errorf("minutesBetweenCheck default: expected 1, got %d", got)
	}
	if !store.Bool("nonfavoritesDesktopNotifications") {
		t.Error("nonfavoritesDesktopNotifications should default to true")
	}
	if store.Bool("nonfavoritesAudioNotifications") {
		t.Error("nonfavoritesAudioNotifications should default to false")
	}
	if got := store.String("mode"); got != "streams" {
		t.Errorf("mode default: expected streams, got %q", got)
	}
}

func TestStore_Set_rejects_unknown_key(t *testing.T) {
	store := testStore(t)

	ok, err := store.Set("notARealSetting", 1)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok {
		t.Error("writing an unknown key should be rejected")
	}
	if _, known := store.Raw("notARealSetting"); known {
		t.Error("rejected key must not appear in the store")
	}
}

func TestStore_Set_rejects_nil_value(t *testing.T) {
	store := testStore(t)

	ok, err := store.Set("alarmVolume", nil)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok {
		t.Error("nil value should be rejected")
	}
	if got := store.Int("alarmVolume"); got != 20 {
		t.Errorf("default should survive a rejected write, got %d", got)
	}
}

func TestStore_Set_and_read_back(t *testing.T) {
	store := testStore(t)

	ok, err := store.Set("alarmVolume", 55)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if got := store.Int("alarmVolume"); got != 55 {
		t.Errorf("expected 55 after Set, got %d", got)
	}
}

func TestStore_Token(t *testing.T) {
	store := testStore(t)
	if store.Token() != "" {
		t.Error("token should default to empty")
	}
	_, _ = store.Set("token", "abc123")
	if store.Token() != "abc123" {
		t.Errorf("expected stored token, got %q", store.Token())
	}
}

func TestStore_ImportJSON_skips_unknown_keys(t *testing.T) {
	store := testStore(t)

	doc := `{"alarmVolume": 40, "bogusKey": true}`
	if err := store.ImportJSON([]byte(doc)); err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if got := store.Int("alarmVolume"); got != 40 {
		t.Errorf("known key should be imported, got %d", got)
	}
	if _, known := store.Raw("bogusKey"); known {
		t.Error("unknown key should be skipped on import")
	}
}

func TestStore_ExportJSON_roundtrip(t *testing.T) {
	store := testStore(t)
	_, _ = store.Set("darkMode", true)

	data, err := store.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	fresh := testStore(t)
	if err := fresh.ImportJSON(data); err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if !fresh.Bool("darkMode") {
		t.Error("darkMode should survive an export/import roundtrip")
	}
}

func TestStore_ResetAll(t *testing.T) {
	store := testStore(t)
	_, _ = store.Set("alarmVolume", 99)

	if err := store.ResetAll(); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	if got := store.Int("alarmVolume"); got != 20 {
		t.Errorf("expected default after reset, got %d", got)
	}
}

func TestStore_GetAll_contains_every_key(t *testing.T) {
	store := testStore(t)
	all := store.GetAll()
	for k := range Defaults() {
		if _, ok := all[k]; !ok {
			t.Errorf("GetAll missing key %q", k)
		}
	}
	var mode string
	if err := json.Unmarshal(all["mode"], &mode); err != nil || mode != "streams" {
		t.Errorf("GetAll mode: %q err=%v", mode, err)
	}
}
