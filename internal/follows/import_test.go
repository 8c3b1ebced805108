package follows

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var importNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestParseImportEntries_rejects_non_array(t *testing.T) {
	_, err := parseImportEntries([]byte(`{"id": 1}`), ImportLegacy, importNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestParseImportEntries_legacy_synthesized_order(t *testing.T) {
	entries, err := parseImportEntries([]byte(`[10, 20, 30]`), ImportLegacy, importNow)
	if err != nil {
		t.Fatalf("parseImportEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Earlier entries in the file are older follows; every timestamp is
	// strictly increasing and none lies in the future.
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].FollowedAt.Before(entries[i].FollowedAt) {
			t.Errorf("entry %d should be older than entry %d", i-1, i)
		}
	}
	if entries[2].FollowedAt.After(importNow) {
		t.Errorf("synthesized timestamps must not lie in the future, got %v", entries[2].FollowedAt)
	}
}

func TestParseImportEntries_legacy_rejects_mixed_types(t *testing.T) {
	_, err := parseImportEntries([]byte(`[10, "not-a-number", 30]`), ImportLegacy, importNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestParseImportEntries_current_requires_id(t *testing.T) {
	_, err := parseImportEntries([]byte(`[{"followedAt": "2024-01-01T00:00:00Z"}]`), ImportCurrent, importNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestParseImportEntries_current_keeps_timestamps(t *testing.T) {
	doc := `[{"id": 1, "followedAt": "2024-03-01T00:00:00Z"}, {"id": 2}]`
	entries, err := parseImportEntries([]byte(doc), ImportCurrent, importNow)
	if err != nil {
		t.Fatalf("parseImportEntries: %v", err)
	}
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !entries[0].FollowedAt.Equal(want) {
		t.Errorf("explicit timestamp should be kept, got %v", entries[0].FollowedAt)
	}
	if entries[1].FollowedAt.IsZero() {
		t.Error("missing timestamp should be synthesized, not zero")
	}
}

func TestParseImportEntries_current_rejects_bad_timestamp(t *testing.T) {
	_, err := parseImportEntries([]byte(`[{"id": 1, "followedAt": "yesterday"}]`), ImportCurrent, importNow)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestService_ImportFollows_replaces_local_list(t *testing.T) {
	svc := testService(t)
	_, _ = svc.Follow(context.Background(), 999)

	if err := svc.ImportFollows(context.Background(), []byte(`[1, 2, 3]`), ImportLegacy); err != nil {
		t.Fatalf("ImportFollows: %v", err)
	}

	ids := svc.LocalFollowIDs()
	if len(ids) != 3 {
		t.Fatalf("import should replace the local list, got %v", ids)
	}
	for _, id := range ids {
		if id == 999 {
			t.Error("pre-import follow should be gone after a replace import")
		}
	}
}

func TestService_ImportFollows_rejects_without_applying(t *testing.T) {
	svc := testService(t)
	_, _ = svc.Follow(context.Background(), 999)

	err := svc.ImportFollows(context.Background(), []byte(`[1, "x"]`), ImportLegacy)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	ids := svc.LocalFollowIDs()
	if len(ids) != 1 || ids[0] != 999 {
		t.Errorf("a rejected import must not touch the stored list, got %v", ids)
	}
}

func TestService_ExportFollows_roundtrip(t *testing.T) {
	svc := testService(t)
	_, _ = svc.Follow(context.Background(), 5)

	data, err := svc.ExportFollows()
	if err != nil {
		t.Fatalf("ExportFollows: %v", err)
	}
	var entries []Follow
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != 5 {
		t.Errorf("expected the exported list to contain follow 5, got %v", entries)
	}
}
