package follows

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ImportSchema selects which follows-file layout an import expects.
type ImportSchema string

const (
	// ImportLegacy is a bare JSON array of numeric channel ids.
	ImportLegacy ImportSchema = "legacy"
	// ImportCurrent is a JSON array of {"id": n, "followedAt": "..."} objects.
	ImportCurrent ImportSchema = "current"
)

// ImportFollows replaces the entire local follow list with the given
// document, then re-runs the remote merge so the in-memory view is
// consistent. Structurally inconsistent input (mixed entry types, objects
// without an id, bad timestamps) rejects the whole import with a
// ValidationError; nothing is partially applied.
func (s *Service) ImportFollows(ctx context.Context, data []byte, schema ImportSchema) error {
	entries, err := parseImportEntries(data, schema, time.Now().UTC())
	if err != nil {
		return err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FollowedAt.After(entries[j].FollowedAt)
	})

	s.mu.Lock()
	_, err = s.settings.Set(keyLocalFollows, entries)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.Initialize(ctx)
	return nil
}

// ExportFollows serializes the local follow list in the current schema.
func (s *Service) ExportFollows() ([]byte, error) {
	return json.MarshalIndent(s.localFollows(), "", "  ")
}

// parseImportEntries validates and decodes an import document. Entries
// without a timestamp get synthesized ones with a strictly increasing
// one-second offset, so earlier entries in the file sort as older follows.
func parseImportEntries(data []byte, schema ImportSchema, now time.Time) ([]Follow, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: "document must be a JSON array"}
	}

	base := now.Truncate(time.Second).Add(-time.Duration(len(raw)) * time.Second)
	out := make([]Follow, 0, len(raw))

	switch schema {
	case ImportLegacy:
		for i, r := range raw {
			var id int64
			if err := json.Unmarshal(r, &id); err != nil {
				return nil, &ValidationError{Reason: fmt.Sprintf("entry %d is not a numeric id; legacy imports may not mix entry types", i)}
			}
			out = append(out, Follow{ID: id, FollowedAt: base.Add(time.Duration(i+1) * time.Second)})
		}

	case ImportCurrent:
		for i, r := range raw {
			var entry struct {
				ID         *int64 `json:"id"`
				FollowedAt string `json:"followedAt"`
				FD         string `json:"fd"`
			}
			if err := json.Unmarshal(r, &entry); err != nil {
				return nil, &ValidationError{Reason: fmt.Sprintf("entry %d is not an object; imports may not mix entry types", i)}
			}
			if entry.ID == nil {
				return nil, &ValidationError{Reason: fmt.Sprintf("entry %d is missing the required id field", i)}
			}

			stamp := entry.FollowedAt
			if stamp == "" {
				stamp = entry.FD
			}

			fd := base.Add(time.Duration(i+1) * time.Second)
			if stamp != "" {
				parsed, err := time.Parse(time.RFC3339, stamp)
				if err != nil {
					return nil, &ValidationError{Reason: fmt.Sprintf("entry %d has an invalid followedAt timestamp", i)}
				}
				fd = parsed
			}
			out = append(out, Follow{ID: *entry.ID, FollowedAt: fd})
		}

	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown import schema %q", schema)}
	}

	return out, nil
}
