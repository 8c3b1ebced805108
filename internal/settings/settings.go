// Package settings is the durable key/value store for the engine. Keys are
// allow-listed: every key has a default, and writes to unknown keys are
// rejected rather than persisted.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Defaults enumerates every known key with its default value. Anything not
// listed here cannot be stored.
func Defaults() map[string]any {
	return map[string]any{
		// Non-settings state
		"token":         "",
		"favorites":     []int64{},
		"localFollows":  []json.RawMessage{},
		"followedGames": []json.RawMessage{},
		"mode":          "streams",

		// Appearance
		"darkMode":  false,
		"tooltips":  true,
		"showLogos": true,

		// Notification click behavior
		"openTwitchPage": false,
		"openPopout":     false,
		"openChat":       false,

		// Notification policy: independent toggles per category
		"favoritesDesktopNotifications":    true,
		"favoritesAudioNotifications":      true,
		"nonfavoritesDesktopNotifications": true,
		"nonfavoritesAudioNotifications":   false,

		"alarmVolume": 20,

		"minutesBetweenCheck":    1,
		"resultLimit":            12,
		"languageCodes":          "",
		"fetchAllFollowedVideos": false,
	}
}

// Store holds every setting in memory as JSON, backed by an optional
// persistence layer. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	values   map[string]json.RawMessage
	defaults map[string]json.RawMessage
	backend  Backend
	log      *slog.Logger
}

// Backend persists settings. Implementations must tolerate being handed only
// known keys; the Store enforces the allow-list before writing.
type Backend interface {
	LoadAll() (map[string]json.RawMessage, error)
	Save(key string, value json.RawMessage) error
	Delete(key string) error
	Close() error
}

// NewStore builds a Store over the given backend, loading any persisted
// values. Backend may be nil for a memory-only store (tests).
func NewStore(backend Backend, log *slog.Logger) (*Store, error) {
	defaults := make(map[string]json.RawMessage)
	for k, v := range Defaults() {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal default for %q: %w", k, err)
		}
		defaults[k] = raw
	}

	s := &Store{
		values:   make(map[string]json.RawMessage),
		defaults: defaults,
		backend:  backend,
		log:      log,
	}

	if backend != nil {
		persisted, err := backend.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		for k, v := range persisted {
			if _, known := defaults[k]; known {
				s.values[k] = v
			} else {
				log.Warn("ignoring unknown persisted setting", slog.String("key", k))
			}
		}
	}

	return s, nil
}

// Raw returns the stored JSON for key, falling back to the default.
// The second return is false for unknown keys.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v, true
	}
	v, ok := s.defaults[key]
	return v, ok
}

// Unmarshal decodes the value for key into v.
func (s *Store) Unmarshal(key string, v any) error {
	raw, ok := s.Raw(key)
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	return json.Unmarshal(raw, v)
}

// Bool returns the boolean value for key, or false on any mismatch.
func (s *Store) Bool(key string) bool {
	var v bool
	if err := s.Unmarshal(key, &v); err != nil {
		return false
	}
	return v
}

// Int returns the integer value for key, or 0 on any mismatch.
func (s *Store) Int(key string) int {
	var v int
	if err := s.Unmarshal(key, &v); err != nil {
		return 0
	}
	return v
}

// String returns the string value for key, or "" on any mismatch.
func (s *Store) String(key string) string {
	var v string
	if err := s.Unmarshal(key, &v); err != nil {
		return ""
	}
	return v
}

// Token implements the gateway's TokenSource over the stored bearer token.
func (s *Store) Token() string {
	return s.String("token")
}

// Set stores value under key. It returns false without persisting anything
// when the key is unknown or the value is nil; this mirrors the allow-list
// policy where stray writes are silently rejected.
func (s *Store) Set(key string, value any) (bool, error) {
	if value == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, known := s.defaults[key]; !known {
		s.log.Debug("rejecting write to unknown setting", slog.String("key", key))
		return false, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal setting %q: %w", key, err)
	}

	s.values[key] = raw
	if s.backend != nil {
		if err := s.backend.Save(key, raw); err != nil {
			return false, fmt.Errorf("persist setting %q: %w", key, err)
		}
	}
	return true, nil
}

// GetAll returns a snapshot of every known key with its effective value.
func (s *Store) GetAll() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.defaults))
	for k, v := range s.defaults {
		out[k] = v
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ExportJSON serializes all effective settings as one JSON document.
func (s *Store) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(s.GetAll(), "", "  ")
}

// ImportJSON applies a previously exported settings document. Unknown keys
// are skipped; known keys are overwritten and persisted.
func (s *Store) ImportJSON(data []byte) error {
	var incoming map[string]json.RawMessage
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("settings import is not a JSON object: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range incoming {
		if _, known := s.defaults[k]; !known {
			s.log.Warn("skipping unknown setting on import", slog.String("key", k))
			continue
		}
		s.values[k] = v
		if s.backend != nil {
			if err := s.backend.Save(k, v); err != nil {
				return fmt.Errorf("persist setting %q: %w", k, err)
			}
		}
	}
	return nil
}

// ResetAll drops every stored value, reverting all keys to defaults.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.values {
		if s.backend != nil {
			if err := s.backend.Delete(k); err != nil {
				return fmt.Errorf("delete setting %q: %w", k, err)
			}
		}
	}
	s.values = make(map[string]json.RawMessage)
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
