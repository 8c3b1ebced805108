package twitch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity is implemented by every canonical content type returned by the
// gateway. EntityID is the value result pages deduplicate on.
type Entity interface {
	EntityID() string
}

// Stream is a currently-live broadcast.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// EntityID implements Entity.
func (s Stream) EntityID() string { return s.ID }

// Game is a Twitch category.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// EntityID implements Entity.
func (g Game) EntityID() string { return g.ID }

// Video is an archived broadcast or upload.
type Video struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	Duration     string    `json:"duration"`
	ViewCount    int       `json:"view_count"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// EntityID implements Entity.
func (v Video) EntityID() string { return v.ID }

// Clip is a short extract of a broadcast.
type Clip struct {
	ID              string    `json:"id"`
	BroadcasterID   string    `json:"broadcaster_id"`
	BroadcasterName string    `json:"broadcaster_name"`
	GameID          string    `json:"game_id"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	ViewCount       int       `json:"view_count"`
	ThumbnailURL    string    `json:"thumbnail_url"`
}

// EntityID implements Entity.
func (c Clip) EntityID() string { return c.ID }

// Channel is a broadcaster as returned by channel search.
type Channel struct {
	ID           string `json:"id"`
	Login        string `json:"broadcaster_login"`
	DisplayName  string `json:"display_name"`
	GameID       string `json:"game_id"`
	GameName     string `json:"game_name"`
	Title        string `json:"title"`
	IsLive       bool   `json:"is_live"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// EntityID implements Entity.
func (c Channel) EntityID() string { return c.ID }

// User is a Twitch account profile.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"profile_image_url"`
	Description string `json:"description"`
}

// EntityID implements Entity.
func (u User) EntityID() string { return u.ID }

// FollowRelation is one entry of a user's account-level follow list.
type FollowRelation struct {
	BroadcasterID    string    `json:"broadcaster_id"`
	BroadcasterLogin string    `json:"broadcaster_login"`
	FollowedAt       time.Time `json:"followed_at"`
}

// EntityID implements Entity.
func (f FollowRelation) EntityID() string { return f.BroadcasterID }

// flexID decodes an id field that may arrive as a JSON string (Helix) or a
// JSON number (legacy Kraken payloads).
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// flexTime decodes a timestamp that may be RFC3339 with or without
// sub-second precision, or absent entirely.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}
