package twitch

import (
	"encoding/json"
	"fmt"
)

// The wire structs below accept both current Helix field names and the legacy
// Kraken ones (nested channel object, "viewers", numeric "_id"), so the rest
// of the engine only ever sees the canonical shapes from types.go.

type wireChannelNest struct {
	ID          flexID `json:"_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	Game        string `json:"game"`
	Logo        string `json:"logo"`
}

type wireStream struct {
	ID           flexID           `json:"id"`
	LegacyID     flexID           `json:"_id"`
	UserID       flexID           `json:"user_id"`
	UserLogin    string           `json:"user_login"`
	UserName     string           `json:"user_name"`
	GameID       flexID           `json:"game_id"`
	GameName     string           `json:"game_name"`
	Game         string           `json:"game"`
	Title        string           `json:"title"`
	ViewerCount  int              `json:"viewer_count"`
	Viewers      int              `json:"viewers"`
	StartedAt    flexTime         `json:"started_at"`
	CreatedAt    flexTime         `json:"created_at"`
	ThumbnailURL string           `json:"thumbnail_url"`
	Channel      *wireChannelNest `json:"channel"`
}

func (w wireStream) normalize() Stream {
	s := Stream{
		ID:           w.ID.String(),
		UserID:       w.UserID.String(),
		UserLogin:    w.UserLogin,
		UserName:     w.UserName,
		GameID:       w.GameID.String(),
		GameName:     w.GameName,
		Title:        w.Title,
		ViewerCount:  w.ViewerCount,
		StartedAt:    w.StartedAt.Time,
		ThumbnailURL: w.ThumbnailURL,
	}
	if s.ID == "" {
		s.ID = w.LegacyID.String()
	}
	if s.ViewerCount == 0 {
		s.ViewerCount = w.Viewers
	}
	if s.GameName == "" {
		s.GameName = w.Game
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = w.CreatedAt.Time
	}
	if w.Channel != nil {
		if s.UserID == "" {
			s.UserID = w.Channel.ID.String()
		}
		if s.UserLogin == "" {
			s.UserLogin = w.Channel.Name
		}
		if s.UserName == "" {
			s.UserName = w.Channel.DisplayName
		}
		if s.Title == "" {
			s.Title = w.Channel.Status
		}
		if s.GameName == "" {
			s.GameName = w.Channel.Game
		}
	}
	return s
}

type wireGame struct {
	ID        flexID `json:"id"`
	LegacyID  flexID `json:"_id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
	Box       struct {
		Large string `json:"large"`
	} `json:"box"`
}

func (w wireGame) normalize() Game {
	g := Game{ID: w.ID.String(), Name: w.Name, BoxArtURL: w.BoxArtURL}
	if g.ID == "" {
		g.ID = w.LegacyID.String()
	}
	if g.BoxArtURL == "" {
		g.BoxArtURL = w.Box.Large
	}
	return g
}

type wireVideo struct {
	ID           flexID   `json:"id"`
	LegacyID     flexID   `json:"_id"`
	UserID       flexID   `json:"user_id"`
	UserLogin    string   `json:"user_login"`
	UserName     string   `json:"user_name"`
	Title        string   `json:"title"`
	CreatedAt    flexTime `json:"created_at"`
	Duration     string   `json:"duration"`
	ViewCount    int      `json:"view_count"`
	Views        int      `json:"views"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

func (w wireVideo) normalize() Video {
	v := Video{
		ID:           w.ID.String(),
		UserID:       w.UserID.String(),
		UserLogin:    w.UserLogin,
		UserName:     w.UserName,
		Title:        w.Title,
		CreatedAt:    w.CreatedAt.Time,
		Duration:     w.Duration,
		ViewCount:    w.ViewCount,
		ThumbnailURL: w.ThumbnailURL,
	}
	if v.ID == "" {
		v.ID = w.LegacyID.String()
	}
	if v.ViewCount == 0 {
		v.ViewCount = w.Views
	}
	return v
}

type wireClip struct {
	ID              flexID   `json:"id"`
	BroadcasterID   flexID   `json:"broadcaster_id"`
	BroadcasterName string   `json:"broadcaster_name"`
	GameID          flexID   `json:"game_id"`
	Title           string   `json:"title"`
	CreatedAt       flexTime `json:"created_at"`
	ViewCount       int      `json:"view_count"`
	Views           int      `json:"views"`
	ThumbnailURL    string   `json:"thumbnail_url"`
}

func (w wireClip) normalize() Clip {
	c := Clip{
		ID:              w.ID.String(),
		BroadcasterID:   w.BroadcasterID.String(),
		BroadcasterName: w.BroadcasterName,
		GameID:          w.GameID.String(),
		Title:           w.Title,
		CreatedAt:       w.CreatedAt.Time,
		ViewCount:       w.ViewCount,
		ThumbnailURL:    w.ThumbnailURL,
	}
	if c.ViewCount == 0 {
		c.ViewCount = w.Views
	}
	return c
}

type wireChannel struct {
	ID           flexID `json:"id"`
	LegacyID     flexID `json:"_id"`
	Login        string `json:"broadcaster_login"`
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	GameID       flexID `json:"game_id"`
	GameName     string `json:"game_name"`
	Game         string `json:"game"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	IsLive       bool   `json:"is_live"`
	ThumbnailURL string `json:"thumbnail_url"`
	Logo         string `json:"logo"`
}

func (w wireChannel) normalize() Channel {
	c := Channel{
		ID:           w.ID.String(),
		Login:        w.Login,
		DisplayName:  w.DisplayName,
		GameID:       w.GameID.String(),
		GameName:     w.GameName,
		Title:        w.Title,
		IsLive:       w.IsLive,
		ThumbnailURL: w.ThumbnailURL,
	}
	if c.ID == "" {
		c.ID = w.LegacyID.String()
	}
	if c.Login == "" {
		c.Login = w.Name
	}
	if c.GameName == "" {
		c.GameName = w.Game
	}
	if c.Title == "" {
		c.Title = w.Status
	}
	if c.ThumbnailURL == "" {
		c.ThumbnailURL = w.Logo
	}
	return c
}

type wireUser struct {
	ID          flexID `json:"id"`
	LegacyID    flexID `json:"_id"`
	Login       string `json:"login"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"profile_image_url"`
	Logo        string `json:"logo"`
	Description string `json:"description"`
}

func (w wireUser) normalize() User {
	u := User{
		ID:          w.ID.String(),
		Login:       w.Login,
		DisplayName: w.DisplayName,
		AvatarURL:   w.AvatarURL,
		Description: w.Description,
	}
	if u.ID == "" {
		u.ID = w.LegacyID.String()
	}
	if u.Login == "" {
		u.Login = w.Name
	}
	if u.AvatarURL == "" {
		u.AvatarURL = w.Logo
	}
	return u
}

type wireFollow struct {
	BroadcasterID    flexID   `json:"broadcaster_id"`
	LegacyToID       flexID   `json:"to_id"`
	BroadcasterLogin string   `json:"broadcaster_login"`
	FollowedAt       flexTime `json:"followed_at"`
}

func (w wireFollow) normalize() FollowRelation {
	f := FollowRelation{
		BroadcasterID:    w.BroadcasterID.String(),
		BroadcasterLogin: w.BroadcasterLogin,
		FollowedAt:       w.FollowedAt.Time,
	}
	if f.BroadcasterID == "" {
		f.BroadcasterID = w.LegacyToID.String()
	}
	return f
}

// decodeEntities turns raw response items into canonical entities for the
// given content type.
func decodeEntities(content ContentType, raw []json.RawMessage) ([]Entity, error) {
	out := make([]Entity, 0, len(raw))
	for _, r := range raw {
		var (
			e   Entity
			err error
		)
		switch content {
		case ContentStream:
			var w wireStream
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		case ContentGame:
			var w wireGame
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		case ContentVideo:
			var w wireVideo
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		case ContentClip:
			var w wireClip
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		case ContentChannel:
			var w wireChannel
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		case ContentUser:
			var w wireUser
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		case ContentFollow:
			var w wireFollow
			err = json.Unmarshal(r, &w)
			e = w.normalize()
		default:
			return nil, fmt.Errorf("unknown content type %q", content)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s entity: %w", content, err)
		}
		out = append(out, e)
	}
	return out, nil
}
