package follows

import (
	"context"
	"time"

	"twitchfox/internal/twitch"
)

// Follow is one followed channel or game: the id plus when the follow
// happened. Remote follows carry the account-level timestamp; local follows
// get a timestamp synthesized at add or import time.
type Follow struct {
	ID         int64     `json:"id"`
	FollowedAt time.Time `json:"followedAt"`
}

// defaultFollowDate stands in for entries that never recorded a date, so the
// merged ordering stays total.
var defaultFollowDate = time.Date(2020, 1, 1, 20, 0, 0, 0, time.UTC)

// Gateway is the slice of the API client the reconciler needs.
type Gateway interface {
	Fetch(ctx context.Context, ep twitch.Endpoint, params twitch.Params) (*twitch.Page, error)
}

// Broadcaster notifies connected popup contexts that state changed.
type Broadcaster interface {
	Broadcast(tag string)
}

// ValidationError reports a structurally invalid follows import. The reason
// is safe to show to the user.
type ValidationError struct {
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return "invalid follows import: " + e.Reason
}
