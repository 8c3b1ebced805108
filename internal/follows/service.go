// Package follows reconciles a user's account-level (remote) follows with the
// locally-stored follow list into one ordered collection, and owns the
// favorite set layered on top of it.
package follows

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"twitchfox/internal/platform/metrics"
	"twitchfox/internal/settings"
	"twitchfox/internal/twitch"
)

const (
	keyToken         = "token"
	keyLocalFollows  = "localFollows"
	keyFollowedGames = "followedGames"
	keyFavorites     = "favorites"
)

// Service is the follow reconciler. All mutable state lives here, guarded by
// one mutex; membership checks go through in-memory caches rebuilt from
// durable storage so they stay O(1).
type Service struct {
	api      Gateway
	settings *settings.Store
	bus      Broadcaster
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu          sync.RWMutex
	user        *twitch.User
	follows     []Follow
	channels    []twitch.User
	gameFollows []Follow
	games       []twitch.Game
	videos      []twitch.Video
	followCache map[int64]struct{}
	gameCache   map[int64]struct{}
	favCache    map[int64]struct{}

	// PollTrigger, when set, is called after a new follow's profile has been
	// resolved so the live snapshot picks the channel up without waiting a
	// full poll period.
	PollTrigger func()
}

// NewService builds the reconciler. bus and m may be nil.
func NewService(api Gateway, store *settings.Store, bus Broadcaster, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		api:         api,
		settings:    store,
		bus:         bus,
		log:         log,
		metrics:     m,
		followCache: make(map[int64]struct{}),
		gameCache:   make(map[int64]struct{}),
		favCache:    make(map[int64]struct{}),
	}
}

// Initialize resolves the authenticated user (if a token is stored), merges
// remote and local follows, and rebuilds the membership caches. It runs at
// startup and again after login, logout, or a bulk import. An expired token
// degrades silently to the logged-out state.
func (s *Service) Initialize(ctx context.Context) {
	var user *twitch.User
	if s.settings.Token() != "" {
		page, err := s.api.Fetch(ctx, twitch.GetUsers, twitch.Params{})
		if err != nil {
			s.log.Info("could not resolve authenticated user, continuing logged out",
				slog.String("error", err.Error()))
		} else if len(page.Data) > 0 {
			if u, ok := page.Data[0].(twitch.User); ok {
				user = &u
			}
		}
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.refreshUserFollows(ctx)
	}()
	go func() {
		defer wg.Done()
		s.refreshFollowedGames(ctx)
	}()
	wg.Wait()

	s.rebuildCaches()

	if s.bus != nil {
		s.bus.Broadcast("initialize")
	}
}

// refreshUserFollows merges account-level follows with the local list and
// best-effort resolves the merged ids to profile objects for display.
func (s *Service) refreshUserFollows(ctx context.Context) {
	var remote []twitch.FollowRelation
	if user := s.CurrentUser(); user != nil {
		p := twitch.Params{}
		p.Set("user_id", user.ID)
		for _, e := range FetchAllPages(ctx, s.api, twitch.GetUserFollows, p, maxChunkSize, s.log) {
			if rel, ok := e.(twitch.FollowRelation); ok {
				remote = append(remote, rel)
			}
		}
	}

	merged := MergeFollows(remote, s.localFollows())

	ids := make([]string, len(merged))
	for i, f := range merged {
		ids[i] = strconv.FormatInt(f.ID, 10)
	}
	resolved := FetchChunked(ctx, s.api, twitch.GetUsers, "id", ids, s.log)

	rank := make(map[int64]int, len(merged))
	for i, f := range merged {
		rank[f.ID] = i
	}
	channels := make([]twitch.User, 0, len(resolved))
	for _, e := range resolved {
		if u, ok := e.(twitch.User); ok {
			channels = append(channels, u)
		}
	}
	sort.SliceStable(channels, func(i, j int) bool {
		return rank[parseID(channels[i].ID)] < rank[parseID(channels[j].ID)]
	})

	s.mu.Lock()
	s.follows = merged
	s.channels = channels
	s.mu.Unlock()
}

// refreshFollowedGames resolves the locally-followed game list to game
// objects, ordered by follow date descending.
func (s *Service) refreshFollowedGames(ctx context.Context) {
	local := s.localGameFollows()
	sort.SliceStable(local, func(i, j int) bool {
		return local[i].FollowedAt.After(local[j].FollowedAt)
	})

	ids := make([]string, len(local))
	rank := make(map[int64]int, len(local))
	for i, f := range local {
		ids[i] = strconv.FormatInt(f.ID, 10)
		rank[f.ID] = i
	}
	resolved := FetchChunked(ctx, s.api, twitch.GetGames, "id", ids, s.log)

	games := make([]twitch.Game, 0, len(resolved))
	for _, e := range resolved {
		if g, ok := e.(twitch.Game); ok {
			games = append(games, g)
		}
	}
	sort.SliceStable(games, func(i, j int) bool {
		return rank[parseID(games[i].ID)] < rank[parseID(games[j].ID)]
	})

	s.mu.Lock()
	s.gameFollows = local
	s.games = games
	s.mu.Unlock()
}

// MergeFollows combines account-level and local follows into one collection:
// ids are unique (the remote entry wins a collision), ordered by follow date
// descending. Entries without a date sort with defaultFollowDate.
func MergeFollows(remote []twitch.FollowRelation, local []Follow) []Follow {
	seen := make(map[int64]struct{}, len(remote)+len(local))
	out := make([]Follow, 0, len(remote)+len(local))

	for _, r := range remote {
		id := parseID(r.BroadcasterID)
		if id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		fd := r.FollowedAt
		if fd.IsZero() {
			fd = defaultFollowDate
		}
		out = append(out, Follow{ID: id, FollowedAt: fd})
	}

	for _, l := range local {
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}
		fd := l.FollowedAt
		if fd.IsZero() {
			fd = defaultFollowDate
		}
		out = append(out, Follow{ID: l.ID, FollowedAt: fd})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FollowedAt.After(out[j].FollowedAt)
	})
	return out
}

// Follow adds id to the local follow list. Idempotent: following an already
// followed channel is a logged no-op returning true. The membership cache is
// updated before any network round-trip; profile enrichment happens in the
// background and its failure never rolls the follow back.
func (s *Service) Follow(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	if _, ok := s.followCache[id]; ok {
		s.mu.Unlock()
		s.log.Debug("already following, skipping", slog.Int64("id", id))
		return true, nil
	}

	f := Follow{ID: id, FollowedAt: time.Now().UTC().Truncate(time.Second)}
	local := append([]Follow{f}, s.localFollows()...)
	if _, err := s.settings.Set(keyLocalFollows, local); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.followCache[id] = struct{}{}
	s.follows = append([]Follow{f}, s.follows...)
	s.mu.Unlock()

	go s.enrichFollow(context.WithoutCancel(ctx), id)
	return true, nil
}

func (s *Service) enrichFollow(ctx context.Context, id int64) {
	resolved := FetchChunked(ctx, s.api, twitch.GetUsers, "id", []string{strconv.FormatInt(id, 10)}, s.log)
	if len(resolved) == 0 {
		return
	}
	if u, ok := resolved[0].(twitch.User); ok {
		s.mu.Lock()
		s.channels = append([]twitch.User{u}, s.channels...)
		s.mu.Unlock()
	}
	if s.PollTrigger != nil {
		s.PollTrigger()
	}
}

// Unfollow removes id from the local follow list and cascades to the
// favorite set. A channel followed only through the Twitch account is left
// untouched: the extension cannot write the account relationship back, so
// unfollowing it is a silent no-op.
func (s *Service) Unfollow(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.localFollows()
	idx := -1
	for i, f := range local {
		if f.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	local = append(local[:idx], local[idx+1:]...)
	if _, err := s.settings.Set(keyLocalFollows, local); err != nil {
		return err
	}

	s.follows = removeFollow(s.follows, id)
	channels := s.channels[:0]
	for _, u := range s.channels {
		if parseID(u.ID) != id {
			channels = append(channels, u)
		}
	}
	s.channels = channels
	delete(s.followCache, id)

	return s.unfavoriteLocked(id)
}

// FollowGame adds a game to the local followed-games list. Same idempotence
// and enrichment semantics as Follow.
func (s *Service) FollowGame(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	if _, ok := s.gameCache[id]; ok {
		s.mu.Unlock()
		s.log.Debug("already following game, skipping", slog.Int64("id", id))
		return true, nil
	}

	f := Follow{ID: id, FollowedAt: time.Now().UTC().Truncate(time.Second)}
	local := append([]Follow{f}, s.localGameFollows()...)
	if _, err := s.settings.Set(keyFollowedGames, local); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.gameCache[id] = struct{}{}
	s.gameFollows = append([]Follow{f}, s.gameFollows...)
	s.mu.Unlock()

	go s.enrichGameFollow(context.WithoutCancel(ctx), id)
	return true, nil
}

func (s *Service) enrichGameFollow(ctx context.Context, id int64) {
	resolved := FetchChunked(ctx, s.api, twitch.GetGames, "id", []string{strconv.FormatInt(id, 10)}, s.log)
	if len(resolved) == 0 {
		return
	}
	if g, ok := resolved[0].(twitch.Game); ok {
		s.mu.Lock()
		s.games = append([]twitch.Game{g}, s.games...)
		s.mu.Unlock()
	}
}

// UnfollowGame removes a game from the local followed-games list.
func (s *Service) UnfollowGame(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.localGameFollows()
	idx := -1
	for i, f := range local {
		if f.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	local = append(local[:idx], local[idx+1:]...)
	if _, err := s.settings.Set(keyFollowedGames, local); err != nil {
		return err
	}

	s.gameFollows = removeFollow(s.gameFollows, id)
	games := s.games[:0]
	for _, g := range s.games {
		if parseID(g.ID) != id {
			games = append(games, g)
		}
	}
	s.games = games
	delete(s.gameCache, id)
	return nil
}

// Favorite marks a followed channel as a favorite. It returns false and
// performs no mutation when id is not currently followed, or when it is
// already a favorite.
func (s *Service) Favorite(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.followCache[id]; !ok {
		return false, nil
	}

	var favs []int64
	_ = s.settings.Unmarshal(keyFavorites, &favs)
	for _, f := range favs {
		if f == id {
			return false, nil
		}
	}

	favs = append([]int64{id}, favs...)
	if _, err := s.settings.Set(keyFavorites, favs); err != nil {
		return false, err
	}
	s.favCache[id] = struct{}{}
	return true, nil
}

// Unfavorite removes id from the favorite set.
func (s *Service) Unfavorite(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unfavoriteLocked(id)
}

func (s *Service) unfavoriteLocked(id int64) error {
	var favs []int64
	_ = s.settings.Unmarshal(keyFavorites, &favs)

	kept := favs[:0]
	for _, f := range favs {
		if f != id {
			kept = append(kept, f)
		}
	}
	if _, err := s.settings.Set(keyFavorites, kept); err != nil {
		return err
	}
	delete(s.favCache, id)
	return nil
}

// IsFollowing reports whether id is in the merged follow collection.
func (s *Service) IsFollowing(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.followCache[id]
	return ok
}

// IsFollowingGame reports whether the game id is followed.
func (s *Service) IsFollowingGame(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.gameCache[id]
	return ok
}

// IsFavorite reports whether id is a favorite.
func (s *Service) IsFavorite(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.favCache[id]
	return ok
}

// RefreshVideos fetches recent videos from favorite channels (or every
// followed channel when fetchAllFollowedVideos is on), newest first, capped
// at 500 entries.
func (s *Service) RefreshVideos(ctx context.Context) {
	var ids []string
	if s.settings.Bool("fetchAllFollowedVideos") {
		s.mu.RLock()
		for id := range s.followCache {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		s.mu.RUnlock()
	} else {
		var favs []int64
		_ = s.settings.Unmarshal(keyFavorites, &favs)
		for _, id := range favs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
	}

	resolved := FetchEach(ctx, s.api, twitch.GetVideos, "user_id", ids, s.log)
	videos := make([]twitch.Video, 0, len(resolved))
	for _, e := range resolved {
		if v, ok := e.(twitch.Video); ok {
			videos = append(videos, v)
		}
	}
	if len(videos) > 500 {
		videos = videos[:500]
	}
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})

	s.mu.Lock()
	s.videos = videos
	s.mu.Unlock()
}

// Deauthorize clears the stored token and every piece of account-derived
// state. Local follows survive: logging out never deletes the user's own
// list.
func (s *Service) Deauthorize() {
	if _, err := s.settings.Set(keyToken, ""); err != nil {
		s.log.Error("clearing token failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.user = nil
	s.follows = MergeFollows(nil, s.localFollows())
	s.channels = nil
	s.videos = nil
	s.mu.Unlock()

	s.rebuildCaches()
}

// rebuildCaches derives the membership caches from durable storage plus the
// merged in-memory lists. Cheap enough to run after any bulk change.
func (s *Service) rebuildCaches() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.followCache = make(map[int64]struct{})
	for _, f := range s.localFollows() {
		s.followCache[f.ID] = struct{}{}
	}
	for _, f := range s.follows {
		s.followCache[f.ID] = struct{}{}
	}

	s.gameCache = make(map[int64]struct{})
	for _, f := range s.localGameFollows() {
		s.gameCache[f.ID] = struct{}{}
	}

	s.favCache = make(map[int64]struct{})
	var favs []int64
	_ = s.settings.Unmarshal(keyFavorites, &favs)
	for _, id := range favs {
		s.favCache[id] = struct{}{}
	}

	if s.metrics != nil {
		s.metrics.SetFollowedChannels(len(s.follows))
	}
}

// CurrentUser returns the authenticated user, or nil when logged out.
func (s *Service) CurrentUser() *twitch.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Follows returns a copy of the merged follow collection, most recent first.
func (s *Service) Follows() []Follow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Follow(nil), s.follows...)
}

// Channels returns the resolved profile objects for the merged follows.
func (s *Service) Channels() []twitch.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]twitch.User(nil), s.channels...)
}

// Games returns the resolved followed games, most recently followed first.
func (s *Service) Games() []twitch.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]twitch.Game(nil), s.games...)
}

// Videos returns the cached followed/favorite videos, newest first.
func (s *Service) Videos() []twitch.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]twitch.Video(nil), s.videos...)
}

// LocalFollowIDs returns the ids stored in the local follow list.
func (s *Service) LocalFollowIDs() []int64 {
	local := s.localFollows()
	ids := make([]int64, len(local))
	for i, f := range local {
		ids[i] = f.ID
	}
	return ids
}

// AvatarFor returns the profile image for a followed channel, or "".
func (s *Service) AvatarFor(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.channels {
		if u.ID == userID {
			return u.AvatarURL
		}
	}
	return ""
}

func (s *Service) localFollows() []Follow {
	var out []Follow
	_ = s.settings.Unmarshal(keyLocalFollows, &out)
	return out
}

func (s *Service) localGameFollows() []Follow {
	var out []Follow
	_ = s.settings.Unmarshal(keyFollowedGames, &out)
	return out
}

func removeFollow(list []Follow, id int64) []Follow {
	kept := list[:0]
	for _, f := range list {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	return kept
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
