package follows

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"twitchfox/internal/settings"
	"twitchfox/internal/twitch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *settings.Store {
	t.Helper()
	store, err := settings.NewStore(nil, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

// fakeGateway answers every fetch through fn; the zero fn returns empty pages.
type fakeGateway struct {
	fn func(ctx context.Context, ep twitch.Endpoint, params twitch.Params) (*twitch.Page, error)
}

func (g *fakeGateway) Fetch(ctx context.Context, ep twitch.Endpoint, params twitch.Params) (*twitch.Page, error) {
	if g.fn == nil {
		return &twitch.Page{Data: []twitch.Entity{}}, nil
	}
	return g.fn(ctx, ep, params)
}

func testService(t *testing.T) *Service {
	t.Helper()
	return NewService(&fakeGateway{}, testStore(t), nil, testLogger(), nil)
}

func TestMergeFollows_remote_wins_collision(t *testing.T) {
	remoteDate := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	localDate := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	merged := MergeFollows(
		[]twitch.FollowRelation{{BroadcasterID: "7", FollowedAt: remoteDate}},
		[]Follow{{ID: 7, FollowedAt: localDate}},
	)

	if len(merged) != 1 {
		t.Fatalf("expected 1 merged follow, got %d", len(merged))
	}
	if !merged[0].FollowedAt.Equal(remoteDate) {
		t.Errorf("remote entry should win the collision, got date %v", merged[0].FollowedAt)
	}
}

func TestMergeFollows_ordered_by_date_desc(t *testing.T) {
	merged := MergeFollows(
		[]twitch.FollowRelation{
			{BroadcasterID: "1", FollowedAt: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		[]Follow{
			{ID: 2, FollowedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: 3, FollowedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	)

	want := []int64{2, 3, 1}
	if len(merged) != len(want) {
		t.Fatalf("expected %d follows, got %d", len(want), len(merged))
	}
	for i, id := range want {
		if merged[i].ID != id {
			t.Errorf("position %d: expected id %d, got %d", i, id, merged[i].ID)
		}
	}
}

func TestMergeFollows_zero_date_gets_default(t *testing.T) {
	merged := MergeFollows(nil, []Follow{{ID: 5}})
	if len(merged) != 1 {
		t.Fatalf("expected 1 follow, got %d", len(merged))
	}
	if !merged[0].FollowedAt.Equal(defaultFollowDate) {
		t.Errorf("expected default follow date, got %v", merged[0].FollowedAt)
	}
}

func TestService_Follow_idempotent(t *testing.T) {
	svc := testService(t)

	ok, err := svc.Follow(context.Background(), 42)
	if err != nil || !ok {
		t.Fatalf("first Follow: ok=%v err=%v", ok, err)
	}
	ok, err = svc.Follow(context.Background(), 42)
	if err != nil || !ok {
		t.Fatalf("second Follow: ok=%v err=%v", ok, err)
	}

	ids := svc.LocalFollowIDs()
	if len(ids) != 1 || ids[0] != 42 {
		t.Errorf("expected exactly one local follow of 42, got %v", ids)
	}
	if !svc.IsFollowing(42) {
		t.Error("IsFollowing(42) should be true immediately after Follow")
	}
}

func TestService_Favorite_requires_follow(t *testing.T) {
	svc := testService(t)

	ok, err := svc.Favorite(99)
	if err != nil {
		t.Fatalf("Favorite: %v", err)
	}
	if ok {
		t.Error("favoriting an unfollowed channel should return false")
	}
	if svc.IsFavorite(99) {
		t.Error("unfollowed channel must not become a favorite")
	}
}

func TestService_Favorite_already_favorite(t *testing.T) {
	svc := testService(t)
	_, _ = svc.Follow(context.Background(), 7)

	ok, err := svc.Favorite(7)
	if err != nil || !ok {
		t.Fatalf("first Favorite: ok=%v err=%v", ok, err)
	}
	ok, err = svc.Favorite(7)
	if err != nil {
		t.Fatalf("second Favorite: %v", err)
	}
	if ok {
		t.Error("favoriting twice should return false the second time")
	}
}

func TestService_Unfollow_cascades_favorite(t *testing.T) {
	svc := testService(t)
	_, _ = svc.Follow(context.Background(), 7)
	if ok, _ := svc.Favorite(7); !ok {
		t.Fatal("Favorite(7) should succeed after Follow")
	}

	if err := svc.Unfollow(7); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if svc.IsFollowing(7) {
		t.Error("channel still followed after Unfollow")
	}
	if svc.IsFavorite(7) {
		t.Error("favorite must be removed when the follow is removed")
	}
}

func TestService_Unfollow_remote_only_is_noop(t *testing.T) {
	svc := testService(t)
	// Simulate a remote-only follow: present in the merged view but not local.
	svc.mu.Lock()
	svc.follows = []Follow{{ID: 11, FollowedAt: time.Now()}}
	svc.followCache[11] = struct{}{}
	svc.mu.Unlock()

	if err := svc.Unfollow(11); err != nil {
		t.Fatalf("Unfollow: %v", err)
	}
	if !svc.IsFollowing(11) {
		t.Error("remote-only follow should survive a local unfollow")
	}
}

func TestService_Deauthorize_keeps_local_follows(t *testing.T) {
	svc := testService(t)
	_, _ = svc.Follow(context.Background(), 3)

	svc.Deauthorize()

	if svc.CurrentUser() != nil {
		t.Error("user should be nil after Deauthorize")
	}
	if !svc.IsFollowing(3) {
		t.Error("local follows must survive logout")
	}
}

func TestService_Initialize_logged_out_with_local_follows(t *testing.T) {
	store := testStore(t)
	t0 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Set("localFollows", []Follow{{ID: 42, FollowedAt: t0}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	svc := NewService(&fakeGateway{}, store, nil, testLogger(), nil)

	svc.Initialize(context.Background())

	merged := svc.Follows()
	if len(merged) != 1 || merged[0].ID != 42 || !merged[0].FollowedAt.Equal(t0) {
		t.Errorf("expected exactly the stored local follow, got %v", merged)
	}
	if !svc.IsFollowing(42) {
		t.Error("IsFollowing(42) should be true")
	}
	if svc.IsFollowing(99) {
		t.Error("IsFollowing(99) should be false")
	}
	if svc.CurrentUser() != nil {
		t.Error("no token means no authenticated user")
	}
}

func TestService_FollowGame_and_unfollow(t *testing.T) {
	svc := testService(t)

	ok, err := svc.FollowGame(context.Background(), 21)
	if err != nil || !ok {
		t.Fatalf("FollowGame: ok=%v err=%v", ok, err)
	}
	if !svc.IsFollowingGame(21) {
		t.Error("IsFollowingGame(21) should be true")
	}

	if err := svc.UnfollowGame(21); err != nil {
		t.Fatalf("UnfollowGame: %v", err)
	}
	if svc.IsFollowingGame(21) {
		t.Error("game still followed after UnfollowGame")
	}
}
