package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

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

type fakeGateway struct {
	mu      sync.Mutex
	streams []twitch.Stream
	fail    bool
}

func (g *fakeGateway) Fetch(ctx context.Context, ep twitch.Endpoint, params twitch.Params) (*twitch.Page, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return nil, errors.New("boom")
	}
	entities := make([]twitch.Entity, len(g.streams))
	for i, s := range g.streams {
		entities[i] = s
	}
	return &twitch.Page{Data: entities}, nil
}

func (g *fakeGateway) setStreams(streams ...twitch.Stream) {
	g.mu.Lock()
	g.streams = streams
	g.mu.Unlock()
}

type fakeSource struct {
	ids       []int64
	favorites map[int64]bool
}

func (s *fakeSource) CurrentUser() *twitch.User { return nil }
func (s *fakeSource) LocalFollowIDs() []int64   { return s.ids }
func (s *fakeSource) IsFavorite(id int64) bool  { return s.favorites[id] }
func (s *fakeSource) AvatarFor(string) string   { return "" }

type fakePresenter struct {
	mu            sync.Mutex
	notifications []string
	sounds        []int
	badgeText     string
	badgeTooltip  string
}

func (p *fakePresenter) ShowNotification(title, iconURL, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, title)
	return nil
}

func (p *fakePresenter) PlaySound(volume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sounds = append(p.sounds, volume)
}

func (p *fakePresenter) SetBadgeText(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.badgeText = text
}

func (p *fakePresenter) SetBadgeTooltip(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.badgeTooltip = text
}

func (p *fakePresenter) notificationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.notifications)
}

func stream(id int64, login string, viewers int) twitch.Stream {
	return twitch.Stream{
		ID:          fmt.Sprintf("stream-%d", id),
		UserID:      fmt.Sprintf("%d", id),
		UserLogin:   login,
		UserName:    strings.ToUpper(login[:1]) + login[1:],
		GameName:    "Tetris",
		ViewerCount: viewers,
	}
}

func testPoller(t *testing.T, gw *fakeGateway, src *fakeSource, present *fakePresenter) *Poller {
	t.Helper()
	if src.favorites == nil {
		src.favorites = map[int64]bool{}
	}
	return New(gw, testStore(t), src, present, nil, testLogger(), nil)
}

func TestPoller_PollOnce_notifies_only_new_streams(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1, 2}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	gw.setStreams(stream(1, "alice", 100))
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("first PollOnce: %v", err)
	}
	if present.notificationCount() != 1 {
		t.Fatalf("expected 1 notification for the new stream, got %d", present.notificationCount())
	}

	// Same snapshot: no new notification.
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	if present.notificationCount() != 1 {
		t.Errorf("unchanged snapshot must not notify again, got %d", present.notificationCount())
	}

	// A second channel goes live.
	gw.setStreams(stream(1, "alice", 100), stream(2, "bob", 50))
	if err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("third PollOnce: %v", err)
	}
	if present.notificationCount() != 2 {
		t.Errorf("expected a notification for bob, got %d total", present.notificationCount())
	}
	if !strings.Contains(present.notifications[1], "Bob") {
		t.Errorf("notification should name the new streamer, got %q", present.notifications[1])
	}
}

func TestPoller_PollOnce_renotifies_after_offline(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	gw.setStreams(stream(1, "alice", 100))
	_ = p.PollOnce(context.Background())
	gw.setStreams()
	_ = p.PollOnce(context.Background())
	gw.setStreams(stream(1, "alice", 100))
	_ = p.PollOnce(context.Background())

	if present.notificationCount() != 2 {
		t.Errorf("going offline and back online should notify again, got %d", present.notificationCount())
	}
}

func TestPoller_PollOnce_failure_keeps_snapshot(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	gw.setStreams(stream(1, "alice", 100))
	_ = p.PollOnce(context.Background())

	gw.mu.Lock()
	gw.fail = true
	gw.mu.Unlock()
	if err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected an error from the failed cycle")
	}

	if len(p.Snapshot()) != 1 {
		t.Errorf("a failed cycle must leave the snapshot untouched, got %d streams", len(p.Snapshot()))
	}

	// Recovery must not re-notify: alice never left the snapshot.
	gw.mu.Lock()
	gw.fail = false
	gw.mu.Unlock()
	_ = p.PollOnce(context.Background())
	if present.notificationCount() != 1 {
		t.Errorf("recovering from a failed cycle should not re-notify, got %d", present.notificationCount())
	}
}

func TestPoller_favorites_take_priority(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1, 2}, favorites: map[int64]bool{2: true}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	// bob (favorite, fewer viewers) and alice go live in the same tick.
	gw.setStreams(stream(1, "alice", 100), stream(2, "bob", 5))
	_ = p.PollOnce(context.Background())

	if present.notificationCount() != 1 {
		t.Fatalf("expected 1 notification, got %d", present.notificationCount())
	}
	if !strings.Contains(present.notifications[0], "Bob") {
		t.Errorf("favorite should win the notification slot, got %q", present.notifications[0])
	}
	// Favorites audio is on by default; one sound at the default volume.
	if len(present.sounds) != 1 || present.sounds[0] != 20 {
		t.Errorf("expected one sound at volume 20, got %v", present.sounds)
	}
}

func TestPoller_notifications_can_be_disabled(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)
	if _, err := p.settings.Set("nonfavoritesDesktopNotifications", false); err != nil {
		t.Fatalf("Set: %v", err)
	}

	gw.setStreams(stream(1, "alice", 100))
	_ = p.PollOnce(context.Background())

	if present.notificationCount() != 0 {
		t.Errorf("disabled policy must suppress notifications, got %d", present.notificationCount())
	}
}

func TestPoller_badge_reflects_live_count(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1, 2}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	gw.setStreams(stream(1, "alice", 100), stream(2, "bob", 50))
	_ = p.PollOnce(context.Background())

	if present.badgeText != "2" {
		t.Errorf("expected badge text 2, got %q", present.badgeText)
	}
	if !strings.Contains(present.badgeTooltip, "Alice streaming Tetris") {
		t.Errorf("tooltip should list live channels, got %q", present.badgeTooltip)
	}

	gw.setStreams()
	_ = p.PollOnce(context.Background())
	if present.badgeText != "" {
		t.Errorf("badge text should clear with no live streams, got %q", present.badgeText)
	}
}

func TestPoller_badge_tooltip_truncates(t *testing.T) {
	gw := &fakeGateway{}
	var ids []int64
	var streams []twitch.Stream
	for i := int64(1); i <= 25; i++ {
		ids = append(ids, i)
		streams = append(streams, stream(i, fmt.Sprintf("chan%d", i), int(i)))
	}
	src := &fakeSource{ids: ids}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	gw.setStreams(streams...)
	_ = p.PollOnce(context.Background())

	if !strings.Contains(present.badgeTooltip, "...and 5 more") {
		t.Errorf("tooltip should truncate past 20 entries, got %q", present.badgeTooltip)
	}
}

func TestPoller_notification_click_consumes_target(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)
	if _, err := p.settings.Set("openChat", true); err != nil {
		t.Fatalf("Set: %v", err)
	}

	gw.setStreams(stream(1, "alice", 100))
	_ = p.PollOnce(context.Background())

	target, actions := p.NotificationClicked()
	if target != "alice" {
		t.Errorf("expected target alice, got %q", target)
	}
	if !actions.OpenChat || actions.OpenStream || actions.OpenPopout {
		t.Errorf("expected only OpenChat, got %+v", actions)
	}

	target, _ = p.NotificationClicked()
	if target != "" {
		t.Errorf("target should be consumed by the first click, got %q", target)
	}
}

func TestPoller_Deauthorize_clears_state(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeSource{ids: []int64{1}}
	present := &fakePresenter{}
	p := testPoller(t, gw, src, present)

	gw.setStreams(stream(1, "alice", 100))
	_ = p.PollOnce(context.Background())

	p.Deauthorize()
	if len(p.Snapshot()) != 0 {
		t.Error("snapshot should be empty after Deauthorize")
	}
	if present.badgeText != "" {
		t.Errorf("badge should clear after Deauthorize, got %q", present.badgeText)
	}
}
