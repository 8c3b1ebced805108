// Package poller watches the user's followed channels for going-live events.
// Every tick it rebuilds the live snapshot from both follow sources, diffs it
// against the previous one, and applies the notification policy to whatever
// newly went live.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"twitchfox/internal/follows"
	"twitchfox/internal/platform/metrics"
	"twitchfox/internal/settings"
	"twitchfox/internal/twitch"
)

const (
	alarmFollowedStreams = "fetchFollowedStreams"

	// initialPollDelay makes the first poll happen promptly after (re)start
	// instead of waiting a full period.
	initialPollDelay = 1500 * time.Millisecond

	// badgeTooltipLimit caps how many channel names the badge tooltip lists.
	badgeTooltipLimit = 20

	badgeTitle = "Twitch Fox"
)

// Gateway is the slice of the API client the poller needs.
type Gateway interface {
	Fetch(ctx context.Context, ep twitch.Endpoint, params twitch.Params) (*twitch.Page, error)
}

// FollowSource exposes the reconciler state the poller reads each tick.
type FollowSource interface {
	CurrentUser() *twitch.User
	LocalFollowIDs() []int64
	IsFavorite(id int64) bool
	AvatarFor(userID string) string
}

// Presenter is the native notification and toolbar badge surface.
type Presenter interface {
	ShowNotification(title, iconURL, message string) error
	PlaySound(volumePercent int)
	SetBadgeText(text string)
	SetBadgeTooltip(text string)
}

// Broadcaster notifies connected popup contexts.
type Broadcaster interface {
	Broadcast(tag string)
}

// ClickActions is what the user configured a notification click to open.
type ClickActions struct {
	OpenStream bool `json:"openStream"`
	OpenPopout bool `json:"openPopout"`
	OpenChat   bool `json:"openChat"`
}

// Poller owns the rolling live-stream snapshot and the notification state.
// Overlapping ticks are not serialized; the later-resolving tick's snapshot
// wins.
type Poller struct {
	api      Gateway
	settings *settings.Store
	follows  FollowSource
	present  Presenter
	bus      Broadcaster
	sched    *Scheduler
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	snapshot    []twitch.Stream
	notifTarget string
}

// New builds a Poller. bus and m may be nil.
func New(api Gateway, store *settings.Store, src FollowSource, present Presenter, bus Broadcaster, log *slog.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		api:      api,
		settings: store,
		follows:  src,
		present:  present,
		bus:      bus,
		sched:    NewScheduler(),
		log:      log,
		metrics:  m,
	}
}

// Start arms the repeating poll with a short initial delay. Calling Start
// again (e.g. after the configured period changed) replaces the timer.
func (p *Poller) Start(period time.Duration) {
	p.sched.Schedule(alarmFollowedStreams, initialPollDelay, period, func() {
		go func() {
			if err := p.PollOnce(context.Background()); err != nil {
				p.log.Warn("poll cycle failed", slog.String("error", err.Error()))
			}
		}()
	})
}

// Stop disarms the poll timer.
func (p *Poller) Stop() {
	p.sched.Cancel(alarmFollowedStreams)
}

// PollOnce runs one fetch cycle: remote followed streams and local followed
// channels' live status, concurrently, concatenated and sorted by viewer
// count descending. Newly-live streams (relative to the previous snapshot)
// drive notifications; the snapshot is replaced unconditionally on success
// and left untouched on failure.
func (p *Poller) PollOnce(ctx context.Context) error {
	if p.metrics != nil {
		p.metrics.IncPollCycles()
	}

	var (
		remote   []twitch.Stream
		local    []twitch.Stream
		localErr error
		wg       sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		remote = p.fetchRemoteStreams(ctx)
	}()
	go func() {
		defer wg.Done()
		local, localErr = p.fetchLocalStreams(ctx)
	}()
	wg.Wait()

	if localErr != nil {
		if p.metrics != nil {
			p.metrics.IncPollFailures()
		}
		return fmt.Errorf("fetch locally-followed live streams: %w", localErr)
	}

	total := append(remote, local...)
	sort.SliceStable(total, func(i, j int) bool {
		return total[i].ViewerCount > total[j].ViewerCount
	})

	p.mu.Lock()
	prior := make(map[string]struct{}, len(p.snapshot))
	for _, s := range p.snapshot {
		prior[s.ID] = struct{}{}
	}
	var diff []twitch.Stream
	for _, s := range total {
		if _, ok := prior[s.ID]; !ok {
			diff = append(diff, s)
		}
	}
	p.snapshot = total
	p.mu.Unlock()

	if len(diff) > 0 {
		p.notify(diff)
		if p.bus != nil {
			p.bus.Broadcast("newFollowedStreams")
		}
	}

	p.updateBadge(total)
	if p.metrics != nil {
		p.metrics.SetLiveFollowedStreams(len(total))
	}
	return nil
}

// fetchRemoteStreams drains the followed-streams endpoint for the
// authenticated user. Logged out (or any failure) resolves to empty.
func (p *Poller) fetchRemoteStreams(ctx context.Context) []twitch.Stream {
	user := p.follows.CurrentUser()
	if user == nil {
		return nil
	}
	params := twitch.Params{}
	params.Set("user_id", user.ID)
	return twitch.StreamsOf(follows.FetchAllPages(ctx, p.api, twitch.GetFollowedStreams, params, 100, p.log))
}

// fetchLocalStreams checks live status for every locally-followed channel in
// chunks of 100. Channels that are offline are simply absent from the
// response. Unlike the remote fetch, a failure here fails the whole cycle.
func (p *Poller) fetchLocalStreams(ctx context.Context) ([]twitch.Stream, error) {
	ids := p.follows.LocalFollowIDs()
	var out []twitch.Stream
	for start := 0; start < len(ids); start += 100 {
		end := start + 100
		if end > len(ids) {
			end = len(ids)
		}
		params := twitch.Params{}
		params.SetInt("first", 100)
		chunk := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, strconv.FormatInt(id, 10))
		}
		params.SetAll("user_id", chunk)

		page, err := p.api.Fetch(ctx, twitch.GetStreams, params)
		if err != nil {
			return nil, err
		}
		out = append(out, twitch.StreamsOf(page.Data)...)
	}
	return out, nil
}

// notify applies the notification policy to the newly-live streams. Favorite
// channels take priority: if any favorite just went live, the favorites
// policy applies to the top favorite; otherwise the non-favorites policy
// applies to the top stream. Desktop and sound toggles are independent.
func (p *Poller) notify(diff []twitch.Stream) {
	sorted := append([]twitch.Stream(nil), diff...)
	sort.SliceStable(sorted, func(i, j int) bool {
		fi := p.follows.IsFavorite(parseID(sorted[i].UserID))
		fj := p.follows.IsFavorite(parseID(sorted[j].UserID))
		return fi && !fj
	})
	anyFavorite := p.follows.IsFavorite(parseID(sorted[0].UserID))

	desktopKey, audioKey := "nonfavoritesDesktopNotifications", "nonfavoritesAudioNotifications"
	if anyFavorite {
		desktopKey, audioKey = "favoritesDesktopNotifications", "favoritesAudioNotifications"
	}

	target := sorted[0]
	if p.settings.Bool(desktopKey) {
		name := target.UserName
		if name == "" {
			name = target.UserLogin
		}
		title := fmt.Sprintf("%s streaming %s", name, target.GameName)
		icon := p.follows.AvatarFor(target.UserID)

		p.mu.Lock()
		p.notifTarget = target.UserLogin
		p.mu.Unlock()

		if err := p.present.ShowNotification(title, icon, target.Title); err != nil {
			p.log.Warn("showing notification failed", slog.String("error", err.Error()))
		} else if p.metrics != nil {
			p.metrics.IncNotificationsSent()
		}
	}
	if p.settings.Bool(audioKey) {
		p.present.PlaySound(p.settings.Int("alarmVolume"))
	}
}

// updateBadge refreshes the toolbar badge: the live count as text, and a
// tooltip naming up to badgeTooltipLimit live channels.
func (p *Poller) updateBadge(streams []twitch.Stream) {
	text := ""
	if len(streams) > 0 {
		text = strconv.Itoa(len(streams))
	}

	var lines []string
	for i, s := range streams {
		if i == badgeTooltipLimit {
			break
		}
		name := s.UserName
		if name == "" {
			name = s.UserLogin
		}
		lines = append(lines, fmt.Sprintf("%s streaming %s", name, s.GameName))
	}
	if len(streams) > badgeTooltipLimit {
		lines = append(lines, fmt.Sprintf("...and %d more", len(streams)-badgeTooltipLimit))
	}

	tooltip := badgeTitle
	if len(lines) > 0 {
		tooltip = badgeTitle + "\n\n" + strings.Join(lines, "\n")
	}

	p.present.SetBadgeText(text)
	p.present.SetBadgeTooltip(tooltip)
}

// Snapshot returns a copy of the current live-stream snapshot.
func (p *Poller) Snapshot() []twitch.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]twitch.Stream(nil), p.snapshot...)
}

// NotificationClicked consumes the pending notification target and returns
// it with the configured click actions. At most one target is tracked; a
// later notification overwrites an unacknowledged one.
func (p *Poller) NotificationClicked() (string, ClickActions) {
	p.mu.Lock()
	target := p.notifTarget
	p.notifTarget = ""
	p.mu.Unlock()

	if target == "" {
		return "", ClickActions{}
	}
	return target, ClickActions{
		OpenStream: p.settings.Bool("openTwitchPage"),
		OpenPopout: p.settings.Bool("openPopout"),
		OpenChat:   p.settings.Bool("openChat"),
	}
}

// NotificationDismissed clears the pending notification target.
func (p *Poller) NotificationDismissed() {
	p.mu.Lock()
	p.notifTarget = ""
	p.mu.Unlock()
}

// Deauthorize stops the timer and clears the snapshot and badge; runs as
// part of the logout cascade.
func (p *Poller) Deauthorize() {
	p.Stop()
	p.mu.Lock()
	p.snapshot = nil
	p.notifTarget = ""
	p.mu.Unlock()
	p.updateBadge(nil)
	if p.metrics != nil {
		p.metrics.SetLiveFollowedStreams(0)
	}
}

// Shutdown disarms all timers; used on process exit.
func (p *Poller) Shutdown() {
	p.sched.CancelAll()
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
