// Package notify is the headless stand-in for a browser's notification and
// toolbar surfaces. Notifications are logged and relayed to connected popup
// contexts; the badge state is held for the state endpoint to report.
package notify

import (
	"log/slog"
	"sync"
)

// Broadcaster relays notification events to connected popup contexts.
type Broadcaster interface {
	Broadcast(tag string)
}

// Badge is the current toolbar badge state.
type Badge struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
}

// Relay implements the poller's presentation surface.
type Relay struct {
	bus Broadcaster
	log *slog.Logger

	mu    sync.Mutex
	badge Badge
}

// NewRelay builds a Relay. bus may be nil.
func NewRelay(bus Broadcaster, log *slog.Logger) *Relay {
	return &Relay{bus: bus, log: log}
}

// ShowNotification logs the notification and relays it to popup contexts.
func (r *Relay) ShowNotification(title, iconURL, message string) error {
	r.log.Info("desktop notification",
		slog.String("title", title),
		slog.String("message", message),
		slog.String("icon", iconURL))
	if r.bus != nil {
		r.bus.Broadcast("desktopNotification")
	}
	return nil
}

// PlaySound relays an audio alert at the given volume. Volume zero or below
// means muted, which suppresses the alert entirely.
func (r *Relay) PlaySound(volumePercent int) {
	if volumePercent <= 0 {
		return
	}
	r.log.Info("audio notification", slog.Int("volume", volumePercent))
	if r.bus != nil {
		r.bus.Broadcast("audioNotification")
	}
}

// SetBadgeText updates the badge count text.
func (r *Relay) SetBadgeText(text string) {
	r.mu.Lock()
	r.badge.Text = text
	r.mu.Unlock()
}

// SetBadgeTooltip updates the badge tooltip.
func (r *Relay) SetBadgeTooltip(text string) {
	r.mu.Lock()
	r.badge.Tooltip = text
	r.mu.Unlock()
}

// Badge returns the current badge state.
func (r *Relay) Badge() Badge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.badge
}
