// Package popup exposes the engine over HTTP for popup contexts. Every route
// is a thin translation layer: decode the request, call the owning service,
// map its errors, write JSON.
package popup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"twitchfox/internal/browse"
	"twitchfox/internal/follows"
	"twitchfox/internal/notify"
	"twitchfox/internal/platform/metrics"
	"twitchfox/internal/poller"
	"twitchfox/internal/settings"
	"twitchfox/internal/twitch"
)

// Handler wires the engine's services to chi routes.
type Handler struct {
	follows  *follows.Service
	poll     *poller.Poller
	stack    *browse.Stack
	settings *settings.Store
	notify   *notify.Relay
	log      *slog.Logger
	metrics  *metrics.Metrics

	// OnAuthChanged, when set, runs after the stored token changes through
	// the settings routes, so the engine can re-resolve the user and restart
	// polling without waiting for a restart.
	OnAuthChanged func()
}

// NewHandler returns a Handler over the given services. Metrics may be nil.
func NewHandler(fs *follows.Service, p *poller.Poller, stack *browse.Stack, store *settings.Store, relay *notify.Relay, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		follows:  fs,
		poll:     p,
		stack:    stack,
		settings: store,
		notify:   relay,
		log:      log,
		metrics:  m,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)

		r.Route("/browse", func(r chi.Router) {
			r.Post("/call", h.BrowseCall)
			r.Post("/back", h.BrowseBack)
			r.Post("/forward", h.BrowseForward)
			r.Post("/reset", h.BrowseReset)
			r.Post("/reset-if-deep", h.BrowseResetIfDeep)
			r.Post("/refresh", h.BrowseRefresh)
			r.Post("/ui-state", h.BrowseUIState)
			r.Post("/mode", h.BrowseMode)
		})

		r.Route("/channels/{id}", func(r chi.Router) {
			r.Post("/follow", h.FollowChannel)
			r.Post("/unfollow", h.UnfollowChannel)
			r.Post("/favorite", h.FavoriteChannel)
			r.Post("/unfavorite", h.UnfavoriteChannel)
		})

		r.Route("/games/{id}", func(r chi.Router) {
			r.Post("/follow", h.FollowGame)
			r.Post("/unfollow", h.UnfollowGame)
		})

		r.Post("/follows/import", h.ImportFollows)
		r.Get("/follows/export", h.ExportFollows)

		r.Post("/videos/refresh", h.RefreshVideos)

		r.Post("/notification/clicked", h.NotificationClicked)
		r.Post("/notification/dismissed", h.NotificationDismissed)

		r.Post("/deauthorize", h.Deauthorize)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.PutSettings)
		r.Post("/settings/reset", h.ResetSettings)
		r.Post("/settings/import", h.ImportSettings)
	})
}

// GetState handles GET /api/state: the full snapshot a popup needs to render.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state := map[string]any{
		"user":       h.follows.CurrentUser(),
		"follows":    h.follows.Follows(),
		"channels":   h.follows.Channels(),
		"games":      h.follows.Games(),
		"videos":     h.follows.Videos(),
		"streams":    h.poll.Snapshot(),
		"badge":      h.notify.Badge(),
		"page":       h.stack.Current(),
		"stackIndex": h.stack.Index(),
		"stackDepth": h.stack.Len(),
		"mode":       h.settings.String("mode"),
	}
	writeJSON(w, http.StatusOK, state)
}

type browseCallRequest struct {
	Endpoint string         `json:"endpoint"`
	Params   map[string]any `json:"params"`
	NewLevel bool           `json:"newLevel"`
	Reset    bool           `json:"reset"`
}

// BrowseCall handles POST /api/browse/call.
// Body: { "endpoint": "Get Live Streams", "params": {...}, "newLevel": true }.
func (h *Handler) BrowseCall(w http.ResponseWriter, r *http.Request) {
	var req browseCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid browse call body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, ok := twitch.EndpointByName(req.Endpoint)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown endpoint %q", req.Endpoint))
		return
	}

	params, err := decodeParams(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.stack.Call(r.Context(), ep, params, req.NewLevel, req.Reset)
	if err != nil {
		h.writeBrowseError(w, ep, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// BrowseBack handles POST /api/browse/back.
func (h *Handler) BrowseBack(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stack.GoBack())
}

// BrowseForward handles POST /api/browse/forward.
func (h *Handler) BrowseForward(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stack.GoForward())
}

// BrowseReset handles POST /api/browse/reset: back to an empty root.
func (h *Handler) BrowseReset(w http.ResponseWriter, r *http.Request) {
	h.stack.ResetToRoot()
	writeJSON(w, http.StatusOK, h.stack.Current())
}

// BrowseResetIfDeep handles POST /api/browse/reset-if-deep: drops any
// navigation above the root but keeps the root page's content. Popups call
// this on open so reopening lands on familiar results.
func (h *Handler) BrowseResetIfDeep(w http.ResponseWriter, r *http.Request) {
	h.stack.ResetToRootIfDeep()
	writeJSON(w, http.StatusOK, h.stack.Current())
}

// BrowseRefresh handles POST /api/browse/refresh: re-fetch the current page.
func (h *Handler) BrowseRefresh(w http.ResponseWriter, r *http.Request) {
	page, err := h.stack.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, browse.ErrSuperseded) {
			writeError(w, http.StatusConflict, "superseded by a newer request")
			return
		}
		h.log.Error("refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// BrowseUIState handles POST /api/browse/ui-state.
// Body: { "filter": "...", "scroll": 120 }.
func (h *Handler) BrowseUIState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `json:"filter"`
		Scroll int    `json:"scroll"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.stack.SaveUIState(req.Filter, req.Scroll)
	w.WriteHeader(http.StatusNoContent)
}

// BrowseMode handles POST /api/browse/mode. Body: { "mode": "channels" }.
// Switching mode resets the stack to a root seeded from followed data.
func (h *Handler) BrowseMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		content []twitch.Entity
		ctype   twitch.ContentType
	)
	switch req.Mode {
	case "streams":
		ctype = twitch.ContentStream
		for _, s := range h.poll.Snapshot() {
			content = append(content, s)
		}
	case "channels":
		ctype = twitch.ContentUser
		for _, u := range h.follows.Channels() {
			content = append(content, u)
		}
	case "games":
		ctype = twitch.ContentGame
		for _, g := range h.follows.Games() {
			content = append(content, g)
		}
	case "videos":
		ctype = twitch.ContentVideo
		for _, v := range h.follows.Videos() {
			content = append(content, v)
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	if _, err := h.settings.Set("mode", req.Mode); err != nil {
		h.log.Error("persisting mode failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist mode")
		return
	}

	h.stack.ResetToRoot()
	h.stack.SeedRoot(content, ctype)
	writeJSON(w, http.StatusOK, h.stack.Current())
}

// FollowChannel handles POST /api/channels/{id}/follow.
func (h *Handler) FollowChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	followed, err := h.follows.Follow(r.Context(), id)
	if err != nil {
		h.log.Error("follow failed", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist follow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": followed})
}

// UnfollowChannel handles POST /api/channels/{id}/unfollow.
func (h *Handler) UnfollowChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.follows.Unfollow(id); err != nil {
		h.log.Error("unfollow failed", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist unfollow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FavoriteChannel handles POST /api/channels/{id}/favorite. Favoriting a
// channel that is not followed returns 200 with favorited=false.
func (h *Handler) FavoriteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	favorited, err := h.follows.Favorite(id)
	if err != nil {
		h.log.Error("favorite failed", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorited": favorited})
}

// UnfavoriteChannel handles POST /api/channels/{id}/unfavorite.
func (h *Handler) UnfavoriteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.follows.Unfavorite(id); err != nil {
		h.log.Error("unfavorite failed", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist unfavorite")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FollowGame handles POST /api/games/{id}/follow.
func (h *Handler) FollowGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	followed, err := h.follows.FollowGame(r.Context(), id)
	if err != nil {
		h.log.Error("follow game failed", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist follow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": followed})
}

// UnfollowGame handles POST /api/games/{id}/unfollow.
func (h *Handler) UnfollowGame(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.follows.UnfollowGame(id); err != nil {
		h.log.Error("unfollow game failed", slog.Int64("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not persist unfollow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportFollows handles POST /api/follows/import?schema=current|legacy.
// The body is the raw export document. A structurally inconsistent document
// rejects the whole import with 422.
func (h *Handler) ImportFollows(w http.ResponseWriter, r *http.Request) {
	schema := follows.ImportSchema(r.URL.Query().Get("schema"))
	if schema == "" {
		schema = follows.ImportCurrent
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if err := h.follows.ImportFollows(r.Context(), data, schema); err != nil {
		var verr *follows.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		h.log.Error("import failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not apply import")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportFollows handles GET /api/follows/export.
func (h *Handler) ExportFollows(w http.ResponseWriter, r *http.Request) {
	data, err := h.follows.ExportFollows()
	if err != nil {
		h.log.Error("export failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not serialize follows")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="follows.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RefreshVideos handles POST /api/videos/refresh.
func (h *Handler) RefreshVideos(w http.ResponseWriter, r *http.Request) {
	h.follows.RefreshVideos(r.Context())
	writeJSON(w, http.StatusOK, h.follows.Videos())
}

// NotificationClicked handles POST /api/notification/clicked: consumes the
// pending target and tells the popup which surfaces to open.
func (h *Handler) NotificationClicked(w http.ResponseWriter, r *http.Request) {
	target, actions := h.poll.NotificationClicked()
	writeJSON(w, http.StatusOK, map[string]any{
		"target":  target,
		"actions": actions,
	})
}

// NotificationDismissed handles POST /api/notification/dismissed.
func (h *Handler) NotificationDismissed(w http.ResponseWriter, r *http.Request) {
	h.poll.NotificationDismissed()
	w.WriteHeader(http.StatusNoContent)
}

// Deauthorize handles POST /api/deauthorize: the full logout cascade. The
// poll timer stays disarmed until the next login; OnAuthChanged does not run
// here, only a stored-token change re-arms polling.
func (h *Handler) Deauthorize(w http.ResponseWriter, r *http.Request) {
	h.follows.Deauthorize()
	h.poll.Deauthorize()
	h.stack.ResetToRoot()
	h.log.Info("deauthorized")
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetAll())
}

// PutSettings handles PUT /api/settings. Body is an object of key/value
// pairs; any unknown key rejects the whole write with 400.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var incoming map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokenChanged := false
	for k, v := range incoming {
		ok, err := h.settings.Set(k, v)
		if err != nil {
			h.log.Error("persisting setting failed", slog.String("key", k), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "could not persist settings")
			return
		}
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown setting %q", k))
			return
		}
		if k == "token" {
			tokenChanged = true
		}
	}

	if tokenChanged && h.OnAuthChanged != nil {
		h.OnAuthChanged()
	}
	writeJSON(w, http.StatusOK, h.settings.GetAll())
}

// ResetSettings handles POST /api/settings/reset.
func (h *Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.ResetAll(); err != nil {
		h.log.Error("reset failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not reset settings")
		return
	}
	writeJSON(w, http.StatusOK, h.settings.GetAll())
}

// ImportSettings handles POST /api/settings/import: a previously exported
// settings document. Unknown keys are skipped.
func (h *Handler) ImportSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if err := h.settings.ImportJSON(data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.OnAuthChanged != nil {
		h.OnAuthChanged()
	}
	writeJSON(w, http.StatusOK, h.settings.GetAll())
}

func (h *Handler) writeBrowseError(w http.ResponseWriter, ep twitch.Endpoint, err error) {
	switch {
	case errors.Is(err, browse.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded by a newer request")
	case errors.Is(err, twitch.ErrAuth):
		writeError(w, http.StatusUnauthorized, "authentication required")
	default:
		var apiErr *twitch.APIError
		if errors.As(err, &apiErr) {
			h.log.Warn("upstream request failed",
				slog.String("endpoint", ep.Name),
				slog.Int("status", apiErr.Status))
			writeError(w, http.StatusBadGateway, apiErr.Message)
			return
		}
		h.log.Error("browse call failed", slog.String("endpoint", ep.Name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeParams converts a JSON params object to query parameters. Values may
// be strings, numbers, booleans, or arrays of those.
func decodeParams(in map[string]any) (twitch.Params, error) {
	out := twitch.Params{}
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out.Set(k, val)
		case float64:
			out.Set(k, strconv.FormatInt(int64(val), 10))
		case bool:
			out.Set(k, strconv.FormatBool(val))
		case []any:
			values := make([]string, 0, len(val))
			for _, item := range val {
				switch iv := item.(type) {
				case string:
					values = append(values, iv)
				case float64:
					values = append(values, strconv.FormatInt(int64(iv), 10))
				default:
					return nil, fmt.Errorf("parameter %q has an unsupported array element", k)
				}
			}
			out.SetAll(k, values)
		default:
			return nil, fmt.Errorf("parameter %q has an unsupported type", k)
		}
	}
	return out, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
