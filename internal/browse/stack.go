// Package browse holds the popup's navigation state: a stack of result pages
// the user can walk back and forward through, each accumulating paginated
// content from one endpoint. Concurrent requests targeting the same stack
// position supersede each other; only the most recent request may mutate the
// page.
package browse

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"twitchfox/internal/settings"
	"twitchfox/internal/twitch"
)

// ErrSuperseded reports that a newer request took over the stack position
// before this one resolved. It is an expected outcome, not a failure.
var ErrSuperseded = errors.New("request superseded by a newer one")

// DefaultPageSize is the page size requested when the caller does not name one.
const DefaultPageSize = 100

// State marks whether a page has a request in flight.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
)

// ResultPage is one level of the navigation stack.
type ResultPage struct {
	Content  []twitch.Entity `json:"content"`
	Type     string          `json:"type"`
	Endpoint string          `json:"endpoint"`
	Opts     twitch.Params   `json:"opts"`
	Cursor   string          `json:"cursor,omitempty"`
	Total    int             `json:"total"`
	Scroll   int             `json:"scroll"`
	Filter   string          `json:"filter,omitempty"`
	State    State           `json:"state"`
}

// Gateway is the slice of the API client the stack needs.
type Gateway interface {
	Fetch(ctx context.Context, ep twitch.Endpoint, params twitch.Params) (*twitch.Page, error)
}

type inflight struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// Stack is the navigation history. Index points at the current page; pages
// above the index are the forward history, pruned when a new level is pushed.
type Stack struct {
	api      Gateway
	settings *settings.Store
	log      *slog.Logger

	mu       sync.Mutex
	pages    []*ResultPage
	index    int
	inflight map[int]inflight
}

// NewStack builds a stack with a single empty root page.
func NewStack(api Gateway, store *settings.Store, log *slog.Logger) *Stack {
	return &Stack{
		api:      api,
		settings: store,
		log:      log,
		pages:    []*ResultPage{emptyPage()},
		inflight: make(map[int]inflight),
	}
}

func emptyPage() *ResultPage {
	return &ResultPage{Content: []twitch.Entity{}, Opts: twitch.Params{}, State: StateIdle}
}

// Call fetches one page from the endpoint into the current stack position.
// asNewLevel pushes a fresh page first (pruning forward history); reset
// clears the current page's accumulated content and paging state so the
// fetch starts over. Repeated calls without reset append, deduplicated by
// entity id. A call that loses its position to a newer one returns
// ErrSuperseded.
func (s *Stack) Call(ctx context.Context, ep twitch.Endpoint, opts twitch.Params, asNewLevel, reset bool) (*ResultPage, error) {
	if opts == nil {
		opts = twitch.Params{}
	}

	s.mu.Lock()

	if asNewLevel {
		s.index++
		s.pages = append(s.pages[:s.index], emptyPage())
	}
	page := s.pages[s.index]
	if reset {
		page.Content = []twitch.Entity{}
		page.Scroll = 0
		page.Cursor = ""
		delete(opts, "first")
		delete(opts, "language")
		delete(opts, "after")
	}

	params := opts.Clone()
	if params.Get("first") == "" {
		params.SetInt("first", DefaultPageSize)
	}
	if ep.LanguageFilter {
		if codes := s.settings.String("languageCodes"); codes != "" {
			params.Set("language", codes)
		}
	}
	if page.Cursor != "" {
		params.Set("after", page.Cursor)
	}

	page.Endpoint = ep.Name
	page.Opts = opts
	page.State = StateLoading

	// A request already in flight for this position loses its claim.
	pos := s.index
	if prev, ok := s.inflight[pos]; ok {
		prev.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	reqID := uuid.New()
	s.inflight[pos] = inflight{id: reqID, cancel: cancel}

	s.mu.Unlock()

	result, err := s.api.Fetch(reqCtx, ep, params)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	owner := s.inflight[pos].id == reqID
	if owner {
		delete(s.inflight, pos)
	}

	if err != nil {
		if !owner || errors.Is(err, context.Canceled) {
			return nil, ErrSuperseded
		}
		if pos < len(s.pages) && s.pages[pos].Endpoint == ep.Name {
			s.pages[pos].State = StateIdle
		}
		return nil, err
	}
	if !owner {
		return nil, ErrSuperseded
	}

	if pos >= len(s.pages) {
		return nil, ErrSuperseded
	}
	page = s.pages[pos]
	if page.Endpoint != ep.Name {
		// The stack moved on to a different endpoint while we were out;
		// drop the result without applying it.
		return snapshotPage(page), nil
	}

	seen := make(map[string]struct{}, len(page.Content))
	for _, e := range page.Content {
		seen[e.EntityID()] = struct{}{}
	}
	for _, e := range result.Data {
		if _, ok := seen[e.EntityID()]; ok {
			continue
		}
		seen[e.EntityID()] = struct{}{}
		page.Content = append(page.Content, e)
	}
	page.Type = string(ep.Content)
	page.Total = result.Total
	page.Cursor = result.Cursor
	page.State = StateIdle

	return snapshotPage(page), nil
}

// Refresh re-runs the current page's endpoint with its saved options,
// discarding accumulated content first.
func (s *Stack) Refresh(ctx context.Context) (*ResultPage, error) {
	s.mu.Lock()
	page := s.pages[s.index]
	name := page.Endpoint
	opts := page.Opts.Clone()
	s.mu.Unlock()

	if name == "" {
		return s.Current(), nil
	}
	ep, ok := twitch.EndpointByName(name)
	if !ok {
		return nil, errors.New("current page has an unknown endpoint")
	}
	return s.Call(ctx, ep, opts, false, true)
}

// GoBack steps to the previous page. At the root it is a no-op.
func (s *Stack) GoBack() *ResultPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index > 0 {
		s.index--
	}
	return snapshotPage(s.pages[s.index])
}

// GoForward steps to the next page. At the top it is a no-op.
func (s *Stack) GoForward() *ResultPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < len(s.pages)-1 {
		s.index++
	}
	return snapshotPage(s.pages[s.index])
}

// ResetToRoot cancels everything in flight and replaces the stack with a
// single empty root.
func (s *Stack) ResetToRoot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pos, f := range s.inflight {
		f.cancel()
		delete(s.inflight, pos)
	}
	s.pages = []*ResultPage{emptyPage()}
	s.index = 0
}

// ResetToRootIfDeep drops the forward and upward history but keeps the root
// page's content, so reopening the popup lands on familiar results.
func (s *Stack) ResetToRootIfDeep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pages) == 1 {
		return
	}
	for pos, f := range s.inflight {
		if pos > 0 {
			f.cancel()
			delete(s.inflight, pos)
		}
	}
	s.pages = s.pages[:1]
	s.index = 0
}

// SeedRoot replaces the root page's content with locally-known entities,
// bypassing the network. Used when the popup mode shows followed data.
func (s *Stack) SeedRoot(content []twitch.Entity, ctype twitch.ContentType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.pages[0]
	root.Content = append([]twitch.Entity{}, content...)
	root.Type = string(ctype)
	root.Endpoint = ""
	root.Opts = twitch.Params{}
	root.Cursor = ""
	root.Total = len(content)
	root.Scroll = 0
	root.State = StateIdle
}

// SaveUIState records the current page's filter text and scroll offset so
// they survive back/forward navigation.
func (s *Stack) SaveUIState(filter string, scroll int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[s.index].Filter = filter
	s.pages[s.index].Scroll = scroll
}

// Index reports the current stack position.
func (s *Stack) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Len reports the stack depth.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Current returns a copy of the page at the current position.
func (s *Stack) Current() *ResultPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshotPage(s.pages[s.index])
}

// Page returns a copy of the page at the given position, or nil when out of
// range.
func (s *Stack) Page(pos int) *ResultPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= len(s.pages) {
		return nil
	}
	return snapshotPage(s.pages[pos])
}

func snapshotPage(p *ResultPage) *ResultPage {
	cp := *p
	cp.Content = append([]twitch.Entity{}, p.Content...)
	cp.Opts = p.Opts.Clone()
	return &cp
}
