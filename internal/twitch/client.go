package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"twitchfox/internal/platform/metrics"
)

// DefaultBaseURL is the production Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix/"

// ErrAuth marks authentication failures (missing or expired token). Callers
// degrade to the logged-out view instead of retrying.
var ErrAuth = errors.New("twitch: unauthorized")

// APIError is a non-2xx response or transport failure from the Twitch API.
type APIError struct {
	Status  int
	Message string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api: status %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrAuth) match expired-token responses.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrAuth
	}
	return nil
}

// Params holds query parameters for a single API call. Multi-valued keys
// (user_id lists, language codes) repeat the key, as Helix expects.
type Params map[string][]string

// Set replaces the values for key with a single value.
func (p Params) Set(key, value string) { p[key] = []string{value} }

// SetInt replaces the values for key with a single integer value.
func (p Params) SetInt(key string, v int) { p.Set(key, strconv.Itoa(v)) }

// SetAll replaces the values for key with the given list.
func (p Params) SetAll(key string, values []string) {
	p[key] = append([]string(nil), values...)
}

// Get returns the first value for key, or "".
func (p Params) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Clone returns a deep copy, so callers can mutate defaults without
// touching the original.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, vs := range p {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Page is one normalized response page from the gateway.
type Page struct {
	Data   []Entity
	Cursor string
	Total  int
}

// TokenSource supplies the current bearer token, or "" when logged out.
type TokenSource interface {
	Token() string
}

// Client is the single gateway to the Twitch API. It injects the client id
// and bearer token, honors context cancellation, and normalizes responses
// into canonical entities.
type Client struct {
	http     *http.Client
	baseURL  string
	clientID string
	tokens   TokenSource
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewClient returns a Client for the given API root. Metrics may be nil to
// disable instrumentation (e.g. in tests).
func NewClient(baseURL, clientID string, tokens TokenSource, log *slog.Logger, m *metrics.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		clientID: clientID,
		tokens:   tokens,
		log:      log,
		metrics:  m,
	}
}

type rawEnvelope struct {
	Data       []json.RawMessage `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
	Total int `json:"total"`
}

// Fetch performs one GET against the given endpoint and returns the
// normalized page. A cancelled context surfaces as context.Canceled so
// callers can tell superseded requests from real failures.
func (c *Client) Fetch(ctx context.Context, ep Endpoint, params Params) (*Page, error) {
	if c.metrics != nil {
		c.metrics.IncAPIRequests()
	}

	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if ep.AuthRequired && token == "" {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: "endpoint requires a user token"}
	}

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ep.Path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-ID", c.clientID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	// Twitch localizes results by request region unless this is blank.
	req.Header.Set("Accept-Language", "")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.metrics != nil {
			c.metrics.IncAPIErrors()
		}
		return nil, &APIError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.metrics != nil {
			c.metrics.IncAPIErrors()
		}
		return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if c.metrics != nil {
			c.metrics.IncAPIErrors()
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: string(body)}
		c.log.Debug("api request failed",
			slog.String("endpoint", ep.Name),
			slog.Int("status", resp.StatusCode))
		return nil, apiErr
	}

	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}

	entities, err := decodeEntities(ep.Content, env.Data)
	if err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
	}

	return &Page{Data: entities, Cursor: env.Pagination.Cursor, Total: env.Total}, nil
}

// StreamsOf filters entities down to their Stream values.
func StreamsOf(entities []Entity) []Stream {
	out := make([]Stream, 0, len(entities))
	for _, e := range entities {
		if s, ok := e.(Stream); ok {
			out = append(out, s)
		}
	}
	return out
}
