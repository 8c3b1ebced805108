package follows

import (
	"context"
	"log/slog"
	"sync"

	"twitchfox/internal/twitch"
)

// maxChunkSize is the most ids a single resolve request may carry.
const maxChunkSize = 100

// FetchAllPages drains a paginated endpoint, accumulating pages of size limit
// until a short page arrives or the API stops returning a cursor. Both cursor
// and legacy offset paging are supported, selected by the endpoint descriptor.
//
// If any page fails (network, auth), the whole fetch resolves to an empty
// result, never a partial list and never an error. Callers treat "fetched
// nothing" as the expected logged-out/degraded state.
func FetchAllPages(ctx context.Context, api Gateway, ep twitch.Endpoint, params twitch.Params, limit int, log *slog.Logger) []twitch.Entity {
	out := []twitch.Entity{}
	cursor := ""
	offset := 0

	for {
		p := params.Clone()
		if p == nil {
			p = twitch.Params{}
		}
		p.SetInt("first", limit)
		switch ep.Paging {
		case twitch.PageOffset:
			if offset > 0 {
				p.SetInt("offset", offset)
			}
		default:
			if cursor != "" {
				p.Set("after", cursor)
			}
		}

		page, err := api.Fetch(ctx, ep, p)
		if err != nil {
			log.Debug("paginated fetch failed, resolving empty",
				slog.String("endpoint", ep.Name),
				slog.String("error", err.Error()))
			return []twitch.Entity{}
		}

		out = append(out, page.Data...)
		offset += len(page.Data)
		cursor = page.Cursor

		if len(page.Data) < limit {
			break
		}
		if ep.Paging == twitch.PageCursor && cursor == "" {
			break
		}
	}

	return out
}

// FetchChunked resolves many values to entities: one request per chunk of at
// most maxChunkSize values, all chunks issued concurrently. Unlike
// FetchAllPages, a partial result is acceptable here; failed chunks are
// logged and skipped.
func FetchChunked(ctx context.Context, api Gateway, ep twitch.Endpoint, key string, values []string, log *slog.Logger) []twitch.Entity {
	if len(values) == 0 {
		return nil
	}

	var chunks [][]string
	for start := 0; start < len(values); start += maxChunkSize {
		end := start + maxChunkSize
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}

	results := make([][]twitch.Entity, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []string) {
			defer wg.Done()
			p := twitch.Params{}
			p.SetAll(key, chunk)
			page, err := api.Fetch(ctx, ep, p)
			if err != nil {
				log.Warn("chunk fetch failed",
					slog.String("endpoint", ep.Name),
					slog.Int("chunk", i),
					slog.String("error", err.Error()))
				return
			}
			results[i] = page.Data
		}(i, chunk)
	}
	wg.Wait()

	var out []twitch.Entity
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// FetchEach resolves entities one request per value, for endpoints that only
// accept a single key value per call (e.g. videos by user). Same partial
// result semantics as FetchChunked.
func FetchEach(ctx context.Context, api Gateway, ep twitch.Endpoint, key string, values []string, log *slog.Logger) []twitch.Entity {
	if len(values) == 0 {
		return nil
	}

	results := make([][]twitch.Entity, len(values))
	var wg sync.WaitGroup
	for i, value := range values {
		wg.Add(1)
		go func(i int, value string) {
			defer wg.Done()
			p := twitch.Params{}
			p.Set(key, value)
			page, err := api.Fetch(ctx, ep, p)
			if err != nil {
				log.Warn("singular fetch failed",
					slog.String("endpoint", ep.Name),
					slog.String(key, value),
					slog.String("error", err.Error()))
				return
			}
			results[i] = page.Data
		}(i, value)
	}
	wg.Wait()

	var out []twitch.Entity
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}
