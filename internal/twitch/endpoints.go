package twitch

// ContentType names the canonical entity shape an endpoint returns.
type ContentType string

const (
	ContentStream  ContentType = "stream"
	ContentGame    ContentType = "game"
	ContentVideo   ContentType = "video"
	ContentClip    ContentType = "clip"
	ContentChannel ContentType = "channel"
	ContentUser    ContentType = "user"
	ContentFollow  ContentType = "follow"
)

// PagingStyle selects how an endpoint pages through results.
type PagingStyle int

const (
	// PageCursor uses an opaque "after" cursor (current protocol).
	PageCursor PagingStyle = iota
	// PageOffset uses a numeric "offset" parameter (legacy protocol).
	PageOffset
)

// Endpoint describes one logical API endpoint: where it lives, what it
// returns, and which request features it supports.
type Endpoint struct {
	Name           string
	Path           string
	Content        ContentType
	AuthRequired   bool
	LanguageFilter bool
	Paging         PagingStyle
}

var (
	GetTopGames        = Endpoint{Name: "Get Top Games", Path: "games/top", Content: ContentGame}
	GetGames           = Endpoint{Name: "Get Games", Path: "games", Content: ContentGame}
	GetStreams         = Endpoint{Name: "Get Live Streams", Path: "streams", Content: ContentStream, LanguageFilter: true}
	GetVideos          = Endpoint{Name: "Get Videos", Path: "videos", Content: ContentVideo, LanguageFilter: true}
	GetClips           = Endpoint{Name: "Get Clips", Path: "clips", Content: ContentClip}
	GetFollowedStreams = Endpoint{Name: "Get Followed Streams", Path: "streams/followed", Content: ContentStream, AuthRequired: true}
	SearchGames        = Endpoint{Name: "Search Games", Path: "search/categories", Content: ContentGame}
	SearchChannels     = Endpoint{Name: "Search Channels", Path: "search/channels", Content: ContentChannel}
	GetUsers           = Endpoint{Name: "Get Users", Path: "users", Content: ContentUser}
	GetUserFollows     = Endpoint{Name: "Get User Follows", Path: "channels/followed", Content: ContentFollow, AuthRequired: true}
)

var endpointsByName = map[string]Endpoint{}

func init() {
	for _, ep := range []Endpoint{
		GetTopGames,
		GetGames,
		GetStreams,
		GetVideos,
		GetClips,
		GetFollowedStreams,
		SearchGames,
		SearchChannels,
		GetUsers,
		GetUserFollows,
	} {
		endpointsByName[ep.Name] = ep
	}
}

// EndpointByName resolves a logical endpoint name to its descriptor.
func EndpointByName(name string) (Endpoint, bool) {
	ep, ok := endpointsByName[name]
	return ep, ok
}
