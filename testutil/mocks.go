package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockYouTubeServer creates a test server that mocks the YouTube Data API v3
// endpoints used for channel resolution and live chat paging. Point a client
// at it with option.WithEndpoint(m.URL + "/").
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu         sync.Mutex
	handles    map[string]string // @handle -> channel id
	names      map[string]string // search query -> channel id
	live       map[string]string // channel id -> live video id
	chats      map[string]string // video id -> active live chat id
	pages      []ChatPage
	pageTokens []string
	requests   map[string]int
}

// ChatMessage is one item served by the liveChat/messages endpoint.
type ChatMessage struct {
	ID          string
	Author      string
	Text        string // textMessageDetails.messageText
	SuperChat   string // superChatDetails.userComment
	Display     string // snippet.displayMessage
	PublishedAt time.Time
}

// ChatPage is one queued liveChat/messages response. A non-zero Status makes
// the server answer with a googleapi error body instead.
type ChatPage struct {
	Messages      []ChatMessage
	NextPageToken string
	IntervalMs    int64
	OfflineAt     time.Time

	Status  int
	Reason  string
	Message string
}

// NewMockYouTubeServer creates a new mock YouTube API server.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
		handles:  make(map[string]string),
		names:    make(map[string]string),
		live:     make(map[string]string),
		chats:    make(map[string]string),
		requests: make(map[string]int),
	}
	m.Handlers["/youtube/v3/channels"] = m.serveChannels
	m.Handlers["/youtube/v3/search"] = m.serveSearch
	m.Handlers["/youtube/v3/videos"] = m.serveVideos
	m.Handlers["/youtube/v3/liveChat/messages"] = m.serveChat

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.requests[key]++
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		WriteAPIError(w, http.StatusNotFound, "notFound", "no mock for "+key)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle replaces the handler for path.
func (m *MockYouTubeServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// MockHandle registers a channels.list forHandle answer.
func (m *MockYouTubeServer) MockHandle(handle, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[handle] = channelID
}

// MockChannelSearch registers a search.list type=channel answer for query.
func (m *MockYouTubeServer) MockChannelSearch(query, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[query] = channelID
}

// MockLiveBroadcast makes channelID report videoID as its current live stream
// with the given active chat id. An empty liveChatID simulates a stream with chat disabled.
func (m *MockYouTubeServer) MockLiveBroadcast(channelID, videoID, liveChatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[channelID] = videoID
	m.chats[videoID] = liveChatID
}

// QueueChatPages appends responses served in order by liveChat/messages.
// Once the queue is drained the server answers 403 liveChatEnded.
func (m *MockYouTubeServer) QueueChatPages(pages ...ChatPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = append(m.pages, pages...)
}

// PageTokens returns the pageToken query value of every chat request received.
func (m *MockYouTubeServer) PageTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pageTokens...)
}

// Requests returns how many requests hit path.
func (m *MockYouTubeServer) Requests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[path]
}

func (m *MockYouTubeServer) serveChannels(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	id, ok := m.handles[r.URL.Query().Get("forHandle")]
	m.mu.Unlock()
	items := []map[string]any{}
	if ok {
		items = append(items, map[string]any{"kind": "youtube#channel", "id": id})
	}
	writeJSON(w, map[string]any{"kind": "youtube#channelListResponse", "items": items})
}

func (m *MockYouTubeServer) serveSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := []map[string]any{}
	m.mu.Lock()
	switch {
	case q.Get("eventType") == "live":
		if v, ok := m.live[q.Get("channelId")]; ok {
			items = append(items, map[string]any{
				"id": map[string]string{"kind": "youtube#video", "videoId": v},
			})
		}
	case q.Get("type") == "channel":
		if id, ok := m.names[q.Get("q")]; ok {
			items = append(items, map[string]any{
				"id":      map[string]string{"kind": "youtube#channel", "channelId": id},
				"snippet": map[string]string{"channelId": id, "title": q.Get("q")},
			})
		}
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"kind": "youtube#searchListResponse", "items": items})
}

func (m *MockYouTubeServer) serveVideos(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	m.mu.Lock()
	chatID, ok := m.chats[id]
	m.mu.Unlock()
	items := []map[string]any{}
	if ok {
		details := map[string]any{"actualStartTime": "2024-01-01T00:00:00Z"}
		if chatID != "" {
			details["activeLiveChatId"] = chatID
		}
		items = append(items, map[string]any{"id": id, "liveStreamingDetails": details})
	}
	writeJSON(w, map[string]any{"kind": "youtube#videoListResponse", "items": items})
}

func (m *MockYouTubeServer) serveChat(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.pageTokens = append(m.pageTokens, r.URL.Query().Get("pageToken"))
	if len(m.pages) == 0 {
		m.mu.Unlock()
		WriteAPIError(w, http.StatusForbidden, "liveChatEnded", "The live chat is no longer live.")
		return
	}
	page := m.pages[0]
	m.pages = m.pages[1:]
	m.mu.Unlock()

	if page.Status != 0 {
		WriteAPIError(w, page.Status, page.Reason, page.Message)
		return
	}

	items := make([]map[string]any, 0, len(page.Messages))
	for _, msg := range page.Messages {
		snippet := map[string]any{
			"type":           "textMessageEvent",
			"displayMessage": msg.Display,
		}
		if !msg.PublishedAt.IsZero() {
			snippet["publishedAt"] = msg.PublishedAt.UTC().Format(time.RFC3339Nano)
		}
		if msg.Text != "" {
			snippet["textMessageDetails"] = map[string]string{"messageText": msg.Text}
		}
		if msg.SuperChat != "" {
			snippet["type"] = "superChatEvent"
			snippet["superChatDetails"] = map[string]string{"userComment": msg.SuperChat}
		}
		items = append(items, map[string]any{
			"id":            msg.ID,
			"snippet":       snippet,
			"authorDetails": map[string]string{"displayName": msg.Author},
		})
	}
	body := map[string]any{
		"kind":                  "youtube#liveChatMessageListResponse",
		"items":                 items,
		"nextPageToken":         page.NextPageToken,
		"pollingIntervalMillis": page.IntervalMs,
	}
	if !page.OfflineAt.IsZero() {
		body["offlineAt"] = page.OfflineAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, body)
}

// WriteAPIError writes an error body in the shape googleapi.CheckResponse parses.
func WriteAPIError(w http.ResponseWriter, status int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"errors": []map[string]string{
				{"reason": reason, "message": message, "domain": "youtube.liveChat"},
			},
		},
	}
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
