package youtubeapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/onnwee/codewatch/chat"
	"github.com/onnwee/codewatch/config"
	"github.com/onnwee/codewatch/testutil"
)

const testChannelID = "UCabcdefghijklmnopqrstuv"

func newTestService(t *testing.T, m *testutil.MockYouTubeServer) *Service {
	t.Helper()
	cfg := &config.Config{APIKey: "test-key", PageSize: 200, FetchTimeout: 2 * time.Second}
	svc, err := New(context.Background(), cfg, option.WithEndpoint(m.URL+"/"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return svc
}

func TestNew_Credentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"api key", config.Config{APIKey: "k"}, false},
		{"refresh token", config.Config{YTClientID: "id", YTClientSecret: "secret", YTRefreshToken: "rt"}, false},
		{"refresh token without client", config.Config{YTRefreshToken: "rt"}, true},
		{"nothing", config.Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), &tt.cfg, option.WithEndpoint("http://127.0.0.1:1/"))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_PageSizeClamped(t *testing.T) {
	svc, err := New(context.Background(), &config.Config{APIKey: "k", PageSize: 9000})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if svc.pageSize != config.MaxPageSize {
		t.Errorf("pageSize = %d, want %d", svc.pageSize, config.MaxPageSize)
	}
	if svc.fetchTimeout != 15*time.Second {
		t.Errorf("fetchTimeout = %v, want default", svc.fetchTimeout)
	}
}

func TestOAuthConfigScopes(t *testing.T) {
	oc := oauthConfig(&config.Config{YTClientID: "client", YTScopes: "scope1, scope2 scope3"})
	if len(oc.Scopes) != 3 {
		t.Errorf("scopes = %v, want 3", oc.Scopes)
	}
	if !strings.Contains(oc.Endpoint.TokenURL, "google") {
		t.Errorf("unexpected token url %q", oc.Endpoint.TokenURL)
	}
}

func TestNormalizeHandle(t *testing.T) {
	tests := []struct {
		in        string
		wantValue string
		wantKind  handleKind
	}{
		{"@somechannel", "@somechannel", kindHandle},
		{"https://www.youtube.com/@somechannel", "@somechannel", kindHandle},
		{"https://www.youtube.com/@somechannel/live", "@somechannel", kindHandle},
		{"https://www.youtube.com/@somechannel/streams?si=abc", "@somechannel", kindHandle},
		{"https://www.youtube.com/channel/" + testChannelID, testChannelID, kindChannelID},
		{testChannelID, testChannelID, kindChannelID},
		{"https://www.youtube.com/c/SomeName/", "SomeName", kindSearch},
		{"  Some Name  ", "Some Name", kindSearch},
		{"@", "@", kindSearch},
		{"", "", kindSearch},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, k := normalizeHandle(tt.in)
			if v != tt.wantValue || k != tt.wantKind {
				t.Errorf("normalizeHandle(%q) = (%q, %d), want (%q, %d)", tt.in, v, k, tt.wantValue, tt.wantKind)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockHandle("@somechannel", testChannelID)
	m.MockLiveBroadcast(testChannelID, "vid123", "chat-abc")
	svc := newTestService(t, m)

	target, err := svc.Resolve(context.Background(), "https://www.youtube.com/@somechannel")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := Target{ChannelID: testChannelID, VideoID: "vid123", LiveChatID: "chat-abc"}
	if target != want {
		t.Errorf("Resolve() = %+v, want %+v", target, want)
	}
	if n := m.Requests("/youtube/v3/channels"); n != 1 {
		t.Errorf("channels requests = %d, want 1", n)
	}
}

func TestResolveChannel(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockChannelSearch("Some Name", "UC_search_result_000000")
	m.MockChannelSearch("fallbackhandle", "UC_fallback_000000000000")
	svc := newTestService(t, m)
	ctx := context.Background()

	t.Run("raw id skips the api", func(t *testing.T) {
		id, err := svc.ResolveChannel(ctx, testChannelID)
		if err != nil || id != testChannelID {
			t.Fatalf("ResolveChannel() = %q, %v", id, err)
		}
		if m.Requests("/youtube/v3/search") != 0 || m.Requests("/youtube/v3/channels") != 0 {
			t.Error("raw channel id should not call the api")
		}
	})

	t.Run("custom name uses search", func(t *testing.T) {
		id, err := svc.ResolveChannel(ctx, "https://www.youtube.com/c/Some%20Name")
		if err != nil || id != "UC_search_result_000000" {
			t.Fatalf("ResolveChannel() = %q, %v", id, err)
		}
	})

	t.Run("unknown handle falls back to search", func(t *testing.T) {
		id, err := svc.ResolveChannel(ctx, "@fallbackhandle")
		if err != nil || id != "UC_fallback_000000000000" {
			t.Fatalf("ResolveChannel() = %q, %v", id, err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.ResolveChannel(ctx, "@nobody")
		if !errors.Is(err, ErrChannelNotFound) || !IsResolutionError(err) {
			t.Fatalf("ResolveChannel() error = %v, want ErrChannelNotFound", err)
		}
	})
}

func TestResolve_NotLive(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockHandle("@quiet", testChannelID)
	svc := newTestService(t, m)

	_, err := svc.Resolve(context.Background(), "@quiet")
	if !errors.Is(err, ErrNoActiveBroadcast) {
		t.Fatalf("Resolve() error = %v, want ErrNoActiveBroadcast", err)
	}
}

func TestResolve_ChatDisabled(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.MockLiveBroadcast(testChannelID, "vid123", "")
	svc := newTestService(t, m)

	_, err := svc.Resolve(context.Background(), testChannelID)
	if !errors.Is(err, ErrNoChatSession) {
		t.Fatalf("Resolve() error = %v, want ErrNoChatSession", err)
	}
}

func TestResolve_APIErrorIsNotResolutionError(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.Handle("/youtube/v3/search", func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteAPIError(w, http.StatusForbidden, "quotaExceeded", "quota")
	})
	svc := newTestService(t, m)

	_, err := svc.Resolve(context.Background(), testChannelID)
	if err == nil || IsResolutionError(err) {
		t.Fatalf("Resolve() error = %v, want a non-resolution api error", err)
	}
}

func TestFetchPage(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.QueueChatPages(
		testutil.ChatPage{
			NextPageToken: "B",
			IntervalMs:    5000,
			Messages: []testutil.ChatMessage{
				{ID: "m1", Author: "alice", Text: "hello", PublishedAt: published},
				{ID: "m2", Author: "bob", Text: "code ABCD-EFGH-IJKL-MNOP-QRST", Display: "ignored"},
				{ID: "m3", Author: "carol", SuperChat: "super WXYZ1-AAAA-BBBB-CCCC-DDDD", Display: "$5.00 from carol"},
				{ID: "m4", Author: "dave", Display: "dave became a member"},
			},
		},
		testutil.ChatPage{NextPageToken: "C", IntervalMs: 3000, OfflineAt: published.Add(time.Hour)},
	)
	svc := newTestService(t, m)
	ctx := context.Background()

	b, err := svc.FetchPage(ctx, "chat-abc", "")
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if b.NextCursor != "B" || b.PollingInterval != 5*time.Second {
		t.Errorf("batch cursor/interval = %q/%v", b.NextCursor, b.PollingInterval)
	}
	wantTexts := []string{"hello", "code ABCD-EFGH-IJKL-MNOP-QRST", "super WXYZ1-AAAA-BBBB-CCCC-DDDD", "dave became a member"}
	if len(b.Messages) != len(wantTexts) {
		t.Fatalf("got %d messages, want %d", len(b.Messages), len(wantTexts))
	}
	for i, want := range wantTexts {
		if b.Messages[i].Text != want {
			t.Errorf("message %d text = %q, want %q", i, b.Messages[i].Text, want)
		}
	}
	if b.Messages[0].Author != "alice" || !b.Messages[0].PublishedAt.Equal(published) {
		t.Errorf("message 0 = %+v", b.Messages[0])
	}
	if !b.OfflineAt.IsZero() {
		t.Error("first page should not be offline")
	}

	b, err = svc.FetchPage(ctx, "chat-abc", "B")
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if b.OfflineAt.IsZero() {
		t.Error("second page should carry offlineAt")
	}

	tokens := m.PageTokens()
	if len(tokens) != 2 || tokens[0] != "" || tokens[1] != "B" {
		t.Errorf("page tokens = %q, want [\"\" \"B\"]", tokens)
	}
}

func TestFetchPage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		page       testutil.ChatPage
		wantStatus int
		wantReason string
		wantClass  chat.ErrorClass
	}{
		{"chat ended", testutil.ChatPage{Status: 403, Reason: "liveChatEnded", Message: "ended"}, 403, "liveChatEnded", chat.ErrorClassFatal},
		{"rate limited", testutil.ChatPage{Status: 403, Reason: "rateLimitExceeded", Message: "slow down"}, 403, "rateLimitExceeded", chat.ErrorClassRetryable},
		{"server error", testutil.ChatPage{Status: 503, Reason: "backendError", Message: "oops"}, 503, "backendError", chat.ErrorClassRetryable},
		{"not found", testutil.ChatPage{Status: 404, Reason: "liveChatNotFound", Message: "gone"}, 404, "liveChatNotFound", chat.ErrorClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockYouTubeServer(t)
			m.QueueChatPages(tt.page)
			svc := newTestService(t, m)

			_, err := svc.FetchPage(context.Background(), "chat-abc", "A")
			var fe *chat.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("FetchPage() error = %v, want *chat.FetchError", err)
			}
			if fe.Status != tt.wantStatus || fe.Reason != tt.wantReason {
				t.Errorf("FetchError = %d/%q, want %d/%q", fe.Status, fe.Reason, tt.wantStatus, tt.wantReason)
			}
			if got := chat.ClassifyFetchError(err); got != tt.wantClass {
				t.Errorf("class = %v, want %v", got, tt.wantClass)
			}
		})
	}
}

func TestFetchPage_Timeout(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.Handle("/youtube/v3/liveChat/messages", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	svc := newTestService(t, m)
	svc.fetchTimeout = 50 * time.Millisecond

	_, err := svc.FetchPage(context.Background(), "chat-abc", "A")
	var fe *chat.FetchError
	if !errors.As(err, &fe) || fe.Status != 0 {
		t.Fatalf("FetchPage() error = %v, want transport FetchError", err)
	}
	if !chat.IsRetryableError(err) {
		t.Errorf("timeout should be retryable, got %v", chat.ClassifyFetchError(err))
	}
}

func TestFetchPage_ParentCanceled(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	svc := newTestService(t, m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.FetchPage(ctx, "chat-abc", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchPage() error = %v, want context.Canceled", err)
	}
	if len(m.PageTokens()) != 0 {
		t.Error("canceled fetch should not reach the server")
	}
}

func TestEngineAgainstMockAPI(t *testing.T) {
	m := testutil.NewMockYouTubeServer(t)
	m.QueueChatPages(
		testutil.ChatPage{NextPageToken: "B", IntervalMs: 1, Messages: []testutil.ChatMessage{
			{ID: "1", Text: "first AAAA-BBBB-CCCC-DDDD-EEEE"},
		}},
		testutil.ChatPage{Status: 503, Reason: "backendError", Message: "retry"},
		testutil.ChatPage{NextPageToken: "C", IntervalMs: 1, Messages: []testutil.ChatMessage{
			{ID: "2", Text: "second FFFF-GGGG-HHHH-IIII-JJJJ"},
		}},
	)
	svc := newTestService(t, m)

	var got []string
	sink := chat.SinkFunc(func(_ context.Context, token string) error {
		got = append(got, token)
		return nil
	})
	e := chat.NewEngine("chat-abc", svc, sink, chat.Options{
		MinInterval:    chat.MinPollFloor,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := e.Run(ctx)

	var stop *chat.StopError
	if !errors.As(err, &stop) {
		t.Fatalf("Run() error = %v, want StopError once the queue drains", err)
	}
	var fe *chat.FetchError
	if !errors.As(stop.Err, &fe) || fe.Reason != chat.ReasonLiveChatEnded {
		t.Errorf("stop cause = %v, want liveChatEnded", stop.Err)
	}
	if want := []string{"AAAA-BBBB-CCCC-DDDD-EEEE", "FFFF-GGGG-HHHH-IIII-JJJJ"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("delivered = %v, want %v", got, want)
	}
	if tokens := m.PageTokens(); strings.Join(tokens, ",") != ",B,B,C" {
		t.Errorf("page tokens = %q, want [\"\" B B C]", tokens)
	}
}
