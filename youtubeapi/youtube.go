// Package youtubeapi wraps the YouTube Data API for two purposes: resolving a
// channel handle to the active live chat of its current broadcast, and paging
// that chat as a chat.Fetcher. Credentials are either an API key or an OAuth
// refresh token exchanged through golang.org/x/oauth2.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/codewatch/chat"
	"github.com/onnwee/codewatch/config"
	"github.com/onnwee/codewatch/telemetry"
)

const tracerName = "youtubeapi"

// Resolution failures. Each is wrapped with the handle or id that failed.
var (
	ErrChannelNotFound   = errors.New("channel not found")
	ErrNoActiveBroadcast = errors.New("no active live broadcast")
	ErrNoChatSession     = errors.New("live broadcast has no active chat")
)

// IsResolutionError reports whether err means the target simply isn't
// available right now, as opposed to a transport or credential failure.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrNoActiveBroadcast) ||
		errors.Is(err, ErrNoChatSession)
}

// Target is the resolved chain from channel to chat session.
type Target struct {
	ChannelID  string
	VideoID    string
	LiveChatID string
}

type Service struct {
	yt           *yt.Service
	pageSize     int64
	fetchTimeout time.Duration
	logger       *slog.Logger
}

var _ chat.Fetcher = (*Service)(nil)

// New builds a client from cfg. An API key wins over OAuth; extra options are
// appended last so callers can redirect the endpoint.
func New(ctx context.Context, cfg *config.Config, opts ...option.ClientOption) (*Service, error) {
	var auth option.ClientOption
	switch {
	case cfg.APIKey != "":
		auth = option.WithAPIKey(cfg.APIKey)
	case cfg.YTRefreshToken != "" && cfg.YTClientID != "":
		ts := oauthConfig(cfg).TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.YTRefreshToken})
		auth = option.WithTokenSource(ts)
	default:
		return nil, errors.New("youtube: no api key or refresh token configured")
	}

	svc, err := yt.NewService(ctx, append([]option.ClientOption{auth}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}

	pageSize := int64(cfg.PageSize)
	if pageSize < config.MinPageSize {
		pageSize = config.MinPageSize
	}
	if pageSize > config.MaxPageSize {
		pageSize = config.MaxPageSize
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		yt:           svc,
		pageSize:     pageSize,
		fetchTimeout: timeout,
		logger:       slog.Default().With(slog.String("component", "youtubeapi")),
	}, nil
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       cfg.Scopes(),
	}
}

// Resolve walks handle -> channel id -> live video -> active chat id.
func (s *Service) Resolve(ctx context.Context, handle string) (Target, error) {
	var t Target
	var err error
	if t.ChannelID, err = s.ResolveChannel(ctx, handle); err != nil {
		return t, err
	}
	if t.VideoID, err = s.FindActiveBroadcast(ctx, t.ChannelID); err != nil {
		return t, err
	}
	if t.LiveChatID, err = s.GetChatSession(ctx, t.VideoID); err != nil {
		return t, err
	}
	telemetry.LoggerWithCorr(ctx, s.logger).Info("resolved live chat",
		slog.String("channel_id", t.ChannelID),
		slog.String("video_id", t.VideoID),
		slog.String("live_chat_id", t.LiveChatID))
	return t, nil
}

var channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// handleKind is how a normalized handle is looked up.
type handleKind int

const (
	kindChannelID handleKind = iota
	kindHandle
	kindSearch
)

// trailing URL segments that name a tab rather than the channel
var channelTabs = map[string]bool{
	"live": true, "streams": true, "videos": true, "featured": true, "about": true, "community": true,
}

// normalizeHandle reduces a URL to its identifying path segment and
// decides how to look it up.
func normalizeHandle(raw string) (string, handleKind) {
	h := strings.TrimSpace(raw)
	if u, err := url.Parse(h); err == nil && u.Host != "" {
		h = u.Path
	}
	segments := strings.FieldsFunc(h, func(r rune) bool { return r == '/' })
	for len(segments) > 1 && channelTabs[strings.ToLower(segments[len(segments)-1])] {
		segments = segments[:len(segments)-1]
	}
	if len(segments) > 0 {
		h = segments[len(segments)-1]
	}
	if decoded, err := url.PathUnescape(h); err == nil {
		h = decoded
	}
	switch {
	case channelIDPattern.MatchString(h):
		return h, kindChannelID
	case strings.HasPrefix(h, "@") && len(h) > 1:
		return h, kindHandle
	default:
		return h, kindSearch
	}
}

// ResolveChannel returns the channel id for a URL, @handle, custom name or raw id.
func (s *Service) ResolveChannel(ctx context.Context, handle string) (id string, err error) {
	value, kind := normalizeHandle(handle)
	if value == "" {
		return "", fmt.Errorf("%w: empty handle", ErrChannelNotFound)
	}
	if kind == kindChannelID {
		return value, nil
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "youtube.resolve_channel",
		attribute.String("youtube.handle", value))
	defer func() { telemetry.EndSpan(span, err) }()

	if kind == kindHandle {
		resp, err := s.yt.Channels.List([]string{"id"}).ForHandle(value).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("channels.list forHandle %s: %w", value, err)
		}
		if len(resp.Items) > 0 {
			id = resp.Items[0].Id
		}
	}
	if id == "" {
		query := strings.TrimPrefix(value, "@")
		resp, err := s.yt.Search.List([]string{"snippet"}).Type("channel").Q(query).MaxResults(1).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("search channel %q: %w", query, err)
		}
		if len(resp.Items) > 0 {
			if it := resp.Items[0]; it.Id != nil && it.Id.ChannelId != "" {
				id = it.Id.ChannelId
			} else if it.Snippet != nil {
				id = it.Snippet.ChannelId
			}
		}
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrChannelNotFound, handle)
	}
	span.SetAttributes(attribute.String("youtube.channel_id", id))
	return id, nil
}

// FindActiveBroadcast returns the video id of the channel's current live stream.
func (s *Service) FindActiveBroadcast(ctx context.Context, channelID string) (_ string, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "youtube.find_broadcast",
		attribute.String("youtube.channel_id", channelID))
	defer func() { telemetry.EndSpan(span, err) }()

	resp, err := s.yt.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search live video for %s: %w", channelID, err)
	}
	for _, it := range resp.Items {
		if it.Id != nil && it.Id.VideoId != "" {
			return it.Id.VideoId, nil
		}
	}
	return "", fmt.Errorf("%w: channel %s", ErrNoActiveBroadcast, channelID)
}

// GetChatSession returns the active live chat id of a broadcast.
func (s *Service) GetChatSession(ctx context.Context, videoID string) (_ string, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "youtube.get_chat_session",
		attribute.String("youtube.video_id", videoID))
	defer func() { telemetry.EndSpan(span, err) }()

	resp, err := s.yt.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("videos.list %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("%w: video %s not found", ErrNoActiveBroadcast, videoID)
	}
	details := resp.Items[0].LiveStreamingDetails
	if details == nil || details.ActiveLiveChatId == "" {
		return "", fmt.Errorf("%w: video %s", ErrNoChatSession, videoID)
	}
	return details.ActiveLiveChatId, nil
}

// FetchPage implements chat.Fetcher. Each call is bounded by the configured
// fetch timeout; failures come back as *chat.FetchError unless the parent
// context itself was canceled.
func (s *Service) FetchPage(ctx context.Context, sessionID, cursor string) (chat.Batch, error) {
	if err := ctx.Err(); err != nil {
		return chat.Batch{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	call := s.yt.LiveChatMessages.List(sessionID, []string{"id", "snippet", "authorDetails"}).
		MaxResults(s.pageSize).
		Context(callCtx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	resp, err := call.Do()
	if err != nil {
		if ctx.Err() != nil {
			return chat.Batch{}, ctx.Err()
		}
		return chat.Batch{}, toFetchError(err)
	}
	return toBatch(resp), nil
}

func toFetchError(err error) *chat.FetchError {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		fe := &chat.FetchError{Status: gerr.Code, Message: gerr.Message, Err: err}
		for _, item := range gerr.Errors {
			if item.Reason != "" {
				fe.Reason = item.Reason
				break
			}
		}
		return fe
	}
	return &chat.FetchError{Err: err}
}

func toBatch(resp *yt.LiveChatMessageListResponse) chat.Batch {
	b := chat.Batch{
		NextCursor:      resp.NextPageToken,
		PollingInterval: time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
		Messages:        make([]chat.Message, 0, len(resp.Items)),
	}
	if resp.OfflineAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.OfflineAt); err == nil {
			b.OfflineAt = t
		}
	}
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		msg := chat.Message{ID: item.Id, Text: messageText(item)}
		if item.AuthorDetails != nil {
			msg.Author = item.AuthorDetails.DisplayName
		}
		if item.Snippet != nil && item.Snippet.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
				msg.PublishedAt = t
			}
		}
		b.Messages = append(b.Messages, msg)
	}
	return b
}

// messageText prefers the typed text, then a super chat comment, then the
// rendered display message.
func messageText(item *yt.LiveChatMessage) string {
	sn := item.Snippet
	if sn == nil {
		return ""
	}
	if sn.TextMessageDetails != nil && sn.TextMessageDetails.MessageText != "" {
		return sn.TextMessageDetails.MessageText
	}
	if sn.SuperChatDetails != nil && sn.SuperChatDetails.UserComment != "" {
		return sn.SuperChatDetails.UserComment
	}
	return sn.DisplayMessage
}
