package chat

import (
	"context"
	"time"
)

// Message is one chat item. Only Text is consumed by the engine.
type Message struct {
	ID          string
	Author      string
	Text        string
	PublishedAt time.Time
}

// Batch is the result of one page fetch, ordered oldest to newest.
type Batch struct {
	Messages        []Message
	NextCursor      string
	PollingInterval time.Duration
	// OfflineAt is set when the backend reports the broadcast has ended.
	OfflineAt time.Time
}

// Fetcher retrieves one page of chat messages after cursor. An empty cursor
// asks for the backend's current window. Implementations must bound each call.
type Fetcher interface {
	FetchPage(ctx context.Context, sessionID, cursor string) (Batch, error)
}

// Sink receives extracted tokens.
type Sink interface {
	Deliver(ctx context.Context, token string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, token string) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, token string) error { return f(ctx, token) }

func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}
