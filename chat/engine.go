package chat

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/codewatch/extract"
	"github.com/onnwee/codewatch/telemetry"
)

// State is the polling engine state.
type State int

const (
	StateInit State = iota
	StatePolling
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePolling:
		return "polling"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MinPollFloor is the smallest wait ever applied between fetches.
const MinPollFloor = 50 * time.Millisecond

// Options tune the engine. Zero values take the defaults noted per field.
type Options struct {
	Pattern *regexp.Regexp // default extract.Default()
	Logger  *slog.Logger   // default slog.Default()

	MinInterval    time.Duration // floor for the suggested interval; default 500ms, never below MinPollFloor
	BackoffInitial time.Duration // default 2s
	BackoffMax     time.Duration // default 60s
	BackoffJitter  float64       // randomization factor, clamped to 0..1
	// MaxConsecutiveFailures turns a run of transient failures into a fatal
	// stop. 0 retries forever.
	MaxConsecutiveFailures int
}

func (o Options) withDefaults() Options {
	if o.Pattern == nil {
		o.Pattern = extract.Default()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 500 * time.Millisecond
	}
	if o.MinInterval < MinPollFloor {
		o.MinInterval = MinPollFloor
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.BackoffJitter < 0 {
		o.BackoffJitter = 0
	}
	if o.BackoffJitter > 1 {
		o.BackoffJitter = 1
	}
	return o
}

// Status is a point-in-time snapshot of the engine, safe to read from other goroutines.
type Status struct {
	State               string    `json:"state"`
	SessionID           string    `json:"session_id"`
	HasCursor           bool      `json:"has_cursor"`
	Polls               uint64    `json:"polls"`
	Messages            uint64    `json:"messages"`
	Matches             uint64    `json:"matches"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastIntervalMillis  int64     `json:"last_interval_ms"`
	LastPollAt          time.Time `json:"last_poll_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Engine polls one chat session. It must not be shared across sessions and
// Run may only be called once.
type Engine struct {
	sessionID string
	fetcher   Fetcher
	sink      Sink
	opts      Options
	logger    *slog.Logger
	backoff   *backoff.ExponentialBackOff

	// wait suspends for d or until ctx is done.
	wait func(ctx context.Context, d time.Duration) error

	started atomic.Bool

	// loop-owned; never touched outside Run
	cursor       string
	lastInterval time.Duration

	mu     sync.RWMutex
	state  State
	status Status
}

// NewEngine builds an engine for sessionID.
func NewEngine(sessionID string, fetcher Fetcher, sink Sink, opts Options) *Engine {
	telemetry.Init()
	opts = opts.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.BackoffInitial
	bo.MaxInterval = opts.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = opts.BackoffJitter

	e := &Engine{
		sessionID: sessionID,
		fetcher:   fetcher,
		sink:      sink,
		opts:      opts,
		logger:    opts.Logger.With(slog.String("component", "chat_poll"), slog.String("live_chat_id", sessionID)),
		backoff:   bo,
		wait:      sleepCtx,
		state:     StateInit,
	}
	e.status = Status{State: StateInit.String(), SessionID: sessionID}
	return e
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Status returns a snapshot of the engine counters.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run polls until the context is canceled or a fatal fetch error occurs.
// It returns ctx.Err() on cancellation and a *StopError on fatal failure.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	logger := telemetry.LoggerWithCorr(ctx, e.logger)
	e.setState(StatePolling)
	logger.Info("chat polling started", slog.Duration("min_interval", e.opts.MinInterval))

	for {
		if err := ctx.Err(); err != nil {
			return e.stop(logger, err)
		}

		batch, err := e.fetch(ctx)
		// an offline page may legitimately end the chain without a cursor
		if err == nil && batch.NextCursor == "" && batch.OfflineAt.IsZero() {
			err = &FetchError{Status: 200, Reason: ReasonMalformedResponse, Message: "response has no next page token"}
		}
		if err != nil {
			if ctx.Err() != nil {
				return e.stop(logger, ctx.Err())
			}
			class := ClassifyFetchError(err)
			telemetry.FetchErrors.WithLabelValues(class.String()).Inc()
			if class == ErrorClassFatal {
				return e.stop(logger, &StopError{Err: err, Class: class})
			}

			failures := e.recordFailure(err)
			if limit := e.opts.MaxConsecutiveFailures; limit > 0 && failures >= limit {
				return e.stop(logger, &StopError{Err: fmt.Errorf("%d consecutive transient failures: %w", failures, err), Class: ErrorClassFatal})
			}
			delay := e.backoffDelay()
			e.setState(StateDegraded)
			telemetry.SetPollInterval(delay)
			logger.Warn("chat fetch failed; retrying same cursor",
				slog.Any("err", err),
				slog.Int("consecutive_failures", failures),
				slog.Duration("backoff", delay))
			if err := e.wait(ctx, delay); err != nil {
				return e.stop(logger, err)
			}
			e.setState(StatePolling)
			continue
		}

		matches := e.process(ctx, logger, batch)
		if batch.NextCursor != "" {
			e.cursor = batch.NextCursor
		}
		e.backoff.Reset()
		interval := e.pollInterval(batch.PollingInterval)
		e.lastInterval = interval
		e.recordSuccess(len(batch.Messages), matches, interval)
		telemetry.SetPollInterval(interval)
		logger.Debug("chat page processed",
			slog.Int("messages", len(batch.Messages)),
			slog.Int("matches", matches),
			slog.Duration("next_poll", interval))

		if !batch.OfflineAt.IsZero() {
			err := fmt.Errorf("%w at %s", ErrChatEnded, batch.OfflineAt.Format(time.RFC3339))
			return e.stop(logger, &StopError{Err: err, Class: ErrorClassFatal})
		}
		if err := e.wait(ctx, interval); err != nil {
			return e.stop(logger, err)
		}
	}
}

func (e *Engine) fetch(ctx context.Context) (batch Batch, err error) {
	ctx, span := telemetry.StartSpan(ctx, "chat", "chat.fetch_page",
		attribute.String("chat.session_id", e.sessionID),
		attribute.Bool("chat.has_cursor", e.cursor != ""),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	telemetry.TimeFunc(telemetry.FetchDuration, func() {
		batch, err = e.fetcher.FetchPage(ctx, e.sessionID, e.cursor)
	})
	if err != nil {
		return Batch{}, err
	}
	span.SetAttributes(attribute.Int("chat.messages", len(batch.Messages)))
	return batch, nil
}

// process runs the extractor over each message in order and delivers the
// first match of every message.
func (e *Engine) process(ctx context.Context, logger *slog.Logger, batch Batch) int {
	matches := 0
	for _, msg := range batch.Messages {
		telemetry.MessagesScanned.Inc()
		token, ok := extract.Extract(msg.Text, e.opts.Pattern)
		if !ok {
			continue
		}
		matches++
		logger.Info("found matching message",
			slog.String("message_id", msg.ID),
			slog.String("author", msg.Author),
			slog.String("text", msg.Text),
			slog.String("token", token))
		e.deliver(ctx, logger, token)
	}
	return matches
}

func (e *Engine) deliver(ctx context.Context, logger *slog.Logger, token string) {
	name := sinkName(e.sink)
	defer func() {
		if r := recover(); r != nil {
			telemetry.SinkFailures.WithLabelValues(name).Inc()
			logger.Error("sink panicked", slog.String("sink", name), slog.Any("panic", r))
		}
	}()
	if err := e.sink.Deliver(ctx, token); err != nil {
		telemetry.SinkFailures.WithLabelValues(name).Inc()
		logger.Warn("sink delivery failed", slog.String("sink", name), slog.Any("err", err))
		return
	}
	telemetry.MatchesDelivered.Inc()
}

func (e *Engine) pollInterval(suggested time.Duration) time.Duration {
	if suggested < e.opts.MinInterval {
		return e.opts.MinInterval
	}
	return suggested
}

// backoffDelay never polls faster than the last suggested interval.
func (e *Engine) backoffDelay() time.Duration {
	d := e.backoff.NextBackOff()
	if d < 0 || d > e.opts.BackoffMax {
		d = e.opts.BackoffMax
	}
	if d < e.lastInterval {
		d = e.lastInterval
	}
	if d < e.opts.MinInterval {
		d = e.opts.MinInterval
	}
	return d
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.status.State = s.String()
	e.mu.Unlock()
	telemetry.SetEngineState(int(s))
}

func (e *Engine) recordSuccess(messages, matches int, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.HasCursor = e.cursor != ""
	e.status.Polls++
	e.status.Messages += uint64(messages)
	e.status.Matches += uint64(matches)
	e.status.ConsecutiveFailures = 0
	e.status.LastIntervalMillis = interval.Milliseconds()
	e.status.LastPollAt = time.Now().UTC()
	e.status.LastError = ""
	telemetry.PollsTotal.Inc()
}

func (e *Engine) recordFailure(err error) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Failures++
	e.status.ConsecutiveFailures++
	e.status.LastError = err.Error()
	return e.status.ConsecutiveFailures
}

func (e *Engine) stop(logger *slog.Logger, err error) error {
	e.mu.Lock()
	e.state = StateStopped
	e.status.State = StateStopped.String()
	if err != nil && !isCanceled(err) {
		e.status.LastError = err.Error()
	}
	e.mu.Unlock()
	telemetry.SetEngineState(int(StateStopped))

	if isCanceled(err) {
		logger.Info("chat polling canceled", slog.Any("reason", err))
	} else {
		logger.Error("chat polling stopped", slog.Any("err", err))
	}
	return err
}

// isCanceled matches only the bare ctx.Err() values Run returns on cancellation.
func isCanceled(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
