// Package sink holds the destinations an extracted code can be delivered to.
// Every sink implements chat.Sink and reports a short Name used in logs and
// the codewatch_sink_failures_total label.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/codewatch/chat"
	"github.com/onnwee/codewatch/config"
)

// Named is a chat.Sink with a stable name.
type Named interface {
	chat.Sink
	Name() string
}

// New builds the sinks listed in cfg.Sinks. A single sink is returned as-is;
// several are combined with Multi.
func New(cfg *config.Config, logger *slog.Logger) (chat.Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []Named
	for _, name := range cfg.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case config.SinkClipboard:
			sinks = append(sinks, NewClipboard())
		case config.SinkOSC52:
			sinks = append(sinks, NewOSC52(nil))
		case config.SinkLog:
			sinks = append(sinks, NewLog(logger))
		case config.SinkWebhook:
			if cfg.WebhookURL == "" {
				return nil, errors.New("webhook sink requires a url")
			}
			sinks = append(sinks, NewWebhook(cfg.WebhookURL, nil))
		default:
			return nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	switch len(sinks) {
	case 0:
		return nil, errors.New("no sinks configured")
	case 1:
		return sinks[0], nil
	}
	return Multi(sinks), nil
}

// Multi delivers to every sink in order. One sink failing does not skip the rest.
type Multi []Named

func (m Multi) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m Multi) Deliver(ctx context.Context, token string) error {
	var errs []error
	for _, s := range m {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Deliver(ctx, token); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Log writes each token to a structured logger.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With(slog.String("component", "sink"))}
}

func (l *Log) Name() string { return config.SinkLog }

func (l *Log) Deliver(ctx context.Context, token string) error {
	l.logger.InfoContext(ctx, "code extracted", slog.String("token", token))
	return nil
}
