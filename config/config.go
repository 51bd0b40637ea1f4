// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run with only a channel and an API key.
// CLI flags bound with BindFlags override the environment; call Validate after parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/onnwee/codewatch/chat"
	"github.com/onnwee/codewatch/extract"
)

// DefaultScopes is used for the OAuth refresh-token client when YT_SCOPES is unset.
const DefaultScopes = "https://www.googleapis.com/auth/youtube.readonly"

// Page size limits accepted by liveChatMessages.list.
const (
	MinPageSize = 200
	MaxPageSize = 2000
)

// Known sink names.
const (
	SinkClipboard = "clipboard"
	SinkOSC52     = "osc52"
	SinkLog       = "log"
	SinkWebhook   = "webhook"
)

type Config struct {
	// Target channel: URL, @handle, custom name or UC... id
	ChannelHandle string

	// YouTube credentials
	APIKey         string
	YTClientID     string
	YTClientSecret string
	YTRefreshToken string
	YTScopes       string

	// Extraction
	Pattern string

	// Polling
	PageSize               int
	MinPollInterval        time.Duration
	FetchTimeout           time.Duration
	BackoffInitial         time.Duration
	BackoffMax             time.Duration
	BackoffJitter          float64
	MaxConsecutiveFailures int

	// Delivery
	Sinks      []string
	WebhookURL string

	// Side-car HTTP server; empty disables it
	HTTPAddr string

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

// Load reads environment variables and applies defaults. Malformed numeric or
// duration values are reported as errors rather than silently replaced.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ChannelHandle = strings.TrimSpace(os.Getenv("CHANNEL_CUSTOM_URL"))

	cfg.APIKey = os.Getenv("API_KEY")
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("YT_API_KEY")
	}
	cfg.YTClientID = os.Getenv("YT_CLIENT_ID")
	cfg.YTClientSecret = os.Getenv("YT_CLIENT_SECRET")
	cfg.YTRefreshToken = os.Getenv("YT_REFRESH_TOKEN")
	cfg.YTScopes = os.Getenv("YT_SCOPES")
	if cfg.YTScopes == "" {
		cfg.YTScopes = DefaultScopes
	}

	cfg.Pattern = os.Getenv("CODE_PATTERN")
	if cfg.Pattern == "" {
		cfg.Pattern = extract.DefaultPattern
	}

	var err error
	if cfg.PageSize, err = envInt("CHAT_PAGE_SIZE", MinPageSize); err != nil {
		return nil, err
	}
	if cfg.MinPollInterval, err = envDuration("POLL_MIN_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffInitial, err = envDuration("BACKOFF_INITIAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = envDuration("BACKOFF_MAX", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffJitter, err = envFloat("BACKOFF_JITTER", 0.2); err != nil {
		return nil, err
	}
	if cfg.MaxConsecutiveFailures, err = envInt("MAX_CONSECUTIVE_FAILURES", 0); err != nil {
		return nil, err
	}

	cfg.Sinks = splitList(os.Getenv("SINKS"))
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []string{SinkClipboard, SinkLog}
	}
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if cfg.TraceSampleRatio, err = envFloat("OTEL_TRACES_SAMPLER_ARG", 0.1); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BindFlags registers CLI overrides on fs. Current field values become the flag
// defaults, so call it after Load.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ChannelHandle, "channel", "c", c.ChannelHandle, "channel URL, @handle, custom name or UC... id (env CHANNEL_CUSTOM_URL)")
	fs.StringVar(&c.Pattern, "pattern", c.Pattern, "regular expression for codes (env CODE_PATTERN)")
	fs.StringSliceVar(&c.Sinks, "sink", c.Sinks, "delivery sinks: clipboard, osc52, log, webhook (env SINKS)")
	fs.StringVar(&c.WebhookURL, "webhook-url", c.WebhookURL, "target for the webhook sink (env WEBHOOK_URL)")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "health/metrics listen address, empty disables (env HTTP_ADDR)")
	fs.DurationVar(&c.MinPollInterval, "min-interval", c.MinPollInterval, "floor applied to the server-suggested poll interval (env POLL_MIN_INTERVAL)")
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ChannelHandle) == "" {
		errs = append(errs, errors.New("missing channel: set CHANNEL_CUSTOM_URL or --channel"))
	}
	if c.APIKey == "" && (c.YTRefreshToken == "" || c.YTClientID == "") {
		errs = append(errs, errors.New("missing youtube credentials: require API_KEY or YT_CLIENT_ID and YT_REFRESH_TOKEN"))
	}
	if _, err := extract.Compile(c.Pattern); err != nil {
		errs = append(errs, fmt.Errorf("invalid CODE_PATTERN: %w", err))
	}
	if c.PageSize < MinPageSize || c.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("CHAT_PAGE_SIZE must be between %d and %d, got %d", MinPageSize, MaxPageSize, c.PageSize))
	}
	// below the engine floor (0 included) means "as fast as allowed"
	if c.MinPollInterval >= 0 && c.MinPollInterval < chat.MinPollFloor {
		c.MinPollInterval = chat.MinPollFloor
	}
	if c.MinPollInterval < 0 || c.FetchTimeout <= 0 || c.BackoffInitial <= 0 || c.BackoffMax <= 0 {
		errs = append(errs, errors.New("durations must be positive"))
	}
	if c.BackoffMax < c.BackoffInitial {
		errs = append(errs, fmt.Errorf("BACKOFF_MAX (%s) is below BACKOFF_INITIAL (%s)", c.BackoffMax, c.BackoffInitial))
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		errs = append(errs, fmt.Errorf("BACKOFF_JITTER must be within 0..1, got %g", c.BackoffJitter))
	}
	if c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within (0,1], got %g", c.TraceSampleRatio))
	}
	if c.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("MAX_CONSECUTIVE_FAILURES must not be negative"))
	}

	c.Sinks = normalizeSinks(c.Sinks)
	if len(c.Sinks) == 0 {
		errs = append(errs, errors.New("no sinks configured"))
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkClipboard, SinkOSC52, SinkLog:
		case SinkWebhook:
			if c.WebhookURL == "" {
				errs = append(errs, errors.New("webhook sink requires WEBHOOK_URL"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q", s))
		}
	}
	return errors.Join(errs...)
}

// Scopes returns the configured OAuth scopes, accepting comma or space separators.
func (c *Config) Scopes() []string {
	fields := strings.Fields(strings.ReplaceAll(c.YTScopes, ",", " "))
	if len(fields) == 0 {
		return []string{DefaultScopes}
	}
	return fields
}

func normalizeSinks(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, name := range splitList(s) {
			name = strings.ToLower(name)
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

// envDuration accepts Go durations ("750ms") or bare integers as milliseconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
