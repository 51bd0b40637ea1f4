package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"

	"github.com/onnwee/codewatch/config"
)

// ErrClipboardUnsupported is returned when no system clipboard utility was found.
var ErrClipboardUnsupported = errors.New("system clipboard unavailable (install xclip, xsel or wl-clipboard, or use the osc52 sink)")

// Clipboard copies tokens to the system clipboard. A later token overwrites an
// earlier one.
type Clipboard struct {
	write       func(string) error
	unsupported bool
}

func NewClipboard() *Clipboard {
	return &Clipboard{write: clipboard.WriteAll, unsupported: clipboard.Unsupported}
}

func (c *Clipboard) Name() string { return config.SinkClipboard }

func (c *Clipboard) Deliver(_ context.Context, token string) error {
	if c.unsupported {
		return ErrClipboardUnsupported
	}
	return c.write(token)
}

// OSC52 sets the clipboard of the controlling terminal with an OSC 52 escape,
// which survives SSH sessions where no local clipboard utility exists.
type OSC52 struct {
	open   func() (io.WriteCloser, error)
	getenv func(string) string
}

// NewOSC52 writes to w when non-nil, otherwise to /dev/tty on each delivery.
func NewOSC52(w io.Writer) *OSC52 {
	s := &OSC52{getenv: os.Getenv}
	if w != nil {
		s.open = func() (io.WriteCloser, error) { return nopCloser{w}, nil }
	} else {
		s.open = func() (io.WriteCloser, error) { return os.OpenFile("/dev/tty", os.O_WRONLY, 0) }
	}
	return s
}

func (s *OSC52) Name() string { return config.SinkOSC52 }

func (s *OSC52) Deliver(_ context.Context, token string) error {
	tty, err := s.open()
	if err != nil {
		return err
	}
	defer tty.Close()

	seq := osc52.New(token)
	term := s.getenv("TERM")
	switch {
	case s.getenv("TMUX") != "" || strings.HasPrefix(term, "tmux"):
		// passthrough for allow-passthrough, then direct for set-clipboard
		if _, err := seq.Tmux().WriteTo(tty); err != nil {
			return err
		}
	case s.getenv("STY") != "" || strings.HasPrefix(term, "screen"):
		_, err := seq.Screen().WriteTo(tty)
		return err
	}
	_, err = seq.WriteTo(tty)
	return err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
