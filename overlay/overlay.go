// Package overlay provides the notification shown while a signing request
// is being relayed. There is no page to draw on outside a browser, so the
// notifiers here report the overlay's state instead of rendering it.
package overlay

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	lucid "github.com/lucid-sec/lucid/go"
)

// LogNotifier logs the overlay when shown and hidden, and remembers whether
// it is currently visible
type LogNotifier struct {
	logger zerolog.Logger

	mu      sync.Mutex
	visible bool
	title   string
	body    string
	shown   int
}

// NewLogNotifier creates a notifier writing to the global logger
func NewLogNotifier() *LogNotifier {
	return NewLogNotifierWithLogger(log.Logger.With().Str("component", "overlay").Logger())
}

// NewLogNotifierWithLogger creates a notifier writing to l
func NewLogNotifierWithLogger(l zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: l}
}

var _ lucid.Notifier = (*LogNotifier)(nil)

// Show implements lucid.Notifier. Showing an already visible overlay
// replaces its text.
func (n *LogNotifier) Show(title, body string) error {
	n.mu.Lock()
	n.visible = true
	n.title, n.body = title, body
	n.shown++
	n.mu.Unlock()

	n.logger.Info().Str("title", title).Str("body", body).Msg("overlay shown")
	return nil
}

// Hide implements lucid.Notifier. Hiding a hidden overlay is a no-op.
func (n *LogNotifier) Hide() error {
	n.mu.Lock()
	wasVisible := n.visible
	n.visible = false
	n.mu.Unlock()

	if wasVisible {
		n.logger.Info().Msg("overlay hidden")
	}
	return nil
}

// Visible reports whether the overlay is showing
func (n *LogNotifier) Visible() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

// Text returns the last shown title and body
func (n *LogNotifier) Text() (title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.title, n.body
}

// Shown returns how many times the overlay was shown
func (n *LogNotifier) Shown() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shown
}

// Noop never shows anything
type Noop struct{}

var _ lucid.Notifier = Noop{}

// Show implements lucid.Notifier
func (Noop) Show(string, string) error { return nil }

// Hide implements lucid.Notifier
func (Noop) Hide() error { return nil }
