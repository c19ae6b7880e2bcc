package whatsapp

import (
	"context"
	"sync"

	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

// Switcher routes calls to the active channel and allows switching between
// "web" and "business" at runtime without restarting the server.
type Switcher struct {
	mu       sync.RWMutex
	mode     string
	web      Sender
	business Sender
	logger   *logging.Logger
}

// NewSwitcher builds a switcher starting in the given mode. Unknown modes
// fall back to business.
func NewSwitcher(mode string, web, business Sender, logger *logging.Logger) *Switcher {
	if logger == nil {
		logger = logging.Default()
	}
	if mode != ModeWeb {
		mode = ModeBusiness
	}
	return &Switcher{mode: mode, web: web, business: business, logger: logger}
}

// Mode returns the active mode name.
func (s *Switcher) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Active returns the sender for the current mode.
func (s *Switcher) Active() Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode == ModeWeb {
		return s.web
	}
	return s.business
}

// Switch changes the active mode. Returns false for unknown mode names; the
// current mode stays in place.
func (s *Switcher) Switch(ctx context.Context, mode string) bool {
	if mode != ModeWeb && mode != ModeBusiness {
		return false
	}
	s.mu.Lock()
	previous := s.mode
	s.mode = mode
	s.mu.Unlock()
	if previous != mode {
		s.logger.Info("whatsapp mode switched", "from", previous, "to", mode)
	}
	return true
}
