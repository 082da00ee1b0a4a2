// internal/browser/manager.go

// Package browser drives a real Chrome instance over the DevTools protocol.
// The Manager owns the browser process, Sessions wrap a tab, and the Resolver
// and Detector build element location and UI state detection on top of a
// Session's script evaluation primitives.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager handles the browser process lifecycle and session creation.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session

	// Initialization state management
	initOnce sync.Once
	initErr  error
}

// NewManager creates a new browser manager. The Chrome process is launched
// lazily on the first session request.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	m.logger.Info("Browser manager created (initialization deferred).")
	return m
}

// initialize builds the exec allocator that owns the Chrome process.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser...",
			zap.Bool("headless", m.cfg.Headless),
			zap.Int("width", m.cfg.WindowWidth),
			zap.Int("height", m.cfg.WindowHeight),
		)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", m.cfg.Headless),
			chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
			chromedp.Flag("disable-gpu", true),
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		for _, arg := range m.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		// The allocator context is detached from the caller's context so the
		// browser outlives individual operations and is torn down in Shutdown.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)

		// Probe the browser so launch failures surface here, not on first use.
		probeCtx, probeCancel := chromedp.NewContext(m.allocCtx)
		defer probeCancel()

		launchCtx, launchCancel := context.WithTimeout(probeCtx, 60*time.Second)
		defer launchCancel()

		if err := chromedp.Run(launchCtx); err != nil {
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}

		m.logger.Info("Browser manager initialized successfully.")
	})
	return m.initErr
}

// NewSession creates a new tab wrapped in a Session.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	session, err := NewSession(m.allocCtx, m.cfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	session.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, session.ID())
		m.logger.Debug("Session removed from manager.", zap.String("session_id", session.ID()))
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", session.ID()))
	return session, nil
}

// Shutdown closes all sessions and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.allocCancel == nil {
		m.logger.Info("Manager not fully initialized, skipping full shutdown sequence.")
		return nil
	}

	m.mu.Lock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	m.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer closeCancel()

	for _, s := range sessionsToClose {
		if err := s.Close(closeCtx); err != nil {
			m.logger.Warn("Error during session close in shutdown.",
				zap.String("session_id", s.ID()), zap.Error(err))
		}
	}

	m.allocCancel()
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
