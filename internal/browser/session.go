// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiguide-cli/internal/config"
)

// urlLoginIndicators mark a URL as belonging to a login flow.
var urlLoginIndicators = []string{"/login", "/signin", "/sign-in", "/auth", "login", "signin"}

// Session wraps a single browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	onClose   func()
	closeOnce sync.Once
}

// NavigationResult reports the outcome of navigating to an app URL.
type NavigationResult struct {
	FinalURL      string
	Title         string
	LoginRequired bool
}

// NewSession opens a new tab on the given allocator context.
func NewSession(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:     sessionID,
		ctx:    tabCtx,
		cancel: tabCancel,
		logger: logger.With(zap.String("session_id", sessionID)),
		cfg:    cfg,
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Close tears down the tab.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// RunActions executes chromedp actions bound to both the session lifecycle and
// the caller's context.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, runCancel := CombineContext(s.ctx, ctx)
	defer runCancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil {
		// Prioritize reporting context errors over driver errors.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.ctx.Err() != nil {
			return fmt.Errorf("session closed: %w", s.ctx.Err())
		}
	}
	return err
}

// Navigate loads the given URL and reports whether a login is required.
// This is the only URL-driven navigation in a task; everything afterwards
// moves through the UI.
func (s *Session) Navigate(ctx context.Context, targetURL string) (NavigationResult, error) {
	s.logger.Info("Navigating", zap.String("url", targetURL))

	opCtx, opCancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer opCancel()

	err := s.RunActions(opCtx,
		chromedp.Navigate(targetURL),
		chromedp.Sleep(s.cfg.PostLoadWait),
	)

	// Login detection keys off the requested URL first: a redirect away from
	// the login page must not hide the fact that a login flow was entered.
	urlIndicatesLogin := containsLoginIndicator(targetURL)

	if err != nil {
		return NavigationResult{FinalURL: targetURL, LoginRequired: urlIndicatesLogin},
			fmt.Errorf("navigation to '%s' failed: %w", targetURL, err)
	}

	var finalURL, title string
	if err := s.RunActions(opCtx, chromedp.Location(&finalURL), chromedp.Title(&title)); err != nil {
		return NavigationResult{FinalURL: targetURL, LoginRequired: urlIndicatesLogin},
			fmt.Errorf("failed to read page state after navigation: %w", err)
	}

	loginRequired := urlIndicatesLogin
	if !loginRequired {
		loginRequired = s.loginRequiredByPage(opCtx, finalURL)
	}

	return NavigationResult{
		FinalURL:      finalURL,
		Title:         title,
		LoginRequired: loginRequired,
	}, nil
}

// Evaluate runs a JavaScript expression and unmarshals the result into res.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	opCtx, opCancel := context.WithTimeout(ctx, s.cfg.EvaluateTimeout)
	defer opCancel()

	var raw json.RawMessage
	err := s.RunActions(opCtx,
		chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timeout during script evaluation: %w", opCtx.Err())
		}
		return fmt.Errorf("script evaluation failed: %w", err)
	}

	if res == nil {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to unmarshal evaluation result: %w (payload: %s)", err, string(raw))
	}
	return nil
}

// PressKey dispatches a key event to the focused element.
func (s *Session) PressKey(ctx context.Context, keys string) error {
	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()

	if err := s.RunActions(opCtx, chromedp.KeyEvent(keys)); err != nil {
		return fmt.Errorf("failed to dispatch key event '%s': %w", keys, err)
	}
	return nil
}

// CurrentURL returns the URL of the active page.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()

	var url string
	if err := s.RunActions(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// CaptureScreenshot takes a full page screenshot as PNG bytes.
func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	opCtx, opCancel := context.WithTimeout(ctx, 30*time.Second)
	defer opCancel()

	var buf []byte
	if err := s.RunActions(opCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// BringToFront raises the tab. Best effort before switching apps.
func (s *Session) BringToFront(ctx context.Context) error {
	opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
	defer opCancel()
	return s.RunActions(opCtx, page.BringToFront())
}

// loginIndicatorScript looks for login form elements in the page.
const loginIndicatorScript = `
(function() {
	const selectors = [
		'input[type="email"]',
		'input[type="password"]',
		'[data-testid*="login"]',
		'[data-testid*="signin"]'
	];
	for (const sel of selectors) {
		if (document.querySelector(sel)) return true;
	}
	const actionText = ['sign in', 'log in'];
	for (const el of document.querySelectorAll('button, a')) {
		const text = (el.innerText || '').trim().toLowerCase();
		if (actionText.some(t => text === t)) return true;
	}
	return false;
})()
`

// dashboardIndicatorScript looks for post-login navigation chrome.
const dashboardIndicatorScript = `
(function() {
	const selectors = [
		'nav',
		'[role="navigation"]',
		'[class*="Dashboard"]',
		'[class*="Sidebar"]',
		'[data-testid*="dashboard"]',
		'[data-testid*="nav"]'
	];
	return selectors.some(sel => document.querySelector(sel) !== null);
})()
`

// loginRequiredByPage inspects the DOM for login form elements. Fallback for
// apps whose login pages do not carry a login URL.
func (s *Session) loginRequiredByPage(ctx context.Context, currentURL string) bool {
	if containsLoginIndicator(currentURL) {
		return true
	}
	var hasLoginElements bool
	if err := s.Evaluate(ctx, loginIndicatorScript, &hasLoginElements); err != nil {
		s.logger.Debug("Login element detection failed.", zap.Error(err))
		return false
	}
	return hasLoginElements
}

// LoginCompleted reports whether the user appears to have finished logging in.
func (s *Session) LoginCompleted(ctx context.Context) (bool, string, error) {
	currentURL, err := s.CurrentURL(ctx)
	if err != nil {
		return false, "", err
	}

	if containsLoginIndicator(currentURL) {
		return false, currentURL, nil
	}

	var hasDashboard bool
	if err := s.Evaluate(ctx, dashboardIndicatorScript, &hasDashboard); err != nil {
		s.logger.Debug("Dashboard detection failed.", zap.Error(err))
	}
	if hasDashboard {
		return true, currentURL, nil
	}

	// Off the login page without recognizable dashboard chrome still counts;
	// most apps redirect after login.
	s.logger.Debug("No dashboard chrome detected, trusting the URL change.",
		zap.String("url", currentURL))
	return true, currentURL, nil
}

func containsLoginIndicator(url string) bool {
	lower := strings.ToLower(url)
	for _, indicator := range urlLoginIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// CombineContext creates a context canceled when either parent is canceled.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
