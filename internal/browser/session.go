// Package browser drives the single stateful web session behind every run:
// Chrome lifecycle via rod, cookie persistence across runs, and the
// site-specific driver operations the orchestrators consume.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"rowbot/internal/retry"
)

// ErrLoginFailed means neither restored cookies nor fresh credentials
// produced a logged-in session. The run cannot proceed.
var ErrLoginFailed = errors.New("login failed")

// Config holds browser and site configuration.
type Config struct {
	BaseURL             string   `yaml:"base_url"`
	Username            string   `yaml:"username"`
	Password            string   `yaml:"password"`
	CookieFile          string   `yaml:"cookie_file"`
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            bool     `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 45000,
		CookieFile:          "cookies.json",
	}
}

// NavigationTimeout returns the per-navigation ceiling.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 45 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Manager owns the Chrome instance and the login lifecycle.
type Manager struct {
	cfg Config
	log *zap.Logger
}

// NewManager creates a session manager.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log}
}

// Session is the explicitly owned browser session. It is passed to every
// driver call for a run and is not safe for concurrent use.
type Session struct {
	cfg     Config
	log     *zap.Logger
	browser *rod.Browser
	page    *rod.Page
}

// Acquire launches (or attaches to) Chrome, restores persisted cookies and
// verifies the login, falling back to a fresh credential login. The returned
// session is ready for driver calls.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	controlURL := m.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(m.cfg.Headless)
		if len(m.cfg.Launch) > 0 {
			launch = launch.Bin(m.cfg.Launch[0])
			for _, rawFlag := range m.cfg.Launch[1:] {
				flagStr := strings.TrimLeft(rawFlag, "-")
				name, val, hasVal := strings.Cut(flagStr, "=")
				if hasVal {
					launch = launch.Set(flags.Flag(name), val)
				} else {
					launch = launch.Set(flags.Flag(name))
				}
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	s := &Session{cfg: m.cfg, log: m.log, browser: b}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}
	s.page = page

	if err := s.login(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return s, nil
}

// Release persists reusable cookies and closes the browser.
func (m *Manager) Release(s *Session) error {
	if s == nil || s.browser == nil {
		return nil
	}
	if err := s.saveCookies(); err != nil {
		m.log.Warn("cookie save failed", zap.Error(err))
	}
	err := s.browser.Close()
	s.browser = nil
	s.page = nil
	return err
}

// login restores cookies first and falls back to the credential form.
func (s *Session) login(ctx context.Context) error {
	if s.loadCookies() {
		if err := s.Navigate(ctx, s.cfg.BaseURL); err == nil && s.loggedIn() {
			s.log.Debug("logged in via cookies")
			return nil
		}
		s.log.Debug("cookies expired, fresh login needed")
	}

	if s.cfg.Username == "" || s.cfg.Password == "" {
		return retry.Fatal(fmt.Errorf("%w: no cookies and no credentials", ErrLoginFailed))
	}

	if err := s.Navigate(ctx, s.cfg.BaseURL+"/login/"); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	p := s.page.Timeout(s.cfg.NavigationTimeout())
	nick, err := p.Element(`#nick, input[name='nick']`)
	if err != nil {
		return retry.Fatal(fmt.Errorf("%w: username field not found: %v", ErrLoginFailed, err))
	}
	pass, err := p.Element(`#pass, input[name='pass']`)
	if err != nil {
		return retry.Fatal(fmt.Errorf("%w: password field not found: %v", ErrLoginFailed, err))
	}
	submit, err := p.Element(`button[type='submit']`)
	if err != nil {
		return retry.Fatal(fmt.Errorf("%w: submit button not found: %v", ErrLoginFailed, err))
	}

	if err := nick.Input(s.cfg.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := pass.Input(s.cfg.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	if err := s.page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for login result: %w", err)
	}

	if !s.loggedIn() {
		return retry.Fatal(fmt.Errorf("%w: check credentials", ErrLoginFailed))
	}
	if err := s.saveCookies(); err != nil {
		s.log.Warn("cookie save failed", zap.Error(err))
	}
	s.log.Debug("fresh login successful")
	return nil
}

// loggedIn checks the current URL: the site bounces anonymous visitors to
// /login/ or /signup/.
func (s *Session) loggedIn() bool {
	info, err := s.page.Info()
	if err != nil {
		return false
	}
	current := strings.ToLower(info.URL)
	return !strings.Contains(current, "login") && !strings.Contains(current, "signup")
}

func (s *Session) saveCookies() error {
	if s.cfg.CookieFile == "" {
		return nil
	}
	cookies, err := s.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.cfg.CookieFile, data, 0600)
}

func (s *Session) loadCookies() bool {
	if s.cfg.CookieFile == "" {
		return false
	}
	data, err := os.ReadFile(s.cfg.CookieFile)
	if err != nil {
		return false
	}
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		s.log.Debug("cookie file unreadable", zap.Error(err))
		return false
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
		})
	}
	if err := s.browser.SetCookies(params); err != nil {
		s.log.Debug("cookie restore failed", zap.Error(err))
		return false
	}
	return len(params) > 0
}
