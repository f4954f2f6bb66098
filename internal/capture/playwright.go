package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/xerrors"
)

type PlaywrightConfig struct {
	ViewportWidth  int
	ViewportHeight int

	// StepTimeout bounds every page operation without an explicit timeout.
	StepTimeout time.Duration

	Headless                  bool
	ChromeDevtoolsProtocolURL string
	UserAgent                 string

	// Install downloads the chromium build before launching.
	Install bool
}

func DefaultPlaywrightConfig() PlaywrightConfig {
	return PlaywrightConfig{
		ViewportWidth:  1280,
		ViewportHeight: 720,
		StepTimeout:    30 * time.Second,
		Headless:       true,
	}
}

type playwrightLauncher struct {
	config PlaywrightConfig
}

func NewPlaywrightLauncher(p PlaywrightConfig) Launcher {
	return &playwrightLauncher{
		config: p,
	}
}

func (l *playwrightLauncher) Launch(ctx context.Context) (Page, error) {
	if l.config.Install {
		if err := playwright.Install(&playwright.RunOptions{
			Browsers: []string{"chromium"},
		}); err != nil {
			return nil, xerrors.Errorf("failed to install playwright browsers: %w", err)
		}
	}

	p, err := playwright.Run()
	if err != nil {
		return nil, xerrors.Errorf("failed to start playwright: %w", err)
	}

	session := newPlaywrightPage(p)

	if l.config.ChromeDevtoolsProtocolURL == "" {
		session.browser, err = p.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(l.config.Headless),
		})
		if err != nil {
			_ = session.Close()
			return nil, xerrors.Errorf("failed to launch browser: %w", err)
		}
		session.ownsBrowser = true
	} else {
		session.browser, err = p.Chromium.ConnectOverCDP(l.config.ChromeDevtoolsProtocolURL)
		if err != nil {
			_ = session.Close()
			return nil, xerrors.Errorf("failed to connect to browser via CDP at %s: %w", l.config.ChromeDevtoolsProtocolURL, err)
		}
	}

	options := playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{
			Width:  l.config.ViewportWidth,
			Height: l.config.ViewportHeight,
		},
	}
	if l.config.UserAgent != "" {
		options.UserAgent = playwright.String(l.config.UserAgent)
	}

	session.page, err = session.browser.NewPage(options)
	if err != nil {
		_ = session.Close()
		return nil, xerrors.Errorf("failed to create new page: %w", err)
	}
	if l.config.StepTimeout > 0 {
		session.page.SetDefaultTimeout(milliseconds(l.config.StepTimeout))
	}
	session.page.OnPageError(session.recordPageError)

	go session.closeOnDone(ctx, session.page, session.done)

	return session, nil
}

type playwrightPage struct {
	driver      *playwright.Playwright
	browser     playwright.Browser
	ownsBrowser bool
	page        playwright.Page
	done        chan struct{}
	closeOnce   sync.Once

	mu         sync.Mutex
	pageErrors []string
}

func newPlaywrightPage(driver *playwright.Playwright) *playwrightPage {
	return &playwrightPage{
		driver: driver,
		done:   make(chan struct{}),
	}
}

// closeOnDone closes page when ctx ends before the session is released.
func (p *playwrightPage) closeOnDone(ctx context.Context, page closer, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		_ = page.Close()
	case <-done:
	}
}

type closer interface {
	Close(options ...playwright.PageCloseOptions) error
}

func (p *playwrightPage) recordPageError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageErrors = append(p.pageErrors, err.Error())
}

func (p *playwrightPage) PageErrors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pageErrors...)
}

func (p *playwrightPage) Navigate(ctx context.Context, target Target, timeout time.Duration) error {
	waitUntil := playwright.WaitUntilStateNetworkidle
	if target.Local {
		waitUntil = playwright.WaitUntilStateLoad
	}

	if _, err := p.page.Goto(target.URL, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(milliseconds(timeout)),
	}); err != nil {
		return xerrors.Errorf("failed to navigate to %s: %w", target.URL, err)
	}
	return ctx.Err()
}

func (p *playwrightPage) WaitReady(selector string, timeout time.Duration) error {
	if err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(milliseconds(timeout)),
	}); err != nil {
		return xerrors.Errorf("failed to wait for %s: %w", selector, err)
	}
	return nil
}

func (p *playwrightPage) ScrollBy(dx float64, dy float64) error {
	return p.page.Mouse().Wheel(dx, dy)
}

func (p *playwrightPage) Count(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) Press(key string) error {
	return p.page.Keyboard().Press(key)
}

func (p *playwrightPage) Evaluate(script string) (interface{}, error) {
	return p.page.Evaluate(script)
}

func (p *playwrightPage) ScrollIntoView(selector string) error {
	return p.page.Locator(selector).First().ScrollIntoViewIfNeeded()
}

func (p *playwrightPage) Screenshot() ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
	})
}

func (p *playwrightPage) ElementScreenshot(selector string) ([]byte, error) {
	return p.page.Locator(selector).First().Screenshot(playwright.LocatorScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
}

func (p *playwrightPage) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})

	var errs []error
	if p.page != nil {
		if err := p.page.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errs = append(errs, xerrors.Errorf("failed to close page: %w", err))
		}
	}
	if p.browser != nil && p.ownsBrowser {
		if err := p.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errs = append(errs, xerrors.Errorf("failed to close browser: %w", err))
		}
	}
	if p.driver != nil {
		if err := p.driver.Stop(); err != nil {
			errs = append(errs, xerrors.Errorf("failed to stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
