package capture_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"section-capture/internal/capture"
	"strings"
	"sync"
	"time"
)

// fakePage renders a solid color page. Clicking ".palette-btn" changes the
// color, scrolling moves a virtual scroll offset.
type fakePage struct {
	mu sync.Mutex

	elements map[string]int
	// corrupt elements produce a screenshot that is not a PNG.
	corrupt map[string]bool
	// onScrollIntoView runs inside ScrollIntoView.
	onScrollIntoView func()

	navigateErr   error
	readyErr      error
	evaluateErr   error
	screenshotErr map[string]error
	pageErrors    []string

	color   color.RGBA
	scrollY float64
	calls   []string
	closed  bool
}

func newFakePage(selectors ...string) *fakePage {
	p := &fakePage{
		elements:      map[string]int{"h1": 1},
		corrupt:       map[string]bool{},
		screenshotErr: map[string]error{},
		color:         color.RGBA{R: 255, G: 107, B: 53, A: 255},
	}
	for _, s := range selectors {
		p.elements[s]++
	}
	return p
}

func (p *fakePage) record(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *fakePage) Navigate(ctx context.Context, target capture.Target, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", target.URL)
	return p.navigateErr
}

func (p *fakePage) WaitReady(selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ready %s", selector)
	return p.readyErr
}

func (p *fakePage) ScrollBy(dx float64, dy float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll %v,%v", dx, dy)
	p.scrollY += dy
	return nil
}

func (p *fakePage) Count(selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[selector], nil
}

func (p *fakePage) Click(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s", selector)
	if selector == ".palette-btn" {
		p.color = color.RGBA{R: 0, G: 123, B: 255, A: 255}
	}
	return nil
}

func (p *fakePage) Press(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("press %s", key)
	return nil
}

func (p *fakePage) Evaluate(script string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("eval %s", script)
	if p.evaluateErr != nil {
		return nil, p.evaluateErr
	}
	switch {
	case strings.HasPrefix(script, "window.scrollTo(0, 0)"):
		p.scrollY = 0
		return nil, nil
	case script == "window.scrollY":
		return p.scrollY, nil
	}
	return nil, nil
}

func (p *fakePage) ScrollIntoView(selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("scroll-into-view %s", selector)
	if p.onScrollIntoView != nil {
		p.onScrollIntoView()
	}
	return nil
}

func (p *fakePage) Screenshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	if err := p.screenshotErr[""]; err != nil {
		return nil, err
	}
	return encode(64, 48, p.color), nil
}

func (p *fakePage) ElementScreenshot(selector string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("element-screenshot %s", selector)
	if err := p.screenshotErr[selector]; err != nil {
		return nil, err
	}
	if p.corrupt[selector] {
		return []byte("not a png"), nil
	}
	return encode(32, 16, p.color), nil
}

func (p *fakePage) PageErrors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pageErrors...)
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePage) history() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func encode(width int, height int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		panic(err)
	}
	return buffer.Bytes()
}

type fakeLauncher struct {
	page *fakePage
	err  error
}

func (l *fakeLauncher) Launch(ctx context.Context) (capture.Page, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.page == nil {
		return nil, errors.New("no page")
	}
	return l.page, nil
}
