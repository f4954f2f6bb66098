package capture

import (
	"context"
	"time"
)

// Page is a single browser tab owned by one capture run. Implementations are
// not safe for concurrent use.
type Page interface {
	Navigate(ctx context.Context, target Target, timeout time.Duration) error
	WaitReady(selector string, timeout time.Duration) error

	ScrollBy(dx float64, dy float64) error
	Count(selector string) (int, error)
	Click(selector string) error
	Press(key string) error
	Evaluate(script string) (interface{}, error)
	ScrollIntoView(selector string) error

	Screenshot() ([]byte, error)
	ElementScreenshot(selector string) ([]byte, error)

	// PageErrors returns uncaught script errors observed since launch.
	PageErrors() []string

	// Close releases the page together with its browser and driver.
	Close() error
}

// Launcher starts a browser and opens one page in it.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
