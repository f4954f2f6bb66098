package capture

import (
	"context"
	"fmt"
	"path"
	"time"

	diffimage "section-capture/internal/diff/image"
	"section-capture/internal/storage"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"
)

const instrumentationName = "section-capture/internal/capture"

type Config struct {
	// NavigationTimeout bounds navigation and the readiness wait.
	NavigationTimeout time.Duration
	// ReadySelector must become visible before the page counts as loaded.
	// Empty disables the check.
	ReadySelector string

	// SettleWait and RegionSettle are used when the request leaves them zero.
	SettleWait   time.Duration
	RegionSettle time.Duration

	// ChangeThreshold is the per-channel tolerance used by MeasureChange.
	ChangeThreshold float64

	// KeyPrefix is prepended to every stored file name.
	KeyPrefix string
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 30 * time.Second,
		ReadySelector:     "h1",
		SettleWait:        2 * time.Second,
		RegionSettle:      time.Second,
		ChangeThreshold:   0.02,
	}
}

type capturer struct {
	launcher Launcher
	storage  storage.Storage
	config   Config
	log      logr.Logger

	tracer        trace.Tracer
	phaseDuration metric.Float64Histogram
	regions       metric.Int64Counter
	pageErrors    metric.Int64Counter
}

func NewCapturer(launcher Launcher, s storage.Storage, config Config, log logr.Logger) (Capturer, error) {
	meter := otel.Meter(instrumentationName)

	phaseDuration, err := meter.Float64Histogram("capture_phase_duration_milliseconds",
		metric.WithDescription("Duration of each capture phase"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	regions, err := meter.Int64Counter("capture_regions",
		metric.WithDescription("Regions captured or skipped"),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create counter: %w", err)
	}
	pageErrors, err := meter.Int64Counter("capture_page_errors",
		metric.WithDescription("Uncaught page script errors observed during capture"),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create counter: %w", err)
	}

	return &capturer{
		launcher:      launcher,
		storage:       s,
		config:        config,
		log:           log,
		tracer:        otel.Tracer(instrumentationName),
		phaseDuration: phaseDuration,
		regions:       regions,
		pageErrors:    pageErrors,
	}, nil
}

// phase runs fn inside a span and records its duration.
func (c *capturer) phase(ctx context.Context, phase Phase, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, string(phase))
	defer span.End()

	now := time.Now()
	err := fn(ctx)
	c.phaseDuration.Record(ctx, float64(time.Since(now).Microseconds())/1000, metric.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *capturer) Capture(ctx context.Context, request Request) (_ *Result, err error) {
	if err := request.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid request: %w", err)
	}
	target, err := ResolveSource(request.Source)
	if err != nil {
		return nil, xerrors.Errorf("invalid request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "Capture", trace.WithAttributes(
		attribute.String("source", target.URL),
		attribute.Int("regions", len(request.Regions)),
		attribute.Int("interactions", len(request.Interactions)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := c.log.WithValues("source", target.URL)

	var page Page
	if err := c.phase(ctx, PhaseLaunch, func(ctx context.Context) error {
		var err error
		page, err = c.launcher.Launch(ctx)
		return err
	}); err != nil {
		return nil, phaseError(PhaseLaunch, ErrLaunch, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Error(err, "failed to release browser")
		}
	}()

	if err := c.phase(ctx, PhaseNavigate, func(ctx context.Context) error {
		if err := page.Navigate(ctx, target, c.config.NavigationTimeout); err != nil {
			return err
		}
		if target.Local {
			return sleep(ctx, orDefault(request.SettleWait, c.config.SettleWait))
		}
		return nil
	}); err != nil {
		return nil, phaseError(PhaseNavigate, ErrNavigationTimeout, err)
	}

	if c.config.ReadySelector != "" {
		if err := c.phase(ctx, PhaseReady, func(ctx context.Context) error {
			return page.WaitReady(c.config.ReadySelector, c.config.NavigationTimeout)
		}); err != nil {
			return nil, phaseError(PhaseReady, ErrNavigationTimeout, err)
		}
	}

	result := &Result{
		Regions: map[string]string{},
	}

	var baseline []byte
	if request.MeasureChange {
		if baseline, err = page.Screenshot(); err != nil {
			baseline = nil
			result.Warnings = append(result.Warnings, fmt.Sprintf("baseline screenshot: %v", err))
		} else if result.Before, err = c.store(ctx, request.beforeKey(), baseline); err != nil {
			return nil, err
		}
	}

	if err := c.phase(ctx, PhaseInteract, func(ctx context.Context) error {
		for i, interaction := range request.Interactions {
			if err := interaction.Apply(ctx, page); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Info("interaction failed", "step", i, "interaction", interaction.String(), "error", err.Error())
				result.Warnings = append(result.Warnings, fmt.Sprintf("step %d (%s): %v", i, interaction, err))
			}
		}
		return nil
	}); err != nil {
		return nil, &PhaseError{Phase: PhaseInteract, Err: err}
	}

	var fullPage []byte
	if err := c.phase(ctx, PhaseScreenshot, func(ctx context.Context) error {
		var err error
		fullPage, err = page.Screenshot()
		return err
	}); err != nil {
		return nil, &PhaseError{Phase: PhaseScreenshot, Err: xerrors.Errorf("failed to take full page screenshot: %w", err)}
	}
	if result.FullPage, err = c.store(ctx, request.fullPageKey(), fullPage); err != nil {
		return nil, err
	}

	for _, name := range request.Regions {
		if ctx.Err() != nil {
			return nil, &PhaseError{Phase: PhaseScreenshot, Err: ctx.Err()}
		}

		data, ok, err := c.captureRegion(ctx, log, page, request, name, result)
		if err != nil {
			return nil, &PhaseError{Phase: PhaseScreenshot, Err: err}
		}
		if !ok {
			result.Skipped = append(result.Skipped, name)
			c.regions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "skipped")))
			continue
		}

		url, err := c.store(ctx, request.regionKey(name), data)
		if err != nil {
			return nil, err
		}
		result.Regions[name] = url
		c.regions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "captured")))
	}

	result.PageErrors = page.PageErrors()
	if len(result.PageErrors) > 0 {
		c.pageErrors.Add(ctx, int64(len(result.PageErrors)))
		for _, e := range result.PageErrors {
			log.Info("uncaught page error", "error", e)
		}
	}

	if baseline != nil {
		amount, err := c.changeAmount(baseline, fullPage)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("change measurement: %v", err))
		} else {
			result.ChangeAmount = &amount
		}
	}

	return result, nil
}

// captureRegion returns the region image, or false when the region is absent
// or could not be captured. The error is only set when ctx is done.
func (c *capturer) captureRegion(ctx context.Context, log logr.Logger, page Page, request Request, name string, result *Result) ([]byte, bool, error) {
	selector := request.selector(name)
	log = log.WithValues("region", name, "selector", selector)

	n, err := page.Count(selector)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("region %s: %v", name, err))
		return nil, false, ctx.Err()
	}
	if n == 0 {
		log.V(1).Info("region not found")
		return nil, false, nil
	}

	if request.ScrollIntoView {
		if err := page.ScrollIntoView(selector); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("region %s: scroll into view: %v", name, err))
		}
		if err := sleep(ctx, orDefault(request.RegionSettle, c.config.RegionSettle)); err != nil {
			return nil, false, err
		}
	}

	var data []byte
	if err := c.phase(ctx, PhaseScreenshot, func(ctx context.Context) error {
		data, err = page.ElementScreenshot(selector)
		return err
	}); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("region %s: %v", name, err))
		return nil, false, nil
	}

	width, height, err := diffimage.Dimensions(data)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("region %s: %v", name, err))
		return nil, false, nil
	}
	if width == 0 || height == 0 {
		log.V(1).Info("region has no visible area", "width", width, "height", height)
		return nil, false, nil
	}

	return data, true, nil
}

func (c *capturer) store(ctx context.Context, key string, data []byte) (string, error) {
	var url string
	if err := c.phase(ctx, PhaseStore, func(ctx context.Context) error {
		var err error
		url, err = c.storage.Put(ctx, path.Join(c.config.KeyPrefix, key), data)
		return err
	}); err != nil {
		return "", &PhaseError{Phase: PhaseStore, Err: xerrors.Errorf("failed to store %s: %w", key, err)}
	}
	return url, nil
}

func (c *capturer) changeAmount(baseline []byte, target []byte) (float64, error) {
	b, err := diffimage.DecodePNG(baseline)
	if err != nil {
		return 0, err
	}
	t, err := diffimage.DecodePNG(target)
	if err != nil {
		return 0, err
	}
	return diffimage.NewPixelDiff(c.config.ChangeThreshold).Calculate(b, t).DiffAmount, nil
}

func orDefault(d time.Duration, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
