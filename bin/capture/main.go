package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"section-capture/internal/capture"
	"section-capture/internal/manifest"
	"section-capture/internal/schedule"
	"section-capture/internal/storage"
	"section-capture/internal/telemetry"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"golang.org/x/exp/maps"
	"golang.org/x/xerrors"
)

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	case time.Duration:
		if durationValue, err := time.ParseDuration(value); err == nil {
			return any(durationValue).(T)
		}
	}

	return defaultValue
}

type options struct {
	directory      string
	sections       string
	variant        string
	fullPageName   string
	steps          string
	preset         string
	settle         time.Duration
	regionSettle   time.Duration
	scrollIntoView bool
	readySelector  string
	timeout        time.Duration
	viewportWidth  int
	viewportHeight int
	measureChange  bool
	threshold      float64
	userAgent      string
	cdpURL         string
	install        bool
	s3Bucket       string
	s3Prefix       string
	schedule       string
	metricsFile    string
	manifest       string
	debug          bool
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.directory, "directory", envOrDefaultValue("DIRECTORY", "verification"), "Output directory")
	flag.StringVar(&o.sections, "sections", envOrDefaultValue("SECTIONS", "home,about,skills,experience,work,contact"), "Comma-separated list of region names to capture")
	flag.StringVar(&o.variant, "variant", envOrDefaultValue("VARIANT", ""), "Suffix appended to every file name (e.g. v2)")
	flag.StringVar(&o.fullPageName, "full-page-name", envOrDefaultValue("FULL_PAGE_NAME", capture.DefaultFullPageName), "Base name of the full-page screenshot")
	flag.StringVar(&o.steps, "steps", envOrDefaultValue("STEPS", ""), "Interactions to run before capturing (e.g. 'scroll:0,500x10;wait:1s;click:.palette-btn')")
	flag.StringVar(&o.preset, "preset", envOrDefaultValue("PRESET", ""), "Named interaction sequence run before -steps (animate, palette or theme-next)")
	flag.DurationVar(&o.settle, "settle", envOrDefaultValue("SETTLE", 2*time.Second), "Wait after loading a local file")
	flag.DurationVar(&o.regionSettle, "region-settle", envOrDefaultValue("REGION_SETTLE", time.Second), "Wait after scrolling a region into view")
	flag.BoolVar(&o.scrollIntoView, "scroll-into-view", envOrDefaultValue("SCROLL_INTO_VIEW", false), "Scroll each region into view before capturing it")
	flag.StringVar(&o.readySelector, "ready-selector", envOrDefaultValue("READY_SELECTOR", "h1"), "Selector that must be visible before the page counts as loaded")
	flag.DurationVar(&o.timeout, "timeout", envOrDefaultValue("TIMEOUT", 30*time.Second), "Navigation and readiness timeout")
	flag.IntVar(&o.viewportWidth, "viewport-width", envOrDefaultValue("VIEWPORT_WIDTH", 1280), "Viewport width in pixels")
	flag.IntVar(&o.viewportHeight, "viewport-height", envOrDefaultValue("VIEWPORT_HEIGHT", 720), "Viewport height in pixels")
	flag.BoolVar(&o.measureChange, "measure-change", envOrDefaultValue("MEASURE_CHANGE", false), "Report how much of the page the interactions changed")
	flag.Float64Var(&o.threshold, "change-threshold", envOrDefaultValue("CHANGE_THRESHOLD", 0.02), "Per-channel tolerance used by -measure-change")
	flag.StringVar(&o.userAgent, "user-agent", envOrDefaultValue("USER_AGENT", ""), "User-Agent string to use for requests")
	flag.StringVar(&o.cdpURL, "chrome-devtools-protocol-url", envOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Connect to existing browser via Chrome DevTools Protocol URL (e.g., http://localhost:9222)")
	flag.BoolVar(&o.install, "install", envOrDefaultValue("INSTALL", false), "Download the browser before launching")
	flag.StringVar(&o.s3Bucket, "s3-bucket", envOrDefaultValue("S3_BUCKET", ""), "Also upload screenshots to this S3 bucket")
	flag.StringVar(&o.s3Prefix, "s3-prefix", envOrDefaultValue("S3_PREFIX", ""), "Key prefix for S3 uploads")
	flag.StringVar(&o.schedule, "schedule", envOrDefaultValue("SCHEDULE", ""), "Repeat the capture on this cron schedule (e.g. '*/30 * * * *')")
	flag.StringVar(&o.metricsFile, "metrics-textfile", envOrDefaultValue("METRICS_TEXTFILE", ""), "Write capture metrics to this file in Prometheus text format")
	flag.StringVar(&o.manifest, "manifest", envOrDefaultValue("MANIFEST", ""), "Read the capture request from a YAML or JSON file")
	flag.BoolVar(&o.debug, "debug", envOrDefaultValue("DEBUG", false), "Human-readable debug logging")
	flag.Parse()

	logger, err := newLogger(o.debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(o, flag.Args(), logger); err != nil {
		var phaseErr *capture.PhaseError
		if errors.As(err, &phaseErr) {
			logger.Error("Failed to capture screenshots", "phase", string(phaseErr.Phase), "error", err)
		} else {
			logger.Error("Failed to capture screenshots", "error", err)
		}
		os.Exit(1)
	}
}

func newLogger(debug bool) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if v, ok := os.LookupEnv("GO_LOG"); ok {
		if err := logLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, xerrors.Errorf("failed to parse log level: %w", err)
		}
	}
	if debug {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// https://opentelemetry.io/docs/specs/otel/logs/data-model/
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				a.Key = "severitytext"
			case slog.MessageKey:
				a.Key = "body"
			}
			return a
		},
	}
	if debug {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
}

func run(o options, args []string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	request, readySelector, err := buildRequest(o, args)
	if err != nil {
		return err
	}

	t, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:       "section-capture",
		ExportTraces:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		PyroscopeEndpoint: os.Getenv("PYROSCOPE_ENDPOINT"),
	})
	if err != nil {
		return xerrors.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.Shutdown(ctx); err != nil {
			logger.Warn("failed to shut down telemetry", "error", err)
		}
	}()

	s, err := newStorage(ctx, o)
	if err != nil {
		return xerrors.Errorf("failed to create storage backend: %w", err)
	}

	playwrightConfig := capture.DefaultPlaywrightConfig()
	playwrightConfig.ViewportWidth = o.viewportWidth
	playwrightConfig.ViewportHeight = o.viewportHeight
	playwrightConfig.StepTimeout = o.timeout
	playwrightConfig.UserAgent = o.userAgent
	playwrightConfig.ChromeDevtoolsProtocolURL = o.cdpURL
	playwrightConfig.Install = o.install
	if display := os.Getenv("DISPLAY"); display != "" {
		playwrightConfig.Headless = false
	}
	launcher := capture.NewPlaywrightLauncher(playwrightConfig)

	config := capture.DefaultConfig()
	config.NavigationTimeout = o.timeout
	config.ReadySelector = readySelector
	config.SettleWait = o.settle
	config.RegionSettle = o.regionSettle
	config.ChangeThreshold = o.threshold

	log := logr.FromSlogHandler(logger.Handler())

	once := func(ctx context.Context, keyPrefix string) error {
		config := config
		config.KeyPrefix = keyPrefix

		capturer, err := capture.NewCapturer(launcher, s, config, log)
		if err != nil {
			return err
		}
		result, err := capturer.Capture(ctx, request)
		if o.metricsFile != "" {
			if err := t.WriteTextfile(o.metricsFile); err != nil {
				logger.Warn("failed to write metrics", "error", err)
			}
		}
		if err != nil {
			return err
		}
		return report(result, logger)
	}

	if o.schedule == "" {
		return once(ctx, "")
	}

	cronSchedule, err := schedule.Parse(o.schedule)
	if err != nil {
		return err
	}
	logger.Info("Waiting for scheduled captures", "schedule", o.schedule)
	return schedule.NewRunner(cronSchedule, log).Run(ctx, func(ctx context.Context, tick time.Time) error {
		return once(ctx, tick.Format("20060102150405"))
	})
}

func buildRequest(o options, args []string) (capture.Request, string, error) {
	if o.manifest != "" {
		m, err := manifest.Load(o.manifest)
		if err != nil {
			return capture.Request{}, "", err
		}
		request, err := m.Request()
		if err != nil {
			return capture.Request{}, "", xerrors.Errorf("invalid manifest %s: %w", o.manifest, err)
		}
		if request.SettleWait == 0 {
			request.SettleWait = o.settle
		}
		readySelector := o.readySelector
		if m.ReadySelector != "" {
			readySelector = m.ReadySelector
		}
		return request, readySelector, nil
	}

	if len(args) == 0 {
		return capture.Request{}, "", xerrors.New("source not specified")
	}

	var interactions []capture.Interaction
	if o.preset != "" {
		preset, err := capture.Preset(o.preset)
		if err != nil {
			return capture.Request{}, "", err
		}
		interactions = append(interactions, preset...)
	}
	steps, err := capture.ParseInteractions(o.steps)
	if err != nil {
		return capture.Request{}, "", err
	}
	interactions = append(interactions, steps...)

	var regions []string
	for _, name := range strings.Split(o.sections, ",") {
		if name = strings.TrimSpace(name); name != "" {
			regions = append(regions, name)
		}
	}

	request := capture.Request{
		Source:         args[0],
		Regions:        regions,
		Interactions:   interactions,
		SettleWait:     o.settle,
		FullPageName:   o.fullPageName,
		Variant:        o.variant,
		ScrollIntoView: o.scrollIntoView,
		RegionSettle:   o.regionSettle,
		MeasureChange:  o.measureChange,
	}
	if err := request.Validate(); err != nil {
		return capture.Request{}, "", err
	}
	return request, o.readySelector, nil
}

func newStorage(ctx context.Context, o options) (storage.Storage, error) {
	primary, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: o.directory,
	})
	if err != nil {
		return nil, err
	}
	if o.s3Bucket == "" {
		return primary, nil
	}

	mirror, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket: o.s3Bucket,
		Prefix: o.s3Prefix,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewTeeStorage(primary, mirror), nil
}

func report(result *capture.Result, logger *slog.Logger) error {
	regions := maps.Keys(result.Regions)
	sort.Strings(regions)
	for _, name := range result.Skipped {
		logger.Info("Region not found", "region", name)
	}
	for _, warning := range result.Warnings {
		logger.Warn(warning)
	}
	for _, pageError := range result.PageErrors {
		logger.Warn("Page error", "error", pageError)
	}
	logger.Debug("Captured regions", "regions", regions, "fullPage", result.FullPage)

	fmt.Println("Screenshots taken successfully")
	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		return xerrors.Errorf("failed to encode result: %w", err)
	}
	return nil
}
