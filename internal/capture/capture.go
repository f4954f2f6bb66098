package capture

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// RegionSelector maps a region name to the selector locating its element.
type RegionSelector func(name string) string

// IDSelector locates a region by element id.
func IDSelector(name string) string {
	return "#" + name
}

type Request struct {
	Source       string
	Regions      []string
	Interactions []Interaction

	// SettleWait is applied after navigating to a local file, where network
	// idle carries no signal.
	SettleWait time.Duration

	FullPageName string
	Variant      string

	RegionSelector RegionSelector
	ScrollIntoView bool
	RegionSettle   time.Duration

	// MeasureChange records the fraction of the full page that changed
	// between navigation and the end of the interactions.
	MeasureChange bool
}

// Result lists the stored files. Warnings holds non-fatal failures such as
// interactions that errored. Before and ChangeAmount are only set when the
// request measured change.
type Result struct {
	FullPage     string            `json:"fullPage"`
	Before       string            `json:"before,omitempty"`
	Regions      map[string]string `json:"regions"`
	Skipped      []string          `json:"skipped,omitempty"`
	PageErrors   []string          `json:"pageErrors,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	ChangeAmount *float64          `json:"changeAmount,omitempty"`
}

type Capturer interface {
	Capture(ctx context.Context, request Request) (*Result, error)
}

const DefaultFullPageName = "site_full"

func (r Request) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return xerrors.New("source not specified")
	}
	seen := make(map[string]struct{}, len(r.Regions))
	for _, name := range r.Regions {
		if strings.TrimSpace(name) == "" {
			return xerrors.New("empty region name")
		}
		if _, ok := seen[name]; ok {
			return xerrors.Errorf("duplicate region name: %s", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (r Request) selector(name string) string {
	if r.RegionSelector != nil {
		return r.RegionSelector(name)
	}
	return IDSelector(name)
}

func (r Request) fullPageName() string {
	if r.FullPageName == "" {
		return DefaultFullPageName
	}
	return r.FullPageName
}

func (r Request) fullPageKey() string {
	return fileName(r.fullPageName(), r.Variant)
}

// beforeKey names the screenshot taken before the interactions.
func (r Request) beforeKey() string {
	return fileName(r.fullPageName()+"_before", r.Variant)
}

func (r Request) regionKey(region string) string {
	return fileName("section_"+region, r.Variant)
}

func fileName(base string, variant string) string {
	if variant != "" {
		base += "_" + variant
	}
	return base + ".png"
}

// Target is a resolved page source.
type Target struct {
	URL   string
	Local bool
}

// ResolveSource turns a URL or a local path into a navigable target.
func ResolveSource(source string) (Target, error) {
	u, err := url.Parse(source)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return Target{URL: source}, nil
		case "file":
			return Target{URL: source, Local: true}, nil
		}
	}

	path, err := filepath.Abs(source)
	if err != nil {
		return Target{}, xerrors.Errorf("failed to resolve path %s: %w", source, err)
	}
	return Target{
		URL:   (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
		Local: true,
	}, nil
}
