// Package manifest loads capture requests from YAML or JSON files.
//
//	source: http://localhost:3000
//	regions: [home, about, skills, experience, work, contact]
//	variant: v2
//	scrollIntoView: true
//	steps:
//	  - scroll: {y: 500}
//	    repeat: 10
//	  - evaluate: window.scrollTo(0, 0)
//	  - wait: 1s
package manifest

import (
	"os"
	"strings"
	"time"

	"section-capture/internal/capture"

	"golang.org/x/xerrors"
	"sigs.k8s.io/yaml"
)

type Manifest struct {
	Source         string   `json:"source"`
	Regions        []string `json:"regions,omitempty"`
	Steps          []Step   `json:"steps,omitempty"`
	Settle         Duration `json:"settle,omitempty"`
	FullPageName   string   `json:"fullPageName,omitempty"`
	Variant        string   `json:"variant,omitempty"`
	ScrollIntoView bool     `json:"scrollIntoView,omitempty"`
	RegionSettle   Duration `json:"regionSettle,omitempty"`
	MeasureChange  bool     `json:"measureChange,omitempty"`

	// ReadySelector overrides the capturer's ready selector for this page.
	ReadySelector string `json:"readySelector,omitempty"`

	// SelectorTemplate builds region selectors; "{name}" is replaced by the
	// region name. Defaults to "#{name}".
	SelectorTemplate string `json:"selectorTemplate,omitempty"`
}

type Scroll struct {
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// Step holds exactly one action.
type Step struct {
	Scroll   *Scroll  `json:"scroll,omitempty"`
	Repeat   int      `json:"repeat,omitempty"`
	Wait     Duration `json:"wait,omitempty"`
	Click    string   `json:"click,omitempty"`
	Press    string   `json:"press,omitempty"`
	Evaluate string   `json:"evaluate,omitempty"`
	Preset   string   `json:"preset,omitempty"`
}

// Duration accepts Go duration strings.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return xerrors.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(data, m); err != nil {
		return nil, xerrors.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

func (m *Manifest) Request() (capture.Request, error) {
	var interactions []capture.Interaction
	for i, step := range m.Steps {
		steps, err := step.interactions()
		if err != nil {
			return capture.Request{}, xerrors.Errorf("step %d: %w", i, err)
		}
		interactions = append(interactions, steps...)
	}

	request := capture.Request{
		Source:         m.Source,
		Regions:        m.Regions,
		Interactions:   interactions,
		SettleWait:     time.Duration(m.Settle),
		FullPageName:   m.FullPageName,
		Variant:        m.Variant,
		ScrollIntoView: m.ScrollIntoView,
		RegionSettle:   time.Duration(m.RegionSettle),
		MeasureChange:  m.MeasureChange,
	}
	if m.SelectorTemplate != "" {
		template := m.SelectorTemplate
		request.RegionSelector = func(name string) string {
			return strings.ReplaceAll(template, "{name}", name)
		}
	}

	if err := request.Validate(); err != nil {
		return capture.Request{}, err
	}
	return request, nil
}

func (s Step) interactions() ([]capture.Interaction, error) {
	var steps []capture.Interaction
	set := 0

	if s.Scroll != nil {
		set++
		repeat := max(s.Repeat, 1)
		for i := 0; i < repeat; i++ {
			steps = append(steps, capture.ScrollBy{DX: s.Scroll.X, DY: s.Scroll.Y})
		}
	} else if s.Repeat != 0 {
		return nil, xerrors.New("repeat is only valid with scroll")
	}
	if s.Wait != 0 {
		set++
		steps = append(steps, capture.Wait{Duration: time.Duration(s.Wait)})
	}
	if s.Click != "" {
		set++
		steps = append(steps, capture.Click{Selector: s.Click})
	}
	if s.Press != "" {
		set++
		steps = append(steps, capture.PressKey{Key: s.Press})
	}
	if s.Evaluate != "" {
		set++
		steps = append(steps, capture.Evaluate{Script: s.Evaluate})
	}
	if s.Preset != "" {
		set++
		preset, err := capture.Preset(s.Preset)
		if err != nil {
			return nil, err
		}
		steps = append(steps, preset...)
	}

	if set != 1 {
		return nil, xerrors.Errorf("expected exactly one action, got %d", set)
	}
	return steps, nil
}
