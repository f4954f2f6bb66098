package capture

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

type InteractionKind string

const (
	KindScrollBy InteractionKind = "scroll"
	KindWait     InteractionKind = "wait"
	KindClick    InteractionKind = "click"
	KindPressKey InteractionKind = "press"
	KindEvaluate InteractionKind = "eval"
)

// Interaction is one deterministic action applied to the page before the
// screenshots are taken.
type Interaction interface {
	Kind() InteractionKind
	Apply(ctx context.Context, page Page) error
	String() string
}

// ScrollBy dispatches one mouse wheel event.
type ScrollBy struct {
	DX float64
	DY float64
}

func (s ScrollBy) Kind() InteractionKind { return KindScrollBy }

func (s ScrollBy) Apply(ctx context.Context, page Page) error {
	return page.ScrollBy(s.DX, s.DY)
}

func (s ScrollBy) String() string {
	return fmt.Sprintf("scroll:%s,%s", formatFloat(s.DX), formatFloat(s.DY))
}

type Wait struct {
	Duration time.Duration
}

func (w Wait) Kind() InteractionKind { return KindWait }

func (w Wait) Apply(ctx context.Context, page Page) error {
	return sleep(ctx, w.Duration)
}

func (w Wait) String() string {
	return fmt.Sprintf("wait:%s", w.Duration)
}

// Click clicks the first element matching Selector. No match is a no-op.
type Click struct {
	Selector string
}

func (c Click) Kind() InteractionKind { return KindClick }

func (c Click) Apply(ctx context.Context, page Page) error {
	n, err := page.Count(c.Selector)
	if err != nil {
		return xerrors.Errorf("failed to resolve %s: %w", c.Selector, err)
	}
	if n == 0 {
		return nil
	}
	return page.Click(c.Selector)
}

func (c Click) String() string {
	return fmt.Sprintf("click:%s", c.Selector)
}

type PressKey struct {
	Key string
}

func (p PressKey) Kind() InteractionKind { return KindPressKey }

func (p PressKey) Apply(ctx context.Context, page Page) error {
	return page.Press(p.Key)
}

func (p PressKey) String() string {
	return fmt.Sprintf("press:%s", p.Key)
}

// Evaluate runs Script in the page context and discards its value.
type Evaluate struct {
	Script string
}

func (e Evaluate) Kind() InteractionKind { return KindEvaluate }

func (e Evaluate) Apply(ctx context.Context, page Page) error {
	_, err := page.Evaluate(e.Script)
	return err
}

func (e Evaluate) String() string {
	return fmt.Sprintf("eval:%s", e.Script)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseInteractions parses a ';' separated list of steps:
//
//	scroll:DX,DY[xN]  wait:DURATION  click:SELECTOR  press:KEY  eval:SCRIPT
//
// A segment without a known prefix continues the preceding eval script, so
// scripts may contain ';'.
func ParseInteractions(s string) ([]Interaction, error) {
	var interactions []Interaction
	for _, segment := range strings.Split(s, ";") {
		kind, arg, ok := strings.Cut(strings.TrimSpace(segment), ":")
		if !ok || !knownKind(InteractionKind(kind)) {
			if n := len(interactions); n > 0 {
				if e, isEval := interactions[n-1].(Evaluate); isEval {
					interactions[n-1] = Evaluate{Script: e.Script + ";" + segment}
					continue
				}
			}
			if strings.TrimSpace(segment) == "" {
				continue
			}
			return nil, xerrors.Errorf("unknown step: %q", segment)
		}

		switch InteractionKind(kind) {
		case KindScrollBy:
			steps, err := parseScroll(arg)
			if err != nil {
				return nil, err
			}
			interactions = append(interactions, steps...)
		case KindWait:
			d, err := time.ParseDuration(arg)
			if err != nil {
				return nil, xerrors.Errorf("invalid wait %q: %w", arg, err)
			}
			interactions = append(interactions, Wait{Duration: d})
		case KindClick:
			if arg == "" {
				return nil, xerrors.New("click requires a selector")
			}
			interactions = append(interactions, Click{Selector: arg})
		case KindPressKey:
			if arg == "" {
				return nil, xerrors.New("press requires a key")
			}
			interactions = append(interactions, PressKey{Key: arg})
		case KindEvaluate:
			interactions = append(interactions, Evaluate{Script: arg})
		}
	}
	return interactions, nil
}

func knownKind(kind InteractionKind) bool {
	switch kind {
	case KindScrollBy, KindWait, KindClick, KindPressKey, KindEvaluate:
		return true
	}
	return false
}

func parseScroll(arg string) ([]Interaction, error) {
	repeat := 1
	if i := strings.LastIndex(arg, "x"); i >= 0 {
		n, err := strconv.Atoi(arg[i+1:])
		if err != nil || n < 1 {
			return nil, xerrors.Errorf("invalid scroll repeat %q", arg[i+1:])
		}
		repeat = n
		arg = arg[:i]
	}

	x, y, ok := strings.Cut(arg, ",")
	if !ok {
		return nil, xerrors.Errorf("invalid scroll %q: want DX,DY", arg)
	}
	dx, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
	if err != nil {
		return nil, xerrors.Errorf("invalid scroll dx %q: %w", x, err)
	}
	dy, err := strconv.ParseFloat(strings.TrimSpace(y), 64)
	if err != nil {
		return nil, xerrors.Errorf("invalid scroll dy %q: %w", y, err)
	}

	steps := make([]Interaction, 0, repeat)
	for i := 0; i < repeat; i++ {
		steps = append(steps, ScrollBy{DX: dx, DY: dy})
	}
	return steps, nil
}

const ScrollToTop = "window.scrollTo(0, 0)"

// Preset returns a named interaction sequence.
//
//	animate     scroll down slowly to trigger reveal animations, then back to top
//	palette     click the first palette button
//	theme-next  cycle the theme with the right arrow key
func Preset(name string) ([]Interaction, error) {
	switch name {
	case "animate":
		var steps []Interaction
		for i := 0; i < 10; i++ {
			steps = append(steps, ScrollBy{DY: 500}, Wait{Duration: 500 * time.Millisecond})
		}
		return append(steps, Evaluate{Script: ScrollToTop}, Wait{Duration: time.Second}), nil
	case "palette":
		return []Interaction{Click{Selector: ".palette-btn"}, Wait{Duration: 500 * time.Millisecond}}, nil
	case "theme-next":
		return []Interaction{PressKey{Key: "ArrowRight"}, Wait{Duration: time.Second}}, nil
	}
	return nil, xerrors.Errorf("unknown preset: %s", name)
}
