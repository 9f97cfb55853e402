package score

import (
	"fmt"
	"io"
	"strings"

	"github.com/fogleman/ease"
	"github.com/pkg/errors"

	"github.com/sarchlab/cadence/neumalang"
	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

var easings = map[string]ease.Function{
	"linear":         ease.Linear,
	"in_quad":        ease.InQuad,
	"out_quad":       ease.OutQuad,
	"in_out_quad":    ease.InOutQuad,
	"in_cubic":       ease.InCubic,
	"out_cubic":      ease.OutCubic,
	"in_out_cubic":   ease.InOutCubic,
	"in_quart":       ease.InQuart,
	"out_quart":      ease.OutQuart,
	"in_out_quart":   ease.InOutQuart,
	"in_quint":       ease.InQuint,
	"out_quint":      ease.OutQuint,
	"in_out_quint":   ease.InOutQuint,
	"in_sine":        ease.InSine,
	"out_sine":       ease.OutSine,
	"in_out_sine":    ease.InOutSine,
	"in_expo":        ease.InExpo,
	"out_expo":       ease.OutExpo,
	"in_out_expo":    ease.InOutExpo,
	"in_circ":        ease.InCirc,
	"out_circ":       ease.OutCirc,
	"in_out_circ":    ease.InOutCirc,
	"in_elastic":     ease.InElastic,
	"out_elastic":    ease.OutElastic,
	"in_out_elastic": ease.InOutElastic,
	"in_back":        ease.InBack,
	"out_back":       ease.OutBack,
	"in_out_back":    ease.InOutBack,
	"in_bounce":      ease.InBounce,
	"out_bounce":     ease.OutBounce,
	"in_out_bounce":  ease.InOutBounce,
}

// EasingByName returns the easing function called name, such as "in_quad".
func EasingByName(name string) (ease.Function, bool) {
	fn, ok := easings[strings.ToLower(name)]
	return fn, ok
}

var playModes = map[string]sequencer.PlayMode{
	"":          sequencer.ModeWait,
	"wait":      sequencer.ModeWait,
	"at":        sequencer.ModeAt,
	"neumalang": sequencer.ModeNeumalang,
}

// Schedule registers everything in the score on seq. Firings are written to
// out, one tab-separated line each: position, label and value.
func (s *Score) Schedule(seq *sequencer.Sequencer, out io.Writer) error {
	for _, h := range s.Handlers {
		s.scheduleHandler(seq, out, h)
	}

	for i, e := range s.Events {
		if e.Label == "" && e.Launch == "" {
			return errors.Errorf("event %d has neither a label nor an event to launch", i)
		}

		s.scheduleEvent(seq, out, e)
	}

	for i, r := range s.Every {
		if err := s.scheduleRepeat(seq, out, r); err != nil {
			return errors.Wrapf(err, "every %d (%s)", i, r.Label)
		}
	}

	for i, m := range s.Moves {
		if err := s.scheduleMove(seq, out, m); err != nil {
			return errors.Wrapf(err, "move %d (%s)", i, m.Label)
		}
	}

	for i, p := range s.Plays {
		if err := s.schedulePlay(seq, out, p); err != nil {
			return errors.Wrapf(err, "play %d (%s)", i, p.Label)
		}
	}

	return nil
}

func (s *Score) scheduleHandler(seq *sequencer.Sequencer, out io.Writer, h Handler) {
	label := h.Label
	if label == "" {
		label = h.Event
	}

	var opts []scope.OnOption
	if h.Once {
		opts = append(opts, scope.Once())
	}

	seq.On(h.Event, func(args ...any) error {
		var value any
		if len(args) > 0 {
			value = args
		}

		writeLine(out, seq, label, value)

		return nil
	}, opts...)
}

func (s *Score) scheduleEvent(seq *sequencer.Sequencer, out io.Writer, e Event) {
	fn := func() error {
		if e.Label != "" {
			writeLine(out, seq, e.Label, nil)
		}

		if e.Launch != "" {
			seq.Launch(e.Launch, e.Args...)
		}

		return nil
	}

	if e.Label != "" {
		seq.Debug(e.At.VTimeInBar, e.Label, fn)
		return
	}

	seq.At(e.At.VTimeInBar, fn)
}

func (s *Score) scheduleRepeat(seq *sequencer.Sequencer, out io.Writer, r Repeat) error {
	var opts []sequencer.Option
	if r.Duration != nil {
		opts = append(opts, sequencer.Duration(r.Duration.VTimeInBar))
	}

	if r.Till != nil {
		opts = append(opts, sequencer.Till(r.Till.VTimeInBar))
	}

	_, err := seq.Every(r.Interval.VTimeInBar, func(c *sequencer.EveryControl) error {
		writeLine(out, seq, r.Label, c.Counter())
		return nil
	}, opts...)

	return err
}

func (s *Score) scheduleMove(seq *sequencer.Sequencer, out io.Writer, m Move) error {
	opts := []sequencer.Option{sequencer.From(sequencer.Scalar(m.From))}

	if m.To != nil {
		opts = append(opts, sequencer.To(sequencer.All(*m.To)))
	}

	if m.Step != nil {
		opts = append(opts, sequencer.Step(sequencer.All(*m.Step)))
	}

	if m.Interval != nil {
		opts = append(opts, sequencer.Interval(sequencer.All(m.Interval.VTimeInBar)))
	}

	if m.Duration != nil {
		opts = append(opts, sequencer.Duration(m.Duration.VTimeInBar))
	}

	if m.Till != nil {
		opts = append(opts, sequencer.Till(m.Till.VTimeInBar))
	}

	if m.Easing != "" {
		fn, ok := EasingByName(m.Easing)
		if !ok {
			return errors.Errorf("unknown easing %q", m.Easing)
		}

		opts = append(opts, sequencer.Easing(sequencer.All(fn)))
	}

	if m.RightOpen {
		opts = append(opts, sequencer.RightOpen(sequencer.All(true)))
	}

	_, err := seq.Move(func(f *sequencer.Frame, c *sequencer.MoveControl) error {
		if v, ok := f.Scalar(); ok {
			writeLine(out, seq, m.Label, v)
		}

		return nil
	}, opts...)

	return err
}

func (s *Score) schedulePlay(seq *sequencer.Sequencer, out io.Writer, p Play) error {
	mode, ok := playModes[strings.ToLower(p.Mode)]
	if !ok {
		return errors.Errorf("unknown play mode %q", p.Mode)
	}

	elements := p.Elements
	if mode == sequencer.ModeNeumalang {
		converted, err := toNeumalang(p.Elements)
		if err != nil {
			return err
		}

		elements = converted
	}

	opts := []sequencer.Option{sequencer.Mode(mode)}
	if p.Parameter != "" {
		opts = append(opts, sequencer.Parameter(p.Parameter))
	}

	_, err := seq.Play(serie.FromValues(elements...), func(v any, c *sequencer.PlayControl) error {
		writeLine(out, seq, p.Label, v)
		return nil
	}, opts...)

	return err
}

// toNeumalang reads neumalang elements from plain YAML values:
//
//	{value: c, duration: 1/4}     a value
//	{serie: [...]}                a nested serie
//	{parallel: [[...], [...]]}    parallel series
//	{event: name, args: [...]}    an event launched on the play
//	{set: name, value: ...}       a variable
//	{use: name}                   the element stored in a variable
//
// Anything else is played as a value without duration.
func toNeumalang(elements []any) ([]any, error) {
	out := make([]any, 0, len(elements))

	for _, e := range elements {
		converted, err := neumalangElement(e)
		if err != nil {
			return nil, err
		}

		out = append(out, converted)
	}

	return out, nil
}

func neumalangElement(e any) (any, error) {
	m, ok := e.(map[string]any)
	if !ok {
		return neumalang.Value{Value: e}, nil
	}

	switch {
	case m["serie"] != nil:
		sub, err := neumalangList(m["serie"])
		if err != nil {
			return nil, err
		}

		return neumalang.Serie{Serie: serie.FromValues(sub...)}, nil
	case m["parallel"] != nil:
		lists, ok := m["parallel"].([]any)
		if !ok {
			return nil, errors.New("parallel must be a list of lists")
		}

		p := neumalang.Parallel{}
		for _, l := range lists {
			sub, err := neumalangList(l)
			if err != nil {
				return nil, err
			}

			p.Series = append(p.Series, serie.FromValues(sub...))
		}

		return p, nil
	case m["event"] != nil:
		ev := neumalang.Event{Name: fmt.Sprint(m["event"])}
		if args, ok := m["args"].([]any); ok {
			ev.Args = args
		}

		return ev, nil
	case m["set"] != nil:
		value, err := neumalangElement(m["value"])
		if err != nil {
			return nil, err
		}

		return neumalang.Variable{Name: fmt.Sprint(m["set"]), Value: value}, nil
	case m["use"] != nil:
		return neumalang.UseVariable{Name: fmt.Sprint(m["use"])}, nil
	}

	v := neumalang.Value{Value: m["value"]}
	if raw, ok := m["duration"]; ok {
		d, err := timing.Coerce(raw)
		if err != nil {
			return nil, err
		}

		v.Duration = d
	}

	return v, nil
}

func neumalangList(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errors.Errorf("expected a list, got %T", v)
	}

	return toNeumalang(list)
}
