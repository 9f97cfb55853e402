// Package score reads sequencer schedules written as YAML documents.
//
// A score names the meter and lists what to schedule:
//
//	beats_per_bar: 4
//	ticks_per_beat: 4
//	handlers:
//	  - event: kick
//	    label: drum
//	events:
//	  - at: 1/2
//	    label: intro
//	    launch: kick
//	every:
//	  - interval: 1/4
//	    duration: 2
//	    label: hat
//	moves:
//	  - from: 0
//	    to: 1
//	    duration: 1
//	    easing: in_quad
//	    label: fade
//	plays:
//	  - mode: wait
//	    label: melody
//	    elements:
//	      - {note: c, duration: 1/4}
//	      - {note: e, duration: 1/4}
//
// Every firing writes one line to the output given to Schedule.
package score

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/timing"
)

// Position is a position or a duration in bars. It reads integers,
// decimals, fractions ("3/4") and mixed numbers ("1+1/4").
type Position struct {
	timing.VTimeInBar
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Position) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}

	t, err := timing.Coerce(raw)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}

	p.VTimeInBar = t

	return nil
}

// Score is a parsed score document.
type Score struct {
	Name         string    `yaml:"name"`
	BeatsPerBar  int64     `yaml:"beats_per_bar"`
	TicksPerBeat int64     `yaml:"ticks_per_beat"`
	Offset       *Position `yaml:"offset"`
	Handlers     []Handler `yaml:"handlers"`
	Events       []Event   `yaml:"events"`
	Every        []Repeat  `yaml:"every"`
	Moves        []Move    `yaml:"moves"`
	Plays        []Play    `yaml:"plays"`
}

// Handler prints a line whenever Event is launched.
type Handler struct {
	Event string `yaml:"event"`
	Label string `yaml:"label"`
	Once  bool   `yaml:"once"`
}

// Event happens once, at a position.
type Event struct {
	At     Position `yaml:"at"`
	Label  string   `yaml:"label"`
	Launch string   `yaml:"launch"`
	Args   []any    `yaml:"args"`
}

// Repeat happens every interval.
type Repeat struct {
	Interval Position  `yaml:"interval"`
	Duration *Position `yaml:"duration"`
	Till     *Position `yaml:"till"`
	Label    string    `yaml:"label"`
}

// Move interpolates a single value.
type Move struct {
	From      float64   `yaml:"from"`
	To        *float64  `yaml:"to"`
	Step      *float64  `yaml:"step"`
	Interval  *Position `yaml:"interval"`
	Duration  *Position `yaml:"duration"`
	Till      *Position `yaml:"till"`
	Easing    string    `yaml:"easing"`
	RightOpen bool      `yaml:"right_open"`
	Label     string    `yaml:"label"`
}

// Play plays a list of elements in the given mode: wait (default), at or
// neumalang.
type Play struct {
	Mode      string `yaml:"mode"`
	Label     string `yaml:"label"`
	Parameter string `yaml:"parameter"`
	Elements  []any  `yaml:"elements"`
}

// Load parses a score. Unknown keys are errors.
func Load(r io.Reader) (*Score, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	s := &Score{}
	if err := dec.Decode(s); err != nil {
		if errors.Is(err, io.EOF) {
			return s, nil
		}

		return nil, errors.Wrap(err, "cannot parse score")
	}

	return s, nil
}

// LoadFile parses the score stored at path.
func LoadFile(path string) (*Score, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "score %s", path)
	}

	if s.Name == "" {
		s.Name = path
	}

	return s, nil
}

// Builder returns a sequencer builder set to the meter of the score.
func (s *Score) Builder() sequencer.Builder {
	b := sequencer.MakeBuilder().
		WithBeatsPerBar(s.BeatsPerBar).
		WithTicksPerBeat(s.TicksPerBeat)

	if s.Offset != nil {
		b = b.WithOffset(s.Offset.VTimeInBar)
	}

	return b
}

// Size returns the number of entries the score schedules.
func (s *Score) Size() int {
	return len(s.Events) + len(s.Every) + len(s.Moves) + len(s.Plays)
}

func writeLine(out io.Writer, seq *sequencer.Sequencer, label string, value any) {
	if value == nil {
		fmt.Fprintf(out, "%s\t%s\n", seq.Position(), label)
		return
	}

	fmt.Fprintf(out, "%s\t%s\t%v\n", seq.Position(), label, value)
}
