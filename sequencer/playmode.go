package sequencer

import (
	"fmt"

	"github.com/sarchlab/cadence/neumalang"
	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/timing"
)

// Element keys read in wait mode.
const (
	KeyEvent        = "event"
	KeyArgs         = "args"
	KeyDuration     = "duration"
	KeyWaitDuration = "wait_duration"
	KeyWaitEvent    = "wait_event"
	KeyAt           = "at"
)

type atMode struct {
	parameter string
	start     timing.VTimeInBar
}

func newAtMode(parameter string, start timing.VTimeInBar) *atMode {
	if parameter == "" {
		parameter = KeyAt
	}

	return &atMode{parameter: parameter, start: start}
}

func (m *atMode) eval(element any) (operation, error) {
	values, ok := element.(map[string]any)
	if !ok {
		return operation{}, fmt.Errorf("at mode element must be a map, got %T", element)
	}

	raw, ok := values[m.parameter]
	if !ok {
		return operation{}, fmt.Errorf("at mode element has no %q key", m.parameter)
	}

	at, err := timing.Coerce(raw)
	if err != nil {
		return operation{}, err
	}

	rest := make(map[string]any, len(values)-1)
	for k, v := range values {
		if k != m.parameter {
			rest[k] = v
		}
	}

	return operation{
		current: opBlock,
		value:   rest,
		timed:   true,
		when:    m.start.Add(at),
		cont:    contNow,
	}, nil
}

func (m *atMode) subcontext(now timing.VTimeInBar) interpreter {
	return &atMode{parameter: m.parameter, start: now}
}

type waitMode struct {
	parameter string
}

func newWaitMode(parameter string) *waitMode {
	if parameter == "" {
		parameter = KeyDuration
	}

	return &waitMode{parameter: parameter}
}

func (m *waitMode) eval(element any) (operation, error) {
	values, ok := element.(map[string]any)
	if !ok {
		return operation{current: opBlock, value: element, cont: contNow}, nil
	}

	op := operation{current: opBlock, value: element}

	if name, ok := values[KeyEvent]; ok {
		op.current = opEvent
		op.event = fmt.Sprint(name)

		if args, ok := values[KeyArgs]; ok {
			list, isList := args.([]any)
			if !isList {
				list = []any{args}
			}
			op.args = list
		}
	}

	switch {
	case values[m.parameter] != nil:
		d, err := timing.Coerce(values[m.parameter])
		if err != nil {
			return operation{}, err
		}
		op.cont, op.at = contWait, d
	case values[KeyWaitDuration] != nil:
		d, err := timing.Coerce(values[KeyWaitDuration])
		if err != nil {
			return operation{}, err
		}
		op.cont, op.at = contWait, d
	case values[KeyAt] != nil:
		at, err := timing.Coerce(values[KeyAt])
		if err != nil {
			return operation{}, err
		}
		op.cont, op.at = contAt, at
	case values[KeyWaitEvent] != nil:
		op.cont, op.onEvent = contOn, fmt.Sprint(values[KeyWaitEvent])
	default:
		op.cont = contNow
	}

	return op, nil
}

func (m *waitMode) subcontext(timing.VTimeInBar) interpreter {
	return m
}

type neumalangMode struct {
	decoder neumalang.Decoder
	ctx     *neumalang.Context
}

func newNeumalangMode(decoder neumalang.Decoder) *neumalangMode {
	return &neumalangMode{decoder: decoder, ctx: neumalang.NewContext()}
}

// maxIndirections bounds chains of commands and variables evaluating to
// further commands and variables.
const maxIndirections = 64

func (m *neumalangMode) eval(element any) (operation, error) {
	for i := 0; i < maxIndirections; i++ {
		next, op, err := m.evalOnce(element)
		if err != nil || next == nil {
			return op, err
		}

		element = next
	}

	return operation{}, fmt.Errorf("neumalang element nests more than %d levels", maxIndirections)
}

// evalOnce returns either an operation, or another element to evaluate in
// place of this one.
func (m *neumalangMode) evalOnce(element any) (any, operation, error) {
	switch e := element.(type) {
	case neumalang.Value:
		return nil, waitFor(operation{current: opBlock, value: e.Value}, e.Duration), nil
	case *neumalang.Value:
		return nil, waitFor(operation{current: opBlock, value: e.Value}, e.Duration), nil
	case neumalang.Neuma:
		if m.decoder == nil {
			return nil, operation{}, fmt.Errorf("neuma %v cannot be played without a decoder", e.Neuma)
		}

		value, duration, err := m.decoder.Decode(e.Neuma)
		if err != nil {
			return nil, operation{}, err
		}

		return nil, waitFor(operation{current: opBlock, value: value}, duration), nil
	case neumalang.Event:
		return nil, operation{current: opEvent, event: e.Name, args: e.Args}, nil
	case neumalang.Serie:
		return nil, operation{current: opPlay, subs: []serie.Serie{e.Serie}}, nil
	case neumalang.Parallel:
		return nil, operation{current: opParallel, subs: e.Series}, nil
	case neumalang.Command:
		result, err := e.Run(m.ctx)
		if err != nil {
			return nil, operation{}, err
		}

		if result == nil {
			return nil, operation{current: opNone}, nil
		}

		return result, operation{}, nil
	case neumalang.Variable:
		m.ctx.Set(e.Name, e.Value)
		return nil, operation{current: opNone}, nil
	case neumalang.UseVariable:
		v, err := m.ctx.MustGet(e.Name)
		if err != nil {
			return nil, operation{}, err
		}

		if _, isElement := v.(neumalang.Element); isElement {
			return v, operation{}, nil
		}

		return nil, operation{current: opBlock, value: v}, nil
	case nil:
		return nil, operation{current: opNone}, nil
	default:
		return nil, operation{current: opBlock, value: element}, nil
	}
}

func waitFor(op operation, duration timing.VTimeInBar) operation {
	if duration.Sign() > 0 {
		op.cont, op.at = contWait, duration
	}

	return op
}

func (m *neumalangMode) subcontext(timing.VTimeInBar) interpreter {
	return &neumalangMode{
		decoder: neumalang.Subcontext(m.decoder),
		ctx:     m.ctx.Child(),
	}
}
