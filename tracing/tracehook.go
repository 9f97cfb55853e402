package tracing

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/hooking"
	"github.com/sarchlab/cadence/sim/id"
)

// NamedHookable is a hookable domain with a name, such as a sequencer.
type NamedHookable interface {
	hooking.Hookable
	Name() string
}

// CollectTrace lets the tracer collect the commands run by the domain.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	for _, hook := range domain.Hooks() {
		hook, ok := hook.(*traceHook)
		if ok && hook.t == tracer {
			panic(fmt.Sprintf(
				"domain %s already has tracer %s",
				domain.Name(), reflect.TypeOf(tracer)))
		}
	}

	domain.AcceptHook(&traceHook{t: tracer, where: domain.Name()})
}

// A traceHook turns sequencer hooks into tasks. Event handlers run inside
// the command that launched them, so tasks in flight form a stack.
type traceHook struct {
	t     Tracer
	where string

	lock     sync.Mutex
	inflight []Task
	seeking  bool
}

// Func calls the tracer interfaces when the hook is triggered.
func (h *traceHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case sequencer.HookPosBeforeCommand:
		h.start(ctx.Item.(sequencer.CommandInfo))
	case sequencer.HookPosAfterCommand:
		h.end(ctx.Item.(sequencer.CommandInfo))
	case sequencer.HookPosError:
		h.step(ctx.Item.(*sequencer.CallbackError))
	case sequencer.HookPosFastForward:
		h.lock.Lock()
		h.seeking = ctx.Item.(bool)
		h.lock.Unlock()
	}
}

func (h *traceHook) start(info sequencer.CommandInfo) {
	kind := KindCommand
	if info.Driver {
		kind = KindDriver
	}

	what := info.Label
	if what == "" {
		what = kind
	}

	h.lock.Lock()
	task := Task{
		ID:          id.UniqueString(),
		ControlID:   info.ControlID,
		Kind:        kind,
		What:        what,
		Where:       h.where,
		Position:    info.Position,
		FastForward: h.seeking,
	}
	h.inflight = append(h.inflight, task)
	h.lock.Unlock()

	h.t.StartTask(task)
}

func (h *traceHook) step(err *sequencer.CallbackError) {
	h.lock.Lock()
	if len(h.inflight) == 0 {
		h.lock.Unlock()
		return
	}
	task := h.inflight[len(h.inflight)-1]
	h.lock.Unlock()

	task.Steps = []TaskStep{{
		Position: err.Position,
		What:     "error",
		Detail:   err.Err.Error(),
	}}

	h.t.StepTask(task)
}

func (h *traceHook) end(info sequencer.CommandInfo) {
	h.lock.Lock()
	if len(h.inflight) == 0 {
		h.lock.Unlock()
		return
	}
	task := h.inflight[len(h.inflight)-1]
	h.inflight = h.inflight[:len(h.inflight)-1]
	h.lock.Unlock()

	if info.Err != nil {
		task.Err = info.Err.Error()
	}

	h.t.EndTask(task)
}
