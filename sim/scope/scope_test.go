package scope

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type invocation struct {
	scope Scope
	label string
	err   error
}

type recordingInvoker struct {
	calls []invocation
}

func (r *recordingInvoker) Invoke(s Scope, label string, fn func() error) {
	r.calls = append(r.calls, invocation{scope: s, label: label, err: fn()})
}

type wrapper struct {
	*EventHandler
}

var _ = Describe("EventHandler", func() {
	var (
		invoker *recordingInvoker
		root    *EventHandler
		child   *EventHandler
		leaf    *EventHandler
	)

	BeforeEach(func() {
		invoker = &recordingInvoker{}
		root = NewEventHandler(nil, invoker, 1, nil)
		child = NewEventHandler(root, invoker, 2, nil)
		leaf = NewEventHandler(child, invoker, 3, nil)
	})

	It("should deliver to the nearest scope with a handler", func() {
		var got []string
		root.On("beat", func(args ...any) error {
			got = append(got, "root")
			return nil
		})
		child.On("beat", func(args ...any) error {
			got = append(got, "child")
			return nil
		})

		leaf.Launch("beat")

		Expect(got).To(Equal([]string{"child"}))
		Expect(invoker.calls).To(HaveLen(1))
		Expect(invoker.calls[0].scope).To(BeIdenticalTo(child))
		Expect(invoker.calls[0].label).To(Equal("on beat"))
	})

	It("should bubble up to the root", func() {
		var got []any
		root.On("note", func(args ...any) error {
			got = append(got, args...)
			return nil
		})

		leaf.Launch("note", 60, "soft")

		Expect(got).To(Equal([]any{60, "soft"}))
	})

	It("should drop events nobody listens to", func() {
		leaf.Launch("nothing")

		Expect(invoker.calls).To(BeEmpty())
	})

	It("should fire all handlers of the scope in registration order", func() {
		var got []int
		child.On("e", func(args ...any) error { got = append(got, 1); return nil })
		child.On("e", func(args ...any) error { got = append(got, 2); return nil })

		child.Launch("e")

		Expect(got).To(Equal([]int{1, 2}))
	})

	It("should remove once handlers after they fire", func() {
		count := 0
		child.On("e", func(args ...any) error { count++; return nil }, Once())

		leaf.Launch("e")
		leaf.Launch("e")

		Expect(count).To(Equal(1))
		Expect(child.Listening("e")).To(BeFalse())
	})

	It("should bubble once the nearest once handler is gone", func() {
		var got []string
		root.On("e", func(args ...any) error { got = append(got, "root"); return nil })
		child.On("e", func(args ...any) error { got = append(got, "child"); return nil }, Once())

		leaf.Launch("e")
		leaf.Launch("e")

		Expect(got).To(Equal([]string{"child", "root"}))
	})

	It("should replace a handler registered under the same name", func() {
		var got []string
		child.On("e", func(args ...any) error { got = append(got, "first"); return nil }, Name("x"))
		child.On("e", func(args ...any) error { got = append(got, "second"); return nil }, Name("x"))

		child.Launch("e")

		Expect(got).To(Equal([]string{"second"}))
	})

	It("should pass handler errors to the invoker", func() {
		boom := errors.New("boom")
		child.On("e", func(args ...any) error { return boom })

		child.Launch("e")

		Expect(invoker.calls[0].err).To(MatchError(boom))
	})

	It("should report stopped when an ancestor is stopped", func() {
		child.Stop()

		Expect(root.Stopped()).To(BeFalse())
		Expect(child.Stopped()).To(BeTrue())
		Expect(leaf.Stopped()).To(BeTrue())
	})

	It("should track paused on the scope itself", func() {
		child.Pause()

		Expect(child.Paused()).To(BeTrue())
		Expect(leaf.Paused()).To(BeFalse())

		child.Continue()

		Expect(child.Paused()).To(BeFalse())
	})

	It("should run handlers in the embedding control", func() {
		w := &wrapper{}
		w.EventHandler = NewEventHandler(root, invoker, 4, w)
		w.On("e", func(args ...any) error { return nil })

		w.Launch("e")

		Expect(invoker.calls[0].scope).To(BeIdenticalTo(w))
	})

	It("should list ancestors from the root", func() {
		chain := Ancestors(leaf)

		Expect(chain).To(HaveLen(3))
		Expect(chain[0].ID()).To(BeEquivalentTo(1))
		Expect(chain[2].ID()).To(BeEquivalentTo(3))
	})
})
