package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	var (
		mockCtrl *gomock.Controller
		base     *HookableBase
		pos      *HookPos
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		base = NewHookableBase()
		pos = &HookPos{Name: "Test"}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke hooks in registration order", func() {
		hook1 := NewMockHook(mockCtrl)
		hook2 := NewMockHook(mockCtrl)
		ctx := HookCtx{Domain: base, Pos: pos, Item: 1}

		first := hook1.EXPECT().Func(ctx)
		hook2.EXPECT().Func(ctx).After(first)

		base.AcceptHook(hook1)
		base.AcceptHook(hook2)
		base.InvokeHook(ctx)

		Expect(base.NumHooks()).To(Equal(2))
	})

	It("should panic on duplicated hooks", func() {
		hook := NewMockHook(mockCtrl)
		base.AcceptHook(hook)

		Expect(func() { base.AcceptHook(hook) }).To(Panic())
	})

	It("should accept the same function wrapped twice", func() {
		count := 0
		fn := func(HookCtx) { count++ }

		base.AcceptHook(NewFuncHook(fn))
		base.AcceptHook(NewFuncHook(fn))
		base.InvokeHook(HookCtx{Pos: pos})

		Expect(count).To(Equal(2))
	})

	It("should filter by position", func() {
		other := &HookPos{Name: "Other"}
		var items []any

		base.AcceptHook(NewPosHook(pos, func(ctx HookCtx) {
			items = append(items, ctx.Item)
		}))
		base.InvokeHook(HookCtx{Pos: other, Item: "skipped"})
		base.InvokeHook(HookCtx{Pos: pos, Item: "kept"})

		Expect(items).To(Equal([]any{"kept"}))
	})
})
