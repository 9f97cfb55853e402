package sequencer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cadence/serie"
	"github.com/sarchlab/cadence/sim/hooking"
	"github.com/sarchlab/cadence/sim/scope"
	"github.com/sarchlab/cadence/sim/timing"
)

var _ = Describe("Builder", func() {
	It("should build a tickless sequencer by default", func() {
		s := tickless()

		_, tickBased := s.TicksPerBar()
		Expect(tickBased).To(BeFalse())
		Expect(s.TickDuration().IsZero()).To(BeTrue())
		Expect(s.Position().IsZero()).To(BeTrue())
		Expect(s.Name()).To(Equal("test"))
	})

	It("should build a tick-based sequencer", func() {
		s := tickBased(4, 4)

		ticks, tickBased := s.TicksPerBar()
		Expect(tickBased).To(BeTrue())
		Expect(ticks).To(Equal(int64(16)))
		Expect(s.TickDuration()).To(Equal(timing.Frac(1, 16)))
	})

	It("should start at the offset", func() {
		s, err := MakeBuilder().
			WithOffset(timing.Bars(1)).
			WithLogger(quietLogger()).
			Build("offset")

		Expect(err).ToNot(HaveOccurred())
		Expect(s.Position()).To(Equal(timing.Bars(1)))
	})

	It("should round an offset onto the grid", func() {
		logger, entries := test.NewNullLogger()

		s, err := MakeBuilder().
			WithBeatsPerBar(4).
			WithTicksPerBeat(4).
			WithOffset(timing.Frac(1, 3)).
			WithLogger(logger).
			Build("offset")
		Expect(err).ToNot(HaveOccurred())

		Expect(s.Position().String()).To(Equal("5/16"))
		Expect(entries.LastEntry().Message).To(Equal("offset is not on the grid, rounding"))

		fired := false
		s.At(timing.Bars(1), func() error {
			fired = true
			return nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		Expect(s.RunContext(ctx)).To(Succeed())
		Expect(fired).To(BeTrue())
		Expect(s.Position().String()).To(Equal("1"))
	})

	It("should reject half a grid", func() {
		_, err := MakeBuilder().WithBeatsPerBar(4).Build("bad")

		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})

	It("should reject a non-positive grid", func() {
		_, err := MakeBuilder().WithBeatsPerBar(-4).WithTicksPerBeat(4).Build("bad")

		Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
	})
})

var _ = Describe("Sequencer", func() {
	var (
		mockCtrl *gomock.Controller
		s        *Sequencer
		fired    []timing.VTimeInBar
		record   Callback
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		s = tickless()
		fired = nil
		record = func() error {
			fired = append(fired, s.Position())
			return nil
		}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("when scheduling", func() {
		It("should run commands in position order", func() {
			s.At(timing.Bars(2), record)
			s.At(timing.Frac(1, 4), record)
			s.At(timing.Bars(1), record)

			Expect(s.Size()).To(Equal(3))

			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{
				timing.Frac(1, 4), timing.Bars(1), timing.Bars(2),
			}))
			Expect(s.Empty()).To(BeTrue())
		})

		It("should keep insertion order within a position", func() {
			var order []string

			s.At(timing.Bars(1), func() error {
				order = append(order, "a")
				return nil
			})
			s.At(timing.Bars(1), func() error {
				order = append(order, "b")
				return nil
			})

			s.Run()

			Expect(order).To(Equal([]string{"a", "b"}))
		})

		It("should run the current position immediately", func() {
			s.At(s.Position(), record)

			Expect(fired).To(HaveLen(1))
			Expect(s.Empty()).To(BeTrue())
		})

		It("should run Now inside a running command", func() {
			s.At(timing.Bars(1), func() error {
				s.Now(record)
				return nil
			})

			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Bars(1)}))
		})

		It("should run Now after the running command returns", func() {
			var order []string

			s.At(timing.Bars(1), func() error {
				s.Now(func() error {
					order = append(order, "now")
					return nil
				})
				order = append(order, "command")
				return nil
			})

			s.Run()

			Expect(order).To(Equal([]string{"command", "now"}))
		})

		It("should not overlap a tick running on another goroutine", func() {
			var inside, overlapped, ranNow atomic.Bool
			entered := make(chan struct{})
			release := make(chan struct{})
			done := make(chan struct{})

			s.At(timing.Bars(1), func() error {
				inside.Store(true)
				close(entered)
				<-release
				inside.Store(false)
				return nil
			})

			go func() {
				defer GinkgoRecover()
				s.Run()
				close(done)
			}()

			<-entered
			s.Now(func() error {
				overlapped.Store(inside.Load())
				ranNow.Store(true)
				return nil
			})
			Expect(ranNow.Load()).To(BeFalse())

			close(release)
			Eventually(done).Should(BeClosed())

			Expect(ranNow.Load()).To(BeTrue())
			Expect(overlapped.Load()).To(BeFalse())
		})

		It("should ignore past positions", func() {
			Expect(s.SetPosition(timing.Bars(2))).To(Succeed())

			s.At(timing.Bars(1), record)

			Expect(s.Empty()).To(BeTrue())
			s.Run()
			Expect(fired).To(BeEmpty())
		})

		It("should wait relative to the current position", func() {
			s.At(timing.Bars(1), func() error {
				s.Wait(timing.Frac(1, 2), record)
				return nil
			})

			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Frac(3, 2)}))
		})

		It("should run at every position of a serie", func() {
			positions := NewMockSerie(mockCtrl)
			gomock.InOrder(
				positions.EXPECT().NextValue().Return(timing.Frac(1, 4), true),
				positions.EXPECT().NextValue().Return(timing.Frac(1, 2), true),
				positions.EXPECT().NextValue().Return(nil, false),
			)

			s.AtSerie(positions, record)
			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{
				timing.Frac(1, 4), timing.Frac(1, 2),
			}))
		})

		It("should accumulate wait offsets", func() {
			s.WaitSerie(serie.FromValues("1/4", "1/4", "1/2"), record)
			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{
				timing.Frac(1, 4), timing.Frac(1, 2), timing.Bars(1),
			}))
		})

		It("should list pending commands", func() {
			s.Debug(timing.Bars(1), "kick", record)
			s.At(timing.Frac(1, 2), record)

			pending := s.Pending()

			Expect(pending).To(HaveLen(2))
			Expect(pending[0].Position).To(Equal(timing.Frac(1, 2)))
			Expect(pending[1].Position).To(Equal(timing.Bars(1)))
			Expect(pending[1].Label).To(Equal("kick"))
		})

		It("should never move backwards", func() {
			var seen []timing.VTimeInBar

			s.BeforeTick(func(next timing.VTimeInBar) {
				seen = append(seen, next)
			})

			for _, p := range []string{"3", "1/3", "2", "5/7", "1"} {
				s.At(timing.MustParse(p), record)
			}

			s.Run()

			for i := 1; i < len(seen); i++ {
				Expect(seen[i-1].Less(seen[i])).To(BeTrue())
			}
			Expect(fired).To(HaveLen(5))
		})
	})

	Context("when a tick-based grid is used", func() {
		BeforeEach(func() {
			s = tickBased(4, 4)
		})

		It("should round positions to the grid", func() {
			s.At(timing.Frac(1, 3), record)
			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Frac(5, 16)}))
		})

		It("should advance one tick per Tick", func() {
			s.Tick()
			s.Tick()

			Expect(s.Position()).To(Equal(timing.Frac(2, 16)))
		})

		It("should run bar 1 and bar 2 on time", func() {
			s.At(timing.Bars(1), record)
			s.At(timing.Bars(2), record)

			s.Run()

			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Bars(1), timing.Bars(2)}))
			Expect(s.Position()).To(Equal(timing.Bars(2)))
		})
	})

	Context("when callbacks fail", func() {
		It("should report each failure once and keep going", func() {
			var reported []*CallbackError

			s.OnError(func(err *CallbackError) {
				reported = append(reported, err)
			})

			s.At(timing.Bars(1), func() error { return errors.New("boom") })
			s.At(timing.Bars(1), func() error { panic("bang") })
			s.At(timing.Bars(2), record)

			s.Run()

			Expect(reported).To(HaveLen(2))
			Expect(reported[0].Position).To(Equal(timing.Bars(1)))
			Expect(reported[0].Err).To(MatchError("boom"))

			var p *PanicError
			Expect(errors.As(reported[1], &p)).To(BeTrue())
			Expect(p.Value).To(Equal("bang"))

			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Bars(2)}))
		})
	})

	Context("with scopes", func() {
		It("should skip commands of stopped controls", func() {
			c := s.At(timing.Bars(1), record)
			c.Stop()

			s.Run()

			Expect(fired).To(BeEmpty())
		})

		It("should attach new work to the running control", func() {
			var (
				outer *Control
				inner *Control
			)

			outer = s.At(timing.Bars(1), func() error {
				Expect(s.CurrentScope()).To(BeIdenticalTo(outer))
				inner = s.At(timing.Bars(2), record)
				return nil
			})

			s.Run()

			Expect(inner.Parent()).To(BeIdenticalTo(outer))
			Expect(scope.Ancestors(inner)).To(HaveLen(3))
			Expect(fired).To(HaveLen(1))
		})

		It("should stop children with their parent", func() {
			var outer *Control

			outer = s.At(timing.Bars(1), func() error {
				s.At(timing.Bars(2), record)
				outer.Stop()
				return nil
			})

			s.Run()

			Expect(fired).To(BeEmpty())
		})

		It("should bubble events to the root", func() {
			var got []any

			s.On("hit", func(args ...any) error {
				got = append(got, args...)
				return nil
			})

			s.At(timing.Bars(1), func() error {
				s.Launch("hit", 3)
				return nil
			})

			s.Run()

			Expect(got).To(Equal([]any{3}))
		})

		It("should run once handlers a single time", func() {
			count := 0

			s.On("hit", func(args ...any) error {
				count++
				return nil
			}, scope.Once())

			s.Launch("hit")
			s.Launch("hit")

			Expect(count).To(Equal(1))
		})

		It("should deliver to the nearest listening scope", func() {
			var who []string

			s.On("hit", func(args ...any) error {
				who = append(who, "root")
				return nil
			})

			c := s.At(timing.Bars(1), func() error {
				s.Launch("hit")
				return nil
			})
			c.On("hit", func(args ...any) error {
				who = append(who, "control")
				return nil
			})

			s.Run()

			Expect(who).To(Equal([]string{"control"}))
		})
	})

	Context("when seeking", func() {
		It("should fast-forward a tick-based sequencer", func() {
			s = tickBased(4, 4)

			var modes []bool
			s.OnFastForward(func(active bool) {
				modes = append(modes, active)
			})

			s.At(timing.Frac(1, 2), record)
			s.At(timing.Bars(2), record)

			Expect(s.SetPosition(timing.Bars(1))).To(Succeed())

			Expect(s.Position()).To(Equal(timing.Bars(1)))
			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Frac(1, 2)}))
			Expect(modes).To(Equal([]bool{true, false}))
			Expect(s.Size()).To(Equal(1))
		})

		It("should fast-forward a tickless sequencer", func() {
			s.At(timing.Bars(1), record)
			s.At(timing.Bars(2), record)

			Expect(s.SetPosition(timing.Frac(3, 2))).To(Succeed())

			Expect(s.Position()).To(Equal(timing.Frac(3, 2)))
			Expect(fired).To(Equal([]timing.VTimeInBar{timing.Bars(1)}))
		})

		It("should ignore ticks while seeking", func() {
			s = tickBased(4, 4)

			s.BeforeTick(func(timing.VTimeInBar) {
				s.Tick()
			})

			Expect(s.SetPosition(timing.Frac(1, 2))).To(Succeed())

			Expect(s.Position()).To(Equal(timing.Frac(1, 2)))
		})

		It("should refuse to go back", func() {
			Expect(s.SetPosition(timing.Bars(2))).To(Succeed())

			err := s.SetPosition(timing.Bars(1))

			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
			Expect(s.Position()).To(Equal(timing.Bars(2)))
		})
	})

	It("should reset", func() {
		s.At(timing.Bars(1), record)
		Expect(s.SetPosition(timing.Frac(1, 2))).To(Succeed())

		s.Reset()

		Expect(s.Empty()).To(BeTrue())
		Expect(s.Position().IsZero()).To(BeTrue())
	})

	It("should invoke hooks around commands", func() {
		before := 0
		after := 0

		s.AcceptHook(hooking.NewPosHook(HookPosBeforeCommand, func(hooking.HookCtx) {
			before++
		}))
		s.AcceptHook(hooking.NewPosHook(HookPosAfterCommand, func(ctx hooking.HookCtx) {
			info := ctx.Item.(CommandInfo)
			Expect(info.Position).To(Equal(s.Position()))
			after++
		}))

		s.At(timing.Bars(1), record)
		s.At(timing.Bars(2), record)
		s.Run()

		Expect(before).To(Equal(2))
		Expect(after).To(Equal(2))
	})

	It("should stop running when the context is cancelled", func() {
		s.At(timing.Bars(1), record)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(s.RunContext(ctx)).To(MatchError(context.Canceled))
		Expect(s.Size()).To(Equal(1))
	})
})
