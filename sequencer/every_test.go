package sequencer

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cadence/sim/timing"
)

var _ = Describe("Every", func() {
	var (
		s      *Sequencer
		fired  []timing.VTimeInBar
		body   EveryFunc
		stops  int
		afters []timing.VTimeInBar
		onStop Callback
		after  Callback
	)

	BeforeEach(func() {
		s = tickless()
		fired = nil
		stops = 0
		afters = nil

		body = func(c *EveryControl) error {
			fired = append(fired, s.Position())
			return nil
		}
		onStop = func() error {
			stops++
			return nil
		}
		after = func() error {
			afters = append(afters, s.Position())
			return nil
		}
	})

	It("should repeat for a duration", func() {
		c, err := s.Every(timing.Bars(1), body,
			Duration(timing.Bars(4)), OnStop(onStop), After(timing.Bars(0), after))
		Expect(err).ToNot(HaveOccurred())

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"0", "1", "2", "3"}))
		Expect(stops).To(Equal(1))
		Expect(asStrings(afters)).To(Equal([]string{"4"}))
		Expect(c.Counter()).To(Equal(int64(4)))
		Expect(c.Done()).To(BeTrue())
	})

	It("should stop one interval before till", func() {
		_, err := s.Every(timing.Bars(1), body, Till(timing.Bars(3)), OnStop(onStop))
		Expect(err).ToNot(HaveOccurred())

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"0", "1"}))
		Expect(stops).To(Equal(1))
	})

	It("should repeat while the condition holds", func() {
		_, err := s.Every(timing.Frac(1, 2), body, While(func() bool {
			return len(fired) < 2
		}))
		Expect(err).ToNot(HaveOccurred())

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"0", "1/2"}))
	})

	It("should start at the current position", func() {
		s.At(timing.Frac(1, 3), func() error {
			_, err := s.Every(timing.Frac(1, 3), body, Duration(timing.Bars(1)))
			return err
		})

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"1/3", "2/3", "1"}))
	})

	It("should notice an external stop at the next firing", func() {
		c, err := s.Every(timing.Bars(1), body, OnStop(onStop))
		Expect(err).ToNot(HaveOccurred())

		s.At(timing.Frac(5, 2), func() error {
			c.Stop()
			return nil
		})

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"0", "1", "2"}))
		Expect(stops).To(Equal(1))
		Expect(s.Position()).To(Equal(timing.Bars(3)))
	})

	It("should stop from its own body", func() {
		_, err := s.Every(timing.Bars(1), func(c *EveryControl) error {
			fired = append(fired, s.Position())
			if c.Counter() == 1 {
				c.Stop()
			}
			return nil
		}, OnStop(onStop))
		Expect(err).ToNot(HaveOccurred())

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"0", "1"}))
		Expect(stops).To(Equal(1))
	})

	It("should keep repeating when the body fails", func() {
		failures := 0
		s.OnError(func(*CallbackError) { failures++ })

		_, err := s.Every(timing.Bars(1), func(c *EveryControl) error {
			fired = append(fired, s.Position())
			return errors.New("boom")
		}, Duration(timing.Bars(2)))
		Expect(err).ToNot(HaveOccurred())

		s.Run()

		Expect(fired).To(HaveLen(2))
		Expect(failures).To(Equal(2))
	})

	It("should run once", func() {
		c, err := s.EveryOnce(body, OnStop(onStop), After(timing.Frac(1, 2), after))
		Expect(err).ToNot(HaveOccurred())

		s.Run()

		Expect(asStrings(fired)).To(Equal([]string{"0"}))
		Expect(stops).To(Equal(1))
		Expect(asStrings(afters)).To(Equal([]string{"1/2"}))
		Expect(c.Interval().IsZero()).To(BeTrue())
	})

	DescribeTable("should reject bad arguments",
		func(interval timing.VTimeInBar, opts ...Option) {
			_, err := s.Every(interval, body, opts...)

			Expect(errors.Is(err, ErrInvalidArgument)).To(BeTrue())
		},
		Entry("zero interval", timing.Bars(0)),
		Entry("negative interval", timing.Frac(-1, 2)),
		Entry("duration and till", timing.Bars(1),
			Duration(timing.Bars(1)), Till(timing.Bars(2))),
		Entry("foreign option", timing.Bars(1), Mode(ModeAt)),
	)
})
