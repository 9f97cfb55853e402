package realtime

import (
	"context"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/timing"
)

var _ = Describe("PeriodFor", func() {
	It("should turn a tempo into a tick period", func() {
		p, err := PeriodFor(120, 4, timing.Frac(1, 16))

		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(125 * time.Millisecond))
	})

	It("should handle odd meters", func() {
		p, err := PeriodFor(90, 3, timing.Frac(1, 12))

		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(time.Second / 6))
	})

	DescribeTable("should reject bad tempos",
		func(bpm float64, beatsPerBar int64, tick timing.VTimeInBar) {
			_, err := PeriodFor(bpm, beatsPerBar, tick)

			Expect(err).To(HaveOccurred())
		},
		Entry("zero bpm", 0.0, int64(4), timing.Frac(1, 16)),
		Entry("zero beats", 120.0, int64(0), timing.Frac(1, 16)),
		Entry("zero tick", 120.0, int64(4), timing.Bars(0)),
	)
})

var _ = Describe("Driver", func() {
	var (
		clk    *clocktesting.FakeClock
		seq    *sequencer.Sequencer
		logger *logrus.Logger
	)

	BeforeEach(func() {
		clk = clocktesting.NewFakeClock(time.Unix(0, 0))

		logger = logrus.New()
		logger.SetOutput(io.Discard)

		var err error
		seq, err = sequencer.MakeBuilder().
			WithBeatsPerBar(4).
			WithTicksPerBeat(4).
			WithLogger(logger).
			Build("seq")
		Expect(err).ToNot(HaveOccurred())
	})

	start := func(d *Driver) (context.CancelFunc, chan error) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		go func() { done <- d.Run(ctx) }()
		Eventually(clk.HasWaiters).Should(BeTrue())

		return cancel, done
	}

	step := func(d *Driver, want uint64) {
		clk.Step(d.Period())
		Eventually(d.Ticks).Should(Equal(want))
	}

	It("should refuse a tickless sequencer", func() {
		tickless, err := sequencer.MakeBuilder().WithLogger(logger).Build("tickless")
		Expect(err).ToNot(HaveOccurred())

		_, err = MakeBuilder().Build(tickless)
		Expect(err).To(HaveOccurred())
	})

	It("should tick once per period", func() {
		d, err := MakeBuilder().WithClock(clk).WithLogger(logger).Build(seq)
		Expect(err).ToNot(HaveOccurred())

		cancel, done := start(d)

		step(d, 1)
		step(d, 2)
		Expect(seq.Position().String()).To(Equal("1/8"))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})

	It("should hold the ticks while paused", func() {
		d, err := MakeBuilder().WithClock(clk).WithLogger(logger).Build(seq)
		Expect(err).ToNot(HaveOccurred())

		cancel, done := start(d)
		defer func() {
			cancel()
			Eventually(done).Should(Receive())
		}()

		step(d, 1)

		d.Pause()
		Expect(d.Paused()).To(BeTrue())
		clk.Step(d.Period())
		Consistently(d.Ticks, 50*time.Millisecond).Should(Equal(uint64(1)))

		d.Continue()
		step(d, 2)
		Expect(seq.Position().String()).To(Equal("1/8"))
	})

	It("should stop once nothing is pending", func() {
		fired := false
		seq.At(timing.Frac(1, 16), func() error {
			fired = true
			return nil
		})

		d, err := MakeBuilder().
			WithClock(clk).
			WithBPM(60).
			WithLogger(logger).
			WithStopWhenEmpty().
			Build(seq)
		Expect(err).ToNot(HaveOccurred())
		Expect(d.Period()).To(Equal(250 * time.Millisecond))

		_, done := start(d)

		clk.Step(d.Period())
		Eventually(done).Should(Receive(BeNil()))
		Expect(fired).To(BeTrue())
	})
})
