package tracing

import (
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/timing"
)

func newSequencer() *sequencer.Sequencer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := sequencer.MakeBuilder().WithLogger(logger).Build("seq")
	Expect(err).ToNot(HaveOccurred())

	return s
}

var _ = Describe("CollectTrace", func() {
	var (
		mockCtrl *gomock.Controller
		tracer   *MockTracer
		s        *sequencer.Sequencer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)
		s = newSequencer()

		CollectTrace(s, tracer)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should trace a labelled command", func() {
		var started, ended Task

		tracer.EXPECT().StartTask(gomock.Any()).Do(func(t Task) { started = t })
		tracer.EXPECT().EndTask(gomock.Any()).Do(func(t Task) { ended = t })

		s.Debug(timing.Bars(1), "hello", func() error { return nil })
		s.Run()

		Expect(started.ID).ToNot(BeEmpty())
		Expect(started.Kind).To(Equal(KindCommand))
		Expect(started.What).To(Equal("hello"))
		Expect(started.Where).To(Equal("seq"))
		Expect(started.Position.String()).To(Equal("1"))
		Expect(started.FastForward).To(BeFalse())
		Expect(ended.ID).To(Equal(started.ID))
		Expect(ended.Err).To(BeEmpty())
	})

	It("should record failures as steps", func() {
		var stepped, ended Task

		tracer.EXPECT().StartTask(gomock.Any())
		tracer.EXPECT().StepTask(gomock.Any()).Do(func(t Task) { stepped = t })
		tracer.EXPECT().EndTask(gomock.Any()).Do(func(t Task) { ended = t })

		s.At(timing.Frac(1, 2), func() error { return errors.New("boom") })
		s.Run()

		Expect(stepped.What).To(Equal(KindCommand))
		Expect(stepped.Steps).To(HaveLen(1))
		Expect(stepped.Steps[0].What).To(Equal("error"))
		Expect(stepped.Steps[0].Detail).To(Equal("boom"))
		Expect(stepped.Steps[0].Position.String()).To(Equal("1/2"))
		Expect(ended.Err).To(Equal("boom"))
	})

	It("should mark commands run while seeking", func() {
		var started Task

		tracer.EXPECT().StartTask(gomock.Any()).Do(func(t Task) { started = t })
		tracer.EXPECT().EndTask(gomock.Any())

		s.At(timing.Bars(1), func() error { return nil })
		Expect(s.SetPosition(timing.Bars(2))).To(Succeed())

		Expect(started.FastForward).To(BeTrue())
	})

	It("should trace same-position commands one after the other", func() {
		var events []string

		tracer.EXPECT().StartTask(gomock.Any()).
			Do(func(t Task) { events = append(events, "start "+t.What) }).
			Times(2)
		tracer.EXPECT().EndTask(gomock.Any()).
			Do(func(t Task) { events = append(events, "end "+t.What) }).
			Times(2)

		s.Debug(timing.Bars(1), "outer", func() error {
			s.Debug(s.Position(), "inner", func() error { return nil })
			return nil
		})
		s.Run()

		Expect(events).To(Equal([]string{
			"start outer", "end outer", "start inner", "end inner",
		}))
	})

	It("should panic when collecting twice", func() {
		Expect(func() { CollectTrace(s, tracer) }).To(Panic())
	})
})
