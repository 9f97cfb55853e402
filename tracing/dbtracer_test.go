package tracing

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cadence/sim/timing"
)

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl *gomock.Controller
		backend  *MockTraceWriter
		tracer   *DBTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		backend = NewMockTraceWriter(mockCtrl)
		tracer = NewDBTracer(backend)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	task := func(id string, pos timing.VTimeInBar) Task {
		return Task{
			ID:       id,
			Kind:     KindCommand,
			What:     "note",
			Where:    "seq",
			Position: pos,
		}
	}

	It("should write a task with its steps when it ends", func() {
		var written Task
		backend.EXPECT().Write(gomock.Any()).DoAndReturn(func(t Task) error {
			written = t
			return nil
		})

		t := task("1", timing.Bars(0))
		tracer.StartTask(t)
		tracer.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "error", Detail: "x"}}})
		tracer.EndTask(Task{ID: "1", Err: "x"})

		Expect(written.What).To(Equal("note"))
		Expect(written.Steps).To(HaveLen(1))
		Expect(written.Err).To(Equal("x"))
	})

	It("should reject incomplete tasks", func() {
		Expect(func() { tracer.StartTask(Task{ID: "1"}) }).To(Panic())
		Expect(func() { tracer.StartTask(Task{Kind: KindCommand, Where: "seq"}) }).To(Panic())
	})

	It("should only keep tasks in range", func() {
		tracer.SetPositionRange(timing.Bars(1), timing.Bars(2))

		backend.EXPECT().Write(gomock.Any()).Return(nil)

		for i, pos := range []timing.VTimeInBar{timing.Frac(1, 2), timing.Frac(3, 2), timing.Bars(3)} {
			t := task(string(rune('a'+i)), pos)
			tracer.StartTask(t)
			tracer.EndTask(t)
		}
	})

	It("should write tasks in flight on terminate", func() {
		backend.EXPECT().Write(gomock.Any()).Return(nil)
		backend.EXPECT().Flush().Return(nil)

		tracer.StartTask(task("1", timing.Bars(0)))

		Expect(tracer.Terminate()).To(Succeed())
	})

	It("should keep the first backend error", func() {
		backend.EXPECT().Write(gomock.Any()).Return(errors.New("disk full"))
		backend.EXPECT().Write(gomock.Any()).Return(errors.New("later"))
		backend.EXPECT().Flush().Return(nil)

		for _, id := range []string{"1", "2"} {
			t := task(id, timing.Bars(0))
			tracer.StartTask(t)
			tracer.EndTask(t)
		}

		Expect(tracer.Err()).To(MatchError("disk full"))
		Expect(tracer.Terminate()).To(MatchError("disk full"))
	})
})
