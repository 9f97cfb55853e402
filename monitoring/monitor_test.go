package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/timing"
)

type samplePauser struct {
	paused bool
}

func (p *samplePauser) Pause()       { p.paused = true }
func (p *samplePauser) Continue()    { p.paused = false }
func (p *samplePauser) Paused() bool { return p.paused }

var _ = Describe("Monitor", func() {
	var (
		logger *logrus.Logger
		seq    *sequencer.Sequencer
		m      *Monitor
	)

	build := func(b sequencer.Builder) {
		var err error
		seq, err = b.WithLogger(logger).Build("seq")
		Expect(err).ToNot(HaveOccurred())

		m = NewMonitor().WithLogger(logger)
		m.RegisterSequencer(seq)
	}

	BeforeEach(func() {
		logger = logrus.New()
		logger.SetOutput(io.Discard)

		build(sequencer.MakeBuilder())
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))

		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	It("should report the position", func() {
		seq.At(timing.Bars(1), func() error { return nil })

		rec := serve(http.MethodGet, "/api/now")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp nowRsp
		decode(rec, &rsp)
		Expect(rsp.Position).To(Equal("0"))
		Expect(rsp.Pending).To(Equal(1))
	})

	It("should tick", func() {
		build(sequencer.MakeBuilder().WithBeatsPerBar(4).WithTicksPerBeat(4))

		rec := serve(http.MethodPost, "/api/tick")

		var rsp nowRsp
		decode(rec, &rsp)
		Expect(rsp.Position).To(Equal("1/16"))
		Expect(rsp.Bars).To(Equal(0.0625))
	})

	It("should only tick on POST", func() {
		rec := serve(http.MethodGet, "/api/tick")

		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
	})

	It("should seek", func() {
		fired := false
		seq.At(timing.Frac(1, 2), func() error {
			fired = true
			return nil
		})

		rec := serve(http.MethodPost, "/api/seek/1")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(fired).To(BeTrue())
		Expect(seq.Position().String()).To(Equal("1"))

		Expect(serve(http.MethodPost, "/api/seek/0").Code).To(Equal(http.StatusConflict))
		Expect(serve(http.MethodPost, "/api/seek/abc").Code).To(Equal(http.StatusBadRequest))
	})

	It("should run in the background", func() {
		seq.At(timing.Bars(3), func() error { return nil })

		rec := serve(http.MethodPost, "/api/run")
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		Eventually(seq.Empty).Should(BeTrue())
		Eventually(func() bool {
			var rsp nowRsp
			decode(serve(http.MethodGet, "/api/now"), &rsp)
			return rsp.Running
		}).Should(BeFalse())
	})

	It("should list and stop pending controls", func() {
		c := seq.Debug(timing.Bars(2), "chorus", func() error { return nil })

		var pending []pendingRsp
		decode(serve(http.MethodGet, "/api/pending"), &pending)
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].Position).To(Equal("2"))
		Expect(pending[0].Label).To(Equal("chorus"))
		Expect(pending[0].Control).To(Equal(c.ID()))

		path := "/api/control/" + strconv.FormatUint(uint64(c.ID()), 10)
		Expect(serve(http.MethodGet, path).Code).To(Equal(http.StatusOK))

		Expect(serve(http.MethodPost, path+"/stop").Code).To(Equal(http.StatusOK))
		Expect(c.Stopped()).To(BeTrue())
	})

	It("should remember controls that ran", func() {
		c := seq.At(timing.Bars(1), func() error { return nil })
		seq.Run()

		path := "/api/control/" + strconv.FormatUint(uint64(c.ID()), 10)
		Expect(serve(http.MethodGet, path).Code).To(Equal(http.StatusOK))
		Expect(serve(http.MethodGet, "/api/control/99999").Code).To(Equal(http.StatusNotFound))
	})

	It("should pause and continue the driver", func() {
		Expect(serve(http.MethodPost, "/api/pause").Code).To(Equal(http.StatusMethodNotAllowed))

		p := &samplePauser{}
		m.RegisterDriver(p)

		Expect(serve(http.MethodPost, "/api/pause").Code).To(Equal(http.StatusOK))
		Expect(p.paused).To(BeTrue())

		var rsp nowRsp
		decode(serve(http.MethodGet, "/api/now"), &rsp)
		Expect(rsp.Paused).To(BeTrue())

		Expect(serve(http.MethodPost, "/api/continue").Code).To(Equal(http.StatusOK))
		Expect(p.paused).To(BeFalse())
	})

	It("should list progress bars", func() {
		bar := m.CreateProgressBar("score", 4)
		bar.IncrementInProgress(2)
		bar.MoveInProgressToFinished(1)

		var bars []progressRsp
		decode(serve(http.MethodGet, "/api/progress"), &bars)
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("score"))
		Expect(bars[0].Finished).To(Equal(uint64(1)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		decode(serve(http.MethodGet, "/api/progress"), &bars)
		Expect(bars).To(BeEmpty())
	})

	It("should report resources", func() {
		var rsp resourceRsp
		rec := serve(http.MethodGet, "/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))

		decode(rec, &rsp)
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a profile", func() {
		m.profileDuration = 20 * time.Millisecond

		rec := serve(http.MethodGet, "/api/profile")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
	})

	It("should serve the page", func() {
		rec := serve(http.MethodGet, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("cadence"))
	})

	It("should replace low port numbers", func() {
		m.WithPortNumber(80)

		Expect(m.portNumber).To(Equal(0))
	})
})
