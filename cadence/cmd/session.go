package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cadence/score"
	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/timing"
	"github.com/sarchlab/cadence/tracing"
)

// A session is a score scheduled on a fresh sequencer.
type session struct {
	score       *score.Score
	seq         *sequencer.Sequencer
	beatsPerBar int64

	writer *tracing.SQLiteTraceWriter
	tracer *tracing.DBTracer
	counts *tracing.CountTracer
}

func addMeterFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("beats-per-bar", 0,
		"Beats in a bar. Overrides the score and CADENCE_BEATS_PER_BAR.")
	cmd.Flags().Int64("ticks-per-beat", 0,
		"Ticks in a beat. Overrides the score and CADENCE_TICKS_PER_BEAT.")
	cmd.Flags().Float64("bpm", 120,
		"Tempo for the realtime driver. Overrides CADENCE_BPM.")
	cmd.Flags().String("trace", "",
		"Record the commands into the given SQLite file (without extension).")
	cmd.Flags().Bool("stats", false,
		"Print how many commands ran for each label once done.")
	cmd.Flags().String("seek", "",
		"Fast-forward to this position, in bars, before playing.")
}

func int64Flag(cmd *cobra.Command, name, env string, def int64) int64 {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt64(name)
		return v
	}

	return envInt(env, def)
}

func float64Flag(cmd *cobra.Command, name, env string, def float64) float64 {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetFloat64(name)
		return v
	}

	return envFloat(env, def)
}

func openSession(cmd *cobra.Command, path string, out io.Writer) (*session, error) {
	sc, err := score.LoadFile(path)
	if err != nil {
		return nil, err
	}

	sc.BeatsPerBar = int64Flag(cmd, "beats-per-bar", "CADENCE_BEATS_PER_BAR", sc.BeatsPerBar)
	sc.TicksPerBeat = int64Flag(cmd, "ticks-per-beat", "CADENCE_TICKS_PER_BEAT", sc.TicksPerBeat)

	seq, err := sc.Builder().
		WithLogger(logger.WithField("seq", sc.Name)).
		Build(sc.Name)
	if err != nil {
		return nil, err
	}

	seq.AcceptHook(tracing.NewCommandLogger(logger.WithField("seq", sc.Name)))

	s := &session{score: sc, seq: seq, beatsPerBar: sc.BeatsPerBar}

	if tracePath, _ := cmd.Flags().GetString("trace"); tracePath != "" {
		if err := s.startTrace(tracePath); err != nil {
			return nil, err
		}
	}

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		s.counts = tracing.NewCountTracer(func(t tracing.Task) bool {
			return t.Kind == tracing.KindCommand
		})
		tracing.CollectTrace(seq, s.counts)
	}

	if err := sc.Schedule(seq, out); err != nil {
		return nil, err
	}

	if seek, _ := cmd.Flags().GetString("seek"); seek != "" {
		pos, err := timing.Parse(seek)
		if err != nil {
			return nil, errors.Wrap(err, "bad --seek")
		}

		if err := seq.SetPosition(pos); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *session) startTrace(path string) error {
	s.writer = tracing.NewSQLiteTraceWriter(path)
	if err := s.writer.Init(); err != nil {
		return err
	}

	s.tracer = tracing.NewDBTracer(s.writer)
	tracing.CollectTrace(s.seq, s.tracer)

	logger.WithFields(logrus.Fields{
		"file":   s.writer.FileName(),
		"run_id": s.writer.RunID(),
	}).Info("tracing")

	return nil
}

// printStats writes the per-label counts collected with --stats.
func (s *session) printStats(out io.Writer) error {
	if s.counts == nil {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tENDED\tFAILED\tERRORS\tSEEK")

	for _, c := range s.counts.Counts() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
			c.Label, c.Ended, c.Failed, c.Errors, c.FastForward)
	}

	return w.Flush()
}

func (s *session) close() error {
	if s.tracer == nil {
		return nil
	}

	err := s.tracer.Terminate()
	if closeErr := s.writer.Close(); err == nil {
		err = closeErr
	}

	return err
}
