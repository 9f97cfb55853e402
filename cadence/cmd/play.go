package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cadence/realtime"
)

var playCmd = &cobra.Command{
	Use:   "play [score.yaml]",
	Short: "Play a score and print each firing.",
	Long: "`play` schedules the score and runs it to the end. Each firing is " +
		"printed as a tab-separated line of position, label and value. With " +
		"--realtime the sequencer is ticked at the tempo given by --bpm. " +
		"--stats prints the commands run per label to stderr at the end.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, cancel := signalContext()
		defer cancel()

		s, err := openSession(cmd, args[0], os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := s.close(); err == nil {
				err = closeErr
			}
		}()

		if realtimeMode, _ := cmd.Flags().GetBool("realtime"); realtimeMode {
			err = s.playRealtime(ctx, cmd)
		} else {
			err = s.seq.RunContext(ctx)
		}

		if errors.Is(err, context.Canceled) {
			logger.WithField("position", s.seq.Position().String()).Info("interrupted")
			err = nil
		}

		if err != nil {
			return err
		}

		return s.printStats(cmd.ErrOrStderr())
	},
}

func (s *session) newDriver(cmd *cobra.Command, stopWhenEmpty bool) (*realtime.Driver, error) {
	b := realtime.MakeBuilder().
		WithBPM(float64Flag(cmd, "bpm", "CADENCE_BPM", 120)).
		WithBeatsPerBar(s.beatsPerBar).
		WithLogger(logger)

	if stopWhenEmpty {
		b = b.WithStopWhenEmpty()
	}

	return b.Build(s.seq)
}

func (s *session) playRealtime(ctx context.Context, cmd *cobra.Command) error {
	d, err := s.newDriver(cmd, true)
	if err != nil {
		return err
	}

	return d.Run(ctx)
}

func init() {
	addMeterFlags(playCmd)
	playCmd.Flags().Bool("realtime", false, "Tick against the wall clock.")

	rootCmd.AddCommand(playCmd)
}
