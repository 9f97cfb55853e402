package cmd

import (
	"context"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/cadence/monitoring"
	"github.com/sarchlab/cadence/sequencer"
	"github.com/sarchlab/cadence/sim/hooking"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [score.yaml]",
	Short: "Serve a score over HTTP and steer it from a browser.",
	Long: "`monitor` schedules the score and serves the sequencer until " +
		"interrupted. It is ticked from the web page, or by the realtime " +
		"driver with --realtime, which the page can pause and continue.",
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

		m := monitoring.NewMonitor().
			WithLogger(logger).
			WithPortNumber(int(int64Flag(cmd, "port", "CADENCE_MONITOR_PORT", 0)))
		m.RegisterSequencer(s.seq)
		trackProgress(m, s)

		if realtimeMode, _ := cmd.Flags().GetBool("realtime"); realtimeMode {
			d, err := s.newDriver(cmd, false)
			if err != nil {
				return err
			}

			m.RegisterDriver(d)

			go func() {
				if err := d.Run(ctx); err != nil && ctx.Err() == nil {
					logger.WithError(err).Error("realtime driver stopped")
				}
			}()
		}

		url, err := m.StartServer()
		if err != nil {
			return err
		}

		if open, _ := cmd.Flags().GetBool("open"); open {
			if err := browser.OpenURL(url); err != nil {
				logger.WithError(err).Warn("cannot open the browser")
			}
		}

		<-ctx.Done()

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()

		if err := m.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return s.printStats(cmd.ErrOrStderr())
	},
}

// trackProgress shows the user commands run against those pending at start.
func trackProgress(m *monitoring.Monitor, s *session) {
	bar := m.CreateProgressBar(s.score.Name, uint64(s.seq.Size()))

	s.seq.AcceptHook(hooking.NewPosHook(sequencer.HookPosAfterCommand, func(ctx hooking.HookCtx) {
		if info, ok := ctx.Item.(sequencer.CommandInfo); ok && !info.Driver {
			bar.IncrementFinished(1)
		}
	}))
}

func init() {
	addMeterFlags(monitorCmd)
	monitorCmd.Flags().Bool("realtime", false, "Tick against the wall clock.")
	monitorCmd.Flags().Int64("port", 0,
		"Port of the monitor. Overrides CADENCE_MONITOR_PORT. 0 picks a free port.")
	monitorCmd.Flags().Bool("open", false, "Open the monitor in a browser.")

	rootCmd.AddCommand(monitorCmd)
}
