// Package cmd provides the command-line interface for cadence.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logger = logrus.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Cadence plays scores on a rational-time sequencer.",
	Long: `Cadence plays YAML scores on a rational-time sequencer. Scores can ` +
		`be played as fast as possible or against the wall clock, traced into ` +
		`SQLite and monitored from a browser.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := loadEnv(envFile); err != nil {
			return err
		}

		level, _ := cmd.Flags().GetString("log-level")
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}
		logger.SetLevel(parsed)

		return nil
	},
}

func init() {
	logger.SetOutput(os.Stderr)

	rootCmd.PersistentFlags().String("log-level", "info",
		"The level of the log messages: debug, info, warn or error.")
	rootCmd.PersistentFlags().String("env-file", ".env",
		"A file of CADENCE_* defaults. A missing file is ignored.")
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return errors.Wrapf(godotenv.Load(path), "cannot load %s", path)
}

func envInt(name string, def int64) int64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.WithField("variable", name).Warn("not an integer, using the default")
		return def
	}

	return n
}

func envFloat(name string, def float64) float64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.WithField("variable", name).Warn("not a number, using the default")
		return def
	}

	return f
}

// signalContext is cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
