package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cadence/tracing"
)

var traceCmd = &cobra.Command{
	Use:   "trace [file.sqlite3]",
	Short: "List the commands recorded with play --trace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := tracing.NewSQLiteTraceReader(args[0])
		if err := reader.Init(); err != nil {
			return err
		}
		defer reader.Close()

		if labels, _ := cmd.Flags().GetBool("labels"); labels {
			list, err := reader.ListLabels()
			if err != nil {
				return err
			}

			for _, l := range list {
				fmt.Println(l)
			}

			return nil
		}

		query := tracing.TaskQuery{}
		query.Kind, _ = cmd.Flags().GetString("kind")
		query.What, _ = cmd.Flags().GetString("what")
		query.Where, _ = cmd.Flags().GetString("where")

		tasks, err := reader.ListTasks(query)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tKIND\tWHAT\tCONTROL\tSEEK\tERROR")

		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
				t.Position, t.Kind, t.What, t.ControlID, t.FastForward, t.Err)

			for _, step := range t.Steps {
				fmt.Fprintf(w, "\t\t  %s %s\t\t\t%s\n", step.Position, step.What, step.Detail)
			}
		}

		return w.Flush()
	},
}

func init() {
	traceCmd.Flags().String("kind", "", "Only list tasks of this kind: command or driver.")
	traceCmd.Flags().String("what", "", "Only list tasks with this label.")
	traceCmd.Flags().String("where", "", "Only list tasks of this sequencer.")
	traceCmd.Flags().Bool("labels", false, "List the labels instead of the tasks.")

	rootCmd.AddCommand(traceCmd)
}
