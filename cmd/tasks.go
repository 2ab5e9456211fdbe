package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/store"
)

var (
	tasksStatus string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List stored tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tasks, err := st.ListTasks(ctx, store.TaskFilter{Status: model.TaskStatus(tasksStatus), Limit: tasksLimit})
		if err != nil {
			return err
		}
		return printTasks(cmd.OutOrStdout(), tasks)
	},
}

func printTasks(out io.Writer, tasks []model.Task) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tPERSONAS\tSIMULATIONS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%d\t%d\t%s\n",
			t.ID, t.Status, t.Progress.Percentage, t.NumPersonas, t.NumSimulations,
			t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 50, "maximum tasks to list")
	rootCmd.AddCommand(tasksCmd)
}
