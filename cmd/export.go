package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/export"
	"github.com/sells-group/persona-sim/internal/store"
)

var (
	exportTask string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a task's personas and simulations to a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return exportTaskData(cmd, st, exportTask, exportOut)
	},
}

func exportTaskData(cmd *cobra.Command, st store.Store, taskID, out string) error {
	ctx := cmd.Context()
	if _, err := st.GetTask(ctx, taskID); err != nil {
		return eris.Wrapf(err, "task %s", taskID)
	}
	personas, err := st.ListPersonas(ctx, taskID)
	if err != nil {
		return err
	}
	sims, err := st.ListSimulations(ctx, taskID)
	if err != nil {
		return err
	}
	if out == "" {
		out = taskID + ".xlsx"
	}
	if err := export.WriteXLSX(out, personas, sims); err != nil {
		return err
	}
	zap.L().Info("export written",
		zap.String("path", out), zap.Int("personas", len(personas)), zap.Int("simulations", len(sims)))
	return nil
}

func init() {
	exportCmd.Flags().StringVar(&exportTask, "task", "", "task ID")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output .xlsx path (default {task}.xlsx)")
	_ = exportCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(exportCmd)
}
