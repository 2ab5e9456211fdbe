package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/jsonx"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/notify"
	"github.com/sells-group/persona-sim/internal/orchestrator"
)

var (
	runProduct     string
	runPersonas    int
	runSimulations int
	runEmail       string
	runOut         string
)

// runSummary is the JSON printed after a synchronous run.
type runSummary struct {
	Task  *model.Task  `json:"task"`
	Stats *model.Stats `json:"stats"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis task in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		mgr := orchestrator.NewManager(ctx, env.Store, env.Runner, env.Flags)
		task, err := mgr.Create(ctx, orchestrator.NewTask{
			ProductDescription: runProduct,
			NumPersonas:        runPersonas,
			NumSimulations:     runSimulations,
			Email:              runEmail,
		})
		if err != nil {
			return err
		}

		zap.L().Info("running task", zap.String("task_id", task.ID))
		if err := env.Runner.Run(ctx, task); err != nil {
			return eris.Wrapf(err, "task %s", task.ID)
		}

		out := jsonx.Pretty(runSummary{Task: task, Stats: task.Stats})
		if runOut == "" {
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}
		if err := os.WriteFile(runOut, []byte(out+"\n"), 0o644); err != nil {
			return eris.Wrap(err, "write run summary")
		}
		zap.L().Info("run summary written", zap.String("path", runOut), zap.String("report", task.ReportPath))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runProduct, "product", "", "product description")
	runCmd.Flags().IntVar(&runPersonas, "personas", 2, "number of personas")
	runCmd.Flags().IntVar(&runSimulations, "simulations", 2, "simulations per persona")
	runCmd.Flags().StringVar(&runEmail, "email", notify.InlineRecipient, "report recipient")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the JSON summary to this file instead of stdout")
	_ = runCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(runCmd)
}
