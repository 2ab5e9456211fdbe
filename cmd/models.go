package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/persona-sim/internal/modelpool"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models with usable API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := modelpool.Load(cfg.Models.Dir)
		if err != nil {
			return eris.Wrap(err, "load model pool")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tNAME\tKEYS\tMAX TOKENS\tTEMPERATURE")
		for _, m := range pool.ActiveModels() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\n", m.Value, m.Name, m.Keys, m.MaxTokens, m.TemperatureDefault)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
