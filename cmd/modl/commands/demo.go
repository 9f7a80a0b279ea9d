package commands

import (
	"fmt"
	"strings"

	"github.com/modlnet/modl/internal/daemon"
	"github.com/spf13/cobra"
)

// NewDemoCmd creates the command that runs the built-in scenarios.
func NewDemoCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "demo [scenario...]",
		Short: "Run the built-in relay scenarios",
		Long: fmt.Sprintf(`Run end-to-end scenarios against fresh in-process nodes.

Each scenario builds a node from the default genesis, drives it through a
relay, staking or audit flow and checks the outcome. With no arguments
every scenario runs. Available: %s`, strings.Join(daemon.ScenarioNames(), ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			var results []daemon.ScenarioResult
			err := WithSpinner("Running scenarios", func() error {
				var err error
				results, err = daemon.RunScenarios(args...)
				return err
			})
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(results)
			}

			failed := 0
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := "passed"
				if !r.Passed {
					status = "failed"
					failed++
				}
				rows = append(rows, []string{r.Name, r.Title, StatusBadge(status)})
			}
			fmt.Println(RenderTable([]string{"SCENARIO", "TITLE", "RESULT"}, rows))

			for _, r := range results {
				if !verbose && r.Passed {
					continue
				}
				fmt.Println(SectionHeader(r.Name + ": " + r.Title))
				for _, s := range r.Steps {
					fmt.Println(KeyValue("step", s))
				}
				if r.Error != "" {
					Error(r.Error)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
			}
			Success(fmt.Sprintf("All %d scenarios passed", len(results)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print the steps of passing scenarios too")
	return cmd
}
