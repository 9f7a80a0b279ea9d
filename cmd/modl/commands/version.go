package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			bi := GetBuildInfo()
			if jsonOutput() {
				return printJSON(bi)
			}
			commit := bi.Commit
			if bi.Modified {
				commit += " (modified)"
			}
			fmt.Println(StatusBox(Logo()+" "+bi.Version, [][2]string{
				{"Commit", commit},
				{"Built", bi.BuildDate},
				{"Go", bi.GoVersion},
				{"Platform", bi.Platform},
			}))
			return nil
		},
	}
}
