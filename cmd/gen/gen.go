package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for lantern",
	Long:  `Generate documentation for lantern, such as man pages`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
