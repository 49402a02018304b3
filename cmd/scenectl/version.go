package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/scenecast/internal/protocol"
)

var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "scenectl %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  protocol: %d\n", protocol.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
