package cmd

import (
	"runtime"

	"github.com/habedi/fcrollback/paths"
	"github.com/spf13/cobra"
)

var (
	version   = "1.0.0"
	goVersion = runtime.Version()
	platform  = runtime.GOOS + "/" + runtime.GOARCH
)

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("fcrollback version:", version)
			cmd.Println("Tool id:", paths.ToolID)
			cmd.Println("Go version:", goVersion)
			cmd.Println("Platform:", platform)
		},
	}
	return cmd
}
