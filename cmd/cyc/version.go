package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is overridden at link time with -X main.version=...
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cyc version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if info, ok := debug.ReadBuildInfo(); ok && v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		name := color.New(color.FgCyan, color.Bold).Sprint("cyc")
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s/%s)\n", name, v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
