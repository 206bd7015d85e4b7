package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/k2io/hooksync/internal/transport"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hooksync %s\n", version)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  IP family:  v%d\n", transport.Version)
		},
	}
}
