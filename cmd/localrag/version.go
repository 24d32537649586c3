package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("localrag %s\n", version)
			cmd.Printf("Build time:       %s\n", buildTime)
			cmd.Printf("Go:               %s\n", runtime.Version())
			cmd.Printf("Build mode:       %s\n", storage.BuildMode)
			cmd.Printf("SQLite driver:    %s\n", storage.DriverName)
			cmd.Printf("Vector extension: %t\n", storage.VectorExtensionAvailable)
		},
	}
}
