package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is the authd build version, set by the release process. Left as
// "dev" for local/source builds, matching dex's cmd/dex/version.go default.
var version = "dev"

func commandVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf(`authd Version: %s
Go Version: %s
Go OS/ARCH: %s %s
`, version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
