package cmd

import (
	"fmt"

	"github.com/els0r/goFlow/pkg/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print goFlow's version and exit",
		Run: func(*cobra.Command, []string) {
			printVersion()
		},
	}
}
func printVersion() {
	fmt.Printf("%s\n", version.Version())
}
