package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "richfield",
		Short:         "Inspect rich-text field markup and mint API tokens",
		Long:          `Richfield reads field markup from a file or stdin and shows how the editor sees it: the parsed document, its canonical markup, its word count, and whether it survives a round trip.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newParseCommand(),
		newRenderCommand(),
		newCountCommand(),
		newCheckCommand(),
		newTokenCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
