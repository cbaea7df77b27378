package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/textgrab/internal/recognizer"
	"github.com/MeKo-Tech/textgrab/internal/version"
	"github.com/spf13/cobra"
)

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "textgrab "+version.String())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backends: %v\n", recognizer.Backends())
		},
	}
}
