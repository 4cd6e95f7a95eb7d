package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlrules/internal/redirect"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve BASE [LOCATION]",
		Short: "Print the absolute URL a Location header points to",
		Example: `  crawlrules resolve https://example.com/a/b ../c
  crawlrules resolve https://example.com/a '?page=2'`,
		Args: cobra.RangeArgs(1, 2),
		// Resolution is pure; no configuration is needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			location := ""
			if len(args) == 2 {
				location = args[1]
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), redirect.Resolve(args[0], location))
			return err //nolint:wrapcheck // stdout write
		},
	}
}
