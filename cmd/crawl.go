package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlrules/internal/app"
	"github.com/JakeFAU/crawlrules/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var (
		output         string
		followSitemaps bool
		ignoreRobots   bool
	)
	cmd := &cobra.Command{
		Use:   "crawl [urls...]",
		Short: "Crawl seed URLs once and exit",
		Long: `Fetches every seed (and, with --sitemaps, the pages listed in each seed
host's robots.txt sitemaps) while honoring robots.txt, crawl delays and
redirect limits. Seeds default to crawler.seeds from the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				cfg.Crawler.Output = output
			}
			if cmd.Flags().Changed("sitemaps") {
				cfg.Crawler.FollowSitemaps = followSitemaps
			}
			if ignoreRobots {
				cfg.Robots.Respect = false
			}
			return withApp(cmd, cfg, func(a *app.App) error {
				summary, err := a.Crawl(cmd.Context(), args)
				if summary.RunID != "" {
					printSummary(cmd, summary)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write results as JSON lines to this file")
	cmd.Flags().BoolVar(&followSitemaps, "sitemaps", false, "also crawl pages listed in robots.txt sitemaps")
	cmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false, "do not enforce robots.txt (sitemaps are still discovered)")
	return cmd
}

func printSummary(cmd *cobra.Command, summary app.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d processed\n", summary.RunID, summary.Processed)
	outcomes := make([]string, 0, len(summary.Outcomes))
	for outcome := range summary.Outcomes {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(out, "  %-15s %d\n", outcome, summary.Outcomes[crawler.Outcome(outcome)])
	}
}
