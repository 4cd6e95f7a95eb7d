package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlrules/internal/app"
	"github.com/JakeFAU/crawlrules/internal/crawler"
)

func newRobotsCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "robots URL",
		Short: "Check a URL against its site's robots.txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			parsed, err := url.Parse(args[0])
			if err != nil || !crawler.IsCrawlable(parsed) {
				return errors.New("url must be an absolute http(s) url")
			}
			return withApp(cmd, cfg, func(a *app.App) error {
				enforcer := a.Robots()
				ua := agent
				if ua == "" {
					ua = enforcer.UserAgent()
				}
				rules, status := enforcer.Lookup(cmd.Context(), args[0])
				verdict := color.RedString("deny")
				if rules.Allows(crawler.RobotsPath(parsed), ua) {
					verdict = color.GreenString("allow")
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s\n", verdict, args[0])
				fmt.Fprintf(out, "user-agent:  %s\n", ua)
				fmt.Fprintf(out, "robots:      %s\n", status)
				fmt.Fprintf(out, "crawl-delay: %ds\n", rules.CrawlDelay(ua))
				if sitemaps := rules.Sitemaps(); len(sitemaps) > 0 {
					fmt.Fprintf(out, "sitemaps:    %s\n", strings.Join(sitemaps, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "user agent to evaluate (defaults to crawler.user_agent)")
	return cmd
}
