package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	"github.com/JakeFAU/nested-link-crawler/internal/server"
)

// newCrawlCmd runs a single crawl in-process, without a job store, and
// prints the result document.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl one URL and print the nested link document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			seed := args[0]
			if u, err := url.Parse(seed); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid url %q: must be an absolute http or https URL", seed)
			}

			fetcher, release, err := server.NewFetcher(e.cfg)
			if err != nil {
				return err
			}
			defer release()

			engine := crawler.NewEngine(fetcher, crawler.EngineConfig{
				NestedConcurrency: e.cfg.Crawler.NestedConcurrency,
			}, e.logger.Named("engine"))
			result := engine.Crawl(cmd.Context(), seed)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if result.HasError() {
				return fmt.Errorf("seed fetch failed: %s", result.TopError)
			}
			return nil
		},
	}
}
