package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
)

// timeLayouts are accepted by --start and --end, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02 15:04",
	"2006-01-02",
}

func (c *cli) newSearchCmd() *cobra.Command {
	var (
		keyword  string
		start    string
		end      string
		maxPages int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one keyword search in the foreground and print the run output.",
		Example: `  search-crawler search --keyword coffee --start 2025-10-01T00 --end 2025-10-02T00
  search-crawler search --keyword tea --start 2025-10-01 --end 2025-10-03 --max-pages 10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			task, err := c.searchTask(keyword, start, end, maxPages)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := c.startApp(ctx)
			if err != nil {
				return err
			}
			defer c.closeApp(a)

			c.logger.Info("starting search",
				zap.String("keyword", task.Keyword),
				zap.Time("start", task.StartDate),
				zap.Time("end", task.EndDate),
				zap.Int("max_pages", task.MaxPages),
			)
			out := a.Orchestrator.Execute(ctx, task)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			if out.Status == crawler.RunStatusFailed {
				return fmt.Errorf("search failed: %s", out.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword (required)")
	cmd.Flags().StringVar(&start, "start", "", "range start, e.g. 2025-10-01T08 (search location unless an offset is given)")
	cmd.Flags().StringVar(&end, "end", "", "range end, same formats as --start")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "pages per window (0 uses search.max_pages)")
	_ = cmd.MarkFlagRequired("keyword") //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("start")   //nolint:errcheck // flag is defined above
	_ = cmd.MarkFlagRequired("end")     //nolint:errcheck // flag is defined above

	return cmd
}

func (c *cli) searchTask(keyword, start, end string, maxPages int) (crawler.SearchTask, error) {
	loc := c.cfg.SearchLocation()
	from, err := parseTime(start, loc)
	if err != nil {
		return crawler.SearchTask{}, fmt.Errorf("--start: %w", err)
	}
	to, err := parseTime(end, loc)
	if err != nil {
		return crawler.SearchTask{}, fmt.Errorf("--end: %w", err)
	}
	if to.Before(from) {
		return crawler.SearchTask{}, fmt.Errorf("--end %s is before --start %s", end, start)
	}
	if maxPages < 0 {
		return crawler.SearchTask{}, fmt.Errorf("--max-pages must be >= 0")
	}
	return crawler.SearchTask{
		Keyword:   keyword,
		StartDate: from,
		EndDate:   to,
		MaxPages:  maxPages,
	}, nil
}

func parseTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", value)
}
